package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bspnode/internal/lifecycle"
	"bspnode/internal/models"
)

type streamResponse struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	Title           string     `json:"title,omitempty"`
	Status          string     `json:"status"`
	StreamType      string     `json:"streamType"`
	MaxHosts        int        `json:"maxHosts"`
	RoomName        string     `json:"roomName"`
	StreamKey       string     `json:"streamKey,omitempty"`
	PlaybackID      string     `json:"playbackId,omitempty"`
	EgressID        string     `json:"egressId,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds,omitempty"`
	RecordingStatus string     `json:"recordingStatus"`
	RecordingID     string     `json:"recordingId,omitempty"`
	RecordingURL    string     `json:"recordingUrl,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func streamToResponse(stream models.Stream, includeKey bool) streamResponse {
	resp := streamResponse{
		ID:              stream.ID,
		OwnerID:         stream.OwnerID,
		Title:           stream.Title,
		Status:          string(stream.Status),
		StreamType:      string(stream.StreamType),
		MaxHosts:        stream.MaxHosts,
		RoomName:        stream.RoomName,
		PlaybackID:      stream.PlaybackID,
		EgressID:        stream.EgressID,
		StartedAt:       stream.StartedAt,
		EndedAt:         stream.EndedAt,
		DurationSeconds: stream.DurationSeconds,
		RecordingStatus: string(stream.RecordingStatus),
		RecordingID:     stream.RecordingID,
		RecordingURL:    stream.RecordingURL,
		CreatedAt:       stream.CreatedAt,
	}
	if includeKey {
		resp.StreamKey = stream.StreamKey
	}
	return resp
}

type createStreamRequest struct {
	Title      string `json:"title"`
	StreamType string `json:"streamType"`
	MaxHosts   int    `json:"maxHosts"`
}

func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createStreamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stream, err := h.Orchestrator.CreateStream(r.Context(), lifecycle.CreateStreamParams{
		OwnerID:    userID,
		Title:      req.Title,
		StreamType: models.StreamType(req.StreamType),
		MaxHosts:   req.MaxHosts,
	})
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.StreamTransition("created")
	}
	writeJSON(w, http.StatusCreated, streamToResponse(stream, true))
}

func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	streams, err := h.Orchestrator.ListStreams(r.Context(), userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	out := make([]streamResponse, 0, len(streams))
	for _, stream := range streams {
		out = append(out, streamToResponse(stream, true))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	stream, err := h.Orchestrator.GetStream(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, streamToResponse(stream, stream.OwnerID == userID))
}

func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	stream, err := h.Orchestrator.Start(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.StreamTransition("live")
	}
	writeJSON(w, http.StatusOK, streamToResponse(stream, stream.OwnerID == userID))
}

func (h *Handler) EndStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	stream, err := h.Orchestrator.End(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.StreamTransition("ended")
	}
	writeJSON(w, http.StatusOK, streamToResponse(stream, true))
}

type egressStateResponse struct {
	EgressID string `json:"egressId"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) GetEgressState(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	job, err := h.Orchestrator.EgressState(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, egressStateResponse{
		EgressID: job.EgressID,
		Status:   string(job.Status),
		Error:    job.Error,
	})
}
