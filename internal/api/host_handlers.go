package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bspnode/internal/models"
)

type hostResponse struct {
	ID       string     `json:"id"`
	StreamID string     `json:"streamId"`
	UserID   string     `json:"userId"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

func hostToResponse(host models.StreamHost) hostResponse {
	return hostResponse{
		ID:       host.ID,
		StreamID: host.StreamID,
		UserID:   host.UserID,
		Role:     string(host.Role),
		JoinedAt: host.JoinedAt,
		LeftAt:   host.LeftAt,
	}
}

type joinRequest struct {
	Token string `json:"token"`
}

func (h *Handler) JoinStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	host, err := h.Orchestrator.Join(r.Context(), chi.URLParam(r, "id"), userID, req.Token)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.HostAdmission("rejected")
		}
		writeTaxonomyError(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.HostAdmission("admitted")
	}
	writeJSON(w, http.StatusCreated, hostToResponse(host))
}

func (h *Handler) LeaveStream(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	streamID := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")
	// Hosts remove themselves; the owner may remove anyone.
	if callerID != userID {
		stream, err := h.Orchestrator.GetStream(r.Context(), streamID)
		if err != nil {
			writeTaxonomyError(w, err)
			return
		}
		if stream.OwnerID != callerID {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "only the owner may remove other hosts"})
			return
		}
	}
	result, err := h.Orchestrator.Leave(r.Context(), streamID, userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"host":        hostToResponse(result.Host),
		"streamEnded": result.StreamEnded,
	})
}

func (h *Handler) ListHosts(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	hosts, err := h.Orchestrator.Hosts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	out := make([]hostResponse, 0, len(hosts))
	for _, host := range hosts {
		out = append(out, hostToResponse(host))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	token, err := h.Orchestrator.IssueHostToken(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
