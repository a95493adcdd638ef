package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bspnode/internal/apperr"
	"bspnode/internal/media"
	"bspnode/internal/recording"
)

// UploadRecording accepts a multipart recording file and hands it to the
// ingestion pipeline. Only the stream owner may upload.
func (h *Handler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	streamID := chi.URLParam(r, "id")
	stream, err := h.Orchestrator.GetStream(r.Context(), streamID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	if stream.OwnerID != userID {
		writeTaxonomyError(w, apperr.New(apperr.CodeUnauthorized, "only the owner may upload a recording"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("multipart field 'file' is required"))
		return
	}
	defer file.Close()

	updated, err := h.Pipeline.IngestFile(r.Context(), streamID, file, header.Size)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.RecordingOutcome("failed", "upload")
		}
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, streamToResponse(updated, true))
}

// MediaWebhook receives signed provider events. Unknown event types are
// acknowledged so the provider stops redelivering; bad signatures are not.
func (h *Handler) MediaWebhook(w http.ResponseWriter, r *http.Request) {
	if h.WebhookSecret == "" {
		writeTaxonomyError(w, apperr.New(apperr.CodeSignatureInvalid, "webhook endpoint is not configured"))
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, h.maxWebhookBytes()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tolerance := h.SignatureTolerance
	if tolerance <= 0 {
		tolerance = media.DefaultSignatureTolerance
	}
	if err := media.VerifyWebhookSignature(payload, r.Header.Get("Webhook-Signature"), h.WebhookSecret, tolerance, time.Now()); err != nil {
		h.logger(r.Context()).Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
		if h.Metrics != nil {
			h.Metrics.WebhookEvent("unknown", "rejected")
		}
		writeTaxonomyError(w, err)
		return
	}

	event, err := recording.ParseEvent(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Webhooks.HandleEvent(r.Context(), event); err != nil {
		if h.Metrics != nil {
			h.Metrics.WebhookEvent(event.Type, "errored")
		}
		writeTaxonomyError(w, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.WebhookEvent(event.Type, "accepted")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
