package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"bspnode/internal/apperr"
	"bspnode/internal/media"
	"bspnode/internal/models"
	"bspnode/internal/storage"
)

// Event is a provider webhook notification about an upload or asset.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at,omitempty"`
	Data      EventData `json:"data"`
}

// EventData carries the object the event describes. Asset events put the
// asset id in ID; upload events reference their asset through AssetID.
type EventData struct {
	ID          string             `json:"id"`
	UploadID    string             `json:"upload_id,omitempty"`
	AssetID     string             `json:"asset_id,omitempty"`
	Passthrough string             `json:"passthrough,omitempty"`
	Status      string             `json:"status,omitempty"`
	PlaybackIDs []media.PlaybackID `json:"playback_ids,omitempty"`
	ErrorReason string             `json:"error_reason,omitempty"`
}

// ParseEvent decodes a verified webhook payload.
func ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("webhook event type is required")
	}
	return event, nil
}

// WebhookHandler applies provider events to recording state. Events are
// deduplicated through the ledger and merged idempotently, so redelivery
// and webhook-versus-poll races both converge on the same terminal state.
type WebhookHandler struct {
	store  storage.Repository
	poller *Poller
	ledger Ledger
	logger *slog.Logger
}

func NewWebhookHandler(store storage.Repository, poller *Poller, ledger Ledger, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{store: store, poller: poller, ledger: ledger, logger: logger}
}

// HandleEvent processes one verified webhook event. Unknown event types
// and events for unknown streams are acknowledged without effect so the
// provider does not keep redelivering them.
func (h *WebhookHandler) HandleEvent(ctx context.Context, event Event) error {
	if event.ID != "" && h.ledger != nil {
		fresh, err := h.ledger.MarkIfNew(ctx, event.ID)
		if err != nil {
			return apperr.External(err, "webhook dedup check")
		}
		if !fresh {
			h.logger.Debug("webhook event already handled", "event_id", event.ID, "type", event.Type)
			return nil
		}
	}

	switch event.Type {
	case "video.asset.ready":
		return h.assetReady(ctx, event)
	case "video.asset.errored":
		return h.assetErrored(ctx, event)
	case "video.upload.asset_created":
		return h.assetCreated(ctx, event)
	case "video.upload.errored", "video.upload.cancelled":
		return h.uploadFailed(ctx, event)
	case "video.live_stream.recording.started":
		return h.recordingStarted(ctx, event)
	default:
		h.logger.Debug("ignoring webhook event", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

func (h *WebhookHandler) resolveStream(ctx context.Context, data EventData) (models.Stream, bool) {
	if streamID := strings.TrimSpace(data.Passthrough); streamID != "" {
		stream, err := h.store.GetStream(ctx, streamID)
		if err == nil {
			return stream, true
		}
	}
	for _, ref := range []string{data.UploadID, data.AssetID, data.ID} {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		stream, ok, err := h.store.FindStreamByRecordingRef(ctx, ref)
		if err == nil && ok {
			return stream, true
		}
	}
	return models.Stream{}, false
}

func (h *WebhookHandler) assetReady(ctx context.Context, event Event) error {
	stream, ok := h.resolveStream(ctx, event.Data)
	if !ok {
		h.logger.Warn("webhook asset.ready for unknown stream", "event_id", event.ID, "asset_id", event.Data.ID)
		return nil
	}
	assetID := event.Data.ID
	update := storage.RecordingUpdate{
		Status:  models.RecordingReady,
		AssetID: &assetID,
	}
	if len(event.Data.PlaybackIDs) > 0 {
		playback := event.Data.PlaybackIDs[0].ID
		update.PlaybackID = &playback
		url := media.PlaybackURL(playback)
		update.RecordingURL = &url
	}
	if _, err := h.store.MergeRecordingState(ctx, stream.ID, update); err != nil {
		return err
	}
	h.cancelPoll(stream, event.Data)
	h.logger.Info("recording ready via webhook", "stream_id", stream.ID, "asset_id", assetID)
	return nil
}

func (h *WebhookHandler) assetErrored(ctx context.Context, event Event) error {
	stream, ok := h.resolveStream(ctx, event.Data)
	if !ok {
		h.logger.Warn("webhook asset.errored for unknown stream", "event_id", event.ID, "asset_id", event.Data.ID)
		return nil
	}
	if _, err := h.store.MergeRecordingState(ctx, stream.ID, storage.RecordingUpdate{Status: models.RecordingFailed}); err != nil {
		return err
	}
	h.cancelPoll(stream, event.Data)
	h.logger.Warn("recording failed via webhook", "stream_id", stream.ID, "asset_id", event.Data.ID, "reason", event.Data.ErrorReason)
	return nil
}

func (h *WebhookHandler) assetCreated(ctx context.Context, event Event) error {
	stream, ok := h.resolveStream(ctx, event.Data)
	if !ok {
		return nil
	}
	assetID := event.Data.AssetID
	if assetID == "" {
		assetID = event.Data.ID
	}
	_, err := h.store.MergeRecordingState(ctx, stream.ID, storage.RecordingUpdate{
		Status:  models.RecordingProcessing,
		AssetID: &assetID,
	})
	return err
}

// recordingStarted notes that the provider began capturing a recording.
// The observation is non-terminal; the merge guard keeps it from touching
// a recording that already reached READY or FAILED.
func (h *WebhookHandler) recordingStarted(ctx context.Context, event Event) error {
	stream, ok := h.resolveStream(ctx, event.Data)
	if !ok {
		h.logger.Warn("webhook recording.started for unknown stream", "event_id", event.ID)
		return nil
	}
	update := storage.RecordingUpdate{Status: models.RecordingUploading}
	if ref := strings.TrimSpace(event.Data.ID); ref != "" && stream.RecordingID == "" {
		update.RecordingID = &ref
	}
	if _, err := h.store.MergeRecordingState(ctx, stream.ID, update); err != nil {
		return err
	}
	h.logger.Info("recording started via webhook", "stream_id", stream.ID)
	return nil
}

func (h *WebhookHandler) uploadFailed(ctx context.Context, event Event) error {
	stream, ok := h.resolveStream(ctx, event.Data)
	if !ok {
		return nil
	}
	if _, err := h.store.MergeRecordingState(ctx, stream.ID, storage.RecordingUpdate{Status: models.RecordingFailed}); err != nil {
		return err
	}
	h.cancelPoll(stream, event.Data)
	return nil
}

func (h *WebhookHandler) cancelPoll(stream models.Stream, data EventData) {
	if h.poller == nil {
		return
	}
	for _, uploadID := range []string{data.UploadID, stream.RecordingID} {
		if uploadID != "" {
			h.poller.Cancel(uploadID)
		}
	}
}
