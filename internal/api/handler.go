// Package api exposes the orchestrator over HTTP. Handlers stay thin:
// decode, delegate, translate the error taxonomy to status codes.
package api

import (
	"context"
	"log/slog"
	"time"

	"bspnode/internal/lifecycle"
	"bspnode/internal/observability/logging"
	"bspnode/internal/observability/metrics"
	"bspnode/internal/recording"
	"bspnode/internal/storage"
)

// Handler carries the dependencies the HTTP layer needs.
type Handler struct {
	Orchestrator *lifecycle.Orchestrator
	Pipeline     *recording.Pipeline
	Webhooks     *recording.WebhookHandler
	Store        storage.Repository
	Metrics      *metrics.Recorder
	Logger       *slog.Logger

	// WebhookSecret signs provider events; empty disables the webhook
	// endpoint.
	WebhookSecret string
	// SignatureTolerance bounds webhook timestamp drift.
	SignatureTolerance time.Duration
	// MaxUploadBytes caps recording upload size.
	MaxUploadBytes int64
	// MaxWebhookBytes caps webhook payload size.
	MaxWebhookBytes int64
}

const (
	defaultMaxUploadBytes  = 4 << 30
	defaultMaxWebhookBytes = 1 << 20
)

// logger prefers the request-scoped logger installed by the middleware
// chain, which already carries request and stream IDs.
func (h *Handler) logger(ctx context.Context) *slog.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

func (h *Handler) maxWebhookBytes() int64 {
	if h.MaxWebhookBytes > 0 {
		return h.MaxWebhookBytes
	}
	return defaultMaxWebhookBytes
}
