// Package recording ingests stream recordings into the media provider and
// converges their processing state from two independent sources, webhook
// delivery and status polling.
package recording

import (
	"context"
	"io"
	"log/slog"

	"bspnode/internal/media"
	"bspnode/internal/models"
	"bspnode/internal/storage"
)

// Pipeline pushes finished recordings to the media provider and hands the
// resulting upload to the poller.
type Pipeline struct {
	store  storage.Repository
	media  media.Client
	poller *Poller
	logger *slog.Logger
}

func NewPipeline(store storage.Repository, client media.Client, poller *Poller, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, media: client, poller: poller, logger: logger}
}

// IngestFile uploads a recording file for a stream. The stream moves to
// uploading while bytes transfer, then to processing once the provider has
// them; a transfer failure leaves the recording failed and nothing is
// scheduled for polling.
func (p *Pipeline) IngestFile(ctx context.Context, streamID string, file io.Reader, size int64) (models.Stream, error) {
	if _, err := p.store.GetStream(ctx, streamID); err != nil {
		return models.Stream{}, err
	}

	upload, err := p.media.CreateDirectUpload(ctx, streamID)
	if err != nil {
		return models.Stream{}, err
	}

	uploadID := upload.ID
	if _, err := p.store.MergeRecordingState(ctx, streamID, storage.RecordingUpdate{
		Status:      models.RecordingUploading,
		RecordingID: &uploadID,
	}); err != nil {
		return models.Stream{}, err
	}

	if err := p.media.UploadFile(ctx, upload.URL, file, size); err != nil {
		p.logger.Error("recording upload transfer failed", "stream_id", streamID, "upload_id", uploadID, "error", err)
		if _, mergeErr := p.store.MergeRecordingState(ctx, streamID, storage.RecordingUpdate{Status: models.RecordingFailed}); mergeErr != nil {
			p.logger.Error("recording failure merge failed", "stream_id", streamID, "error", mergeErr)
		}
		return models.Stream{}, err
	}

	stream, err := p.store.MergeRecordingState(ctx, streamID, storage.RecordingUpdate{
		Status:      models.RecordingProcessing,
		RecordingID: &uploadID,
	})
	if err != nil {
		return models.Stream{}, err
	}
	p.poller.Schedule(streamID, uploadID)
	p.logger.Info("recording ingested", "stream_id", streamID, "upload_id", uploadID, "bytes", size)
	return stream, nil
}
