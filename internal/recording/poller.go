package recording

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"bspnode/internal/media"
	"bspnode/internal/models"
	"bspnode/internal/storage"
)

// PollerConfig tunes the upload status poller.
type PollerConfig struct {
	Store  storage.Repository
	Media  media.Client
	Logger *slog.Logger

	// Grace delays the first status check after an upload completes, the
	// provider rarely finishes processing sooner.
	Grace       time.Duration
	Interval    time.Duration
	MaxAttempts int
	TickTimeout time.Duration
	// MaxConcurrent caps provider status checks running at once.
	MaxConcurrent int64
}

type pollJob struct {
	streamID  string
	uploadID  string
	assetID   string
	attempts  int
	timer     *time.Timer
	cancelled bool
}

// Poller tracks in-flight recording uploads and polls the provider until
// each reaches a terminal state or its attempt budget runs out. Webhook
// delivery of the same outcome cancels the poll; the poller is the
// fallback path, not the primary one.
type Poller struct {
	store  storage.Repository
	media  media.Client
	logger *slog.Logger

	grace       time.Duration
	interval    time.Duration
	maxAttempts int
	tickTimeout time.Duration
	sem         *semaphore.Weighted

	mu     sync.Mutex
	jobs   map[string]*pollJob
	closed bool
	wg     sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewPoller(cfg PollerConfig) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 15 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		store:       cfg.Store,
		media:       cfg.Media,
		logger:      logger,
		grace:       cfg.Grace,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		tickTimeout: cfg.TickTimeout,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
		jobs:        make(map[string]*pollJob),
		baseCtx:     ctx,
		baseCancel:  cancel,
	}
}

// Schedule begins polling an upload after the grace period. Scheduling an
// upload that is already tracked is a no-op.
func (p *Poller) Schedule(streamID, uploadID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, exists := p.jobs[uploadID]; exists {
		return
	}
	job := &pollJob{streamID: streamID, uploadID: uploadID}
	// The pending tick is accounted before the timer is armed so Shutdown
	// never observes a zero counter with a tick about to fire.
	p.wg.Add(1)
	job.timer = time.AfterFunc(p.grace, func() { p.tick(job) })
	p.jobs[uploadID] = job
	p.logger.Debug("recording poll scheduled", "stream_id", streamID, "upload_id", uploadID, "grace", p.grace)
}

// Cancel stops tracking an upload, typically because a webhook already
// delivered the terminal state.
func (p *Poller) Cancel(uploadID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[uploadID]
	if !ok {
		return
	}
	job.cancelled = true
	if job.timer != nil && job.timer.Stop() {
		// The armed tick will never fire; release its accounting here.
		p.wg.Done()
	}
	delete(p.jobs, uploadID)
}

// Tracking reports whether the upload still has a pending poll.
func (p *Poller) Tracking(uploadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[uploadID]
	return ok
}

// Shutdown stops all timers and waits for in-flight ticks to drain.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for _, job := range p.jobs {
		job.cancelled = true
		if job.timer != nil && job.timer.Stop() {
			p.wg.Done()
		}
	}
	p.jobs = make(map[string]*pollJob)
	p.mu.Unlock()
	p.baseCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Poller) reschedule(job *pollJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || job.cancelled {
		return
	}
	if _, ok := p.jobs[job.uploadID]; !ok {
		return
	}
	p.wg.Add(1)
	job.timer = time.AfterFunc(p.interval, func() { p.tick(job) })
}

func (p *Poller) finish(job *pollJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, job.uploadID)
}

func (p *Poller) tick(job *pollJob) {
	defer p.wg.Done()

	if err := p.sem.Acquire(p.baseCtx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	if p.closed || job.cancelled {
		p.mu.Unlock()
		return
	}
	job.attempts++
	attempts := job.attempts
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.baseCtx, p.tickTimeout)
	defer cancel()

	outcome := p.check(ctx, job)
	switch outcome {
	case pollDone:
		p.finish(job)
	case pollRetry:
		if attempts >= p.maxAttempts {
			p.logger.Warn("recording poll exhausted attempts", "stream_id", job.streamID, "upload_id", job.uploadID, "attempts", attempts)
			p.markFailed(ctx, job)
			p.finish(job)
			return
		}
		p.reschedule(job)
	}
}

type pollOutcome int

const (
	pollDone pollOutcome = iota
	pollRetry
)

func (p *Poller) check(ctx context.Context, job *pollJob) pollOutcome {
	// A webhook may have landed between ticks. The merge guard would keep
	// the state correct anyway, but stopping early avoids pointless
	// provider calls.
	stream, err := p.store.GetStream(ctx, job.streamID)
	if err != nil {
		p.logger.Warn("recording poll cannot load stream", "stream_id", job.streamID, "error", err)
		return pollRetry
	}
	if stream.RecordingStatus.Terminal() {
		return pollDone
	}

	if job.assetID == "" {
		upload, err := p.media.GetUpload(ctx, job.uploadID)
		if err != nil {
			p.logger.Warn("recording poll upload check failed", "upload_id", job.uploadID, "error", err)
			return pollRetry
		}
		switch upload.Status {
		case "errored", "cancelled", "timed_out":
			p.logger.Warn("recording upload failed upstream", "upload_id", job.uploadID, "status", upload.Status, "error", upload.Error)
			p.markFailed(ctx, job)
			return pollDone
		}
		if upload.AssetID == "" {
			return pollRetry
		}
		job.assetID = upload.AssetID
	}

	asset, err := p.media.GetAsset(ctx, job.assetID)
	if err != nil {
		p.logger.Warn("recording poll asset check failed", "asset_id", job.assetID, "error", err)
		return pollRetry
	}
	switch asset.Status {
	case "ready":
		playback := asset.FirstPlaybackID()
		update := storage.RecordingUpdate{
			Status:  models.RecordingReady,
			AssetID: &job.assetID,
		}
		if playback != "" {
			update.PlaybackID = &playback
			url := media.PlaybackURL(playback)
			update.RecordingURL = &url
		}
		if _, err := p.store.MergeRecordingState(ctx, job.streamID, update); err != nil {
			p.logger.Error("recording poll merge failed", "stream_id", job.streamID, "error", err)
			return pollRetry
		}
		p.logger.Info("recording ready", "stream_id", job.streamID, "asset_id", job.assetID, "playback_id", playback)
		return pollDone
	case "errored":
		p.logger.Warn("recording asset errored", "asset_id", job.assetID, "reason", asset.ErrorReason)
		p.markFailed(ctx, job)
		return pollDone
	default:
		update := storage.RecordingUpdate{
			Status:  models.RecordingProcessing,
			AssetID: &job.assetID,
		}
		if _, err := p.store.MergeRecordingState(ctx, job.streamID, update); err != nil {
			p.logger.Warn("recording poll progress merge failed", "stream_id", job.streamID, "error", err)
		}
		return pollRetry
	}
}

func (p *Poller) markFailed(ctx context.Context, job *pollJob) {
	if _, err := p.store.MergeRecordingState(ctx, job.streamID, storage.RecordingUpdate{Status: models.RecordingFailed}); err != nil {
		p.logger.Error("recording failure merge failed", "stream_id", job.streamID, "error", err)
	}
}
