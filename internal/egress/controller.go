package egress

import (
	"context"
	"log/slog"
	"time"

	"bspnode/internal/apperr"
	"bspnode/internal/media"
)

// Job is the controller's view of one restream job.
type Job struct {
	EgressID string
	RoomName string
	Status   Status
	Error    string
}

// Controller starts and stops room-composite egress through the media
// provider. Stop retries with exponential backoff because providers drop
// stop requests while a job is still transitioning.
type Controller struct {
	client      media.Client
	logger      *slog.Logger
	backoffBase time.Duration

	// sleep is swapped out by tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewController(client media.Client, logger *slog.Logger, backoffBase time.Duration) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Controller{
		client:      client,
		logger:      logger,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start launches a room-composite egress pushing to the given RTMP target.
// A start failure is reported as-is; the caller decides whether the stream
// may go live without a restream.
func (c *Controller) Start(ctx context.Context, roomName, streamURL, streamKey string) (Job, error) {
	state, err := c.client.StartEgress(ctx, media.EgressRequest{
		RoomName:  roomName,
		Layout:    "speaker",
		StreamURL: streamURL,
		StreamKey: streamKey,
	})
	if err != nil {
		return Job{}, err
	}
	job := jobFromState(state)
	c.logger.Info("egress started", "egress_id", job.EgressID, "room", roomName, "status", string(job.Status))
	return job, nil
}

// Stop issues the stop request up to maxRetries+1 times with doubling
// delays. It returns true once a stop is acknowledged, or false after the
// attempts are exhausted; callers end the stream either way and log the
// orphaned job.
func (c *Controller) Stop(ctx context.Context, egressID string, maxRetries int) bool {
	if maxRetries < 0 {
		maxRetries = 0
	}
	for attempt := 0; ; attempt++ {
		state, err := c.client.StopEgress(ctx, egressID)
		if err == nil {
			c.logger.Info("egress stopped", "egress_id", egressID, "status", state.Status, "attempts", attempt+1)
			return true
		}
		if attempt >= maxRetries {
			c.logger.Error("egress stop exhausted retries", "egress_id", egressID, "attempts", attempt+1, "error", err)
			return false
		}
		delay := c.backoffBase << attempt
		c.logger.Warn("egress stop failed, retrying", "egress_id", egressID, "attempt", attempt+1, "delay", delay, "error", err)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			c.logger.Error("egress stop aborted", "egress_id", egressID, "error", sleepErr)
			return false
		}
	}
}

// ListActive returns the provider's non-terminal jobs for a room.
func (c *Controller) ListActive(ctx context.Context, roomName string) ([]Job, error) {
	states, err := c.client.ListEgress(ctx, roomName)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(states))
	for _, state := range states {
		job := jobFromState(state)
		if job.Status.Terminal() {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// FindActive looks up one job by id across the room's egress list.
func (c *Controller) FindActive(ctx context.Context, roomName, egressID string) (Job, error) {
	states, err := c.client.ListEgress(ctx, roomName)
	if err != nil {
		return Job{}, err
	}
	for _, state := range states {
		if state.EgressID == egressID {
			return jobFromState(state), nil
		}
	}
	return Job{}, apperr.New(apperr.CodeNotFound, "egress %s not found in room %s", egressID, roomName)
}

func jobFromState(state media.EgressState) Job {
	return Job{
		EgressID: state.EgressID,
		RoomName: state.RoomName,
		Status:   FromUpstream(state.Status),
		Error:    state.Error,
	}
}
