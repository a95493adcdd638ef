// Package lifecycle orchestrates stream sessions: the created, live, ended
// state machine, host membership, invites, and the egress jobs tied to a
// session going live or ending.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"bspnode/internal/apperr"
	"bspnode/internal/egress"
	"bspnode/internal/models"
	"bspnode/internal/rooms"
	"bspnode/internal/storage"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Store  storage.Repository
	Rooms  rooms.Service
	Egress *egress.Controller
	Logger *slog.Logger

	// RTMPBase is the ingest endpoint egress jobs push to, for example
	// "rtmps://ingest.example.com:443/app".
	RTMPBase string
	// EgressStopRetries bounds stop attempts when a session ends.
	EgressStopRetries int
	// EgressStopObserved, when set, receives "stopped" or "orphaned" after
	// each stop attempt so operators can track leaked jobs.
	EgressStopObserved func(result string)
}

type Orchestrator struct {
	store              storage.Repository
	rooms              rooms.Service
	egress             *egress.Controller
	logger             *slog.Logger
	rtmpBase           string
	egressStopRetries  int
	egressStopObserved func(result string)
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.EgressStopRetries
	if retries <= 0 {
		retries = 3
	}
	return &Orchestrator{
		store:              cfg.Store,
		rooms:              cfg.Rooms,
		egress:             cfg.Egress,
		logger:             logger,
		rtmpBase:           strings.TrimRight(cfg.RTMPBase, "/"),
		egressStopRetries:  retries,
		egressStopObserved: cfg.EgressStopObserved,
	}
}

// CreateStreamParams shapes a new stream request.
type CreateStreamParams struct {
	OwnerID    string
	Title      string
	StreamType models.StreamType
	MaxHosts   int
}

func (o *Orchestrator) CreateStream(ctx context.Context, params CreateStreamParams) (models.Stream, error) {
	if strings.TrimSpace(params.OwnerID) == "" {
		return models.Stream{}, apperr.New(apperr.CodeUnauthorized, "caller identity required")
	}
	if params.StreamType != "" && !params.StreamType.Valid() {
		return models.Stream{}, apperr.New(apperr.CodeUnsupportedStreamType, "unknown stream type %q", params.StreamType)
	}
	stream, err := o.store.CreateStream(ctx, storage.CreateStreamParams{
		OwnerID:    params.OwnerID,
		Title:      params.Title,
		StreamType: params.StreamType,
		MaxHosts:   params.MaxHosts,
	})
	if err != nil {
		return models.Stream{}, err
	}
	o.logger.Info("stream created", "stream_id", stream.ID, "owner_id", stream.OwnerID, "type", string(stream.StreamType))
	return stream, nil
}

func (o *Orchestrator) GetStream(ctx context.Context, streamID string) (models.Stream, error) {
	return o.store.GetStream(ctx, streamID)
}

func (o *Orchestrator) ListStreams(ctx context.Context, ownerID string) ([]models.Stream, error) {
	return o.store.ListStreams(ctx, ownerID)
}

// Start moves a created stream live. The caller must be the owner or an
// active host. Starting a live stream reports ALREADY_BROADCASTING as a
// recoverable condition; clients retry their join instead of failing.
func (o *Orchestrator) Start(ctx context.Context, streamID, callerID string) (models.Stream, error) {
	stream, err := o.store.GetStream(ctx, streamID)
	if err != nil {
		return models.Stream{}, err
	}
	if callerID != stream.OwnerID {
		if _, active, err := o.store.GetActiveHost(ctx, streamID, callerID); err != nil {
			return models.Stream{}, err
		} else if !active {
			return models.Stream{}, apperr.New(apperr.CodeUnauthorized, "only the owner or an active host may start the stream")
		}
	}

	switch stream.Status {
	case models.StreamLive:
		return models.Stream{}, apperr.Recoverable(apperr.CodeAlreadyBroadcasting, "stream %s is already live", streamID)
	case models.StreamEnded:
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s has ended", streamID)
	}

	if err := o.ensureRoom(ctx, stream); err != nil {
		return models.Stream{}, err
	}

	// The conditional transition is the serialization point: exactly one
	// concurrent starter wins, the rest observe the conflict.
	live, err := o.store.TransitionStreamStatus(ctx, streamID, models.StreamCreated, models.StreamLive)
	if err != nil {
		var conflict *storage.StatusConflictError
		if errors.As(err, &conflict) {
			if conflict.Current == models.StreamLive {
				return models.Stream{}, apperr.Recoverable(apperr.CodeAlreadyBroadcasting, "stream %s is already live", streamID)
			}
			return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s has ended", streamID)
		}
		return models.Stream{}, err
	}

	if live.StreamType == models.StreamTypeRTMP && o.egress != nil {
		job, egressErr := o.egress.Start(ctx, live.RoomName, o.rtmpBase, live.StreamKey)
		if egressErr != nil {
			o.logger.Error("egress start failed, rolling stream back", "stream_id", streamID, "error", egressErr)
			if _, rollbackErr := o.store.TransitionStreamStatus(ctx, streamID, models.StreamLive, models.StreamCreated); rollbackErr != nil {
				o.logger.Error("stream rollback failed", "stream_id", streamID, "error", rollbackErr)
			}
			return models.Stream{}, apperr.External(egressErr, "start egress for stream %s", streamID)
		}
		egressID := job.EgressID
		updated, err := o.store.UpdateStream(ctx, streamID, storage.StreamUpdate{EgressID: &egressID})
		if err != nil {
			return models.Stream{}, err
		}
		live = updated
	}

	o.logger.Info("stream live", "stream_id", streamID, "caller_id", callerID, "egress_id", live.EgressID)
	return live, nil
}

// End moves a live stream to ended. Owner only. Egress stop exhaustion is
// logged and the session still ends; an orphaned egress job times out on
// the provider side.
func (o *Orchestrator) End(ctx context.Context, streamID, callerID string) (models.Stream, error) {
	stream, err := o.store.GetStream(ctx, streamID)
	if err != nil {
		return models.Stream{}, err
	}
	if stream.OwnerID != callerID {
		return models.Stream{}, apperr.New(apperr.CodeUnauthorized, "only the owner may end the stream")
	}

	ended, err := o.store.TransitionStreamStatus(ctx, streamID, models.StreamLive, models.StreamEnded)
	if err != nil {
		var conflict *storage.StatusConflictError
		if errors.As(err, &conflict) {
			if conflict.Current == models.StreamEnded {
				return models.Stream{}, apperr.Recoverable(apperr.CodeNotFound, "stream %s already ended", streamID)
			}
			return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s is not live", streamID)
		}
		return models.Stream{}, err
	}

	if ended.EgressID != "" && o.egress != nil {
		result := "stopped"
		if !o.egress.Stop(ctx, ended.EgressID, o.egressStopRetries) {
			result = "orphaned"
			o.logger.Error("egress job orphaned after stream end", "stream_id", streamID, "egress_id", ended.EgressID)
		}
		if o.egressStopObserved != nil {
			o.egressStopObserved(result)
		}
	}

	// The recording is expected shortly. Uploading here is a provisional
	// hint, the ingestion pipeline and webhooks own the state from now on.
	if ended.RecordingStatus == models.RecordingNone {
		hinted, err := o.store.MergeRecordingState(ctx, streamID, storage.RecordingUpdate{Status: models.RecordingUploading})
		if err != nil {
			o.logger.Warn("recording hint merge failed", "stream_id", streamID, "error", err)
		} else {
			ended = hinted
		}
	}

	o.logger.Info("stream ended", "stream_id", streamID, "duration_seconds", ended.DurationSeconds)
	return ended, nil
}

// EgressState reconciles the stored egress id against the provider and
// returns the provider's current view of the job.
func (o *Orchestrator) EgressState(ctx context.Context, streamID, callerID string) (egress.Job, error) {
	stream, err := o.store.GetStream(ctx, streamID)
	if err != nil {
		return egress.Job{}, err
	}
	if stream.OwnerID != callerID {
		return egress.Job{}, apperr.New(apperr.CodeUnauthorized, "only the owner may inspect egress state")
	}
	if o.egress == nil {
		return egress.Job{}, apperr.New(apperr.CodeExternalService, "egress is not configured")
	}
	if stream.EgressID != "" {
		return o.egress.FindActive(ctx, stream.RoomName, stream.EgressID)
	}
	jobs, err := o.egress.ListActive(ctx, stream.RoomName)
	if err != nil {
		return egress.Job{}, err
	}
	if len(jobs) == 0 {
		return egress.Job{}, apperr.New(apperr.CodeNotFound, "no egress job for stream %s", streamID)
	}
	return jobs[0], nil
}

func (o *Orchestrator) ensureRoom(ctx context.Context, stream models.Stream) error {
	if o.rooms == nil {
		return nil
	}
	existing, err := o.rooms.ListRooms(ctx, []string{stream.RoomName})
	if err != nil {
		o.logger.Warn("room listing failed, attempting create", "room", stream.RoomName, "error", err)
	}
	for _, room := range existing {
		if room.Name == stream.RoomName {
			return nil
		}
	}
	if _, err := o.rooms.CreateRoom(ctx, stream.RoomName, stream.MaxHosts); err != nil {
		return apperr.External(err, "create room %s", stream.RoomName)
	}
	return nil
}
