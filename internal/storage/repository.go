package storage

import (
	"context"

	"bspnode/internal/models"
)

// Repository exposes the datastore operations required by the lifecycle
// orchestrator, membership manager, recording pipeline, and API handlers.
//
// All cross-component coordination happens through this interface; in
// particular TransitionStreamStatus is the serialization point for lifecycle
// transitions and MergeRecordingState is the convergence point for the two
// recording notification paths.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateStream(ctx context.Context, params CreateStreamParams) (models.Stream, error)
	GetStream(ctx context.Context, id string) (models.Stream, error)
	ListStreams(ctx context.Context, ownerID string) ([]models.Stream, error)
	UpdateStream(ctx context.Context, id string, update StreamUpdate) (models.Stream, error)

	// TransitionStreamStatus applies from -> to only when the stored status
	// still equals from, stamping StartedAt / EndedAt / DurationSeconds as the
	// target state requires. A mismatch yields *StatusConflictError carrying
	// the current status.
	TransitionStreamStatus(ctx context.Context, id string, from, to models.StreamStatus) (models.Stream, error)

	ActiveHosts(ctx context.Context, streamID string) ([]models.StreamHost, error)
	GetActiveHost(ctx context.Context, streamID, userID string) (models.StreamHost, bool, error)
	// AddHost inserts an active membership row, enforcing the capacity and
	// single-active-row invariants, and consumes one use of the invite when
	// InviteID is set. The insert and the usage increment are a single
	// transactional operation.
	AddHost(ctx context.Context, params AddHostParams) (models.StreamHost, error)
	MarkHostLeft(ctx context.Context, streamID, userID string) (models.StreamHost, error)

	CreateInvite(ctx context.Context, params CreateInviteParams) (models.HostInvite, error)
	GetInvite(ctx context.Context, id string) (models.HostInvite, bool, error)
	FindInviteByTokenHash(ctx context.Context, streamID, tokenHash string) (models.HostInvite, bool, error)
	ListInvites(ctx context.Context, streamID string) ([]models.HostInvite, error)
	DeactivateInvite(ctx context.Context, id string) (models.HostInvite, error)

	// MergeRecordingState folds an observation from either notification path
	// into the stream record. Once the recording status is terminal, a
	// conflicting non-identical status is discarded; re-applying the same
	// terminal fact is an idempotent no-op.
	MergeRecordingState(ctx context.Context, streamID string, update RecordingUpdate) (models.Stream, error)
	// FindStreamByRecordingRef resolves a stream by the upload or asset
	// identifier recorded during the upload path. Webhook events do not carry
	// stream ids; this is the correlation lookup.
	FindStreamByRecordingRef(ctx context.Context, ref string) (models.Stream, bool, error)
}

var _ Repository = (*Storage)(nil)
