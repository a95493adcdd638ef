package storage

import (
	"fmt"
	"time"

	"bspnode/internal/models"
)

// CreateStreamParams captures the attributes settable when creating a stream.
// The owner membership row is created atomically with the stream itself.
type CreateStreamParams struct {
	OwnerID    string
	Title      string
	StreamType models.StreamType
	MaxHosts   int
}

// StreamUpdate mutates non-lifecycle stream fields. Nil pointers leave the
// stored value untouched.
type StreamUpdate struct {
	Title      *string
	RoomName   *string
	PlaybackID *string
	EgressID   *string
}

// AddHostParams captures one host admission. InviteID, when non-empty, is the
// invite whose usage count must be incremented together with the insert.
type AddHostParams struct {
	StreamID string
	UserID   string
	Role     models.HostRole
	InviteID string
}

// CreateInviteParams captures a new host invite. Only the token digest is
// persisted; ExpiresAt nil means the invite never expires.
type CreateInviteParams struct {
	StreamID  string
	CreatorID string
	TokenHash string
	Role      models.HostRole
	MaxUses   int
	ExpiresAt *time.Time
}

// RecordingUpdate is one observation of recording progress from either the
// poller or the webhook path. Nil reference pointers leave stored values
// untouched.
type RecordingUpdate struct {
	Status       models.RecordingStatus
	RecordingID  *string
	RecordingURL *string
	AssetID      *string
	PlaybackID   *string
}

// StatusConflictError reports that a conditional lifecycle transition found a
// different current status than expected. Callers translate Current into the
// appropriate taxonomy member.
type StatusConflictError struct {
	StreamID string
	Expected models.StreamStatus
	Current  models.StreamStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("stream %s is %s, expected %s", e.StreamID, e.Current, e.Expected)
}
