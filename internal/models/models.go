package models

import (
	"strings"
	"time"
)

// StreamStatus is the lifecycle state of a broadcast session. Transitions move
// forward only: created -> live -> ended.
type StreamStatus string

const (
	StreamCreated StreamStatus = "created"
	StreamLive    StreamStatus = "live"
	StreamEnded   StreamStatus = "ended"
)

// Valid reports whether the value is a known lifecycle state.
func (s StreamStatus) Valid() bool {
	switch s {
	case StreamCreated, StreamLive, StreamEnded:
		return true
	}
	return false
}

// StreamType selects which media path applies to a stream. It is immutable
// after creation.
type StreamType string

const (
	StreamTypeRTMP    StreamType = "rtmp"
	StreamTypeRoom    StreamType = "livekit-room"
	StreamTypeBrowser StreamType = "browser"
)

// Valid reports whether the value is a supported stream type.
func (t StreamType) Valid() bool {
	switch t {
	case StreamTypeRTMP, StreamTypeRoom, StreamTypeBrowser:
		return true
	}
	return false
}

// MultiHost reports whether the stream type admits more than one host.
func (t StreamType) MultiHost() bool {
	return t != StreamTypeBrowser
}

// RecordingStatus tracks the recording sub-state machine. It is independent of
// the stream lifecycle state.
type RecordingStatus string

const (
	RecordingNone       RecordingStatus = "none"
	RecordingUploading  RecordingStatus = "uploading"
	RecordingProcessing RecordingStatus = "processing"
	RecordingReady      RecordingStatus = "ready"
	RecordingFailed     RecordingStatus = "failed"
)

// Terminal reports whether the recording state admits no further transitions.
func (r RecordingStatus) Terminal() bool {
	return r == RecordingReady || r == RecordingFailed
}

// HostRole distinguishes the stream owner from invited co-hosts.
type HostRole string

const (
	RoleOwner HostRole = "owner"
	RoleHost  HostRole = "host"
)

// ParseHostRole normalises a role string, defaulting to host.
func ParseHostRole(raw string) HostRole {
	if strings.EqualFold(strings.TrimSpace(raw), string(RoleOwner)) {
		return RoleOwner
	}
	return RoleHost
}

// DefaultMaxHosts bounds active host membership when the creator does not ask
// for a specific capacity.
const DefaultMaxHosts = 4

// Stream is the authoritative record for one broadcast session.
type Stream struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerId"`
	Title           string          `json:"title"`
	Status          StreamStatus    `json:"status"`
	StreamType      StreamType      `json:"streamType"`
	MaxHosts        int             `json:"maxHosts"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	EndedAt         *time.Time      `json:"endedAt,omitempty"`
	DurationSeconds int             `json:"durationSeconds,omitempty"`
	RecordingStatus RecordingStatus `json:"recordingStatus"`
	RecordingID     string          `json:"recordingId,omitempty"`
	RecordingURL    string          `json:"recordingUrl,omitempty"`
	RoomName        string          `json:"roomName,omitempty"`
	StreamKey       string          `json:"streamKey,omitempty"`
	PlaybackID      string          `json:"playbackId,omitempty"`
	AssetID         string          `json:"assetId,omitempty"`
	EgressID        string          `json:"egressId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StreamHost is a membership record. A nil LeftAt means the host currently
// occupies a slot.
type StreamHost struct {
	ID       string     `json:"id"`
	StreamID string     `json:"streamId"`
	UserID   string     `json:"userId"`
	Role     HostRole   `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

// Active reports whether the host still holds a slot.
func (h StreamHost) Active() bool {
	return h.LeftAt == nil
}

// HostInvite is a capability token admitting a new host. The raw token is
// returned exactly once at creation; only its SHA-256 digest is stored.
type HostInvite struct {
	ID        string     `json:"id"`
	StreamID  string     `json:"streamId"`
	CreatorID string     `json:"creatorId"`
	TokenHash string     `json:"tokenHash"`
	Role      HostRole   `json:"role"`
	MaxUses   int        `json:"maxUses"`
	UsedCount int        `json:"usedCount"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Usable reports whether the invite can still admit a host at the given time.
func (i HostInvite) Usable(now time.Time) bool {
	if !i.IsActive {
		return false
	}
	if i.UsedCount >= i.MaxUses {
		return false
	}
	if i.ExpiresAt != nil && !i.ExpiresAt.After(now) {
		return false
	}
	return true
}
