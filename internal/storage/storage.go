package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bspnode/internal/apperr"
	"bspnode/internal/models"
)

type dataset struct {
	Streams map[string]models.Stream     `json:"streams"`
	Hosts   map[string]models.StreamHost `json:"hosts"`
	Invites map[string]models.HostInvite `json:"invites"`
}

// Storage is the JSON-file backed repository. A single RWMutex serializes all
// writes, which makes the read-then-write admission checks serializable within
// one process; sharing the file between processes is unsupported.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Streams: make(map[string]models.Stream),
		Hosts:   make(map[string]models.StreamHost),
		Invites: make(map[string]models.HostInvite),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Streams == nil {
		s.data.Streams = make(map[string]models.Stream)
	}
	if s.data.Hosts == nil {
		s.data.Hosts = make(map[string]models.StreamHost)
	}
	if s.data.Invites == nil {
		s.data.Invites = make(map[string]models.HostInvite)
	}
}

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string) (*Storage, error) {
	store := &Storage{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping reports whether the backing file is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.filePath)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// Close is a no-op for the JSON store; it satisfies the Repository contract.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func cloneStream(src models.Stream) models.Stream {
	cloned := src
	if src.StartedAt != nil {
		started := *src.StartedAt
		cloned.StartedAt = &started
	}
	if src.EndedAt != nil {
		ended := *src.EndedAt
		cloned.EndedAt = &ended
	}
	return cloned
}

func cloneHost(src models.StreamHost) models.StreamHost {
	cloned := src
	if src.LeftAt != nil {
		left := *src.LeftAt
		cloned.LeftAt = &left
	}
	return cloned
}

func cloneInvite(src models.HostInvite) models.HostInvite {
	cloned := src
	if src.ExpiresAt != nil {
		expires := *src.ExpiresAt
		cloned.ExpiresAt = &expires
	}
	return cloned
}

func (s *Storage) CreateStream(ctx context.Context, params CreateStreamParams) (models.Stream, error) {
	owner := strings.TrimSpace(params.OwnerID)
	if owner == "" {
		return models.Stream{}, fmt.Errorf("owner id is required")
	}
	streamType := params.StreamType
	if streamType == "" {
		streamType = models.StreamTypeRTMP
	}
	if !streamType.Valid() {
		return models.Stream{}, fmt.Errorf("unknown stream type %q", params.StreamType)
	}
	maxHosts := params.MaxHosts
	if maxHosts <= 0 {
		maxHosts = models.DefaultMaxHosts
	}
	if !streamType.MultiHost() {
		maxHosts = 1
	}

	streamKey, err := generateStreamKey()
	if err != nil {
		return models.Stream{}, err
	}

	now := time.Now().UTC()
	stream := models.Stream{
		ID:              generateID(),
		OwnerID:         owner,
		Title:           strings.TrimSpace(params.Title),
		Status:          models.StreamCreated,
		StreamType:      streamType,
		MaxHosts:        maxHosts,
		RecordingStatus: models.RecordingNone,
		StreamKey:       streamKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	stream.RoomName = "stream-" + stream.ID
	ownerHost := models.StreamHost{
		ID:       generateID(),
		StreamID: stream.ID,
		UserID:   owner,
		Role:     models.RoleOwner,
		JoinedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Streams[stream.ID] = stream
	s.data.Hosts[ownerHost.ID] = ownerHost
	if err := s.persist(); err != nil {
		delete(s.data.Streams, stream.ID)
		delete(s.data.Hosts, ownerHost.ID)
		return models.Stream{}, err
	}
	return cloneStream(stream), nil
}

func (s *Storage) GetStream(ctx context.Context, id string) (models.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream, ok := s.data.Streams[id]
	if !ok {
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", id)
	}
	return cloneStream(stream), nil
}

func (s *Storage) ListStreams(ctx context.Context, ownerID string) ([]models.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	streams := make([]models.Stream, 0, len(s.data.Streams))
	for _, stream := range s.data.Streams {
		if ownerID != "" && stream.OwnerID != ownerID {
			continue
		}
		streams = append(streams, cloneStream(stream))
	}
	sort.Slice(streams, func(i, j int) bool {
		return streams[i].CreatedAt.After(streams[j].CreatedAt)
	})
	return streams, nil
}

func (s *Storage) UpdateStream(ctx context.Context, id string, update StreamUpdate) (models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.data.Streams[id]
	if !ok {
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", id)
	}
	original := stream
	if update.Title != nil {
		stream.Title = strings.TrimSpace(*update.Title)
	}
	if update.RoomName != nil {
		stream.RoomName = *update.RoomName
	}
	if update.PlaybackID != nil {
		stream.PlaybackID = *update.PlaybackID
	}
	if update.EgressID != nil {
		stream.EgressID = *update.EgressID
	}
	stream.UpdatedAt = time.Now().UTC()
	s.data.Streams[id] = stream
	if err := s.persist(); err != nil {
		s.data.Streams[id] = original
		return models.Stream{}, err
	}
	return cloneStream(stream), nil
}

func (s *Storage) TransitionStreamStatus(ctx context.Context, id string, from, to models.StreamStatus) (models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.data.Streams[id]
	if !ok {
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", id)
	}
	if stream.Status != from {
		return models.Stream{}, &StatusConflictError{StreamID: id, Expected: from, Current: stream.Status}
	}

	original := stream
	now := time.Now().UTC()
	stream.Status = to
	stream.UpdatedAt = now
	switch to {
	case models.StreamLive:
		started := now
		stream.StartedAt = &started
	case models.StreamEnded:
		ended := now
		stream.EndedAt = &ended
		if stream.StartedAt != nil {
			stream.DurationSeconds = int(now.Sub(*stream.StartedAt) / time.Second)
		}
	}
	s.data.Streams[id] = stream
	if err := s.persist(); err != nil {
		s.data.Streams[id] = original
		return models.Stream{}, err
	}
	return cloneStream(stream), nil
}

func (s *Storage) activeHostsLocked(streamID string) []models.StreamHost {
	hosts := make([]models.StreamHost, 0, 4)
	for _, host := range s.data.Hosts {
		if host.StreamID == streamID && host.Active() {
			hosts = append(hosts, host)
		}
	}
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].JoinedAt.Before(hosts[j].JoinedAt)
	})
	return hosts
}

func (s *Storage) ActiveHosts(ctx context.Context, streamID string) ([]models.StreamHost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Streams[streamID]; !ok {
		return nil, apperr.New(apperr.CodeNotFound, "stream %s not found", streamID)
	}
	hosts := s.activeHostsLocked(streamID)
	cloned := make([]models.StreamHost, 0, len(hosts))
	for _, host := range hosts {
		cloned = append(cloned, cloneHost(host))
	}
	return cloned, nil
}

func (s *Storage) GetActiveHost(ctx context.Context, streamID, userID string) (models.StreamHost, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, host := range s.data.Hosts {
		if host.StreamID == streamID && host.UserID == userID && host.Active() {
			return cloneHost(host), true, nil
		}
	}
	return models.StreamHost{}, false, nil
}

func (s *Storage) AddHost(ctx context.Context, params AddHostParams) (models.StreamHost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.data.Streams[params.StreamID]
	if !ok {
		return models.StreamHost{}, apperr.New(apperr.CodeNotFound, "stream %s not found", params.StreamID)
	}
	for _, host := range s.data.Hosts {
		if host.StreamID == params.StreamID && host.UserID == params.UserID && host.Active() {
			return models.StreamHost{}, apperr.New(apperr.CodeAlreadyHost, "user %s already holds a host slot", params.UserID)
		}
	}
	if active := len(s.activeHostsLocked(params.StreamID)); active >= stream.MaxHosts {
		return models.StreamHost{}, apperr.New(apperr.CodeCapacityExceeded, "stream %s is at its host capacity of %d", params.StreamID, stream.MaxHosts)
	}

	var originalInvite models.HostInvite
	consumedInvite := false
	if params.InviteID != "" {
		invite, ok := s.data.Invites[params.InviteID]
		if !ok || invite.StreamID != params.StreamID {
			return models.StreamHost{}, apperr.New(apperr.CodeInviteInvalid, "invite is not valid for stream %s", params.StreamID)
		}
		if !invite.Usable(time.Now().UTC()) {
			return models.StreamHost{}, apperr.New(apperr.CodeInviteInvalid, "invite is expired, exhausted, or revoked")
		}
		originalInvite = invite
		invite.UsedCount++
		s.data.Invites[params.InviteID] = invite
		consumedInvite = true
	}

	role := params.Role
	if role == "" {
		role = models.RoleHost
	}
	host := models.StreamHost{
		ID:       generateID(),
		StreamID: params.StreamID,
		UserID:   params.UserID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	s.data.Hosts[host.ID] = host
	if err := s.persist(); err != nil {
		delete(s.data.Hosts, host.ID)
		if consumedInvite {
			s.data.Invites[params.InviteID] = originalInvite
		}
		return models.StreamHost{}, err
	}
	return cloneHost(host), nil
}

func (s *Storage) MarkHostLeft(ctx context.Context, streamID, userID string) (models.StreamHost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, host := range s.data.Hosts {
		if host.StreamID != streamID || host.UserID != userID || !host.Active() {
			continue
		}
		original := host
		now := time.Now().UTC()
		host.LeftAt = &now
		s.data.Hosts[id] = host
		if err := s.persist(); err != nil {
			s.data.Hosts[id] = original
			return models.StreamHost{}, err
		}
		return cloneHost(host), nil
	}
	return models.StreamHost{}, apperr.New(apperr.CodeNotAHost, "user %s is not an active host of stream %s", userID, streamID)
}

func (s *Storage) CreateInvite(ctx context.Context, params CreateInviteParams) (models.HostInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Streams[params.StreamID]; !ok {
		return models.HostInvite{}, apperr.New(apperr.CodeNotFound, "stream %s not found", params.StreamID)
	}
	maxUses := params.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	role := params.Role
	if role == "" {
		role = models.RoleHost
	}
	invite := models.HostInvite{
		ID:        generateID(),
		StreamID:  params.StreamID,
		CreatorID: params.CreatorID,
		TokenHash: params.TokenHash,
		Role:      role,
		MaxUses:   maxUses,
		ExpiresAt: params.ExpiresAt,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	s.data.Invites[invite.ID] = invite
	if err := s.persist(); err != nil {
		delete(s.data.Invites, invite.ID)
		return models.HostInvite{}, err
	}
	return cloneInvite(invite), nil
}

func (s *Storage) GetInvite(ctx context.Context, id string) (models.HostInvite, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invite, ok := s.data.Invites[id]
	if !ok {
		return models.HostInvite{}, false, nil
	}
	return cloneInvite(invite), true, nil
}

func (s *Storage) FindInviteByTokenHash(ctx context.Context, streamID, tokenHash string) (models.HostInvite, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, invite := range s.data.Invites {
		if invite.StreamID == streamID && invite.TokenHash == tokenHash {
			return cloneInvite(invite), true, nil
		}
	}
	return models.HostInvite{}, false, nil
}

func (s *Storage) ListInvites(ctx context.Context, streamID string) ([]models.HostInvite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Streams[streamID]; !ok {
		return nil, apperr.New(apperr.CodeNotFound, "stream %s not found", streamID)
	}
	invites := make([]models.HostInvite, 0)
	for _, invite := range s.data.Invites {
		if invite.StreamID == streamID {
			invites = append(invites, cloneInvite(invite))
		}
	}
	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.After(invites[j].CreatedAt)
	})
	return invites, nil
}

func (s *Storage) DeactivateInvite(ctx context.Context, id string) (models.HostInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.data.Invites[id]
	if !ok {
		return models.HostInvite{}, apperr.New(apperr.CodeNotFound, "invite %s not found", id)
	}
	original := invite
	invite.IsActive = false
	s.data.Invites[id] = invite
	if err := s.persist(); err != nil {
		s.data.Invites[id] = original
		return models.HostInvite{}, err
	}
	return cloneInvite(invite), nil
}

func (s *Storage) MergeRecordingState(ctx context.Context, streamID string, update RecordingUpdate) (models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.data.Streams[streamID]
	if !ok {
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", streamID)
	}
	// Terminal states never regress. A different status arriving after
	// ready/failed is a stale observation from the other notification path.
	if stream.RecordingStatus.Terminal() && update.Status != stream.RecordingStatus {
		return cloneStream(stream), nil
	}

	original := stream
	stream.RecordingStatus = update.Status
	if update.RecordingID != nil {
		stream.RecordingID = *update.RecordingID
	}
	if update.RecordingURL != nil {
		stream.RecordingURL = *update.RecordingURL
	}
	if update.AssetID != nil {
		stream.AssetID = *update.AssetID
	}
	if update.PlaybackID != nil {
		stream.PlaybackID = *update.PlaybackID
	}
	stream.UpdatedAt = time.Now().UTC()
	s.data.Streams[streamID] = stream
	if err := s.persist(); err != nil {
		s.data.Streams[streamID] = original
		return models.Stream{}, err
	}
	return cloneStream(stream), nil
}

func (s *Storage) FindStreamByRecordingRef(ctx context.Context, ref string) (models.Stream, bool, error) {
	if strings.TrimSpace(ref) == "" {
		return models.Stream{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stream := range s.data.Streams {
		if stream.RecordingID == ref || stream.AssetID == ref {
			return cloneStream(stream), true, nil
		}
	}
	return models.Stream{}, false, nil
}
