package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"bspnode/internal/models"
)

// Snapshot is a point-in-time copy of everything the repository holds,
// used to move data between datastore drivers.
type Snapshot struct {
	Streams []models.Stream
	Hosts   []models.StreamHost
	Invites []models.HostInvite
}

// SnapshotCounts summarizes a snapshot for logging and verification.
type SnapshotCounts struct {
	Streams int
	Hosts   int
	Invites int
}

func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{
		Streams: len(s.Streams),
		Hosts:   len(s.Hosts),
		Invites: len(s.Invites),
	}
}

// LoadSnapshotFromJSON reads the JSON datastore file without taking
// ownership of it, so a live store file can be exported as-is.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}

	snapshot := Snapshot{
		Streams: make([]models.Stream, 0, len(data.Streams)),
		Hosts:   make([]models.StreamHost, 0, len(data.Hosts)),
		Invites: make([]models.HostInvite, 0, len(data.Invites)),
	}
	for _, stream := range data.Streams {
		snapshot.Streams = append(snapshot.Streams, stream)
	}
	for _, host := range data.Hosts {
		snapshot.Hosts = append(snapshot.Hosts, host)
	}
	for _, invite := range data.Invites {
		snapshot.Invites = append(snapshot.Invites, invite)
	}
	return snapshot, nil
}

// Snapshot exports the JSON store's current contents.
func (s *Storage) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := Snapshot{
		Streams: make([]models.Stream, 0, len(s.data.Streams)),
		Hosts:   make([]models.StreamHost, 0, len(s.data.Hosts)),
		Invites: make([]models.HostInvite, 0, len(s.data.Invites)),
	}
	for _, stream := range s.data.Streams {
		snapshot.Streams = append(snapshot.Streams, cloneStream(stream))
	}
	for _, host := range s.data.Hosts {
		snapshot.Hosts = append(snapshot.Hosts, cloneHost(host))
	}
	for _, invite := range s.data.Invites {
		snapshot.Invites = append(snapshot.Invites, cloneInvite(invite))
	}
	return snapshot, nil
}

type snapshotImporter interface {
	importSnapshot(ctx context.Context, snapshot Snapshot) error
}

// ImportSnapshot loads a snapshot into the target repository, preserving
// record IDs. Existing rows with matching IDs are overwritten.
func ImportSnapshot(ctx context.Context, repo Repository, snapshot Snapshot) error {
	importer, ok := repo.(snapshotImporter)
	if !ok {
		return fmt.Errorf("repository %T does not support snapshot import", repo)
	}
	return importer.importSnapshot(ctx, snapshot)
}

func (s *Storage) importSnapshot(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDatasetInitializedLocked()
	for _, stream := range snapshot.Streams {
		s.data.Streams[stream.ID] = cloneStream(stream)
	}
	for _, host := range snapshot.Hosts {
		s.data.Hosts[host.ID] = cloneHost(host)
	}
	for _, invite := range snapshot.Invites {
		s.data.Invites[invite.ID] = cloneInvite(invite)
	}
	return s.persist()
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stream := range snapshot.Streams {
		_, err := tx.Exec(ctx, `
			INSERT INTO streams (`+streamColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (id) DO UPDATE SET
				owner_id = EXCLUDED.owner_id,
				title = EXCLUDED.title,
				status = EXCLUDED.status,
				stream_type = EXCLUDED.stream_type,
				max_hosts = EXCLUDED.max_hosts,
				started_at = EXCLUDED.started_at,
				ended_at = EXCLUDED.ended_at,
				duration_seconds = EXCLUDED.duration_seconds,
				recording_status = EXCLUDED.recording_status,
				recording_id = EXCLUDED.recording_id,
				recording_url = EXCLUDED.recording_url,
				room_name = EXCLUDED.room_name,
				stream_key = EXCLUDED.stream_key,
				playback_id = EXCLUDED.playback_id,
				asset_id = EXCLUDED.asset_id,
				egress_id = EXCLUDED.egress_id,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at`,
			stream.ID, stream.OwnerID, stream.Title, string(stream.Status),
			string(stream.StreamType), stream.MaxHosts, stream.StartedAt,
			stream.EndedAt, stream.DurationSeconds, string(stream.RecordingStatus),
			stream.RecordingID, stream.RecordingURL, stream.RoomName,
			stream.StreamKey, stream.PlaybackID, stream.AssetID, stream.EgressID,
			stream.CreatedAt, stream.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("import stream %s: %w", stream.ID, err)
		}
	}
	for _, host := range snapshot.Hosts {
		_, err := tx.Exec(ctx, `
			INSERT INTO stream_hosts (`+hostColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				role = EXCLUDED.role,
				joined_at = EXCLUDED.joined_at,
				left_at = EXCLUDED.left_at`,
			host.ID, host.StreamID, host.UserID, string(host.Role),
			host.JoinedAt, host.LeftAt,
		)
		if err != nil {
			return fmt.Errorf("import host %s: %w", host.ID, err)
		}
	}
	for _, invite := range snapshot.Invites {
		_, err := tx.Exec(ctx, `
			INSERT INTO host_invites (`+inviteColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				token_hash = EXCLUDED.token_hash,
				role = EXCLUDED.role,
				max_uses = EXCLUDED.max_uses,
				used_count = EXCLUDED.used_count,
				expires_at = EXCLUDED.expires_at,
				is_active = EXCLUDED.is_active`,
			invite.ID, invite.StreamID, invite.CreatorID, invite.TokenHash,
			string(invite.Role), invite.MaxUses, invite.UsedCount,
			invite.ExpiresAt, invite.IsActive, invite.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("import invite %s: %w", invite.ID, err)
		}
	}
	return tx.Commit(ctx)
}
