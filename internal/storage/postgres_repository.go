package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bspnode/internal/apperr"
	"bspnode/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// embedded schema migration.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const streamColumns = `id, owner_id, title, status, stream_type, max_hosts,
	started_at, ended_at, duration_seconds, recording_status, recording_id,
	recording_url, room_name, stream_key, playback_id, asset_id, egress_id,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(row rowScanner) (models.Stream, error) {
	var stream models.Stream
	var status, streamType, recordingStatus string
	err := row.Scan(
		&stream.ID, &stream.OwnerID, &stream.Title, &status, &streamType,
		&stream.MaxHosts, &stream.StartedAt, &stream.EndedAt,
		&stream.DurationSeconds, &recordingStatus, &stream.RecordingID,
		&stream.RecordingURL, &stream.RoomName, &stream.StreamKey,
		&stream.PlaybackID, &stream.AssetID, &stream.EgressID,
		&stream.CreatedAt, &stream.UpdatedAt,
	)
	if err != nil {
		return models.Stream{}, err
	}
	stream.Status = models.StreamStatus(status)
	stream.StreamType = models.StreamType(streamType)
	stream.RecordingStatus = models.RecordingStatus(recordingStatus)
	return stream, nil
}

const hostColumns = `id, stream_id, user_id, role, joined_at, left_at`

func scanHost(row rowScanner) (models.StreamHost, error) {
	var host models.StreamHost
	var role string
	err := row.Scan(&host.ID, &host.StreamID, &host.UserID, &role, &host.JoinedAt, &host.LeftAt)
	if err != nil {
		return models.StreamHost{}, err
	}
	host.Role = models.HostRole(role)
	return host, nil
}

const inviteColumns = `id, stream_id, creator_id, token_hash, role, max_uses,
	used_count, expires_at, is_active, created_at`

func scanInvite(row rowScanner) (models.HostInvite, error) {
	var invite models.HostInvite
	var role string
	err := row.Scan(
		&invite.ID, &invite.StreamID, &invite.CreatorID, &invite.TokenHash,
		&role, &invite.MaxUses, &invite.UsedCount, &invite.ExpiresAt,
		&invite.IsActive, &invite.CreatedAt,
	)
	if err != nil {
		return models.HostInvite{}, err
	}
	invite.Role = models.HostRole(role)
	return invite, nil
}

func (r *postgresRepository) CreateStream(ctx context.Context, params CreateStreamParams) (models.Stream, error) {
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
	id := generateID()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Stream{}, fmt.Errorf("begin create stream: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO streams (
			id, owner_id, title, status, stream_type, max_hosts,
			recording_status, room_name, stream_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		id, owner, strings.TrimSpace(params.Title), string(models.StreamCreated),
		string(streamType), maxHosts, string(models.RecordingNone),
		"stream-"+id, streamKey, now,
	)
	if err != nil {
		return models.Stream{}, fmt.Errorf("insert stream: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO stream_hosts (id, stream_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)`,
		generateID(), id, owner, string(models.RoleOwner), now,
	)
	if err != nil {
		return models.Stream{}, fmt.Errorf("insert owner host: %w", err)
	}
	row := tx.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	stream, err := scanStream(row)
	if err != nil {
		return models.Stream{}, fmt.Errorf("read created stream: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Stream{}, fmt.Errorf("commit create stream: %w", err)
	}
	return stream, nil
}

func (r *postgresRepository) GetStream(ctx context.Context, id string) (models.Stream, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	stream, err := scanStream(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", id)
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("get stream: %w", err)
	}
	return stream, nil
}

func (r *postgresRepository) ListStreams(ctx context.Context, ownerID string) ([]models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams ORDER BY created_at DESC`
	args := []any{}
	if ownerID != "" {
		query = `SELECT ` + streamColumns + ` FROM streams WHERE owner_id = $1 ORDER BY created_at DESC`
		args = append(args, ownerID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()
	streams := make([]models.Stream, 0)
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

func (r *postgresRepository) UpdateStream(ctx context.Context, id string, update StreamUpdate) (models.Stream, error) {
	row := r.pool.QueryRow(ctx, `UPDATE streams SET
			title = COALESCE($2, title),
			room_name = COALESCE($3, room_name),
			playback_id = COALESCE($4, playback_id),
			egress_id = COALESCE($5, egress_id),
			updated_at = now()
		WHERE id = $1 RETURNING `+streamColumns,
		id, update.Title, update.RoomName, update.PlaybackID, update.EgressID,
	)
	stream, err := scanStream(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", id)
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("update stream: %w", err)
	}
	return stream, nil
}

func (r *postgresRepository) TransitionStreamStatus(ctx context.Context, id string, from, to models.StreamStatus) (models.Stream, error) {
	row := r.pool.QueryRow(ctx, `UPDATE streams SET
			status = $3,
			started_at = CASE WHEN $3 = 'live' THEN now() ELSE started_at END,
			ended_at = CASE WHEN $3 = 'ended' THEN now() ELSE ended_at END,
			duration_seconds = CASE
				WHEN $3 = 'ended' AND started_at IS NOT NULL
				THEN EXTRACT(EPOCH FROM (now() - started_at))::int
				ELSE duration_seconds
			END,
			updated_at = now()
		WHERE id = $1 AND status = $2 RETURNING `+streamColumns,
		id, string(from), string(to),
	)
	stream, err := scanStream(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var current string
		lookupErr := r.pool.QueryRow(ctx, `SELECT status FROM streams WHERE id = $1`, id).Scan(&current)
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", id)
		}
		if lookupErr != nil {
			return models.Stream{}, fmt.Errorf("read stream status: %w", lookupErr)
		}
		return models.Stream{}, &StatusConflictError{StreamID: id, Expected: from, Current: models.StreamStatus(current)}
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("transition stream: %w", err)
	}
	return stream, nil
}

func (r *postgresRepository) ActiveHosts(ctx context.Context, streamID string) ([]models.StreamHost, error) {
	if _, err := r.GetStream(ctx, streamID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+hostColumns+` FROM stream_hosts
		WHERE stream_id = $1 AND left_at IS NULL ORDER BY joined_at`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list active hosts: %w", err)
	}
	defer rows.Close()
	hosts := make([]models.StreamHost, 0)
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, host)
	}
	return hosts, rows.Err()
}

func (r *postgresRepository) GetActiveHost(ctx context.Context, streamID, userID string) (models.StreamHost, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+hostColumns+` FROM stream_hosts
		WHERE stream_id = $1 AND user_id = $2 AND left_at IS NULL`, streamID, userID)
	host, err := scanHost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamHost{}, false, nil
	}
	if err != nil {
		return models.StreamHost{}, false, fmt.Errorf("get active host: %w", err)
	}
	return host, true, nil
}

func (r *postgresRepository) AddHost(ctx context.Context, params AddHostParams) (models.StreamHost, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.StreamHost{}, fmt.Errorf("begin add host: %w", err)
	}
	defer tx.Rollback(ctx)

	// Locking the stream row serializes admissions per stream, closing the
	// read-then-write window the JSON driver documents.
	var maxHosts int
	err = tx.QueryRow(ctx, `SELECT max_hosts FROM streams WHERE id = $1 FOR UPDATE`, params.StreamID).Scan(&maxHosts)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamHost{}, apperr.New(apperr.CodeNotFound, "stream %s not found", params.StreamID)
	}
	if err != nil {
		return models.StreamHost{}, fmt.Errorf("lock stream: %w", err)
	}

	var alreadyActive bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stream_hosts
		WHERE stream_id = $1 AND user_id = $2 AND left_at IS NULL)`,
		params.StreamID, params.UserID).Scan(&alreadyActive)
	if err != nil {
		return models.StreamHost{}, fmt.Errorf("check existing host: %w", err)
	}
	if alreadyActive {
		return models.StreamHost{}, apperr.New(apperr.CodeAlreadyHost, "user %s already holds a host slot", params.UserID)
	}

	var active int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM stream_hosts
		WHERE stream_id = $1 AND left_at IS NULL`, params.StreamID).Scan(&active)
	if err != nil {
		return models.StreamHost{}, fmt.Errorf("count active hosts: %w", err)
	}
	if active >= maxHosts {
		return models.StreamHost{}, apperr.New(apperr.CodeCapacityExceeded, "stream %s is at its host capacity of %d", params.StreamID, maxHosts)
	}

	if params.InviteID != "" {
		tag, err := tx.Exec(ctx, `UPDATE host_invites SET used_count = used_count + 1
			WHERE id = $1 AND stream_id = $2 AND is_active
			AND used_count < max_uses
			AND (expires_at IS NULL OR expires_at > now())`,
			params.InviteID, params.StreamID)
		if err != nil {
			return models.StreamHost{}, fmt.Errorf("consume invite: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.StreamHost{}, apperr.New(apperr.CodeInviteInvalid, "invite is expired, exhausted, or revoked")
		}
	}

	role := params.Role
	if role == "" {
		role = models.RoleHost
	}
	row := tx.QueryRow(ctx, `INSERT INTO stream_hosts (id, stream_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, now()) RETURNING `+hostColumns,
		generateID(), params.StreamID, params.UserID, string(role))
	host, err := scanHost(row)
	if err != nil {
		return models.StreamHost{}, fmt.Errorf("insert host: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.StreamHost{}, fmt.Errorf("commit add host: %w", err)
	}
	return host, nil
}

func (r *postgresRepository) MarkHostLeft(ctx context.Context, streamID, userID string) (models.StreamHost, error) {
	row := r.pool.QueryRow(ctx, `UPDATE stream_hosts SET left_at = now()
		WHERE stream_id = $1 AND user_id = $2 AND left_at IS NULL
		RETURNING `+hostColumns, streamID, userID)
	host, err := scanHost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamHost{}, apperr.New(apperr.CodeNotAHost, "user %s is not an active host of stream %s", userID, streamID)
	}
	if err != nil {
		return models.StreamHost{}, fmt.Errorf("mark host left: %w", err)
	}
	return host, nil
}

func (r *postgresRepository) CreateInvite(ctx context.Context, params CreateInviteParams) (models.HostInvite, error) {
	maxUses := params.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	role := params.Role
	if role == "" {
		role = models.RoleHost
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO host_invites (
			id, stream_id, creator_id, token_hash, role, max_uses, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING `+inviteColumns,
		generateID(), params.StreamID, params.CreatorID, params.TokenHash,
		string(role), maxUses, params.ExpiresAt)
	invite, err := scanInvite(row)
	if err != nil {
		return models.HostInvite{}, fmt.Errorf("insert invite: %w", err)
	}
	return invite, nil
}

func (r *postgresRepository) GetInvite(ctx context.Context, id string) (models.HostInvite, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM host_invites WHERE id = $1`, id)
	invite, err := scanInvite(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HostInvite{}, false, nil
	}
	if err != nil {
		return models.HostInvite{}, false, fmt.Errorf("get invite: %w", err)
	}
	return invite, true, nil
}

func (r *postgresRepository) FindInviteByTokenHash(ctx context.Context, streamID, tokenHash string) (models.HostInvite, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM host_invites
		WHERE stream_id = $1 AND token_hash = $2`, streamID, tokenHash)
	invite, err := scanInvite(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HostInvite{}, false, nil
	}
	if err != nil {
		return models.HostInvite{}, false, fmt.Errorf("find invite: %w", err)
	}
	return invite, true, nil
}

func (r *postgresRepository) ListInvites(ctx context.Context, streamID string) ([]models.HostInvite, error) {
	if _, err := r.GetStream(ctx, streamID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+inviteColumns+` FROM host_invites
		WHERE stream_id = $1 ORDER BY created_at DESC`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()
	invites := make([]models.HostInvite, 0)
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

func (r *postgresRepository) DeactivateInvite(ctx context.Context, id string) (models.HostInvite, error) {
	row := r.pool.QueryRow(ctx, `UPDATE host_invites SET is_active = FALSE
		WHERE id = $1 RETURNING `+inviteColumns, id)
	invite, err := scanInvite(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HostInvite{}, apperr.New(apperr.CodeNotFound, "invite %s not found", id)
	}
	if err != nil {
		return models.HostInvite{}, fmt.Errorf("deactivate invite: %w", err)
	}
	return invite, nil
}

func (r *postgresRepository) MergeRecordingState(ctx context.Context, streamID string, update RecordingUpdate) (models.Stream, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Stream{}, fmt.Errorf("begin recording merge: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1 FOR UPDATE`, streamID)
	stream, err := scanStream(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, apperr.New(apperr.CodeNotFound, "stream %s not found", streamID)
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("lock stream for merge: %w", err)
	}
	if stream.RecordingStatus.Terminal() && update.Status != stream.RecordingStatus {
		if err := tx.Commit(ctx); err != nil {
			return models.Stream{}, fmt.Errorf("commit recording merge: %w", err)
		}
		return stream, nil
	}

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
	row = tx.QueryRow(ctx, `UPDATE streams SET
			recording_status = $2, recording_id = $3, recording_url = $4,
			asset_id = $5, playback_id = $6, updated_at = now()
		WHERE id = $1 RETURNING `+streamColumns,
		streamID, string(stream.RecordingStatus), stream.RecordingID,
		stream.RecordingURL, stream.AssetID, stream.PlaybackID)
	merged, err := scanStream(row)
	if err != nil {
		return models.Stream{}, fmt.Errorf("apply recording merge: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Stream{}, fmt.Errorf("commit recording merge: %w", err)
	}
	return merged, nil
}

func (r *postgresRepository) FindStreamByRecordingRef(ctx context.Context, ref string) (models.Stream, bool, error) {
	if strings.TrimSpace(ref) == "" {
		return models.Stream{}, false, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams
		WHERE recording_id = $1 OR asset_id = $1 LIMIT 1`, ref)
	stream, err := scanStream(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, false, nil
	}
	if err != nil {
		return models.Stream{}, false, fmt.Errorf("find stream by recording ref: %w", err)
	}
	return stream, true, nil
}

var _ Repository = (*postgresRepository)(nil)
