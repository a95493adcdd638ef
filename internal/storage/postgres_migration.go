package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS streams (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		stream_type TEXT NOT NULL,
		max_hosts INTEGER NOT NULL,
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		recording_status TEXT NOT NULL DEFAULT 'none',
		recording_id TEXT NOT NULL DEFAULT '',
		recording_url TEXT NOT NULL DEFAULT '',
		room_name TEXT NOT NULL DEFAULT '',
		stream_key TEXT NOT NULL DEFAULT '',
		playback_id TEXT NOT NULL DEFAULT '',
		asset_id TEXT NOT NULL DEFAULT '',
		egress_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS streams_owner_idx ON streams (owner_id)`,
	`CREATE INDEX IF NOT EXISTS streams_recording_idx ON streams (recording_id) WHERE recording_id <> ''`,
	`CREATE INDEX IF NOT EXISTS streams_asset_idx ON streams (asset_id) WHERE asset_id <> ''`,
	`CREATE TABLE IF NOT EXISTS stream_hosts (
		id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL REFERENCES streams (id),
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		left_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS stream_hosts_active_unique
		ON stream_hosts (stream_id, user_id) WHERE left_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS stream_hosts_stream_idx ON stream_hosts (stream_id)`,
	`CREATE TABLE IF NOT EXISTS host_invites (
		id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL REFERENCES streams (id),
		creator_id TEXT NOT NULL,
		token_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		max_uses INTEGER NOT NULL,
		used_count INTEGER NOT NULL DEFAULT 0,
		expires_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS host_invites_token_unique ON host_invites (token_hash)`,
	`CREATE INDEX IF NOT EXISTS host_invites_stream_idx ON host_invites (stream_id)`,
}

// MigratePostgres applies the embedded schema. Statements are idempotent so
// the migration can run on every boot.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range postgresMigrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
