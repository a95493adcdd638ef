package storage

import (
	"context"
	"path/filepath"
	"testing"

	"bspnode/internal/models"
)

func TestSnapshotRoundTripBetweenJSONStores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	source, err := NewStorage(filepath.Join(dir, "source.json"))
	if err != nil {
		t.Fatalf("source store: %v", err)
	}
	stream, err := source.CreateStream(ctx, CreateStreamParams{
		OwnerID:    "owner",
		Title:      "migration source",
		StreamType: models.StreamTypeRoom,
	})
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	invite, err := source.CreateInvite(ctx, CreateInviteParams{
		StreamID:  stream.ID,
		CreatorID: "owner",
		TokenHash: "abc123",
		Role:      models.RoleHost,
		MaxUses:   3,
	})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	snapshot, err := source.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	counts := snapshot.Counts()
	if counts.Streams != 1 || counts.Hosts != 1 || counts.Invites != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	target, err := NewStorage(filepath.Join(dir, "target.json"))
	if err != nil {
		t.Fatalf("target store: %v", err)
	}
	if err := ImportSnapshot(ctx, target, snapshot); err != nil {
		t.Fatalf("import: %v", err)
	}

	migrated, err := target.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("get migrated stream: %v", err)
	}
	if migrated.StreamKey != stream.StreamKey {
		t.Fatalf("stream key not preserved: %q vs %q", migrated.StreamKey, stream.StreamKey)
	}
	got, ok, err := target.FindInviteByTokenHash(ctx, stream.ID, "abc123")
	if err != nil || !ok {
		t.Fatalf("invite not found after import: ok=%v err=%v", ok, err)
	}
	if got.ID != invite.ID || got.MaxUses != 3 {
		t.Fatalf("invite not preserved: %+v", got)
	}
	hosts, err := target.ActiveHosts(ctx, stream.ID)
	if err != nil || len(hosts) != 1 {
		t.Fatalf("owner host not preserved: %v %v", hosts, err)
	}
}

func TestLoadSnapshotFromJSONReadsLiveStoreFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := store.CreateStream(ctx, CreateStreamParams{OwnerID: "owner", Title: "x"}); err != nil {
		t.Fatalf("create stream: %v", err)
	}

	snapshot, err := LoadSnapshotFromJSON(path)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got := snapshot.Counts(); got.Streams != 1 || got.Hosts != 1 {
		t.Fatalf("unexpected counts: %+v", got)
	}
}
