package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bspnode/internal/apperr"
	"bspnode/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	return store
}

func mustCreateStream(t *testing.T, store *Storage, params CreateStreamParams) models.Stream {
	t.Helper()
	stream, err := store.CreateStream(context.Background(), params)
	if err != nil {
		t.Fatalf("CreateStream returned error: %v", err)
	}
	return stream
}

func TestCreateStreamSeedsOwnerHost(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{
		OwnerID:    "user-1",
		Title:      "launch day",
		StreamType: models.StreamTypeRoom,
	})

	if stream.Status != models.StreamCreated {
		t.Fatalf("expected status %q, got %q", models.StreamCreated, stream.Status)
	}
	if stream.MaxHosts != models.DefaultMaxHosts {
		t.Fatalf("expected default max hosts %d, got %d", models.DefaultMaxHosts, stream.MaxHosts)
	}
	if stream.StreamKey == "" || stream.RoomName == "" {
		t.Fatalf("expected stream key and room name to be generated, got %+v", stream)
	}

	hosts, err := store.ActiveHosts(context.Background(), stream.ID)
	if err != nil {
		t.Fatalf("ActiveHosts returned error: %v", err)
	}
	if len(hosts) != 1 || hosts[0].UserID != "user-1" || hosts[0].Role != models.RoleOwner {
		t.Fatalf("expected owner host row, got %+v", hosts)
	}
}

func TestCreateStreamBrowserIsSingleHost(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{
		OwnerID:    "user-1",
		StreamType: models.StreamTypeBrowser,
		MaxHosts:   8,
	})
	if stream.MaxHosts != 1 {
		t.Fatalf("browser streams must cap at one host, got %d", stream.MaxHosts)
	}
}

func TestCreateStreamRejectsUnknownType(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.CreateStream(context.Background(), CreateStreamParams{
		OwnerID:    "user-1",
		StreamType: models.StreamType("carrier-pigeon"),
	})
	if err == nil {
		t.Fatal("expected error for unknown stream type")
	}
}

func TestTransitionStreamStatus(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "user-1"})
	ctx := context.Background()

	live, err := store.TransitionStreamStatus(ctx, stream.ID, models.StreamCreated, models.StreamLive)
	if err != nil {
		t.Fatalf("transition to live returned error: %v", err)
	}
	if live.Status != models.StreamLive || live.StartedAt == nil {
		t.Fatalf("expected live stream with start time, got %+v", live)
	}

	ended, err := store.TransitionStreamStatus(ctx, stream.ID, models.StreamLive, models.StreamEnded)
	if err != nil {
		t.Fatalf("transition to ended returned error: %v", err)
	}
	if ended.Status != models.StreamEnded || ended.EndedAt == nil {
		t.Fatalf("expected ended stream with end time, got %+v", ended)
	}
	if ended.DurationSeconds < 0 {
		t.Fatalf("expected non-negative duration, got %d", ended.DurationSeconds)
	}
}

func TestTransitionStreamStatusConflict(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "user-1"})
	ctx := context.Background()

	if _, err := store.TransitionStreamStatus(ctx, stream.ID, models.StreamCreated, models.StreamLive); err != nil {
		t.Fatalf("first transition returned error: %v", err)
	}
	_, err := store.TransitionStreamStatus(ctx, stream.ID, models.StreamCreated, models.StreamLive)
	var conflict *StatusConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StatusConflictError, got %v", err)
	}
	if conflict.Current != models.StreamLive || conflict.Expected != models.StreamCreated {
		t.Fatalf("unexpected conflict detail: %+v", conflict)
	}
}

func TestTransitionStreamStatusMissingStream(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.TransitionStreamStatus(context.Background(), "nope", models.StreamCreated, models.StreamLive)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestAddHostEnforcesCapacity(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{
		OwnerID:    "owner",
		StreamType: models.StreamTypeRoom,
		MaxHosts:   2,
	})
	ctx := context.Background()

	if _, err := store.AddHost(ctx, AddHostParams{StreamID: stream.ID, UserID: "guest-1"}); err != nil {
		t.Fatalf("AddHost returned error: %v", err)
	}
	_, err := store.AddHost(ctx, AddHostParams{StreamID: stream.ID, UserID: "guest-2"})
	if !apperr.IsCode(err, apperr.CodeCapacityExceeded) {
		t.Fatalf("expected CAPACITY_EXCEEDED, got %v", err)
	}
}

func TestAddHostRejectsDuplicate(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "owner", StreamType: models.StreamTypeRoom})
	_, err := store.AddHost(context.Background(), AddHostParams{StreamID: stream.ID, UserID: "owner"})
	if !apperr.IsCode(err, apperr.CodeAlreadyHost) {
		t.Fatalf("expected ALREADY_HOST, got %v", err)
	}
}

func TestAddHostConsumesInviteAtomically(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "owner", StreamType: models.StreamTypeRoom})
	ctx := context.Background()

	invite, err := store.CreateInvite(ctx, CreateInviteParams{
		StreamID:  stream.ID,
		CreatorID: "owner",
		TokenHash: "hash-1",
		MaxUses:   1,
	})
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}

	if _, err := store.AddHost(ctx, AddHostParams{StreamID: stream.ID, UserID: "guest-1", InviteID: invite.ID}); err != nil {
		t.Fatalf("AddHost with invite returned error: %v", err)
	}
	got, ok, err := store.GetInvite(ctx, invite.ID)
	if err != nil || !ok {
		t.Fatalf("GetInvite returned ok=%v err=%v", ok, err)
	}
	if got.UsedCount != 1 {
		t.Fatalf("expected used count 1, got %d", got.UsedCount)
	}

	// The single use is consumed, a second join through the invite must fail
	// and must not seat the host.
	_, err = store.AddHost(ctx, AddHostParams{StreamID: stream.ID, UserID: "guest-2", InviteID: invite.ID})
	if !apperr.IsCode(err, apperr.CodeInviteInvalid) {
		t.Fatalf("expected INVITE_INVALID, got %v", err)
	}
	if _, ok, _ := store.GetActiveHost(ctx, stream.ID, "guest-2"); ok {
		t.Fatal("guest-2 must not hold a host slot after invite rejection")
	}
}

func TestAddHostRejectsExpiredInvite(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "owner", StreamType: models.StreamTypeRoom})
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	invite, err := store.CreateInvite(ctx, CreateInviteParams{
		StreamID:  stream.ID,
		CreatorID: "owner",
		TokenHash: "hash-2",
		MaxUses:   5,
		ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}
	_, err = store.AddHost(ctx, AddHostParams{StreamID: stream.ID, UserID: "guest", InviteID: invite.ID})
	if !apperr.IsCode(err, apperr.CodeInviteInvalid) {
		t.Fatalf("expected INVITE_INVALID, got %v", err)
	}
}

func TestMarkHostLeft(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "owner", StreamType: models.StreamTypeRoom})
	ctx := context.Background()

	if _, err := store.AddHost(ctx, AddHostParams{StreamID: stream.ID, UserID: "guest"}); err != nil {
		t.Fatalf("AddHost returned error: %v", err)
	}
	left, err := store.MarkHostLeft(ctx, stream.ID, "guest")
	if err != nil {
		t.Fatalf("MarkHostLeft returned error: %v", err)
	}
	if left.LeftAt == nil {
		t.Fatal("expected departure timestamp to be set")
	}

	_, err = store.MarkHostLeft(ctx, stream.ID, "guest")
	if !apperr.IsCode(err, apperr.CodeNotAHost) {
		t.Fatalf("expected NOT_A_HOST on repeat departure, got %v", err)
	}

	// A departed host may rejoin and regains a slot.
	if _, err := store.AddHost(ctx, AddHostParams{StreamID: stream.ID, UserID: "guest"}); err != nil {
		t.Fatalf("rejoin after leave returned error: %v", err)
	}
}

func TestMergeRecordingStateTerminalGuard(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "owner"})
	ctx := context.Background()

	playback := "pb-123"
	ready, err := store.MergeRecordingState(ctx, stream.ID, RecordingUpdate{
		Status:     models.RecordingReady,
		PlaybackID: &playback,
	})
	if err != nil {
		t.Fatalf("MergeRecordingState returned error: %v", err)
	}
	if ready.RecordingStatus != models.RecordingReady || ready.PlaybackID != playback {
		t.Fatalf("expected ready recording, got %+v", ready)
	}

	// A stale poll landing after the terminal webhook must not regress state.
	stale, err := store.MergeRecordingState(ctx, stream.ID, RecordingUpdate{Status: models.RecordingProcessing})
	if err != nil {
		t.Fatalf("stale merge returned error: %v", err)
	}
	if stale.RecordingStatus != models.RecordingReady {
		t.Fatalf("terminal state regressed to %q", stale.RecordingStatus)
	}
	if stale.PlaybackID != playback {
		t.Fatalf("terminal merge dropped playback id, got %q", stale.PlaybackID)
	}
}

func TestFindStreamByRecordingRef(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "owner"})
	ctx := context.Background()

	recID := "upload-9"
	assetID := "asset-9"
	if _, err := store.MergeRecordingState(ctx, stream.ID, RecordingUpdate{
		Status:      models.RecordingProcessing,
		RecordingID: &recID,
		AssetID:     &assetID,
	}); err != nil {
		t.Fatalf("MergeRecordingState returned error: %v", err)
	}

	for _, ref := range []string{recID, assetID} {
		found, ok, err := store.FindStreamByRecordingRef(ctx, ref)
		if err != nil || !ok {
			t.Fatalf("FindStreamByRecordingRef(%q) returned ok=%v err=%v", ref, ok, err)
		}
		if found.ID != stream.ID {
			t.Fatalf("expected stream %s for ref %q, got %s", stream.ID, ref, found.ID)
		}
	}

	if _, ok, err := store.FindStreamByRecordingRef(ctx, "unknown"); err != nil || ok {
		t.Fatalf("expected no match for unknown ref, got ok=%v err=%v", ok, err)
	}
}

func TestStoragePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	stream := mustCreateStream(t, store, CreateStreamParams{OwnerID: "owner", Title: "persisted"})

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	got, err := reloaded.GetStream(context.Background(), stream.ID)
	if err != nil {
		t.Fatalf("GetStream after reload returned error: %v", err)
	}
	if got.Title != "persisted" || got.StreamKey != stream.StreamKey {
		t.Fatalf("reloaded stream does not match original: %+v", got)
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	store := newTestStorage(t)
	stream := mustCreateStream(t, store, CreateStreamParams{
		OwnerID:    "owner",
		StreamType: models.StreamTypeRoom,
		MaxHosts:   3,
	})
	ctx := context.Background()

	const joiners = 12
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = store.AddHost(ctx, AddHostParams{
				StreamID: stream.ID,
				UserID:   "guest-" + string(rune('a'+n)),
			})
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		if !apperr.IsCode(err, apperr.CodeCapacityExceeded) {
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	// Owner already occupies one of the three slots.
	if admitted != 2 {
		t.Fatalf("expected exactly 2 admitted joiners, got %d", admitted)
	}
	hosts, err := store.ActiveHosts(ctx, stream.ID)
	if err != nil {
		t.Fatalf("ActiveHosts returned error: %v", err)
	}
	if len(hosts) != 3 {
		t.Fatalf("expected 3 active hosts, got %d", len(hosts))
	}
}
