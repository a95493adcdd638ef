package lifecycle

import (
	"context"
	"testing"

	"bspnode/internal/apperr"
	"bspnode/internal/models"
)

func TestJoinWithInviteToken(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	ctx := context.Background()

	created, err := f.orch.CreateInvite(ctx, InviteParams{
		StreamID:  stream.ID,
		CreatorID: "owner",
		MaxUses:   2,
	})
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}
	if created.Token == "" {
		t.Fatal("expected raw token to be returned")
	}

	host, err := f.orch.Join(ctx, stream.ID, "guest-1", created.Token)
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if host.Role != models.RoleHost {
		t.Fatalf("expected host role, got %q", host.Role)
	}

	invite, ok, err := f.store.GetInvite(ctx, created.Invite.ID)
	if err != nil || !ok {
		t.Fatalf("GetInvite returned ok=%v err=%v", ok, err)
	}
	if invite.UsedCount != 1 {
		t.Fatalf("expected used count 1, got %d", invite.UsedCount)
	}
}

func TestJoinWithBogusToken(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	_, err := f.orch.Join(context.Background(), stream.ID, "guest", "not-a-real-token")
	if !apperr.IsCode(err, apperr.CodeInviteInvalid) {
		t.Fatalf("expected INVITE_INVALID, got %v", err)
	}
}

func TestJoinWithRevokedToken(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	ctx := context.Background()

	created, err := f.orch.CreateInvite(ctx, InviteParams{StreamID: stream.ID, CreatorID: "owner"})
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}
	if _, err := f.orch.RevokeInvite(ctx, created.Invite.ID, "owner"); err != nil {
		t.Fatalf("RevokeInvite returned error: %v", err)
	}
	_, err = f.orch.Join(ctx, stream.ID, "guest", created.Token)
	if !apperr.IsCode(err, apperr.CodeInviteInvalid) {
		t.Fatalf("expected INVITE_INVALID after revocation, got %v", err)
	}
}

func TestTokenlessJoinIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	ctx := context.Background()

	_, err := f.orch.Join(ctx, stream.ID, "guest", "")
	if !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	// The owner can rejoin their own stream after dropping off.
	if _, err := f.orch.Leave(ctx, stream.ID, "owner"); err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}
	host, err := f.orch.Join(ctx, stream.ID, "owner", "")
	if err != nil {
		t.Fatalf("owner rejoin returned error: %v", err)
	}
	if host.Role != models.RoleOwner {
		t.Fatalf("expected owner role, got %q", host.Role)
	}
}

func TestOwnerDepartureEndsLiveStream(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	ctx := context.Background()

	if _, err := f.orch.Start(ctx, stream.ID, "owner"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	result, err := f.orch.Leave(ctx, stream.ID, "owner")
	if err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}
	if !result.StreamEnded {
		t.Fatal("expected owner departure to end the stream")
	}
	got, _ := f.store.GetStream(ctx, stream.ID)
	if got.Status != models.StreamEnded {
		t.Fatalf("expected ended stream, got %q", got.Status)
	}
}

func TestOwnerDepartureWithRemainingHostsKeepsLive(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	ctx := context.Background()

	created, err := f.orch.CreateInvite(ctx, InviteParams{StreamID: stream.ID, CreatorID: "owner"})
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}
	if _, err := f.orch.Join(ctx, stream.ID, "guest", created.Token); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if _, err := f.orch.Start(ctx, stream.ID, "owner"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	result, err := f.orch.Leave(ctx, stream.ID, "owner")
	if err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}
	if result.StreamEnded {
		t.Fatal("stream must stay live while other hosts remain")
	}
	got, _ := f.store.GetStream(ctx, stream.ID)
	if got.Status != models.StreamLive {
		t.Fatalf("expected live stream, got %q", got.Status)
	}
}

func TestLeaveWithoutSeat(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	_, err := f.orch.Leave(context.Background(), stream.ID, "stranger")
	if !apperr.IsCode(err, apperr.CodeNotAHost) {
		t.Fatalf("expected NOT_A_HOST, got %v", err)
	}
}

func TestCreateInviteRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomStream := f.createStream(t, models.StreamTypeRoom)
	_, err := f.orch.CreateInvite(ctx, InviteParams{StreamID: roomStream.ID, CreatorID: "guest"})
	if !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED for non-owner, got %v", err)
	}

	browserStream := f.createStream(t, models.StreamTypeBrowser)
	_, err = f.orch.CreateInvite(ctx, InviteParams{StreamID: browserStream.ID, CreatorID: "owner"})
	if !apperr.IsCode(err, apperr.CodeUnsupportedStreamType) {
		t.Fatalf("expected UNSUPPORTED_STREAM_TYPE, got %v", err)
	}
}

func TestListInvitesIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	ctx := context.Background()

	if _, err := f.orch.CreateInvite(ctx, InviteParams{StreamID: stream.ID, CreatorID: "owner"}); err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}
	invites, err := f.orch.ListInvites(ctx, stream.ID, "owner")
	if err != nil {
		t.Fatalf("ListInvites returned error: %v", err)
	}
	if len(invites) != 1 {
		t.Fatalf("expected 1 invite, got %d", len(invites))
	}
	if _, err := f.orch.ListInvites(ctx, stream.ID, "guest"); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestIssueHostToken(t *testing.T) {
	f := newFixture(t)
	stream := f.createStream(t, models.StreamTypeRoom)
	ctx := context.Background()

	token, err := f.orch.IssueHostToken(ctx, stream.ID, "owner")
	if err != nil {
		t.Fatalf("IssueHostToken returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	_, err = f.orch.IssueHostToken(ctx, stream.ID, "stranger")
	if !apperr.IsCode(err, apperr.CodeNotAHost) {
		t.Fatalf("expected NOT_A_HOST, got %v", err)
	}
}
