package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"bspnode/internal/apperr"
	"bspnode/internal/models"
	"bspnode/internal/storage"
)

// InviteParams shapes a new invite request.
type InviteParams struct {
	StreamID       string
	CreatorID      string
	Role           models.HostRole
	MaxUses        int
	ExpiresInHours int
}

// CreatedInvite pairs the stored invite with the raw token. The raw token
// is shown exactly once; only its hash is retained.
type CreatedInvite struct {
	Invite models.HostInvite
	Token  string
}

// CreateInvite mints a join token for a multi-host stream. Owner only.
func (o *Orchestrator) CreateInvite(ctx context.Context, params InviteParams) (CreatedInvite, error) {
	stream, err := o.store.GetStream(ctx, params.StreamID)
	if err != nil {
		return CreatedInvite{}, err
	}
	if stream.OwnerID != params.CreatorID {
		return CreatedInvite{}, apperr.New(apperr.CodeUnauthorized, "only the owner may create invites")
	}
	if !stream.StreamType.MultiHost() {
		return CreatedInvite{}, apperr.New(apperr.CodeUnsupportedStreamType, "%s streams do not support additional hosts", stream.StreamType)
	}

	token, err := generateInviteToken()
	if err != nil {
		return CreatedInvite{}, err
	}
	var expiresAt *time.Time
	if params.ExpiresInHours > 0 {
		at := time.Now().Add(time.Duration(params.ExpiresInHours) * time.Hour)
		expiresAt = &at
	}
	invite, err := o.store.CreateInvite(ctx, storageInviteParams(params, hashToken(token), expiresAt))
	if err != nil {
		return CreatedInvite{}, err
	}
	o.logger.Info("invite created", "stream_id", params.StreamID, "invite_id", invite.ID, "max_uses", invite.MaxUses)
	return CreatedInvite{Invite: invite, Token: token}, nil
}

// RevokeInvite deactivates an invite. The owner or the invite's creator
// may revoke; revocation is terminal.
func (o *Orchestrator) RevokeInvite(ctx context.Context, inviteID, callerID string) (models.HostInvite, error) {
	invite, ok, err := o.store.GetInvite(ctx, inviteID)
	if err != nil {
		return models.HostInvite{}, err
	}
	if !ok {
		return models.HostInvite{}, apperr.New(apperr.CodeNotFound, "invite %s not found", inviteID)
	}
	stream, err := o.store.GetStream(ctx, invite.StreamID)
	if err != nil {
		return models.HostInvite{}, err
	}
	if callerID != stream.OwnerID && callerID != invite.CreatorID {
		return models.HostInvite{}, apperr.New(apperr.CodeUnauthorized, "only the owner or the invite creator may revoke")
	}
	return o.store.DeactivateInvite(ctx, inviteID)
}

// ListInvites returns a stream's invites. Owner only.
func (o *Orchestrator) ListInvites(ctx context.Context, streamID, callerID string) ([]models.HostInvite, error) {
	stream, err := o.store.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if stream.OwnerID != callerID {
		return nil, apperr.New(apperr.CodeUnauthorized, "only the owner may list invites")
	}
	return o.store.ListInvites(ctx, streamID)
}

func storageInviteParams(params InviteParams, tokenHash string, expiresAt *time.Time) storage.CreateInviteParams {
	return storage.CreateInviteParams{
		StreamID:  params.StreamID,
		CreatorID: params.CreatorID,
		TokenHash: tokenHash,
		Role:      params.Role,
		MaxUses:   params.MaxUses,
		ExpiresAt: expiresAt,
	}
}

func generateInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
