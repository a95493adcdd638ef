package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"bspnode/internal/apperr"
	"bspnode/internal/models"
	"bspnode/internal/rooms"
	"bspnode/internal/storage"
)

// Membership reports the outcome of a departure, including whether the
// owner-departure rule ended the session.
type Membership struct {
	Host        models.StreamHost
	StreamEnded bool
	EndedStream models.Stream
}

// Join seats a user as an active host. With a token the matching invite is
// validated and consumed; without one only the owner may join, covering
// the owner reconnecting to their own stream.
func (o *Orchestrator) Join(ctx context.Context, streamID, userID, token string) (models.StreamHost, error) {
	stream, err := o.store.GetStream(ctx, streamID)
	if err != nil {
		return models.StreamHost{}, err
	}
	if stream.Status == models.StreamEnded {
		return models.StreamHost{}, apperr.New(apperr.CodeNotFound, "stream %s has ended", streamID)
	}

	params := storage.AddHostParams{StreamID: streamID, UserID: userID, Role: models.RoleHost}
	if token = strings.TrimSpace(token); token != "" {
		invite, ok, err := o.store.FindInviteByTokenHash(ctx, streamID, hashToken(token))
		if err != nil {
			return models.StreamHost{}, err
		}
		if !ok || !invite.Usable(time.Now()) {
			return models.StreamHost{}, apperr.New(apperr.CodeInviteInvalid, "invite is expired, exhausted, or revoked")
		}
		params.InviteID = invite.ID
		params.Role = invite.Role
	} else if userID != stream.OwnerID {
		return models.StreamHost{}, apperr.New(apperr.CodeUnauthorized, "joining requires an invite token")
	} else {
		params.Role = models.RoleOwner
	}

	host, err := o.store.AddHost(ctx, params)
	if err != nil {
		return models.StreamHost{}, err
	}
	o.logger.Info("host joined", "stream_id", streamID, "user_id", userID, "role", string(host.Role))
	return host, nil
}

// Leave stamps the departure and applies the owner-departure rule: a live
// stream whose owner leaves with no other active hosts is ended.
func (o *Orchestrator) Leave(ctx context.Context, streamID, userID string) (Membership, error) {
	host, err := o.store.MarkHostLeft(ctx, streamID, userID)
	if err != nil {
		return Membership{}, err
	}
	result := Membership{Host: host}

	stream, err := o.store.GetStream(ctx, streamID)
	if err != nil {
		return result, err
	}
	if host.Role != models.RoleOwner || stream.Status != models.StreamLive {
		return result, nil
	}
	remaining, err := o.store.ActiveHosts(ctx, streamID)
	if err != nil {
		return result, err
	}
	if len(remaining) > 0 {
		return result, nil
	}

	o.logger.Info("owner departed with no remaining hosts, ending stream", "stream_id", streamID)
	ended, err := o.End(ctx, streamID, stream.OwnerID)
	if err != nil {
		// Someone else may have ended it in the meantime.
		if apperr.IsCode(err, apperr.CodeNotFound) {
			result.StreamEnded = true
			return result, nil
		}
		return result, err
	}
	result.StreamEnded = true
	result.EndedStream = ended
	return result, nil
}

// Hosts lists a stream's active hosts.
func (o *Orchestrator) Hosts(ctx context.Context, streamID string) ([]models.StreamHost, error) {
	return o.store.ActiveHosts(ctx, streamID)
}

// IssueHostToken mints a room participant token for an active host.
func (o *Orchestrator) IssueHostToken(ctx context.Context, streamID, userID string) (string, error) {
	stream, err := o.store.GetStream(ctx, streamID)
	if err != nil {
		return "", err
	}
	if _, active, err := o.store.GetActiveHost(ctx, streamID, userID); err != nil {
		return "", err
	} else if !active {
		return "", apperr.New(apperr.CodeNotAHost, "user %s is not an active host of stream %s", userID, streamID)
	}
	if o.rooms == nil {
		return "", apperr.New(apperr.CodeExternalService, "room service is not configured")
	}
	token, err := o.rooms.IssueToken(ctx, stream.RoomName, userID, rooms.TokenGrants{
		RoomJoin:     true,
		CanPublish:   true,
		CanSubscribe: true,
	})
	if err != nil {
		return "", apperr.External(err, "issue room token")
	}
	return token, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
