package rooms

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestMintEncodesGrants(t *testing.T) {
	keys, err := NewKeypair("devkey", "devsecret-devsecret-devsecret-32")
	if err != nil {
		t.Fatalf("NewKeypair returned error: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signed, err := keys.Mint("stream-abc", "user-1", TokenGrants{
		RoomJoin:     true,
		CanPublish:   true,
		CanSubscribe: true,
		TTL:          time.Hour,
	}, now)
	if err != nil {
		t.Fatalf("Mint returned error: %v", err)
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(signed, &claims, func(token *jwt.Token) (any, error) {
		return []byte("devsecret-devsecret-devsecret-32"), nil
	}, jwt.WithTimeFunc(func() time.Time { return now.Add(time.Minute) }))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("expected valid token")
	}
	if claims.Issuer != "devkey" || claims.Subject != "user-1" {
		t.Fatalf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
	if claims.Video.Room != "stream-abc" || !claims.Video.RoomJoin {
		t.Fatalf("unexpected video grant: %+v", claims.Video)
	}
	if claims.Video.CanPublish == nil || !*claims.Video.CanPublish {
		t.Fatal("expected publish grant")
	}
	if got := claims.ExpiresAt.Time; !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", got)
	}
}

func TestMintRejectsEmptyIdentity(t *testing.T) {
	keys, err := NewKeypair("devkey", "devsecret")
	if err != nil {
		t.Fatalf("NewKeypair returned error: %v", err)
	}
	if _, err := keys.Mint("room", "  ", TokenGrants{}, time.Now()); err == nil {
		t.Fatal("expected error for empty identity")
	}
}

func TestNewKeypairValidation(t *testing.T) {
	if _, err := NewKeypair("", "secret"); err == nil {
		t.Fatal("expected error for missing key")
	}
	if _, err := NewKeypair("key", " "); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
