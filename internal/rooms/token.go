package rooms

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenGrants selects the room capabilities encoded into a join token.
type TokenGrants struct {
	RoomJoin     bool
	RoomAdmin    bool
	CanPublish   bool
	CanSubscribe bool
	TTL          time.Duration
}

// Keypair signs participant tokens with the SFU API key and secret.
type Keypair struct {
	apiKey    string
	apiSecret []byte
}

func NewKeypair(apiKey, apiSecret string) (Keypair, error) {
	apiKey = strings.TrimSpace(apiKey)
	apiSecret = strings.TrimSpace(apiSecret)
	if apiKey == "" || apiSecret == "" {
		return Keypair{}, fmt.Errorf("room api key and secret required")
	}
	return Keypair{apiKey: apiKey, apiSecret: []byte(apiSecret)}, nil
}

type videoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	RoomAdmin    bool   `json:"roomAdmin,omitempty"`
	RoomCreate   bool   `json:"roomCreate,omitempty"`
	RoomList     bool   `json:"roomList,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Video videoGrant `json:"video"`
}

const defaultTokenTTL = 6 * time.Hour

// Mint issues a signed join token for the given identity and room.
func (k Keypair) Mint(room, identity string, grants TokenGrants, now time.Time) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", fmt.Errorf("token identity required")
	}
	ttl := grants.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	publish := grants.CanPublish
	subscribe := grants.CanSubscribe
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Video: videoGrant{
			Room:         room,
			RoomJoin:     grants.RoomJoin,
			RoomAdmin:    grants.RoomAdmin,
			CanPublish:   &publish,
			CanSubscribe: &subscribe,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(k.apiSecret)
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}
	return signed, nil
}

// MintAdmin issues a short-lived token for control-plane requests.
func (k Keypair) MintAdmin(now time.Time) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.apiKey,
			Subject:   k.apiKey,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Video: videoGrant{RoomCreate: true, RoomList: true, RoomAdmin: true},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(k.apiSecret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}
