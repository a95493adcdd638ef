// Package rooms manages multi-host media rooms and participant access
// tokens against an external SFU control plane.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bspnode/internal/apperr"
)

// Room is the control-plane view of a live media room.
type Room struct {
	Name            string `json:"name"`
	SID             string `json:"sid,omitempty"`
	NumParticipants int    `json:"num_participants,omitempty"`
	EmptyTimeout    int    `json:"empty_timeout,omitempty"`
	MaxParticipants int    `json:"max_participants,omitempty"`
}

// Service creates and inspects rooms and issues participant join tokens.
type Service interface {
	CreateRoom(ctx context.Context, name string, maxParticipants int) (Room, error)
	ListRooms(ctx context.Context, names []string) ([]Room, error)
	IssueToken(ctx context.Context, room, identity string, grants TokenGrants) (string, error)
}

// NoopService satisfies Service without an upstream SFU. Tokens are still
// minted locally so single-node deployments can run room streams.
type NoopService struct {
	keys   Keypair
	logger *slog.Logger
}

func NewNoopService(keys Keypair, logger *slog.Logger) *NoopService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopService{keys: keys, logger: logger}
}

func (s *NoopService) CreateRoom(ctx context.Context, name string, maxParticipants int) (Room, error) {
	s.logger.Debug("room service disabled, acknowledging room", "room", name)
	return Room{Name: name, MaxParticipants: maxParticipants}, nil
}

func (s *NoopService) ListRooms(ctx context.Context, names []string) ([]Room, error) {
	return nil, nil
}

func (s *NoopService) IssueToken(ctx context.Context, room, identity string, grants TokenGrants) (string, error) {
	return s.keys.Mint(room, identity, grants, time.Now())
}

type httpService struct {
	baseURL       string
	keys          Keypair
	client        *http.Client
	logger        *slog.Logger
	maxAttempts   int
	retryInterval time.Duration
}

// Config carries the SFU control-plane endpoint and signing credentials.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Client        *http.Client
	Logger        *slog.Logger
	MaxAttempts   int
	RetryInterval time.Duration
}

func NewHTTPService(cfg Config) (Service, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("rooms base url required")
	}
	keys, err := NewKeypair(cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpService{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		keys:          keys,
		client:        client,
		logger:        logger,
		maxAttempts:   attempts,
		retryInterval: cfg.RetryInterval,
	}, nil
}

type createRoomRequest struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants,omitempty"`
	EmptyTimeout    int    `json:"empty_timeout,omitempty"`
}

type listRoomsRequest struct {
	Names []string `json:"names,omitempty"`
}

type listRoomsResponse struct {
	Rooms []Room `json:"rooms"`
}

func (s *httpService) CreateRoom(ctx context.Context, name string, maxParticipants int) (Room, error) {
	payload := createRoomRequest{Name: name, MaxParticipants: maxParticipants}
	var room Room
	err := s.post(ctx, "/twirp/livekit.RoomService/CreateRoom", payload, &room)
	if err != nil {
		return Room{}, apperr.External(err, "create room %s", name)
	}
	return room, nil
}

func (s *httpService) ListRooms(ctx context.Context, names []string) ([]Room, error) {
	payload := listRoomsRequest{Names: names}
	var response listRoomsResponse
	if err := s.post(ctx, "/twirp/livekit.RoomService/ListRooms", payload, &response); err != nil {
		return nil, apperr.External(err, "list rooms")
	}
	return response.Rooms, nil
}

func (s *httpService) IssueToken(ctx context.Context, room, identity string, grants TokenGrants) (string, error) {
	return s.keys.Mint(room, identity, grants, time.Now())
}

func (s *httpService) post(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	// Control-plane calls authenticate with a short-lived admin token.
	token, err := s.keys.MintAdmin(time.Now())
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			func() {
				defer resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					if dest == nil {
						lastErr = nil
						return
					}
					if decodeErr := json.NewDecoder(resp.Body).Decode(dest); decodeErr != nil {
						lastErr = decodeErr
					} else {
						lastErr = nil
					}
					return
				}
				data, _ := io.ReadAll(resp.Body)
				lastErr = fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
			}()
		}
		if lastErr == nil {
			return nil
		}
		if attempt < s.maxAttempts {
			s.logger.Warn("room control-plane request failed", "path", path, "attempt", attempt, "error", lastErr)
			if s.retryInterval > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.retryInterval):
				}
			}
		}
	}
	return lastErr
}

var _ Service = (*httpService)(nil)
var _ Service = (*NoopService)(nil)
