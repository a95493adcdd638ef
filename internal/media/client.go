// Package media talks to the external media provider: direct uploads and
// asset lookups for recordings, and room-composite egress control.
package media

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

// Client is the full media provider surface the orchestrator depends on.
type Client interface {
	CreateDirectUpload(ctx context.Context, passthrough string) (DirectUpload, error)
	UploadFile(ctx context.Context, uploadURL string, body io.Reader, size int64) error
	GetUpload(ctx context.Context, uploadID string) (UploadStatus, error)
	GetAsset(ctx context.Context, assetID string) (Asset, error)
	StartEgress(ctx context.Context, req EgressRequest) (EgressState, error)
	StopEgress(ctx context.Context, egressID string) (EgressState, error)
	ListEgress(ctx context.Context, roomName string) ([]EgressState, error)
}

// NoopClient reports the provider as unconfigured on every call. Recording
// and egress features degrade cleanly when the deployment has no provider.
type NoopClient struct{}

var errNotConfigured = apperr.New(apperr.CodeExternalService, "media provider is not configured")

func (NoopClient) CreateDirectUpload(context.Context, string) (DirectUpload, error) {
	return DirectUpload{}, errNotConfigured
}

func (NoopClient) UploadFile(context.Context, string, io.Reader, int64) error {
	return errNotConfigured
}

func (NoopClient) GetUpload(context.Context, string) (UploadStatus, error) {
	return UploadStatus{}, errNotConfigured
}

func (NoopClient) GetAsset(context.Context, string) (Asset, error) {
	return Asset{}, errNotConfigured
}

func (NoopClient) StartEgress(context.Context, EgressRequest) (EgressState, error) {
	return EgressState{}, errNotConfigured
}

func (NoopClient) StopEgress(context.Context, string) (EgressState, error) {
	return EgressState{}, errNotConfigured
}

func (NoopClient) ListEgress(context.Context, string) ([]EgressState, error) {
	return nil, errNotConfigured
}

// Config carries provider credentials and retry policy for the HTTP client.
type Config struct {
	BaseURL       string
	Token         string
	Client        *http.Client
	Logger        *slog.Logger
	MaxAttempts   int
	RetryInterval time.Duration
}

type httpClient struct {
	baseURL       string
	token         string
	client        *http.Client
	logger        *slog.Logger
	maxAttempts   int
	retryInterval time.Duration
}

func NewHTTPClient(cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("media base url required")
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
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		client:        client,
		logger:        logger,
		maxAttempts:   attempts,
		retryInterval: cfg.RetryInterval,
	}, nil
}

type createUploadRequest struct {
	NewAssetSettings assetSettings `json:"new_asset_settings"`
	CORSOrigin       string        `json:"cors_origin,omitempty"`
}

type assetSettings struct {
	PlaybackPolicy []string `json:"playback_policy"`
	Passthrough    string   `json:"passthrough,omitempty"`
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

func (c *httpClient) CreateDirectUpload(ctx context.Context, passthrough string) (DirectUpload, error) {
	payload := createUploadRequest{
		NewAssetSettings: assetSettings{
			PlaybackPolicy: []string{"public"},
			Passthrough:    passthrough,
		},
	}
	var envelope dataEnvelope[DirectUpload]
	if err := c.do(ctx, http.MethodPost, "/video/v1/uploads", payload, &envelope, c.maxAttempts); err != nil {
		return DirectUpload{}, apperr.External(err, "create direct upload")
	}
	return envelope.Data, nil
}

// UploadFile PUTs the recording bytes to a direct-upload URL. The URL is
// pre-authenticated, so no bearer token is attached and no retry is
// attempted: the body reader cannot be rewound.
func (c *httpClient) UploadFile(ctx context.Context, uploadURL string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return err
	}
	if size > 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.External(err, "upload recording file")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return apperr.External(fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data))), "upload recording file")
	}
	return nil
}

func (c *httpClient) GetUpload(ctx context.Context, uploadID string) (UploadStatus, error) {
	var envelope dataEnvelope[UploadStatus]
	if err := c.do(ctx, http.MethodGet, "/video/v1/uploads/"+uploadID, nil, &envelope, c.maxAttempts); err != nil {
		return UploadStatus{}, apperr.External(err, "get upload %s", uploadID)
	}
	return envelope.Data, nil
}

func (c *httpClient) GetAsset(ctx context.Context, assetID string) (Asset, error) {
	var envelope dataEnvelope[Asset]
	if err := c.do(ctx, http.MethodGet, "/video/v1/assets/"+assetID, nil, &envelope, c.maxAttempts); err != nil {
		return Asset{}, apperr.External(err, "get asset %s", assetID)
	}
	return envelope.Data, nil
}

// StartEgress issues exactly one request. Starting a job is not
// idempotent; a failure surfaces to the caller, who owns the decision to
// retry the whole operation.
func (c *httpClient) StartEgress(ctx context.Context, req EgressRequest) (EgressState, error) {
	var state EgressState
	if err := c.do(ctx, http.MethodPost, "/twirp/livekit.Egress/StartRoomCompositeEgress", req, &state, 1); err != nil {
		return EgressState{}, apperr.External(err, "start egress for room %s", req.RoomName)
	}
	return state, nil
}

// StopEgress issues exactly one request; backoff and retry policy for stop
// belongs to the egress controller.
func (c *httpClient) StopEgress(ctx context.Context, egressID string) (EgressState, error) {
	payload := map[string]string{"egress_id": egressID}
	var state EgressState
	if err := c.do(ctx, http.MethodPost, "/twirp/livekit.Egress/StopEgress", payload, &state, 1); err != nil {
		return EgressState{}, apperr.External(err, "stop egress %s", egressID)
	}
	return state, nil
}

type listEgressResponse struct {
	Items []EgressState `json:"items"`
}

func (c *httpClient) ListEgress(ctx context.Context, roomName string) ([]EgressState, error) {
	payload := map[string]string{"room_name": roomName}
	var response listEgressResponse
	if err := c.do(ctx, http.MethodPost, "/twirp/livekit.Egress/ListEgress", payload, &response, c.maxAttempts); err != nil {
		return nil, apperr.External(err, "list egress for room %s", roomName)
	}
	return response.Items, nil
}

// do issues the request up to attempts times. Reads pass c.maxAttempts;
// non-idempotent control calls pass 1 so a failure is never re-sent.
func (c *httpClient) do(ctx context.Context, method, path string, payload any, dest any, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		reqBody := io.Reader(nil)
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := strings.TrimSpace(c.token); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := c.client.Do(req)
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
		if attempt < attempts {
			c.logger.Warn("media provider request failed", "method", method, "path", path, "attempt", attempt, "error", lastErr)
			if c.retryInterval > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.retryInterval):
				}
			}
		}
	}
	return lastErr
}

var _ Client = (*httpClient)(nil)
var _ Client = NoopClient{}
