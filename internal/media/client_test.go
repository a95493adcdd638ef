package media

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server) Client {
	t.Helper()
	client, err := NewHTTPClient(Config{
		BaseURL:       server.URL,
		Token:         "tok-123",
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPClient returned error: %v", err)
	}
	return client
}

func TestCreateDirectUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/video/v1/uploads" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req createUploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.NewAssetSettings.Passthrough != "stream-1" {
			t.Errorf("expected passthrough stream-1, got %q", req.NewAssetSettings.Passthrough)
		}
		json.NewEncoder(w).Encode(dataEnvelope[DirectUpload]{Data: DirectUpload{
			ID:     "upload-1",
			URL:    "https://uploads.example/put/upload-1",
			Status: "waiting",
		}})
	}))
	defer server.Close()

	upload, err := newTestClient(t, server).CreateDirectUpload(context.Background(), "stream-1")
	if err != nil {
		t.Fatalf("CreateDirectUpload returned error: %v", err)
	}
	if upload.ID != "upload-1" || upload.URL == "" {
		t.Fatalf("unexpected upload: %+v", upload)
	}
}

func TestUploadFilePutsBody(t *testing.T) {
	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		data, _ := io.ReadAll(r.Body)
		received.Store(string(data))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestClient(t, server).UploadFile(context.Background(), server.URL, strings.NewReader("recording-bytes"), 15)
	if err != nil {
		t.Fatalf("UploadFile returned error: %v", err)
	}
	if got, _ := received.Load().(string); got != "recording-bytes" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestGetAssetRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(dataEnvelope[Asset]{Data: Asset{
			ID:          "asset-1",
			Status:      "ready",
			PlaybackIDs: []PlaybackID{{ID: "pb-1", Policy: "public"}},
		}})
	}))
	defer server.Close()

	asset, err := newTestClient(t, server).GetAsset(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("GetAsset returned error: %v", err)
	}
	if asset.FirstPlaybackID() != "pb-1" {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestStartEgressDoesNotRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(t, server).StartEgress(context.Background(), EgressRequest{RoomName: "room-1"})
	if err == nil {
		t.Fatal("expected start failure to surface")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("start must be a single attempt, provider saw %d requests", got)
	}
}

func TestStopEgressDoesNotRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(t, server).StopEgress(context.Background(), "eg-1")
	if err == nil {
		t.Fatal("expected stop failure to surface")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("stop retry policy belongs to the controller, provider saw %d requests", got)
	}
}

func TestStopEgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/twirp/livekit.Egress/StopEgress" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(EgressState{EgressID: req["egress_id"], Status: "EGRESS_ENDING"})
	}))
	defer server.Close()

	state, err := newTestClient(t, server).StopEgress(context.Background(), "eg-1")
	if err != nil {
		t.Fatalf("StopEgress returned error: %v", err)
	}
	if state.EgressID != "eg-1" || state.Status != "EGRESS_ENDING" {
		t.Fatalf("unexpected state: %+v", state)
	}
}
