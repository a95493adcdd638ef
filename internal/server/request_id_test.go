package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"bspnode/internal/observability/logging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	var seen string
	var streamID string
	handler := requestIDMiddlewareWithGenerator(discardLogger(), func() string { return "fixed-id" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = logging.RequestIDFromContext(r.Context())
			streamID, _ = logging.StreamIDFromContext(r.Context())
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams/st-9/start", nil))

	if seen != "fixed-id" {
		t.Fatalf("expected generated id in context, got %q", seen)
	}
	if streamID != "st-9" {
		t.Fatalf("expected stream id in context, got %q", streamID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "fixed-id" {
		t.Fatalf("expected id echoed on response, got %q", got)
	}
}

func TestRequestIDPassedThrough(t *testing.T) {
	handler := requestIDMiddlewareWithGenerator(discardLogger(), func() string { return "should-not-be-used" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "client-chosen")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "client-chosen" {
		t.Fatalf("expected client id preserved, got %q", got)
	}
}

func TestStreamIDFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/streams/abc-123/start", "abc-123"},
		{"/api/streams/abc-123", "abc-123"},
		{"/api/streams/", ""},
		{"/api/streams", ""},
		{"/healthz", ""},
		{"/api/invites/xyz", ""},
	}
	for _, tc := range cases {
		if got := streamIDFromPath(tc.path); got != tc.want {
			t.Fatalf("streamIDFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
