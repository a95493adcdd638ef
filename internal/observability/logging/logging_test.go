package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf, Format: "json"})
	logger.Info("dropped")
	logger.Warn("kept", "key", "value")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Fatal("info record should be filtered at warn level")
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &record); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", output, err)
	}
	if record["msg"] != "kept" || record["key"] != "value" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestContextCarriesIDs(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithStreamID(ctx, "stream-1")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("request id round trip failed: %q %v", id, ok)
	}
	if id, ok := StreamIDFromContext(ctx); !ok || id != "stream-1" {
		t.Fatalf("stream id round trip failed: %q %v", id, ok)
	}
	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("empty context must not yield a request id")
	}
}

func TestRequestLoggerAnnotatesRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "json"})
	handler := RequestLogger(RequestLoggerConfig{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/streams", nil)
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-42"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status 202, got %v", record["status"])
	}
	if record["request_id"] != "req-42" {
		t.Fatalf("expected request id annotation, got %v", record["request_id"])
	}
	if record["path"] != "/api/streams" {
		t.Fatalf("expected path annotation, got %v", record["path"])
	}
}
