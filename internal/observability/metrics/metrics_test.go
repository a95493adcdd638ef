package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderExposesCounters(t *testing.T) {
	recorder := NewRecorder()
	recorder.StreamTransition("live")
	recorder.StreamTransition("live")
	recorder.RecordingOutcome("ready", "webhook")
	recorder.ObserveHTTP(http.MethodPost, "/api/streams", 201, 5*time.Millisecond)

	server := httptest.NewServer(recorder.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`bspnode_stream_transitions_total{to="live"} 2`,
		`bspnode_recording_outcomes_total{source="webhook",status="ready"} 1`,
		`bspnode_http_requests_total{method="POST",route="/api/streams",status="201"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	recorder := NewRecorder()
	handler := recorder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusTeapot {
		t.Fatalf("expected status passthrough, got %d", rw.Code)
	}
	families, err := recorder.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "bspnode_http_requests_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected http request counter family")
	}
}
