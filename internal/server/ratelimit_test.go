package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGlobalRateLimitRejectsBurstOverflow(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 2})
	handler := rl.middleware(okHandler())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("expected first two requests within burst, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request limited, got %v", statuses)
	}
}

func TestWebhookLimitIsPerSource(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{WebhookRPS: 0.001, WebhookBurst: 1})
	handler := rl.middleware(okHandler())

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/media", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("10.0.0.1:1234"); got != http.StatusOK {
		t.Fatalf("first delivery from source should pass, got %d", got)
	}
	if got := send("10.0.0.1:9999"); got != http.StatusTooManyRequests {
		t.Fatalf("same host past burst should be limited, got %d", got)
	}
	if got := send("10.0.0.2:1234"); got != http.StatusOK {
		t.Fatalf("distinct source has its own bucket, got %d", got)
	}
}

func TestWebhookLimitLeavesOtherRoutesAlone(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{WebhookRPS: 0.001, WebhookBurst: 1})
	handler := rl.middleware(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("non-webhook request %d limited unexpectedly: %d", i, rec.Code)
		}
	}
}

func TestZeroConfigDisablesLimiting(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	handler := rl.middleware(okHandler())
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d rejected with no limits configured: %d", i, rec.Code)
		}
	}
}
