package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds request throughput. GlobalRPS covers all traffic;
// WebhookRPS separately bounds the unauthenticated webhook endpoint per
// source address.
type RateLimitConfig struct {
	GlobalRPS    float64
	GlobalBurst  int
	WebhookRPS   float64
	WebhookBurst int
}

type rateLimiter struct {
	global *rate.Limiter

	webhookRPS   rate.Limit
	webhookBurst int
	mu           sync.Mutex
	perSource    map[string]*sourceLimiter
}

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const sourceLimiterIdle = 10 * time.Minute

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{perSource: make(map[string]*sourceLimiter)}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if cfg.WebhookRPS > 0 {
		rl.webhookRPS = rate.Limit(cfg.WebhookRPS)
		rl.webhookBurst = cfg.WebhookBurst
		if rl.webhookBurst <= 0 {
			rl.webhookBurst = int(cfg.WebhookRPS)
			if rl.webhookBurst < 1 {
				rl.webhookBurst = 1
			}
		}
	}
	return rl
}

func (rl *rateLimiter) allowRequest() bool {
	if rl == nil || rl.global == nil {
		return true
	}
	return rl.global.Allow()
}

func (rl *rateLimiter) allowWebhook(remoteAddr string) bool {
	if rl == nil || rl.webhookRPS == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for key, entry := range rl.perSource {
		if now.Sub(entry.lastSeen) > sourceLimiterIdle {
			delete(rl.perSource, key)
		}
	}
	entry, ok := rl.perSource[host]
	if !ok {
		entry = &sourceLimiter{limiter: rate.NewLimiter(rl.webhookRPS, rl.webhookBurst)}
		rl.perSource[host] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allowRequest() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if r.URL.Path == "/api/webhooks/media" && !rl.allowWebhook(r.RemoteAddr) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
