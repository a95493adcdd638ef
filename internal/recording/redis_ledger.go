package recording

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisLedgerConfig configures the Redis-backed dedup ledger.
type RedisLedgerConfig struct {
	Addr       string
	Addrs      []string
	Username   string
	Password   string
	MasterName string
	KeyPrefix  string
	Retention  time.Duration
	PoolSize   int
}

type redisLedger struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
}

// NewRedisLedger initialises a ledger backed by Redis SET NX with TTL, so
// every orchestrator replica agrees on which webhook events were handled.
func NewRedisLedger(cfg RedisLedgerConfig) (Ledger, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "bspnode:webhook"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultLedgerRetention
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      addrs,
		MasterName: strings.TrimSpace(cfg.MasterName),
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		PoolSize:   cfg.PoolSize,
		MaxRetries: 2,
	})
	return &redisLedger{client: client, keyPrefix: prefix, retention: retention}, nil
}

func (l *redisLedger) MarkIfNew(ctx context.Context, eventID string) (bool, error) {
	key := l.keyPrefix + ":" + eventID
	ok, err := l.client.SetNX(ctx, key, "1", l.retention).Result()
	if err != nil {
		return false, fmt.Errorf("ledger setnx: %w", err)
	}
	return ok, nil
}

func (l *redisLedger) Close() error {
	return l.client.Close()
}

var _ Ledger = (*redisLedger)(nil)
