package recording

import (
	"context"
	"sync"
	"time"
)

// Ledger remembers webhook event IDs long enough to absorb provider
// redeliveries. MarkIfNew returns true exactly once per event ID within
// the retention window.
type Ledger interface {
	MarkIfNew(ctx context.Context, eventID string) (bool, error)
	Close() error
}

// MemoryLedger keeps seen event IDs in process memory with a TTL. Suited
// to single-node deployments; multi-node deployments use the Redis ledger.
type MemoryLedger struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

const defaultLedgerRetention = 24 * time.Hour

func NewMemoryLedger(retention time.Duration) *MemoryLedger {
	if retention <= 0 {
		retention = defaultLedgerRetention
	}
	return &MemoryLedger{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (l *MemoryLedger) MarkIfNew(ctx context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, at := range l.seen {
		if now.Sub(at) > l.retention {
			delete(l.seen, id)
		}
	}
	if at, ok := l.seen[eventID]; ok && now.Sub(at) <= l.retention {
		return false, nil
	}
	l.seen[eventID] = now
	return true, nil
}

func (l *MemoryLedger) Close() error {
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
