// Package replay remembers gateway confirmations that were already applied, so exact re-deliveries
// skip the database. It is only a fast path: correctness comes from the row lock and the
// same-status no-op in the transaction state machine.
package replay

import (
	"context"
	"sync"
	"time"
)

// Guard remembers keys for a bounded time.
type Guard interface {
	// Seen reports whether key was remembered and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

// Key builds the guard key for one confirmation.
func Key(externalRef, status string) string {
	return "webhook:" + externalRef + ":" + status
}

// MemoryGuard is an in-process Guard.
type MemoryGuard struct {
	mu   sync.RWMutex
	m    map[string]time.Time
	nowF func() time.Time
}

// NewMemoryGuard returns an empty in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{m: make(map[string]time.Time), nowF: time.Now}
}

// Seen reports whether key is present and unexpired. Expired keys are dropped.
func (g *MemoryGuard) Seen(ctx context.Context, key string) (bool, error) {
	g.mu.RLock()
	exp, ok := g.m[key]
	g.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !exp.After(g.nowF()) {
		g.mu.Lock()
		if cur, ok := g.m[key]; ok && cur.Equal(exp) {
			delete(g.m, key)
		}
		g.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Remember stores key until now+ttl unless it is already held, matching SET NX. It also sweeps
// expired keys so the map stays bounded.
func (g *MemoryGuard) Remember(ctx context.Context, key string, ttl time.Duration) error {
	now := g.nowF()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, exp := range g.m {
		if !exp.After(now) {
			delete(g.m, k)
		}
	}
	if _, ok := g.m[key]; !ok {
		g.m[key] = now.Add(ttl)
	}
	return nil
}

// Len returns the number of stored keys, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.m)
}
