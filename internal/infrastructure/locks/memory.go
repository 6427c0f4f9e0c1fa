// Package locks provides the per-connection sync locks. The memory locker
// covers single-instance deployments; the Redis locker covers multiple
// instances syncing the same connections.
package locks

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process locker with TTL expiry. TTL matters even
// in-process: a goroutine that never releases (crash, leak) must not wedge
// its connection forever.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

// Acquire takes the lock if it is free or its previous holder's TTL lapsed.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, false, nil
	}

	l.held[key] = now.Add(ttl)
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, key)
		})
	}
	return release, true, nil
}
