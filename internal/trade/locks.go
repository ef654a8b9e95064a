package trade

import (
	"context"
	"sync"
)

// accountLocks hands out one logical lock per (user, context) account so
// trades for the same account serialize while unrelated accounts never
// wait on each other. Acquisition respects context cancellation; once
// acquired, the holder always finishes its commit before releasing.
type accountLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{slots: make(map[string]chan struct{})}
}

// slot returns the one-permit channel for a key. Slots are never
// reclaimed; the population is bounded by accounts ever traded in this
// process.
func (l *accountLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// acquire blocks until the key's lock is held or ctx is done. The
// returned release function must be called exactly once.
func (l *accountLocks) acquire(ctx context.Context, key string) (release func(), err error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
