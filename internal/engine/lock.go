package engine

import (
	"context"
	"sync"

	"github.com/isb2026/bomrel/internal/ir"
)

// rootLocks is the per-root exclusive section for structural mutations.
// Entries are reference counted and dropped when the last holder leaves.
type rootLocks struct {
	mu    sync.Mutex
	locks map[ir.NodeID]*rootLock
}

type rootLock struct {
	sem  chan struct{}
	refs int
}

func newRootLocks() *rootLocks {
	return &rootLocks{locks: make(map[ir.NodeID]*rootLock)}
}

// acquire blocks until the caller holds rootID's lock or ctx is done.
// The returned release must be called exactly once.
func (l *rootLocks) acquire(ctx context.Context, rootID ir.NodeID) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[rootID]
	if !ok {
		lk = &rootLock{sem: make(chan struct{}, 1)}
		l.locks[rootID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
		return func() {
			<-lk.sem
			l.drop(rootID, lk)
		}, nil
	case <-ctx.Done():
		l.drop(rootID, lk)
		return nil, ctx.Err()
	}
}

func (l *rootLocks) drop(rootID ir.NodeID, lk *rootLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, rootID)
	}
}

// held returns the number of roots with a holder or waiter.
func (l *rootLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
