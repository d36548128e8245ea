package usecase

import (
	"context"
	"fmt"
	"sync"
)

// agentLocker provides per-agent-identifier mutual exclusion. It closes the
// window in which two activations of the same identifier could both observe
// "not yet active" across a suspension point: the second caller now waits on
// the first instead of racing it.
type agentLocker struct {
	mu    sync.Mutex
	locks map[string]*agentMutex
}

type agentMutex struct {
	mu       sync.Mutex
	refCount int
}

func newAgentLocker() *agentLocker {
	return &agentLocker{locks: make(map[string]*agentMutex)}
}

// Lock acquires the lock for agentID, blocking until acquired or the context
// is cancelled. The returned unlock function MUST be called when done.
func (l *agentLocker) Lock(ctx context.Context, agentID string) (unlock func(), err error) {
	l.mu.Lock()
	am, ok := l.locks[agentID]
	if !ok {
		am = &agentMutex{}
		l.locks[agentID] = am
	}
	am.refCount++
	l.mu.Unlock()

	release := func() {
		am.mu.Unlock()
		l.mu.Lock()
		am.refCount--
		if am.refCount == 0 {
			delete(l.locks, agentID)
		}
		l.mu.Unlock()
	}

	acquired := make(chan struct{})
	go func() {
		am.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return release, nil
	case <-ctx.Done():
		// The acquiring goroutine may still be parked on the mutex.
		// Wait it out and release immediately so the lock is never
		// stranded.
		go func() {
			<-acquired
			release()
		}()
		return nil, fmt.Errorf("agent lock %q: %w", agentID, ctx.Err())
	}
}

// activeCount returns the number of identifiers with held or pending locks.
func (l *agentLocker) activeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
