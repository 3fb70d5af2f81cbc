package syncutil

import (
	"context"
	"sync"
)

// CommitMutex is a single channel-based mutex that supports context
// cancellation. All writes to the reputation record flow through one
// of these so that append, dispute, and resolution commits serialize
// into a stable order.
type CommitMutex struct {
	ch   chan struct{}
	once sync.Once
}

// NewCommitMutex creates a new unlocked commit mutex.
func NewCommitMutex() *CommitMutex {
	m := &CommitMutex{}
	m.init()
	return m
}

func (m *CommitMutex) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
		m.ch <- struct{}{} // Start unlocked.
	})
}

// LockContext acquires the mutex, respecting context cancellation.
// On success, returns an unlock function and nil error. The caller
// MUST call the unlock function when done.
// On context cancellation, returns nil and the context error.
func (m *CommitMutex) LockContext(ctx context.Context) (func(), error) {
	m.init()

	select {
	case <-m.ch:
		return func() { m.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
