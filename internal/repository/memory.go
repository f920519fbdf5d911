package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker serializes writers per venue inside one process.
type MemoryLocker struct {
	mu      sync.Mutex
	slots   map[int64]chan struct{}
	timeout time.Duration
}

func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{
		slots:   make(map[int64]chan struct{}),
		timeout: timeout,
	}
}

func (l *MemoryLocker) slot(venueID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[venueID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[venueID] = ch
	}
	return ch
}

func (l *MemoryLocker) Acquire(ctx context.Context, venueID int64) (func(), error) {
	ch := l.slot(venueID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
