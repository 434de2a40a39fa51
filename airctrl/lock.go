package airctrl

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// deviceLock serializes sync+control sequences on one device address and
// remembers when the last command completed successfully.
type deviceLock struct {
	sem  *semaphore.Weighted
	addr string
	refs int // guarded by locksMu

	mu          sync.Mutex
	lastCommand time.Time
}

// Process-wide so that two clients pointed at the same device share a lock.
// Entries live while at least one client holds a reference.
var (
	locksMu sync.Mutex
	locks   = make(map[string]*deviceLock)
)

func lockFor(addr string) *deviceLock {
	locksMu.Lock()
	defer locksMu.Unlock()

	l, ok := locks[addr]
	if !ok {
		l = &deviceLock{sem: semaphore.NewWeighted(1), addr: addr}
		locks[addr] = l
	}
	l.refs++
	return l
}

// releaseLock drops one reference and forgets the address with the last one
func releaseLock(l *deviceLock) {
	locksMu.Lock()
	defer locksMu.Unlock()

	l.refs--
	if l.refs <= 0 && locks[l.addr] == l {
		delete(locks, l.addr)
	}
}

// acquire waits up to timeout for the lock. It returns false when the wait
// ran out or ctx ended first.
func (l *deviceLock) acquire(ctx context.Context, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.sem.Acquire(ctx, 1) == nil
}

func (l *deviceLock) release() {
	l.sem.Release(1)
}

func (l *deviceLock) last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCommand
}

func (l *deviceLock) markCompleted(t time.Time) {
	l.mu.Lock()
	l.lastCommand = t
	l.mu.Unlock()
}

// waitSpacing sleeps until spacing has passed since the last completed
// command.
func (l *deviceLock) waitSpacing(ctx context.Context, spacing time.Duration) error {
	last := l.last()
	if last.IsZero() || spacing <= 0 {
		return nil
	}
	wait := spacing - time.Since(last)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
