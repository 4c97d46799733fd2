package agreement

import (
	"sync"
	"time"
)

// Lockable is an advisory, auto-expiring lock. The zero value is unlocked.
// It is embedded in records that may be claimed by several triggers at once.
type Lockable struct {
	mu          sync.Mutex
	lockedUntil time.Time
	generation  uint64
}

// Lock acquires the lock for timeout. It returns nil if the lock is held
// and not yet expired. The returned release func is a no-op once the lock
// expired and was taken by someone else.
func (l *Lockable) Lock(timeout time.Duration) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Before(l.lockedUntil) {
		return nil
	}
	l.lockedUntil = now.Add(timeout)
	l.generation++
	gen := l.generation

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.generation == gen {
			l.lockedUntil = time.Time{}
		}
	}
}

// IsLocked reports whether an unexpired lock is held.
func (l *Lockable) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Now().Before(l.lockedUntil)
}
