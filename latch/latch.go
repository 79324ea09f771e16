// Package latch provides the exclusive/shared page latch used by the
// buffer pool's recovery bookkeeping and by the recovery driver when it
// fixes a page for redo.
package latch

import (
	"sync"
	"time"
)

// Latch is a simple reader/writer latch. Unlike a plain sync.RWMutex,
// it exposes an immediate-timeout exclusive acquisition, which
// concurrent redo uses to skip a page that another thread is already
// driving single-page recovery on instead of blocking.
type Latch struct {
	mu sync.RWMutex
}

// New creates an unlocked latch.
func New() *Latch {
	return &Latch{}
}

// Lock acquires the latch in exclusive (EX) mode, blocking.
func (l *Latch) Lock() { l.mu.Lock() }

// Unlock releases an exclusive latch.
func (l *Latch) Unlock() { l.mu.Unlock() }

// RLock acquires the latch in shared (SH) mode, blocking.
func (l *Latch) RLock() { l.mu.RLock() }

// RUnlock releases a shared latch.
func (l *Latch) RUnlock() { l.mu.RUnlock() }

// TryLock attempts to acquire the latch in exclusive mode without
// blocking. It returns false immediately if the latch is held.
func (l *Latch) TryLock() bool { return l.mu.TryLock() }

// TryRLock attempts to acquire the latch in shared mode without
// blocking.
func (l *Latch) TryRLock() bool { return l.mu.TryRLock() }

// TryLockImmediate is the "EX latch, immediate timeout" acquisition
// that log-driven and page-driven redo use: it never waits, returning
// ok=false the instant the latch is already held by someone else
// (another redo thread, or a concurrent SPR on the same page).
func (l *Latch) TryLockImmediate() (ok bool) {
	return l.mu.TryLock()
}

// LockTimeout blocks up to d for the exclusive latch, used by
// abort() during Undo when it must wait briefly for a page a user
// transaction is updating.
func (l *Latch) LockTimeout(d time.Duration) bool {
	if d <= 0 {
		return l.mu.TryLock()
	}
	deadline := time.Now().Add(d)
	for {
		if l.mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
