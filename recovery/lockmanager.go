package recovery

import (
	"sync"

	"github.com/ariesrecover/ariesrecover/wal"
)

// LockManager is the recovery-facing slice of the lock manager's
// contract that `concurrent_lock` recovery mode needs: Analysis
// reconstructs a doomed transaction's locks as it rebuilds its
// descriptor, and abort() releases them during Undo. The manager's
// internal deadlock detection, wait queues and lock-mode compatibility
// matrix are out of this core's scope.
type LockManager interface {
	// AcquireForRecovery grants tid a lock on pageKey without blocking
	// or deadlock checking, as if the transaction had acquired it
	// before the crash. Called from Analysis.
	AcquireForRecovery(tid uint64, pageKey wal.PageID) error

	// ReleaseAll drops every lock tid holds. Called from abort().
	ReleaseAll(tid uint64)
}

// InMemoryLockManager is a minimal LockManager sufficient to exercise
// concurrent_lock recovery mode end to end: a plain tid -> held-keys
// set with no conflict checking at all, since recovery never contends
// with itself for a lock it is merely re-asserting.
type InMemoryLockManager struct {
	mu    sync.Mutex
	held  map[uint64]map[wal.PageID]struct{}
}

func NewInMemoryLockManager() *InMemoryLockManager {
	return &InMemoryLockManager{held: make(map[uint64]map[wal.PageID]struct{})}
}

func (m *InMemoryLockManager) AcquireForRecovery(tid uint64, pageKey wal.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.held[tid]
	if !ok {
		keys = make(map[wal.PageID]struct{})
		m.held[tid] = keys
	}
	keys[pageKey] = struct{}{}
	return nil
}

func (m *InMemoryLockManager) ReleaseAll(tid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, tid)
}

// Held reports the set of page keys tid currently holds, for tests.
func (m *InMemoryLockManager) Held(tid uint64) []wal.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.held[tid]
	out := make([]wal.PageID, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}
