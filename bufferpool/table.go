package bufferpool

import (
	"sync"

	"github.com/ariesrecover/ariesrecover/latch"
	"github.com/ariesrecover/ariesrecover/wal"
)

// PageLoader reads a page body from its backing store. Recovery's
// out-of-scope device/mount I/O layer provides the real
// implementation; FileLoader in this package is a minimal concrete
// one good enough to exercise and test the recovery driver end to end.
type PageLoader interface {
	// Load reads pid's current on-disk body. pastEnd reports that the
	// backing file is shorter than this page ID — a virgin page that
	// was never flushed, not an error. A checksum mismatch on an
	// existing page is reported as ErrBadChecksum.
	Load(pid wal.PageID) (body []byte, pageLSN wal.LSN, pastEnd bool, err error)
}

// Table is the arena-indexed page control block table: index 0 is a
// reserved sentinel so LookupInDoubt can return 0 for "not found".
type Table struct {
	mu       sync.RWMutex
	cbs      []*CB
	byPID    map[wal.PageID]int
	free     []int
	capacity int
	loader   PageLoader
}

// NewTable creates an empty table bounded at capacity slots.
func NewTable(capacity int, loader PageLoader) *Table {
	return &Table{
		cbs:      make([]*CB, 1, capacity+1),
		byPID:    make(map[wal.PageID]int),
		capacity: capacity,
		loader:   loader,
	}
}

func (t *Table) get(idx int) *CB {
	if idx <= 0 || idx >= len(t.cbs) {
		return nil
	}
	return t.cbs[idx]
}

// RegisterAndMark implements register_and_mark: if no CB exists for
// pid, allocate one as in_doubt+used with rec_lsn=lsn; otherwise lower
// its rec_lsn to the minimum of the two.
func (t *Table) RegisterAndMark(pid wal.PageID, lsn wal.LSN) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.byPID[pid]; ok {
		cb := t.cbs[idx]
		cb.RecLSN = wal.Min(cb.RecLSN, lsn)
		cb.ExpectedEMLSN = wal.Max(cb.ExpectedEMLSN, lsn)
		return idx, nil
	}

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else if len(t.cbs) <= t.capacity {
		idx = len(t.cbs)
		t.cbs = append(t.cbs, nil)
	} else {
		return 0, ErrOutOfBufferSlots
	}

	t.cbs[idx] = &CB{
		Idx:           idx,
		PID:           pid,
		InDoubt:       true,
		Used:          true,
		RecLSN:        lsn,
		ExpectedEMLSN: lsn,
		Latch:         latch.New(),
	}
	t.byPID[pid] = idx
	return idx, nil
}

// LookupInDoubt returns pid's CB index if one exists and is in doubt,
// else 0.
func (t *Table) LookupInDoubt(pid wal.PageID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.byPID[pid]
	if !ok || !t.cbs[idx].InDoubt {
		return 0
	}
	return idx
}

// Lookup returns pid's CB index regardless of its in_doubt/dirty
// state, for callers like log-driven redo that must keep finding a
// page's CB across the in_doubt -> dirty transition within one scan.
func (t *Table) Lookup(pid wal.PageID) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byPID[pid]
	return idx, ok
}

// ClearInDoubt clears the in_doubt flag on idx. If keepUsed is false
// the CB is fully removed and its slot returned to the free list.
func (t *Table) ClearInDoubt(idx int, keepUsed bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cb := t.get(idx)
	if cb == nil {
		return ErrPageNotFound
	}
	cb.InDoubt = false
	if !keepUsed {
		delete(t.byPID, cb.PID)
		t.cbs[idx] = nil
		t.free = append(t.free, idx)
	}
	return nil
}

func (t *Table) IsInDoubt(idx int) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cb := t.get(idx)
	if cb == nil {
		return false, ErrPageNotFound
	}
	return cb.InDoubt, nil
}

func (t *Table) IsDirty(idx int) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cb := t.get(idx)
	if cb == nil {
		return false, ErrPageNotFound
	}
	return cb.Dirty, nil
}

func (t *Table) IsUsed(idx int) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cb := t.get(idx)
	if cb == nil {
		return false, ErrPageNotFound
	}
	return cb.Used, nil
}

// InDoubtToDirty performs the one-way in_doubt -> dirty transition,
// done after redo of the first log record touching the page.
func (t *Table) InDoubtToDirty(idx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb := t.get(idx)
	if cb == nil {
		return ErrPageNotFound
	}
	cb.InDoubt = false
	cb.Dirty = true
	return nil
}

// LoadForRedo reads idx's page body from disk via the configured
// PageLoader. pastEnd reports a virgin page; an existing but corrupt
// page surfaces ErrBadChecksum so the caller can fall back to SPR.
func (t *Table) LoadForRedo(idx int) (pastEnd bool, err error) {
	t.mu.Lock()
	cb := t.get(idx)
	t.mu.Unlock()
	if cb == nil {
		return false, ErrPageNotFound
	}

	body, pageLSN, pastEnd, err := t.loader.Load(cb.PID)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	cb.Body = body
	if !pastEnd {
		cb.PageLSN = pageLSN
	}
	t.mu.Unlock()
	return pastEnd, nil
}

// Get returns a snapshot-safe pointer to idx's CB for callers that
// need to read or latch it directly (e.g. the redo/undo drivers).
func (t *Table) Get(idx int) (*CB, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cb := t.get(idx)
	if cb == nil {
		return nil, ErrPageNotFound
	}
	return cb, nil
}

// Len reports how many CB slots are currently occupied.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPID)
}

// InDoubtCount reports how many CBs currently have InDoubt set. The
// count taken when Analysis completes is what Redo's post-condition
// dirty_count == in_doubt_count is checked against.
func (t *Table) InDoubtCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, cb := range t.cbs {
		if cb != nil && cb.InDoubt {
			n++
		}
	}
	return n
}

// DirtyCount mirrors InDoubtCount for the dirty flag.
func (t *Table) DirtyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, cb := range t.cbs {
		if cb != nil && cb.Dirty {
			n++
		}
	}
	return n
}

// MinRecLSN returns the minimum RecLSN across every dirty or in-doubt
// CB, or wal.NullLSN if there is none — the floor Redo must scan from
// and the value a fuzzy checkpoint's end_chkpt summarizes.
func (t *Table) MinRecLSN() wal.LSN {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var min wal.LSN
	for _, cb := range t.cbs {
		if cb != nil && (cb.Dirty || cb.InDoubt) {
			min = wal.Min(min, cb.RecLSN)
		}
	}
	return min
}

// Snapshot returns every currently dirty-or-in-doubt CB, the set a
// fuzzy checkpoint's chkpt_bf_tab records capture.
func (t *Table) Snapshot() []*CB {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*CB, 0, len(t.byPID))
	for _, cb := range t.cbs {
		if cb != nil && (cb.Dirty || cb.InDoubt) {
			out = append(out, cb)
		}
	}
	return out
}
