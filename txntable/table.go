package txntable

import (
	"fmt"
	"sync"

	"github.com/ariesrecover/ariesrecover/wal"
)

// ErrUnknownTransaction is returned by operations naming a tid the
// table has no descriptor for.
var ErrUnknownTransaction = fmt.Errorf("txntable: unknown transaction")

// Table is the recovery-time transaction table Analysis reconstructs
// and Undo drains.
type Table struct {
	mu          sync.RWMutex
	descs       map[uint64]*Descriptor
	youngestTid uint64
}

func New() *Table {
	return &Table{descs: make(map[uint64]*Descriptor)}
}

// Get returns tid's descriptor, if any.
func (t *Table) Get(tid uint64) (*Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.descs[tid]
	return d, ok
}

// InsertFromCheckpoint inserts a descriptor captured by a chkpt_xct_tab
// entry not already in state ended. Existing active descriptors are
// never overwritten by a later checkpoint entry for the same tid — the
// transaction may have already ended in the log between the snapshot
// and the write of chkpt_xct_tab.
func (t *Table) InsertFromCheckpoint(e wal.XctEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.descs[e.Tid]; exists {
		return
	}
	t.descs[e.Tid] = &Descriptor{
		Tid:      e.Tid,
		State:    Active,
		FirstLSN: e.FirstLSN,
		LastLSN:  e.LastLSN,
		UndoNxt:  e.UndoNxt,
		Doomed:   true,
		Latch:    newDescriptor(e.Tid, e.FirstLSN).Latch,
	}
	if e.Tid > t.youngestTid {
		t.youngestTid = e.Tid
	}
}

// Touch records that tid produced a redoable record at lsn, creating
// the descriptor on first appearance. If undoable, undo_nxt advances
// to lsn.
func (t *Table) Touch(tid uint64, lsn wal.LSN, undoable bool) *Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.descs[tid]
	if !ok {
		d = newDescriptor(tid, lsn)
		t.descs[tid] = d
	} else {
		d.FirstLSN = wal.Min(d.FirstLSN, lsn)
	}
	if d.LastLSN.Less(lsn) {
		d.LastLSN = lsn
	}
	if undoable {
		d.UndoNxt = lsn
	}
	if tid > t.youngestTid {
		t.youngestTid = tid
	}
	return d
}

// SynthesizeSysXct creates a short-lived descriptor for a single-log
// system transaction record and immediately ends it.
func (t *Table) SynthesizeSysXct(tid uint64, lsn wal.LSN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := newDescriptor(tid, lsn)
	d.SysXct = true
	d.SingleLogSysXct = true
	d.State = Ended
	d.Doomed = false
	t.descs[tid] = d
}

// SetUndoNxt rewrites tid's undo_nxt. Analysis itself advances undo_nxt
// through Touch, including for compensate records, and does not call it.
func (t *Table) SetUndoNxt(tid uint64, lsn wal.LSN) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.descs[tid]
	if !ok {
		return fmt.Errorf("%w: tid %d", ErrUnknownTransaction, tid)
	}
	d.UndoNxt = lsn
	return nil
}

// MarkEnded transitions tid to Ended. Unknown transactions are
// ignored: xct_end/xct_abort/xct_end_group records may reference a tid
// whose descriptor predates the scavenged portion of the log already
// reclaimed, which cannot happen with a correct master pointer but is
// cheap to tolerate defensively here.
func (t *Table) MarkEnded(tid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.descs[tid]; ok {
		d.State = Ended
		d.Doomed = false
	}
}

// MarkEndedGroup ends every tid named by an xct_end_group record.
func (t *Table) MarkEndedGroup(tids []uint64) {
	for _, tid := range tids {
		t.MarkEnded(tid)
	}
}

// DestroyEnded removes every descriptor in state Ended, returning the
// number removed. Callers must have already released any locks those
// transactions held before calling this.
func (t *Table) DestroyEnded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for tid, d := range t.descs {
		if d.State == Ended {
			delete(t.descs, tid)
			n++
		}
	}
	return n
}

// Destroy removes a single descriptor once Undo has finished
// aborting it (its terminal xct-end CLR has been emitted).
func (t *Table) Destroy(tid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.descs, tid)
}

// Active returns every descriptor currently in state Active.
func (t *Table) Active() []*Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Descriptor
	for _, d := range t.descs {
		if d.State == Active {
			out = append(out, d)
		}
	}
	return out
}

// Doomed returns every descriptor marked doomed, the set Undo must
// roll back.
func (t *Table) Doomed() []*Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Descriptor
	for _, d := range t.descs {
		if d.Doomed {
			out = append(out, d)
		}
	}
	return out
}

// CommitLSN computes the restart validation point: the minimum
// first_lsn across surviving active descriptors, or NullLSN if none
// remain active.
func (t *Table) CommitLSN() wal.LSN {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var min wal.LSN
	found := false
	for _, d := range t.descs {
		if d.State != Active {
			continue
		}
		if !found || d.FirstLSN.Less(min) {
			min = d.FirstLSN
			found = true
		}
	}
	if !found {
		return wal.NullLSN
	}
	return min
}

func (t *Table) YoungestTid() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.youngestTid
}

func (t *Table) SetYoungestTid(tid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tid > t.youngestTid {
		t.youngestTid = tid
	}
}

// Len reports the number of live descriptors.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.descs)
}

// Snapshot returns every descriptor, for checkpoint's chkpt_xct_tab.
func (t *Table) Snapshot() []*Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Descriptor, 0, len(t.descs))
	for _, d := range t.descs {
		out = append(out, d)
	}
	return out
}
