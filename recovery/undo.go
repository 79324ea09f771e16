package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/config"
	"github.com/ariesrecover/ariesrecover/txntable"
	"github.com/ariesrecover/ariesrecover/wal"
)

// pageLatchTimeout bounds how long abort()'s compensating write waits
// for a page latch a live transaction happens to be holding. Recovery
// owns the only writers during serial Undo; the timeout only matters
// once concurrent_lock mode lets new transactions run alongside it.
const pageLatchTimeout = 200 * time.Millisecond

// undoPhase rolls back every doomed transaction, choosing the
// draining strategy config.UndoMode names, then flushes the log so
// every CLR emitted is durable before Recover returns.
func (d *Driver) undoPhase() error {
	switch d.Cfg.UndoMode {
	case config.UndoReverse:
		if err := d.undoReverse(); err != nil {
			return err
		}
	case config.UndoTransaction:
		if err := d.undoTransactionDriven(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("recovery: unknown undo_mode %q", d.Cfg.UndoMode)
	}
	return d.Log.Flush(d.Log.CurrLSN(), true)
}

// undoReverse implements the reverse-chronological variant: always
// step the transaction with the largest undo_nxt, stopping each
// step at the next-largest descriptor's undo_nxt rather than draining
// a transaction fully before moving to another. Each step is the batch
// "roll back to the second-place undo_nxt" optimization: every record
// above that floor is undone in one uninterrupted run, and only then
// is the transaction pushed back onto the heap.
func (d *Driver) undoReverse() error {
	for d.undoHeap.Len() > 0 {
		top := d.undoHeap.PopDesc()
		if top == nil {
			break
		}

		var floor wal.LSN
		if second := d.undoHeap.Peek(); second != nil {
			floor = second.UndoNxt
		}

		if err := d.undoStepChain(top, floor); err != nil {
			return err
		}

		if top.UndoNxt.IsNull() {
			if err := d.abort(top); err != nil {
				return err
			}
			continue
		}
		d.undoHeap.Repush(top)
	}
	return nil
}

// undoTransactionDriven implements the concurrent variant: every
// doomed transaction is rolled back independently, in parallel.
func (d *Driver) undoTransactionDriven() error {
	doomed := d.Txns.Doomed()
	errs := make(chan error, len(doomed))
	var wg sync.WaitGroup

	for _, desc := range doomed {
		desc := desc
		wg.Add(1)
		go func() {
			defer wg.Done()
			desc.Latch.Lock()
			defer desc.Latch.Unlock()
			if err := d.undoStepChain(desc, wal.NullLSN); err != nil {
				errs <- err
				return
			}
			if err := d.abort(desc); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// undoStepChain walks desc's undo_nxt chain backward, emitting one CLR
// per undoable record, until it reaches floor (exclusive) or null.
// Landing on a compensate record (possible if a prior Undo pass was
// interrupted mid-transaction) skips straight to its undo_next without
// reapplying anything, since CLRs are redo-only.
func (d *Driver) undoStepChain(desc *txntable.Descriptor, floor wal.LSN) error {
	cur := desc.UndoNxt
	for !cur.IsNull() && (floor.IsNull() || floor.Less(cur)) {
		rec, _, err := d.Log.Fetch(cur, true)
		if err != nil {
			return err
		}

		if rec.Flags.IsCompensate() || !rec.Flags.IsUndo() {
			cur = rec.XidPrev
			desc.UndoNxt = cur
			continue
		}

		if err := d.applyUndoRecord(rec); err != nil {
			return err
		}

		clrLSN, err := d.Log.Insert(wal.Header{
			Type:    wal.RecCompensate,
			Tid:     desc.Tid,
			XidPrev: rec.XidPrev,
			Flags:   wal.FlagCompensate,
			PID:     rec.PID,
			PID2:    rec.PID2,
		}, wal.EncodeCompensate(wal.CompensatePayload{OrigLSN: cur, UndoLSN: rec.XidPrev}))
		if err != nil {
			return err
		}

		if err := d.Log.Compensate(cur, clrLSN); err != nil && !errors.Is(err, wal.ErrNotResident) {
			return err
		}

		cur = rec.XidPrev
		desc.UndoNxt = cur
	}
	return nil
}

func (d *Driver) applyUndoRecord(rec wal.Record) error {
	if err := d.withPageLatch(rec.PID, func(cb *bufferpool.CB) error {
		return d.Undo.ApplyUndo(rec, cb)
	}); err != nil {
		return err
	}
	if rec.Flags.IsMultiPage() && !rec.PID2.IsZero() {
		return d.withPageLatch(rec.PID2, func(cb *bufferpool.CB) error {
			return d.Undo.ApplyUndo(rec, cb)
		})
	}
	return nil
}

func (d *Driver) withPageLatch(pid wal.PageID, fn func(cb *bufferpool.CB) error) error {
	if pid.IsZero() {
		return fn(nil)
	}
	idx, ok := d.Pages.Lookup(pid)
	if !ok {
		return fn(nil)
	}
	cb, err := d.Pages.Get(idx)
	if err != nil {
		return err
	}
	if !cb.Latch.LockTimeout(pageLatchTimeout) {
		return fmt.Errorf("%w: page %s", bufferpool.ErrLatchTimeout, pid)
	}
	defer cb.Latch.Unlock()
	return fn(cb)
}

// abort finalizes a transaction Undo has finished rolling back (or
// that needed no rollback at all): release its locks, emit its
// terminal xct-end record, and drop its descriptor.
func (d *Driver) abort(desc *txntable.Descriptor) error {
	if _, err := d.Log.Insert(wal.Header{Type: wal.RecXctEnd, Tid: desc.Tid}, nil); err != nil {
		return err
	}
	if d.Locks != nil {
		d.Locks.ReleaseAll(desc.Tid)
	}
	desc.State = txntable.Ended
	desc.Doomed = false
	d.Txns.Destroy(desc.Tid)
	return nil
}
