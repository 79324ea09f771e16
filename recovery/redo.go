package recovery

import (
	"errors"
	"fmt"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/config"
	"github.com/ariesrecover/ariesrecover/logger"
	"github.com/ariesrecover/ariesrecover/txntable"
	"github.com/ariesrecover/ariesrecover/wal"
)

// redo brings every in-doubt page forward to its pre-crash state,
// choosing the driving strategy config.RedoMode names.
func (d *Driver) redo() error {
	switch d.Cfg.RedoMode {
	case config.RedoLogDriven:
		if err := d.redoLogDriven(); err != nil {
			return err
		}
	case config.RedoPageDriven, config.RedoSPROnDemand:
		// spr_on_demand's textbook behavior defers a page's redo until a
		// user transaction first touches it; that trigger lives in the
		// buffer-pool fix path this core does not own, so it is treated
		// here as page-driven redo run eagerly at restart rather than
		// lazily on first access.
		if err := d.redoPageDriven(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("recovery: unknown redo_mode %q", d.Cfg.RedoMode)
	}

	if got := d.Pages.DirtyCount(); got != d.analysisInDoubtCount {
		return fmt.Errorf("%w: dirty_count=%d in_doubt_count=%d", ErrDirtyInDoubtMismatch, got, d.analysisInDoubtCount)
	}
	return nil
}

// redoLogDriven implements the log-driven variant: scan forward from
// redo_lsn, dispatching every redoable record to the page (or pages)
// it names.
func (d *Driver) redoLogDriven() error {
	if d.redoLSN.IsNull() {
		return nil
	}

	lsn := d.redoLSN
	for {
		rec, next, err := d.Log.Fetch(lsn, true)
		if err != nil {
			if errors.Is(err, wal.ErrEndOfLog) || errors.Is(err, wal.ErrTornRecord) {
				break
			}
			return err
		}

		if rec.Flags.IsRedo() {
			if err := d.redoOneRecord(rec, lsn); err != nil {
				return err
			}
		}

		if next.IsNull() {
			break
		}
		lsn = next
	}
	return nil
}

// redoOneRecord dispatches a single redoable record to its target
// page(s), or replays it directly when it names no page at all.
func (d *Driver) redoOneRecord(rec wal.Record, lsn wal.LSN) error {
	if rec.PID.IsZero() {
		return d.redoPagelessRecord(rec)
	}

	if err := d.redoRecordOnPage(rec, rec.PID, lsn); err != nil {
		return err
	}
	if rec.Flags.IsMultiPage() && !rec.PID2.IsZero() {
		if err := d.redoRecordOnPage(rec, rec.PID2, lsn); err != nil {
			return err
		}
	}
	return nil
}

// redoPagelessRecord handles mount/dismount (replayed unconditionally)
// and single-log system-transaction records that name no page
// (replayed only if their transaction is still recorded as active —
// which by Redo time means never, since Analysis synthesizes and
// immediately ends every single-log sys-xct, but the check is kept
// for fidelity to the rule as stated).
func (d *Driver) redoPagelessRecord(rec wal.Record) error {
	switch rec.Type {
	case wal.RecMountVol, wal.RecDismountVol:
		payload, err := wal.DecodeMountVol(rec.Payload)
		if err != nil {
			return err
		}
		if d.Mount == nil {
			return nil
		}
		if rec.Type == wal.RecMountVol {
			if err := d.Mount.Mount(payload.Volume, payload.Path); err != nil {
				logger.Warnf("recovery: redo mount_vol for volume %d: %v", payload.Volume, err)
			}
		} else {
			if err := d.Mount.Dismount(payload.Volume); err != nil {
				logger.Warnf("recovery: redo dismount_vol for volume %d: %v", payload.Volume, err)
			}
		}
		return nil
	default:
		if rec.Tid == 0 {
			return nil
		}
		desc, ok := d.Txns.Get(rec.Tid)
		if !ok || desc.State != txntable.Active {
			return nil
		}
		return d.Redo.ApplyRedo(rec, nil)
	}
}

// redoRecordOnPage implements the per-record body of the log-driven
// loop for a single target page.
func (d *Driver) redoRecordOnPage(rec wal.Record, pid wal.PageID, lsn wal.LSN) error {
	idx, ok := d.Pages.Lookup(pid)
	if !ok {
		if rec.Type == wal.RecDeallocPage {
			return nil
		}
		return fmt.Errorf("%w: page %s, record %s", ErrDeallocatedPageMissingCB, pid, rec.Type)
	}

	cb, err := d.Pages.Get(idx)
	if err != nil {
		return err
	}

	inDoubt, err := d.Pages.IsInDoubt(idx)
	if err != nil {
		return err
	}
	dirty, err := d.Pages.IsDirty(idx)
	if err != nil {
		return err
	}
	if !inDoubt && !dirty {
		if rec.Type == wal.RecAllocPage {
			return nil
		}
		return fmt.Errorf("%w: page %s, record %s", ErrUnexpectedRecordOnUsedPage, pid, rec.Type)
	}

	if !cb.Latch.TryLockImmediate() {
		// Concurrent mode: another thread is already driving SPR or a
		// conflicting redo on this page. Serial mode never contends.
		return nil
	}
	defer cb.Latch.Unlock()

	firstRedo := inDoubt
	if inDoubt {
		pastEnd, err := d.Pages.LoadForRedo(idx)
		if err != nil {
			if errors.Is(err, bufferpool.ErrBadChecksum) {
				cb.PageLSN = wal.NullLSN
				if err := d.singlePageRecovery(cb, lsn, true); err != nil {
					return err
				}
			} else {
				return err
			}
		} else if pastEnd {
			cb.PageLSN = wal.NullLSN
		}
	}

	if cb.PageLSN.Less(lsn) {
		if err := d.Redo.ApplyRedo(rec, cb); err != nil {
			return err
		}
		cb.PageLSN = lsn
		cb.RecLSN = wal.Min(cb.RecLSN, lsn)
	} else {
		cb.PageLSN = cb.PageLSN.Advance(1)
	}

	if firstRedo {
		if err := d.Pages.InDoubtToDirty(idx); err != nil {
			return err
		}
	}
	return nil
}

// redoPageDriven implements the page-driven variant: drive SPR off
// the buffer pool's in-doubt set directly, one SPR log scan per
// in-doubt page, instead of one log scan that dispatches records to
// every page.
func (d *Driver) redoPageDriven() error {
	for _, cb := range d.Pages.Snapshot() {
		inDoubt, err := d.Pages.IsInDoubt(cb.Idx)
		if err != nil {
			return err
		}
		if !inDoubt {
			continue
		}

		if !cb.Latch.TryLockImmediate() {
			continue
		}

		err = func() error {
			defer cb.Latch.Unlock()

			pastEnd, err := d.Pages.LoadForRedo(cb.Idx)
			if err != nil {
				if !errors.Is(err, bufferpool.ErrBadChecksum) {
					return err
				}
			}
			if pastEnd || errors.Is(err, bufferpool.ErrBadChecksum) {
				cb.PageLSN = wal.NullLSN
			}

			expected := cb.ExpectedEMLSN
			if err := d.singlePageRecovery(cb, expected, true); err != nil {
				return err
			}
			cb.ExpectedEMLSN = wal.NullLSN
			return d.Pages.InDoubtToDirty(cb.Idx)
		}()
		if err != nil {
			return err
		}
	}
	return nil
}
