package recovery

import (
	"errors"
	"fmt"

	"github.com/ariesrecover/ariesrecover/logger"
	"github.com/ariesrecover/ariesrecover/txntable"
	"github.com/ariesrecover/ariesrecover/wal"
)

// analysis reconstructs the buffer pool's in_doubt set and the
// transaction table by scanning forward from the master pointer. It
// assigns d.redoLSN, d.undoLSN, d.commitLSN, d.lastLSN and
// d.undoHeap, all of which redo/undo depend on.
func (d *Driver) analysis() error {
	master := d.Log.MasterLSN()
	if master.IsNull() {
		d.redoLSN = wal.NullLSN
		d.undoLSN = wal.NullLSN
		d.commitLSN = wal.NullLSN
		d.lastLSN = wal.NullLSN
		d.devices = make(map[uint32]string)
		d.undoHeap = txntable.NewUndoHeap()
		d.analysisInDoubtCount = 0
		return nil
	}

	d.devices = make(map[uint32]string)

	var (
		beginLSN           wal.LSN
		redoLSN, undoLSN   wal.LSN
		lastMountLSN       wal.LSN
		lastLSN            wal.LSN
		numChkptEndHandled int
		first              = true
	)

	lsn := master
	for {
		rec, next, err := d.Log.Fetch(lsn, true)
		if err != nil {
			if errors.Is(err, wal.ErrEndOfLog) || errors.Is(err, wal.ErrTornRecord) {
				break
			}
			return err
		}
		if rec.LSNCheck != lsn {
			return fmt.Errorf("%w: record at %s carries lsn_check %s", ErrLSNCheckMismatch, lsn, rec.LSNCheck)
		}
		lastLSN = lsn

		if first {
			if rec.Type != wal.RecBeginChkpt {
				return fmt.Errorf("%w: record at master %s is %s", ErrMalformedMasterCheckpoint, master, rec.Type)
			}
			beginLSN = lsn
			first = false
			begin, err := wal.DecodeBeginChkpt(rec.Payload)
			if err != nil {
				return err
			}
			lastMountLSN = begin.LastMountLSN
		}

		masterOnly := numChkptEndHandled == 0

		switch rec.Type {
		case wal.RecBeginChkpt:
			// Handled above for the master's own begin_chkpt; any later
			// begin_chkpt starts a checkpoint the master does not name
			// (one that never completed, or completed without the
			// master being moved to it), and its records are ignored.

		case wal.RecChkptDevTab:
			if masterOnly {
				payload, err := wal.DecodeChkptDevTab(rec.Payload)
				if err != nil {
					return err
				}
				for _, dev := range payload.Devices {
					d.devices[dev.Volume] = dev.Path
					if d.Mount != nil {
						if err := d.Mount.Mount(dev.Volume, dev.Path); err != nil {
							logger.Warnf("recovery: mounting volume %d from chkpt_dev_tab: %v", dev.Volume, err)
						}
					}
				}
			}

		case wal.RecChkptBfTab:
			if masterOnly {
				payload, err := wal.DecodeChkptBfTab(rec.Payload)
				if err != nil {
					return err
				}
				for _, e := range payload.Entries {
					if _, err := d.Pages.RegisterAndMark(e.PID, e.RecLSN); err != nil {
						return fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
					}
				}
			}

		case wal.RecChkptXctTab:
			if masterOnly {
				payload, err := wal.DecodeChkptXctTab(rec.Payload)
				if err != nil {
					return err
				}
				for _, e := range payload.Entries {
					if txntable.State(e.State) == txntable.Ended {
						continue
					}
					d.Txns.InsertFromCheckpoint(e)
				}
				d.Txns.SetYoungestTid(payload.YoungestTid)
			}

		case wal.RecEndChkpt:
			if masterOnly {
				payload, err := wal.DecodeEndChkpt(rec.Payload)
				if err != nil {
					return err
				}
				if payload.BeginLSN != beginLSN {
					return fmt.Errorf("%w: end_chkpt at %s names begin_lsn %s, want %s", ErrMalformedMasterCheckpoint, lsn, payload.BeginLSN, beginLSN)
				}
				redoLSN = payload.MinRecLSN
				undoLSN = payload.MinXctLSN
				numChkptEndHandled++
			}

		case wal.RecMountVol:
			payload, err := wal.DecodeMountVol(rec.Payload)
			if err != nil {
				return err
			}
			if redoLSN.IsNull() || lsn.Less(redoLSN) {
				d.devices[payload.Volume] = payload.Path
				if d.Mount != nil {
					if err := d.Mount.Mount(payload.Volume, payload.Path); err != nil {
						logger.Warnf("recovery: mounting volume %d from mount_vol: %v", payload.Volume, err)
					}
				}
			}
			lastMountLSN = lsn

		case wal.RecDismountVol:
			payload, err := wal.DecodeMountVol(rec.Payload)
			if err != nil {
				return err
			}
			if redoLSN.IsNull() || lsn.Less(redoLSN) {
				delete(d.devices, payload.Volume)
				if d.Mount != nil {
					if err := d.Mount.Dismount(payload.Volume); err != nil {
						logger.Warnf("recovery: dismounting volume %d from dismount_vol: %v", payload.Volume, err)
					}
				}
			}
			lastMountLSN = lsn

		case wal.RecXctEnd, wal.RecXctAbort, wal.RecXctFreeingSpace:
			d.Txns.MarkEnded(rec.Tid)

		case wal.RecXctEndGroup:
			payload, err := wal.DecodeXctEndGroup(rec.Payload)
			if err != nil {
				return err
			}
			d.Txns.MarkEndedGroup(payload.Tids)

		case wal.RecCompensate:
			if rec.Flags.IsUndo() {
				return ErrUndoableCompensate
			}
			// A CLR is part of its transaction's chain like any other
			// record: undo_nxt advances to it. Undo's own chain walk
			// recognizes the compensate flag and skips straight to its
			// undo_next without reapplying it.
			d.Txns.Touch(rec.Tid, lsn, true)

		case wal.RecSkip, wal.RecComment:
			// No bookkeeping content.

		default:
			if err := d.analyzeGenericRecord(rec, lsn); err != nil {
				return err
			}
		}

		if next.IsNull() {
			break
		}
		lsn = next
	}

	if numChkptEndHandled == 0 {
		return ErrMissingRedoOrUndoLSN
	}
	// A checkpoint with nothing dirty at the time it ran leaves
	// min_rec_lsn null; that is not "nothing to redo", since activity
	// after the checkpoint still needs scanning, so floor the scan at
	// the checkpoint's own start rather than skip Redo altogether.
	if redoLSN.IsNull() {
		redoLSN = beginLSN
	}
	if master.Less(redoLSN) {
		redoLSN = master
	}

	if err := d.replayMountWindow(redoLSN, lastMountLSN); err != nil {
		return err
	}

	commitLSN := wal.NullLSN
	for _, desc := range d.Txns.Snapshot() {
		if desc.State == txntable.Ended {
			if d.Locks != nil {
				d.Locks.ReleaseAll(desc.Tid)
			}
			d.Txns.Destroy(desc.Tid)
			continue
		}
		commitLSN = wal.Min(commitLSN, desc.FirstLSN)
	}

	d.undoHeap = txntable.NewUndoHeap()
	for _, desc := range d.Txns.Doomed() {
		d.undoHeap.PushDesc(desc)
	}

	d.redoLSN = redoLSN
	d.undoLSN = undoLSN
	d.commitLSN = commitLSN
	d.lastLSN = lastLSN
	d.lastMountLSN = lastMountLSN
	d.analysisInDoubtCount = d.Pages.InDoubtCount()
	return nil
}

// analyzeGenericRecord handles every record type not already
// dispatched by name in analysis: single-log system transactions,
// alloc_page/dealloc_page, and ordinary redoable/undoable records.
func (d *Driver) analyzeGenericRecord(rec wal.Record, lsn wal.LSN) error {
	if rec.Flags.IsSingleLogSysXct() {
		d.Txns.SynthesizeSysXct(rec.Tid, lsn)
		return d.analyzeAllocationAware(rec, lsn)
	}

	if rec.Type == wal.RecAllocPage || rec.Type == wal.RecDeallocPage {
		return d.clearInDoubtIfPresent(rec.PID, rec.Type == wal.RecAllocPage)
	}

	if rec.Tid != 0 {
		d.Txns.Touch(rec.Tid, lsn, rec.Flags.IsUndo())
		if d.Locks != nil && !rec.PID.IsZero() {
			if err := d.Locks.AcquireForRecovery(rec.Tid, rec.PID); err != nil {
				logger.Warnf("recovery: reacquiring lock for tid %d on %s: %v", rec.Tid, rec.PID, err)
			}
		}
	}

	if !rec.PID.IsZero() {
		if _, err := d.Pages.RegisterAndMark(rec.PID, lsn); err != nil {
			return fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
		}
	}
	if rec.Flags.IsMultiPage() && !rec.PID2.IsZero() {
		if _, err := d.Pages.RegisterAndMark(rec.PID2, lsn); err != nil {
			return fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
		}
	}
	return nil
}

// analyzeAllocationAware handles the body of a single-log system
// transaction's record: alloc_page/dealloc_page clear in-doubt state
// instead of registering it, everything else registers the page(s) it
// names exactly like an ordinary redoable record.
func (d *Driver) analyzeAllocationAware(rec wal.Record, lsn wal.LSN) error {
	if rec.Type == wal.RecAllocPage || rec.Type == wal.RecDeallocPage {
		return d.clearInDoubtIfPresent(rec.PID, rec.Type == wal.RecAllocPage)
	}
	if rec.PID.IsZero() {
		return ErrZeroPageID
	}
	if _, err := d.Pages.RegisterAndMark(rec.PID, lsn); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
	}
	if rec.Flags.IsMultiPage() && !rec.PID2.IsZero() {
		if _, err := d.Pages.RegisterAndMark(rec.PID2, lsn); err != nil {
			return fmt.Errorf("%w: %v", ErrBufferPoolExhausted, err)
		}
	}
	return nil
}

func (d *Driver) clearInDoubtIfPresent(pid wal.PageID, keepUsed bool) error {
	idx := d.Pages.LookupInDoubt(pid)
	if idx == 0 {
		return nil
	}
	return d.Pages.ClearInDoubt(idx, keepUsed)
}

// replayMountWindow reconstructs the mount/dismount state of every
// volume touched between redoLSN and the most recent mount/dismount
// record seen during the forward scan: chkpt_dev_tab only captured
// the picture as of the checkpoint, and any mount/dismount since then
// whose LSN still falls at or after redoLSN needs to be replayed in
// chronological order to get the window's final state right.
func (d *Driver) replayMountWindow(redoLSN, lastMountLSN wal.LSN) error {
	if lastMountLSN.IsNull() || lastMountLSN.Less(redoLSN) {
		return nil
	}

	type mountEvent struct {
		lsn     wal.LSN
		volume  uint32
		path    string
		mounted bool
	}
	var events []mountEvent

	// A backward Fetch returns the record that ends at lsn, so the walk
	// starts at the end of the last mount/dismount record.
	_, lsn, err := d.Log.Fetch(lastMountLSN, true)
	if err != nil {
		return err
	}
	for {
		rec, prev, err := d.Log.Fetch(lsn, false)
		if err != nil {
			if errors.Is(err, wal.ErrEndOfLog) || errors.Is(err, wal.ErrTornRecord) {
				break
			}
			return err
		}
		switch rec.Type {
		case wal.RecMountVol:
			payload, err := wal.DecodeMountVol(rec.Payload)
			if err != nil {
				return err
			}
			events = append(events, mountEvent{lsn: prev, volume: payload.Volume, path: payload.Path, mounted: true})
		case wal.RecDismountVol:
			payload, err := wal.DecodeMountVol(rec.Payload)
			if err != nil {
				return err
			}
			events = append(events, mountEvent{lsn: prev, volume: payload.Volume, mounted: false})
		}
		if prev.IsNull() || prev.Less(redoLSN) {
			break
		}
		lsn = prev
	}

	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.mounted {
			d.devices[e.volume] = e.path
			if d.Mount != nil {
				if err := d.Mount.Mount(e.volume, e.path); err != nil {
					logger.Warnf("recovery: mounting volume %d while replaying mount window: %v", e.volume, err)
				}
			}
		} else {
			delete(d.devices, e.volume)
			if d.Mount != nil {
				if err := d.Mount.Dismount(e.volume); err != nil {
					logger.Warnf("recovery: dismounting volume %d while replaying mount window: %v", e.volume, err)
				}
			}
		}
	}
	return nil
}
