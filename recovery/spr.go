package recovery

import (
	"errors"
	"fmt"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/wal"
)

// singlePageRecovery recovers a single page in isolation: given a page
// (one whose body is virgin or corrupt, or, under page-driven redo,
// any in-doubt page), gather every redoable record
// targeting it between redo_lsn and expectedEMLSN and replay them in
// LSN order. This core maintains no per-page back-chain, so the
// gathering pass is always a forward log scan rather than a walk
// backward from expectedEMLSN.
func (d *Driver) singlePageRecovery(cb *bufferpool.CB, expectedEMLSN wal.LSN, verify bool) error {
	if expectedEMLSN.IsNull() {
		return nil
	}
	if d.redoLSN.IsNull() {
		return fmt.Errorf("recovery: single-page recovery for %s with no redo_lsn", cb.PID)
	}

	lsn := d.redoLSN
	for {
		if expectedEMLSN.Less(lsn) {
			break
		}
		rec, next, err := d.Log.Fetch(lsn, true)
		if err != nil {
			if errors.Is(err, wal.ErrEndOfLog) || errors.Is(err, wal.ErrTornRecord) {
				break
			}
			return err
		}

		if rec.Flags.IsRedo() && (rec.PID == cb.PID || (rec.Flags.IsMultiPage() && rec.PID2 == cb.PID)) {
			if err := d.Redo.ApplyRedo(rec, cb); err != nil {
				return err
			}
			cb.PageLSN = lsn
		}

		if next.IsNull() || expectedEMLSN.Less(next) {
			break
		}
		lsn = next
	}

	if verify && cb.PageLSN != expectedEMLSN {
		return fmt.Errorf("%w: page %s reached %s, wanted %s", ErrSPRVerificationFailed, cb.PID, cb.PageLSN, expectedEMLSN)
	}
	return nil
}
