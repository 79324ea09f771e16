package recovery

import (
	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/wal"
)

// RedoApplier dispatches a redoable record's effect onto an in-memory
// page body. The access-method layer that actually interprets
// btree_insert/btree_update/foster_* payloads is out of this core's
// scope; RedoApplier is the seam it plugs into.
type RedoApplier interface {
	ApplyRedo(rec wal.Record, page *bufferpool.CB) error
}

// UndoApplier dispatches a record's compensating action onto an
// in-memory page body during Undo.
type UndoApplier interface {
	ApplyUndo(rec wal.Record, page *bufferpool.CB) error
}

// Mounter performs the actual (out-of-scope) device mount/dismount
// I/O that chkpt_dev_tab and mount_vol/dismount_vol records describe.
// A nil Mounter is valid: Analysis and Redo still track which volumes
// are nominally mounted without touching any backing storage.
type Mounter interface {
	Mount(vol uint32, path string) error
	Dismount(vol uint32) error
}

// NoopApplier implements both RedoApplier and UndoApplier by doing
// nothing beyond advancing bookkeeping the driver itself tracks
// (page_lsn). It exists so this core is testable end to end without a
// real access-method layer; a production engine supplies its own.
type NoopApplier struct{}

func (NoopApplier) ApplyRedo(wal.Record, *bufferpool.CB) error { return nil }
func (NoopApplier) ApplyUndo(wal.Record, *bufferpool.CB) error { return nil }
