// Package txntable holds the recovery-time transaction table: the
// descriptors Analysis reconstructs from the log and checkpoint, and
// the max-heap Undo drains them from.
package txntable

import (
	"github.com/ariesrecover/ariesrecover/latch"
	"github.com/ariesrecover/ariesrecover/wal"
)

// State is a transaction descriptor's lifecycle state. Its numeric
// values mirror wal.XctEntry.State so a chkpt_xct_tab record can be
// decoded directly into one without a lookup table.
type State uint8

const (
	Active       State = 1
	FreeingSpace State = 2
	Aborting     State = 3
	Ended        State = 4
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case FreeingSpace:
		return "freeing_space"
	case Aborting:
		return "aborting"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Descriptor is one transaction's recovery-time state.
type Descriptor struct {
	Tid   uint64
	State State

	FirstLSN wal.LSN
	LastLSN  wal.LSN
	UndoNxt  wal.LSN

	SysXct          bool
	SingleLogSysXct bool
	Doomed          bool

	// Latch serializes abort()'s own bookkeeping against concurrent
	// transaction-driven Undo on the same descriptor.
	Latch *latch.Latch
}

func newDescriptor(tid uint64, lsn wal.LSN) *Descriptor {
	return &Descriptor{
		Tid:      tid,
		State:    Active,
		FirstLSN: lsn,
		LastLSN:  lsn,
		Doomed:   true,
		Latch:    latch.New(),
	}
}
