package txntable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ariesrecover/ariesrecover/wal"
)

func desc(tid uint64, undoNxt wal.LSN) *Descriptor {
	return &Descriptor{Tid: tid, UndoNxt: undoNxt}
}

func TestUndoHeapDrainsLargestUndoNxtFirst(t *testing.T) {
	h := NewUndoHeap()
	h.PushDesc(desc(1, wal.NewLSN(1, 100)))
	h.PushDesc(desc(2, wal.NewLSN(1, 500)))
	h.PushDesc(desc(3, wal.NewLSN(1, 300)))

	var order []uint64
	for d := h.PopDesc(); d != nil; d = h.PopDesc() {
		order = append(order, d.Tid)
	}
	require.Equal(t, []uint64{2, 3, 1}, order)
}

func TestUndoHeapTieBreaksOnTidAscending(t *testing.T) {
	h := NewUndoHeap()
	lsn := wal.NewLSN(1, 42)
	h.PushDesc(desc(9, lsn))
	h.PushDesc(desc(2, lsn))
	h.PushDesc(desc(5, lsn))

	var order []uint64
	for d := h.PopDesc(); d != nil; d = h.PopDesc() {
		order = append(order, d.Tid)
	}
	require.Equal(t, []uint64{2, 5, 9}, order)
}

func TestUndoHeapSkipsSysXctAndNullUndoNxt(t *testing.T) {
	h := NewUndoHeap()
	sys := desc(1, wal.NewLSN(1, 10))
	sys.SysXct = true
	h.PushDesc(sys)
	h.PushDesc(desc(2, wal.NullLSN))
	require.Equal(t, 0, h.Len())
}

func TestUndoHeapRepushAfterCLRAdvancesUndoNxtBackward(t *testing.T) {
	h := NewUndoHeap()
	a := desc(1, wal.NewLSN(1, 300))
	b := desc(2, wal.NewLSN(1, 200))
	h.PushDesc(a)
	h.PushDesc(b)

	popped := h.PopDesc()
	require.Equal(t, a, popped)

	popped.UndoNxt = wal.NewLSN(1, 150)
	h.Repush(popped)

	require.Equal(t, b, h.PopDesc())
	require.Equal(t, a, h.PopDesc())
}

func TestUndoHeapRepushWithNullUndoNxtDropsDescriptor(t *testing.T) {
	h := NewUndoHeap()
	a := desc(1, wal.NewLSN(1, 10))
	h.PushDesc(a)
	popped := h.PopDesc()
	popped.UndoNxt = wal.NullLSN
	h.Repush(popped)
	require.Equal(t, 0, h.Len())
}

func TestUndoHeapEmptyPopReturnsNil(t *testing.T) {
	h := NewUndoHeap()
	require.Nil(t, h.PopDesc())
}
