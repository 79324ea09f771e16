package txntable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ariesrecover/ariesrecover/wal"
)

func TestTouchCreatesThenMergesDescriptor(t *testing.T) {
	tbl := New()

	d := tbl.Touch(7, wal.NewLSN(1, 100), true)
	require.Equal(t, uint64(7), d.Tid)
	require.Equal(t, wal.NewLSN(1, 100), d.FirstLSN)
	require.Equal(t, wal.NewLSN(1, 100), d.LastLSN)
	require.Equal(t, wal.NewLSN(1, 100), d.UndoNxt)
	require.True(t, d.Doomed)

	d2 := tbl.Touch(7, wal.NewLSN(1, 200), false)
	require.Same(t, d, d2)
	require.Equal(t, wal.NewLSN(1, 100), d.FirstLSN)
	require.Equal(t, wal.NewLSN(1, 200), d.LastLSN)
	require.Equal(t, wal.NewLSN(1, 100), d.UndoNxt, "non-undoable touch must not advance undo_nxt")
}

func TestTouchLowersFirstLSNToEarliestSeen(t *testing.T) {
	tbl := New()
	tbl.Touch(1, wal.NewLSN(1, 500), true)
	d := tbl.Touch(1, wal.NewLSN(1, 50), true)
	require.Equal(t, wal.NewLSN(1, 50), d.FirstLSN)
}

func TestSynthesizeSysXctEndsImmediatelyWithNullUndoNxt(t *testing.T) {
	tbl := New()
	tbl.SynthesizeSysXct(42, wal.NewLSN(1, 10))

	d, ok := tbl.Get(42)
	require.True(t, ok)
	require.True(t, d.SysXct)
	require.True(t, d.SingleLogSysXct)
	require.Equal(t, Ended, d.State)
	require.False(t, d.Doomed)
	require.True(t, d.UndoNxt.IsNull())
}

func TestMarkEndedClearsDoomed(t *testing.T) {
	tbl := New()
	tbl.Touch(3, wal.NewLSN(1, 10), true)
	tbl.MarkEnded(3)

	d, ok := tbl.Get(3)
	require.True(t, ok)
	require.Equal(t, Ended, d.State)
	require.False(t, d.Doomed)
}

func TestMarkEndedGroupEndsEveryNamedTid(t *testing.T) {
	tbl := New()
	tbl.Touch(1, wal.NewLSN(1, 10), true)
	tbl.Touch(2, wal.NewLSN(1, 20), true)
	tbl.Touch(3, wal.NewLSN(1, 30), true)

	tbl.MarkEndedGroup([]uint64{1, 3})

	d1, _ := tbl.Get(1)
	d2, _ := tbl.Get(2)
	d3, _ := tbl.Get(3)
	require.Equal(t, Ended, d1.State)
	require.Equal(t, Active, d2.State)
	require.Equal(t, Ended, d3.State)
}

func TestMarkEndedOnUnknownTidIsNoop(t *testing.T) {
	tbl := New()
	tbl.MarkEnded(999)
	_, ok := tbl.Get(999)
	require.False(t, ok)
}

func TestSetUndoNxtFailsForUnknownTransaction(t *testing.T) {
	tbl := New()
	err := tbl.SetUndoNxt(1, wal.NewLSN(1, 1))
	require.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestDestroyEndedRemovesOnlyEndedDescriptors(t *testing.T) {
	tbl := New()
	tbl.Touch(1, wal.NewLSN(1, 10), true)
	tbl.Touch(2, wal.NewLSN(1, 20), true)
	tbl.MarkEnded(1)

	n := tbl.DestroyEnded()
	require.Equal(t, 1, n)
	_, ok1 := tbl.Get(1)
	_, ok2 := tbl.Get(2)
	require.False(t, ok1)
	require.True(t, ok2)
}

func TestActiveAndDoomedFilters(t *testing.T) {
	tbl := New()
	tbl.Touch(1, wal.NewLSN(1, 10), true)
	tbl.Touch(2, wal.NewLSN(1, 20), true)
	tbl.MarkEnded(2)

	require.Len(t, tbl.Active(), 1)
	require.Len(t, tbl.Doomed(), 1)
	require.Equal(t, uint64(1), tbl.Doomed()[0].Tid)
}

func TestCommitLSNIsMinFirstLSNAcrossActiveOrNullIfNone(t *testing.T) {
	tbl := New()
	require.True(t, tbl.CommitLSN().IsNull())

	tbl.Touch(1, wal.NewLSN(1, 300), true)
	tbl.Touch(2, wal.NewLSN(1, 100), true)
	require.Equal(t, wal.NewLSN(1, 100), tbl.CommitLSN())

	tbl.MarkEnded(2)
	require.Equal(t, wal.NewLSN(1, 300), tbl.CommitLSN())

	tbl.MarkEnded(1)
	require.True(t, tbl.CommitLSN().IsNull())
}

func TestInsertFromCheckpointDoesNotOverwriteExistingDescriptor(t *testing.T) {
	tbl := New()
	tbl.Touch(5, wal.NewLSN(1, 10), true)
	tbl.MarkEnded(5)

	tbl.InsertFromCheckpoint(wal.XctEntry{Tid: 5, FirstLSN: wal.NewLSN(1, 1), LastLSN: wal.NewLSN(1, 1)})

	d, ok := tbl.Get(5)
	require.True(t, ok)
	require.Equal(t, Ended, d.State, "a later log record already ended this tid; the checkpoint snapshot must not resurrect it")
}

func TestYoungestTidTracksHighestSeen(t *testing.T) {
	tbl := New()
	tbl.Touch(5, wal.NewLSN(1, 1), true)
	tbl.Touch(12, wal.NewLSN(1, 2), true)
	tbl.Touch(3, wal.NewLSN(1, 3), true)
	require.Equal(t, uint64(12), tbl.YoungestTid())

	tbl.SetYoungestTid(4)
	require.Equal(t, uint64(12), tbl.YoungestTid())
	tbl.SetYoungestTid(20)
	require.Equal(t, uint64(20), tbl.YoungestTid())
}
