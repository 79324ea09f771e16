package bufferpool

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ariesrecover/ariesrecover/wal"
)

func TestRegisterAndMarkAllocatesThenTakesMinRecLSN(t *testing.T) {
	tbl := NewTable(4, NewFileLoader(t.TempDir(), 512))
	pid := wal.PageID{Volume: 1, Page: 10}

	idx1, err := tbl.RegisterAndMark(pid, wal.NewLSN(1, 100))
	require.NoError(t, err)
	require.NotZero(t, idx1)

	idx2, err := tbl.RegisterAndMark(pid, wal.NewLSN(1, 40))
	require.NoError(t, err)
	require.Equal(t, idx1, idx2)

	cb, err := tbl.Get(idx1)
	require.NoError(t, err)
	require.Equal(t, wal.NewLSN(1, 40), cb.RecLSN)
	require.True(t, cb.InDoubt)
	require.True(t, cb.Used)
}

func TestOutOfBufferSlotsIsFatal(t *testing.T) {
	tbl := NewTable(1, NewFileLoader(t.TempDir(), 512))
	_, err := tbl.RegisterAndMark(wal.PageID{Volume: 1, Page: 1}, wal.NewLSN(1, 1))
	require.NoError(t, err)

	_, err = tbl.RegisterAndMark(wal.PageID{Volume: 1, Page: 2}, wal.NewLSN(1, 1))
	require.ErrorIs(t, err, ErrOutOfBufferSlots)
}

func TestClearInDoubtRemovesOrKeeps(t *testing.T) {
	tbl := NewTable(4, NewFileLoader(t.TempDir(), 512))
	pid := wal.PageID{Volume: 1, Page: 1}
	idx, err := tbl.RegisterAndMark(pid, wal.NewLSN(1, 1))
	require.NoError(t, err)

	require.NoError(t, tbl.ClearInDoubt(idx, true))
	inDoubt, err := tbl.IsInDoubt(idx)
	require.NoError(t, err)
	require.False(t, inDoubt)
	used, err := tbl.IsUsed(idx)
	require.NoError(t, err)
	require.True(t, used)

	idx2, err := tbl.RegisterAndMark(wal.PageID{Volume: 1, Page: 2}, wal.NewLSN(1, 1))
	require.NoError(t, err)
	require.NoError(t, tbl.ClearInDoubt(idx2, false))
	require.Equal(t, 0, tbl.LookupInDoubt(wal.PageID{Volume: 1, Page: 2}))

	// The freed slot is reused by the next allocation.
	idx3, err := tbl.RegisterAndMark(wal.PageID{Volume: 1, Page: 3}, wal.NewLSN(1, 1))
	require.NoError(t, err)
	require.Equal(t, idx2, idx3)
}

func TestInDoubtToDirtyIsOneWay(t *testing.T) {
	tbl := NewTable(4, NewFileLoader(t.TempDir(), 512))
	pid := wal.PageID{Volume: 1, Page: 1}
	idx, err := tbl.RegisterAndMark(pid, wal.NewLSN(1, 1))
	require.NoError(t, err)

	require.NoError(t, tbl.InDoubtToDirty(idx))
	inDoubt, _ := tbl.IsInDoubt(idx)
	dirty, _ := tbl.IsDirty(idx)
	require.False(t, inDoubt)
	require.True(t, dirty)
}

func TestFileLoaderRoundTripAndPastEnd(t *testing.T) {
	loader := NewFileLoader(t.TempDir(), 256)
	require.NoError(t, loader.MountVolume(1))

	pastEndPID := wal.PageID{Volume: 1, Page: 5}
	_, _, pastEnd, err := loader.Load(pastEndPID)
	require.NoError(t, err)
	require.True(t, pastEnd)

	body := make([]byte, 200)
	for i := range body {
		body[i] = byte(i)
	}
	require.NoError(t, loader.WritePage(pastEndPID, wal.NewLSN(1, 999), body))

	gotBody, gotLSN, pastEnd2, err := loader.Load(pastEndPID)
	require.NoError(t, err)
	require.False(t, pastEnd2)
	require.Equal(t, wal.NewLSN(1, 999), gotLSN)
	require.Equal(t, body, gotBody[:len(body)])
}

func TestFileLoaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	loader := NewFileLoader(dir, 256)
	require.NoError(t, loader.MountVolume(1))
	pid := wal.PageID{Volume: 1, Page: 0}
	require.NoError(t, loader.WritePage(pid, wal.NewLSN(1, 1), []byte("hello")))

	// Corrupt a byte inside the body region directly on disk.
	f, err := os.OpenFile(loader.volumePath(pid.Volume), os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, 10)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, _, _, err = loader.Load(pid)
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestMinRecLSNAcrossPages(t *testing.T) {
	tbl := NewTable(4, NewFileLoader(t.TempDir(), 512))
	_, err := tbl.RegisterAndMark(wal.PageID{Volume: 1, Page: 1}, wal.NewLSN(1, 300))
	require.NoError(t, err)
	_, err = tbl.RegisterAndMark(wal.PageID{Volume: 1, Page: 2}, wal.NewLSN(1, 100))
	require.NoError(t, err)

	require.Equal(t, wal.NewLSN(1, 100), tbl.MinRecLSN())
	require.Equal(t, 2, tbl.InDoubtCount())
}
