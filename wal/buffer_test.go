package wal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T) *LogBuffer {
	t.Helper()
	dir := t.TempDir()
	buf, err := NewLogBuffer(dir, 1<<20, 64, 1<<16, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

func TestInsertFetchRoundTrip(t *testing.T) {
	buf := newTestBuffer(t)

	h := Header{Type: RecBtreeInsert, Tid: 7, PID: PageID{Volume: 1, Page: 42}}
	payload := []byte("hello ARIES")

	lsn, err := buf.Insert(h, payload)
	require.NoError(t, err)
	require.False(t, lsn.IsNull())

	rec, _, err := buf.Fetch(lsn, true)
	require.NoError(t, err)
	require.Equal(t, h.Type, rec.Type)
	require.Equal(t, h.Tid, rec.Tid)
	require.Equal(t, h.PID, rec.PID)
	require.True(t, bytes.Equal(payload, rec.Payload))
	require.Equal(t, lsn, rec.LSNCheck)
}

func TestLSNMonotonicity(t *testing.T) {
	buf := newTestBuffer(t)

	var prev LSN
	for i := 0; i < 50; i++ {
		lsn, err := buf.Insert(Header{Type: RecComment, Tid: uint64(i)}, []byte("x"))
		require.NoError(t, err)
		if i > 0 {
			require.True(t, prev.Less(lsn), "record %d: expected %s < %s", i, prev, lsn)
		}
		prev = lsn
	}
}

func TestForwardAndBackwardScanVisitEveryRecord(t *testing.T) {
	buf := newTestBuffer(t)

	const n = 20
	var lsns []LSN
	for i := 0; i < n; i++ {
		lsn, err := buf.Insert(Header{Type: RecBtreeUpdate, Tid: uint64(i)}, []byte{byte(i)})
		require.NoError(t, err)
		lsns = append(lsns, lsn)
	}

	var forward []LSN
	cursor := lsns[0]
	for {
		rec, next, err := buf.Fetch(cursor, true)
		if err == ErrEndOfLog {
			break
		}
		require.NoError(t, err)
		forward = append(forward, rec.LSNCheck)
		cursor = next
	}
	require.Equal(t, lsns, forward)

	var backward []LSN
	cursor = buf.CurrLSN()
	for {
		rec, prevStart, err := buf.Fetch(cursor, false)
		if err == ErrEndOfLog {
			break
		}
		require.NoError(t, err)
		backward = append(backward, rec.LSNCheck)
		cursor = prevStart
	}
	// backward collects in reverse order of insertion
	for i := range backward {
		require.Equal(t, lsns[len(lsns)-1-i], backward[i])
	}
}

func TestFlushAdvancesDurableLSNMonotonically(t *testing.T) {
	buf := newTestBuffer(t)

	require.True(t, buf.DurableLSN().IsNull() || buf.DurableLSN() == buf.CurrLSN())

	lsn1, err := buf.Insert(Header{Type: RecComment}, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, buf.Flush(lsn1))
	d1 := buf.DurableLSN()
	require.False(t, d1.Less(lsn1))

	lsn2, err := buf.Insert(Header{Type: RecComment}, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, buf.Flush(lsn2))
	d2 := buf.DurableLSN()
	require.False(t, d2.Less(d1))
	require.False(t, d2.Less(lsn2))
}

func TestCompensateRewritesUndoNext(t *testing.T) {
	buf := newTestBuffer(t)

	origLSN, err := buf.Insert(Header{Type: RecBtreeInsert, Tid: 1, XidPrev: NullLSN}, []byte("row"))
	require.NoError(t, err)

	clrTargetLSN, err := buf.Insert(Header{Type: RecCompensate, Tid: 1}, []byte("clr"))
	require.NoError(t, err)

	require.NoError(t, buf.Compensate(origLSN, clrTargetLSN))

	rec, _, err := buf.Fetch(origLSN, true)
	require.NoError(t, err)
	require.Equal(t, clrTargetLSN, rec.XidPrev)
	require.Equal(t, []byte("row"), rec.Payload)
}

func TestPartitionRotationOnFull(t *testing.T) {
	dir := t.TempDir()
	// A tiny partition cap forces a rotation after just a few records.
	buf, err := NewLogBuffer(dir, 256, 64, 1<<16, 2)
	require.NoError(t, err)
	defer buf.Close()

	var lsns []LSN
	for i := 0; i < 30; i++ {
		lsn, err := buf.Insert(Header{Type: RecBtreeOverwrite, Tid: uint64(i)}, bytes.Repeat([]byte{'z'}, 20))
		require.NoError(t, err)
		lsns = append(lsns, lsn)
	}

	require.Greater(t, lsns[len(lsns)-1].Partition(), lsns[0].Partition())

	for _, lsn := range lsns {
		rec, _, err := buf.Fetch(lsn, true)
		require.NoError(t, err)
		require.Equal(t, lsn, rec.LSNCheck)
	}
}

func TestConcurrentInsertsAllSucceedWithDistinctLSNs(t *testing.T) {
	buf := newTestBuffer(t)

	const workers = 16
	const perWorker = 30
	results := make(chan LSN, workers*perWorker)
	errs := make(chan error, workers*perWorker)

	for w := 0; w < workers; w++ {
		go func(w int) {
			for i := 0; i < perWorker; i++ {
				lsn, err := buf.Insert(Header{Type: RecComment, Tid: uint64(w)}, []byte{byte(i)})
				results <- lsn
				errs <- err
			}
		}(w)
	}

	seen := make(map[LSN]bool)
	for i := 0; i < workers*perWorker; i++ {
		require.NoError(t, <-errs)
		lsn := <-results
		require.False(t, seen[lsn], "duplicate LSN assigned: %s", lsn)
		seen[lsn] = true
	}
}
