package recovery

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/checkpoint"
	"github.com/ariesrecover/ariesrecover/config"
	"github.com/ariesrecover/ariesrecover/txntable"
	"github.com/ariesrecover/ariesrecover/wal"
)

func newTestLog(t *testing.T) *wal.LogManager {
	t.Helper()
	lm, err := wal.Open(wal.Options{Dir: t.TempDir(), PartitionBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lm.Close() })
	return lm
}

func newTestConfig(t *testing.T, redoMode config.RedoMode, undoMode config.UndoMode) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.RedoMode = redoMode
	cfg.UndoMode = undoMode
	return cfg
}

// recordingApplier is a RedoApplier/UndoApplier that records the LSN
// of every record it is asked to apply, in call order, and stamps the
// page body so tests can tell which records a given page actually
// saw. It never errors.
type recordingApplier struct {
	mu          sync.Mutex
	redoApplied []wal.LSN
	undoApplied []wal.LSN
}

func (a *recordingApplier) ApplyRedo(rec wal.Record, page *bufferpool.CB) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.redoApplied = append(a.redoApplied, rec.LSNCheck)
	if page != nil {
		page.Body = append(page.Body[:0], []byte(rec.LSNCheck.String())...)
	}
	return nil
}

func (a *recordingApplier) ApplyUndo(rec wal.Record, page *bufferpool.CB) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.undoApplied = append(a.undoApplied, rec.LSNCheck)
	return nil
}

func TestAnalysisOnBrandNewDatabaseIsNoOp(t *testing.T) {
	lm := newTestLog(t)
	pages := bufferpool.NewTable(16, bufferpool.NewFileLoader(t.TempDir(), 512))
	txns := txntable.New()
	cfg := newTestConfig(t, config.RedoLogDriven, config.UndoTransaction)

	d := New(lm, pages, txns, cfg, nil, nil, nil, nil)
	report, err := d.Recover()
	require.NoError(t, err)
	require.Equal(t, 0, report.InDoubtCount)
	require.Equal(t, 0, report.DirtyCount)
	require.Equal(t, 0, report.DoomedCount)
}

func TestAnalysisRejectsRecordAtMasterThatIsNotBeginChkpt(t *testing.T) {
	lm := newTestLog(t)
	pages := bufferpool.NewTable(16, bufferpool.NewFileLoader(t.TempDir(), 512))
	txns := txntable.New()
	cfg := newTestConfig(t, config.RedoLogDriven, config.UndoTransaction)

	lsn, err := lm.Insert(wal.Header{Type: wal.RecComment}, nil)
	require.NoError(t, err)
	require.NoError(t, lm.SetMaster(lsn))

	d := New(lm, pages, txns, cfg, nil, nil, nil, nil)
	err = d.analysis()
	require.ErrorIs(t, err, ErrMalformedMasterCheckpoint)
}

func TestAnalysisOnEmptyCheckpointFloorsRedoLsnAtBeginChkpt(t *testing.T) {
	lm := newTestLog(t)
	pages := bufferpool.NewTable(16, bufferpool.NewFileLoader(t.TempDir(), 512))
	txns := txntable.New()
	cfg := newTestConfig(t, config.RedoLogDriven, config.UndoTransaction)

	c := checkpoint.New(lm, pages, txns)
	res, err := c.Run(nil, wal.NullLSN)
	require.NoError(t, err)
	require.True(t, res.MinRecLSN.IsNull())

	d := New(lm, pages, txns, cfg, nil, nil, nil, nil)
	require.NoError(t, d.analysis())
	require.Equal(t, res.BeginLSN, d.redoLSN)
}

// Scenario 1: clean shutdown, clean recover. A checkpoint with
// nothing dirty and nothing active produces a restart that leaves
// Redo and Undo with literally nothing to do.
func TestCleanCheckpointThenCleanRestartIsNoOp(t *testing.T) {
	dir := t.TempDir()
	lm, err := wal.Open(wal.Options{Dir: dir, PartitionBytes: 1 << 20})
	require.NoError(t, err)

	pages := bufferpool.NewTable(16, bufferpool.NewFileLoader(t.TempDir(), 512))
	txns := txntable.New()

	c := checkpoint.New(lm, pages, txns)
	_, err = c.Run(nil, wal.NullLSN)
	require.NoError(t, err)
	require.NoError(t, lm.Close())

	// Restart: fresh in-memory tables, reopen the same log directory.
	lm2, err := wal.Open(wal.Options{Dir: dir, PartitionBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lm2.Close() })

	pages2 := bufferpool.NewTable(16, bufferpool.NewFileLoader(t.TempDir(), 512))
	txns2 := txntable.New()
	cfg := newTestConfig(t, config.RedoLogDriven, config.UndoTransaction)
	applier := &recordingApplier{}

	d := New(lm2, pages2, txns2, cfg, applier, applier, nil, nil)
	report, err := d.Recover()
	require.NoError(t, err)
	require.Equal(t, 0, report.InDoubtCount)
	require.Equal(t, 0, report.DirtyCount)
	require.Equal(t, 0, report.DoomedCount)
	require.Empty(t, applier.redoApplied)
	require.Empty(t, applier.undoApplied)
}

func mustInsert(t *testing.T, lm *wal.LogManager, h wal.Header, payload []byte) wal.LSN {
	t.Helper()
	lsn, err := lm.Insert(h, payload)
	require.NoError(t, err)
	return lsn
}

func TestRecoverConcurrentReturnsBeforeRedoUndoThenDeliversReport(t *testing.T) {
	lm := newTestLog(t)
	pages := bufferpool.NewTable(16, bufferpool.NewFileLoader(t.TempDir(), 512))
	txns := txntable.New()
	c := checkpoint.New(lm, pages, txns)
	_, err := c.Run(nil, wal.NullLSN)
	require.NoError(t, err)

	cfg := newTestConfig(t, config.RedoLogDriven, config.UndoTransaction)
	applier := &recordingApplier{}
	d := New(lm, pages, txns, cfg, applier, applier, nil, nil)

	ch, err := d.RecoverConcurrent()
	require.NoError(t, err)

	result := <-ch
	require.NoError(t, result.Err)
	require.NotNil(t, result.Report)
	require.Equal(t, 0, result.Report.InDoubtCount)
}
