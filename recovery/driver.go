// Package recovery implements the three-phase Analysis/Redo/Undo
// restart algorithm: reconstruct the buffer pool and transaction
// table from the log, bring every page forward to its pre-crash
// state, then roll back whatever was still in flight.
package recovery

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/config"
	"github.com/ariesrecover/ariesrecover/logger"
	"github.com/ariesrecover/ariesrecover/txntable"
	"github.com/ariesrecover/ariesrecover/wal"
)

// Driver wires a log, a buffer-pool page table and a transaction
// table together with the access-method seams (RedoApplier,
// UndoApplier, LockManager, Mounter) recovery needs but does not
// implement itself, and runs the three phases in order.
type Driver struct {
	Log   *wal.LogManager
	Pages *bufferpool.Table
	Txns  *txntable.Table
	Cfg   *config.Config

	Redo  RedoApplier
	Undo  UndoApplier
	Locks LockManager
	Mount Mounter

	// State Analysis produces and Redo/Undo consume.
	redoLSN      wal.LSN
	undoLSN      wal.LSN
	commitLSN    wal.LSN
	lastLSN      wal.LSN
	devices      map[uint32]string
	lastMountLSN wal.LSN
	undoHeap     *txntable.UndoHeap

	// analysisInDoubtCount is in_doubt_count as Analysis left it, the
	// fixed target Redo's post-condition check compares dirty_count
	// against.
	analysisInDoubtCount int
}

// New constructs a Driver. redoApplier/undoApplier default to
// NoopApplier when nil so the driver is runnable without a real
// access-method layer plugged in; locks and mount are left nil when
// the caller passes nil, since both are genuinely optional.
func New(log *wal.LogManager, pages *bufferpool.Table, txns *txntable.Table, cfg *config.Config, redoApplier RedoApplier, undoApplier UndoApplier, locks LockManager, mount Mounter) *Driver {
	if redoApplier == nil {
		redoApplier = NoopApplier{}
	}
	if undoApplier == nil {
		undoApplier = NoopApplier{}
	}
	return &Driver{
		Log:   log,
		Pages: pages,
		Txns:  txns,
		Cfg:   cfg,
		Redo:  redoApplier,
		Undo:  undoApplier,
		Locks: locks,
		Mount: mount,
	}
}

// Recover runs Analysis, Redo and Undo in order and writes a
// diagnostic report to cfg.ReportPath(). A returned error is always
// fatal: no partial result from an interrupted pass is safe to trust.
func (d *Driver) Recover() (*Report, error) {
	runID := uuid.New()
	log := logger.ForRun("recovery", runID)
	log.Infof("recovery %s: starting, master=%s", runID, d.Log.MasterLSN())

	t0 := time.Now()
	if err := d.analysis(); err != nil {
		return nil, fmt.Errorf("recovery %s: analysis: %w", runID, err)
	}
	analysisTook := time.Since(t0)
	log.Infof("recovery %s: analysis complete in %s, redo_lsn=%s undo_lsn=%s commit_lsn=%s",
		runID, analysisTook, d.redoLSN, d.undoLSN, d.commitLSN)

	t1 := time.Now()
	if err := d.redo(); err != nil {
		return nil, fmt.Errorf("recovery %s: redo: %w", runID, err)
	}
	redoTook := time.Since(t1)
	log.Infof("recovery %s: redo complete in %s", runID, redoTook)

	t2 := time.Now()
	if err := d.undoPhase(); err != nil {
		return nil, fmt.Errorf("recovery %s: undo: %w", runID, err)
	}
	undoTook := time.Since(t2)
	log.Infof("recovery %s: undo complete in %s", runID, undoTook)

	report := newReport(d.Log.MasterLSN(), d.redoLSN, d.undoLSN, d.commitLSN, d.lastLSN)
	report.InDoubtCount = d.Pages.InDoubtCount()
	report.DirtyCount = d.Pages.DirtyCount()
	report.DoomedCount = len(d.Txns.Doomed())
	report.AnalysisTook = analysisTook
	report.RedoTook = redoTook
	report.UndoTook = undoTook
	report.RecoveryMode = string(d.Cfg.RecoveryMode)
	report.RedoMode = string(d.Cfg.RedoMode)
	report.UndoMode = string(d.Cfg.UndoMode)
	report.WriteFile(d.Cfg.ReportPath())

	return &report, nil
}

// RecoverResult is what RecoverConcurrent's channel delivers once Redo
// and Undo finish running on their dedicated goroutine.
type RecoverResult struct {
	Report *Report
	Err    error
}

// RecoverConcurrent runs Analysis synchronously, so a caller can admit
// new transactions against the rebuilt buffer pool and transaction
// table as soon as it returns, then drives Redo and Undo on a
// dedicated goroutine. This is the early-open concurrent recovery
// mode: the driver thread proceeds independently of new
// transaction activity, communicating only through buffer-pool page
// states and the transaction table both sides share.
func (d *Driver) RecoverConcurrent() (<-chan RecoverResult, error) {
	runID := uuid.New()
	log := logger.ForRun("recovery", runID)
	log.Infof("recovery %s: starting (concurrent), master=%s", runID, d.Log.MasterLSN())

	t0 := time.Now()
	if err := d.analysis(); err != nil {
		return nil, fmt.Errorf("recovery %s: analysis: %w", runID, err)
	}
	analysisTook := time.Since(t0)
	log.Infof("recovery %s: analysis complete in %s, redo_lsn=%s undo_lsn=%s commit_lsn=%s",
		runID, analysisTook, d.redoLSN, d.undoLSN, d.commitLSN)

	ch := make(chan RecoverResult, 1)
	go func() {
		t1 := time.Now()
		if err := d.redo(); err != nil {
			ch <- RecoverResult{Err: fmt.Errorf("recovery %s: redo: %w", runID, err)}
			return
		}
		redoTook := time.Since(t1)
		log.Infof("recovery %s: redo complete in %s", runID, redoTook)

		t2 := time.Now()
		if err := d.undoPhase(); err != nil {
			ch <- RecoverResult{Err: fmt.Errorf("recovery %s: undo: %w", runID, err)}
			return
		}
		undoTook := time.Since(t2)
		log.Infof("recovery %s: undo complete in %s", runID, undoTook)

		report := newReport(d.Log.MasterLSN(), d.redoLSN, d.undoLSN, d.commitLSN, d.lastLSN)
		report.InDoubtCount = d.Pages.InDoubtCount()
		report.DirtyCount = d.Pages.DirtyCount()
		report.DoomedCount = len(d.Txns.Doomed())
		report.AnalysisTook = analysisTook
		report.RedoTook = redoTook
		report.UndoTook = undoTook
		report.RecoveryMode = string(d.Cfg.RecoveryMode)
		report.RedoMode = string(d.Cfg.RedoMode)
		report.UndoMode = string(d.Cfg.UndoMode)
		report.WriteFile(d.Cfg.ReportPath())

		ch <- RecoverResult{Report: &report}
	}()

	return ch, nil
}

// Devices reports the volume table Analysis reconstructed: every
// device mounted as of the recovered master pointer, from whichever
// source (chkpt_dev_tab or a later mount_vol) last said so. Valid
// once analysis has run; a caller seeds its own device bookkeeping
// from this after Recover/RecoverConcurrent's Analysis phase returns.
func (d *Driver) Devices() []wal.DevEntry {
	out := make([]wal.DevEntry, 0, len(d.devices))
	for vol, path := range d.devices {
		out = append(out, wal.DevEntry{Volume: vol, Path: path})
	}
	return out
}

// LastMountLSN reports the LSN of the most recent mount_vol or
// dismount_vol record Analysis observed, NullLSN if none. A
// checkpoint's begin_chkpt record carries this forward so a later
// restart knows how far back to replay the mount window.
func (d *Driver) LastMountLSN() wal.LSN {
	return d.lastMountLSN
}
