// Package engine wires config, the log manager, the buffer-pool
// control-block table and the transaction table together into an
// explicit context, replacing smlevel_0-style process-wide singletons
// with a value a caller opens and closes explicitly.
package engine

import (
	"sync"
	"time"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/checkpoint"
	"github.com/ariesrecover/ariesrecover/config"
	"github.com/ariesrecover/ariesrecover/logger"
	"github.com/ariesrecover/ariesrecover/recovery"
	"github.com/ariesrecover/ariesrecover/txntable"
	"github.com/ariesrecover/ariesrecover/wal"
)

// Engine owns every subsystem this core needs and the order they were
// brought up in, so Close can tear them down in reverse.
type Engine struct {
	Cfg    *config.Config
	Log    *wal.LogManager
	Loader *bufferpool.FileLoader
	Pages  *bufferpool.Table
	Txns   *txntable.Table
	Chkpt  *checkpoint.Checkpointer
	Driver *recovery.Driver

	checkpointInterval time.Duration
	stopCheckpoint     chan struct{}
	checkpointWG       sync.WaitGroup

	concurrentResult <-chan recovery.RecoverResult

	devMu        sync.Mutex
	devices      map[uint32]string
	lastMountLSN wal.LSN
}

// engineMounter is the recovery.Mounter Open wires in by default: it
// performs the physical mount/dismount Analysis and Redo replay
// against the buffer pool's FileLoader, without writing a new log
// record (the mount_vol or dismount_vol record being replayed already
// exists). Engine's own device bookkeeping is seeded separately from
// Driver.Devices once analysis completes, so it stays correct
// regardless of which Mounter a caller supplies.
type engineMounter struct {
	loader *bufferpool.FileLoader
}

func (m engineMounter) Mount(vol uint32, path string) error { return m.loader.MountVolume(vol) }
func (m engineMounter) Dismount(vol uint32) error           { return m.loader.DismountVolume(vol) }

// Options supplies the access-method and locking seams recovery needs
// but does not implement itself, plus the checkpoint daemon's cadence.
// A zero Options is valid: nil appliers become no-op appliers, a nil
// Mount becomes the FileLoader-backed engineMounter, a nil Locks in
// concurrent_lock mode becomes an in-memory lock manager, and a zero
// CheckpointInterval becomes five minutes.
type Options struct {
	RedoApplier        recovery.RedoApplier
	UndoApplier        recovery.UndoApplier
	Locks              recovery.LockManager
	Mount              recovery.Mounter
	CheckpointInterval time.Duration
}

const defaultCheckpointInterval = 5 * time.Minute

// Open brings the engine up in dependency order: config has already
// been validated by the caller (config.Load/config.Default), so
// storage is next (the buffer pool's FileLoader and page table), then
// the log, then recovery runs against both. serial recovery_mode
// blocks until Analysis/Redo/Undo all finish; either concurrent mode
// runs Analysis synchronously and returns with Redo/Undo still running
// in the background, reachable via WaitRecovery.
func Open(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, Wrap(err, "engine: validating config")
	}

	if err := logger.Init(logger.Config{
		ErrorLogPath: cfg.ErrorLogPath,
		InfoLogPath:  cfg.InfoLogPath,
		LogLevel:     cfg.LogLevel,
	}); err != nil {
		return nil, Wrap(err, "engine: initializing logger")
	}

	loader := bufferpool.NewFileLoader(cfg.DataDir, cfg.PageBytes)
	pages := bufferpool.NewTable(cfg.BufferPoolPages, loader)
	txns := txntable.New()

	log, err := wal.Open(wal.Options{
		Dir:                 cfg.LogDir,
		PartitionBytes:      cfg.PartitionBytes,
		FlushThresholdBytes: cfg.SegmentBytes,
		ActiveSlots:         cfg.ActiveSlots,
		ReservationLimit:    cfg.ReservationLimitBytes,
		Archiver:            &wal.LZ4Archiver{ArchiveDir: cfg.ArchiveDir},
	})
	if err != nil {
		return nil, Wrap(err, "engine: opening log manager")
	}

	e := &Engine{
		Cfg:     cfg,
		Log:     log,
		Loader:  loader,
		Pages:   pages,
		Txns:    txns,
		Chkpt:   checkpoint.New(log, pages, txns),
		devices: make(map[uint32]string),
	}

	var locks recovery.LockManager
	if cfg.RecoveryMode == config.RecoveryConcurrentLock {
		if opts.Locks != nil {
			locks = opts.Locks
		} else {
			locks = recovery.NewInMemoryLockManager()
		}
	}

	mount := opts.Mount
	if mount == nil {
		mount = engineMounter{loader: loader}
	}

	e.Driver = recovery.New(log, pages, txns, cfg, opts.RedoApplier, opts.UndoApplier, locks, mount)

	switch cfg.RecoveryMode {
	case config.RecoveryConcurrentCommitLSN, config.RecoveryConcurrentLock:
		ch, err := e.Driver.RecoverConcurrent()
		if err != nil {
			log.Close()
			return nil, Wrap(err, "engine: recovering (concurrent)")
		}
		e.concurrentResult = ch
	default:
		if _, err := e.Driver.Recover(); err != nil {
			log.Close()
			return nil, Wrap(err, "engine: recovering (serial)")
		}
	}

	// Analysis (synchronous in both recovery modes above) has already
	// reconstructed the device table from chkpt_dev_tab and any
	// mount_vol/dismount_vol records in the recovered window; seed the
	// engine's own bookkeeping from it so the next checkpoint's
	// chkpt_dev_tab reflects reality instead of starting empty.
	for _, dev := range e.Driver.Devices() {
		e.devices[dev.Volume] = dev.Path
	}
	e.lastMountLSN = e.Driver.LastMountLSN()

	e.checkpointInterval = opts.CheckpointInterval
	if e.checkpointInterval <= 0 {
		e.checkpointInterval = defaultCheckpointInterval
	}
	e.startCheckpointDaemon()

	return e, nil
}

// WaitRecovery blocks until a concurrently-running Redo/Undo pass
// finishes, returning its report. Calling it when recovery_mode was
// serial (recovery already complete by the time Open returned) is a
// no-op that returns immediately with a nil report.
func (e *Engine) WaitRecovery() (*recovery.Report, error) {
	if e.concurrentResult == nil {
		return nil, nil
	}
	result := <-e.concurrentResult
	if result.Err != nil {
		return nil, Wrap(result.Err, "engine: concurrent recovery")
	}
	return result.Report, nil
}

// MountVolume opens vol's backing file, logs a mount_vol record so a
// later restart's Analysis can rediscover it, and adds it to the
// device table the next checkpoint writes to chkpt_dev_tab.
func (e *Engine) MountVolume(vol uint32, path string) error {
	if err := e.Loader.MountVolume(vol); err != nil {
		return Wrap(err, "engine: mounting volume")
	}
	lsn, err := e.Log.Insert(wal.Header{Type: wal.RecMountVol}, wal.EncodeMountVol(wal.MountVolPayload{Volume: vol, Path: path}))
	if err != nil {
		return Wrap(err, "engine: logging mount_vol")
	}
	e.devMu.Lock()
	e.devices[vol] = path
	e.lastMountLSN = lsn
	e.devMu.Unlock()
	return nil
}

// DismountVolume logs a dismount_vol record, removes vol from the
// device table, and closes its backing file.
func (e *Engine) DismountVolume(vol uint32) error {
	lsn, err := e.Log.Insert(wal.Header{Type: wal.RecDismountVol}, wal.EncodeMountVol(wal.MountVolPayload{Volume: vol}))
	if err != nil {
		return Wrap(err, "engine: logging dismount_vol")
	}
	e.devMu.Lock()
	delete(e.devices, vol)
	e.lastMountLSN = lsn
	e.devMu.Unlock()

	if err := e.Loader.DismountVolume(vol); err != nil {
		return Wrap(err, "engine: dismounting volume")
	}
	return nil
}

// deviceSnapshot returns the device table and last mount LSN a
// checkpoint should carry, as of right now.
func (e *Engine) deviceSnapshot() ([]wal.DevEntry, wal.LSN) {
	e.devMu.Lock()
	defer e.devMu.Unlock()
	devices := make([]wal.DevEntry, 0, len(e.devices))
	for vol, path := range e.devices {
		devices = append(devices, wal.DevEntry{Volume: vol, Path: path})
	}
	return devices, e.lastMountLSN
}

// startCheckpointDaemon runs Chkpt.Run on checkpointInterval,
// mirroring the flush daemon's single-dedicated-goroutine shape: one
// task, woken on a timer, that stops the moment Close asks it to.
func (e *Engine) startCheckpointDaemon() {
	e.stopCheckpoint = make(chan struct{})
	e.checkpointWG.Add(1)
	go func() {
		defer e.checkpointWG.Done()
		ticker := time.NewTicker(e.checkpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCheckpoint:
				return
			case <-ticker.C:
				devices, lastMountLSN := e.deviceSnapshot()
				if _, err := e.Chkpt.Run(devices, lastMountLSN); err != nil {
					logger.Warnf("engine: periodic checkpoint failed: %v", err)
				}
			}
		}
	}()
}

// Checkpoint runs one checkpoint immediately, outside the daemon's
// schedule. Useful before a planned shutdown.
func (e *Engine) Checkpoint() (checkpoint.Result, error) {
	devices, lastMountLSN := e.deviceSnapshot()
	res, err := e.Chkpt.Run(devices, lastMountLSN)
	if err != nil {
		return res, Wrap(err, "engine: checkpoint")
	}
	return res, nil
}

// Close tears the engine down in reverse dependency order: stop
// issuing new checkpoints, take a final one so the next Open has as
// little to redo as possible, then close the log.
func (e *Engine) Close() error {
	if e.stopCheckpoint != nil {
		close(e.stopCheckpoint)
		e.checkpointWG.Wait()
	}

	devices, lastMountLSN := e.deviceSnapshot()
	if _, err := e.Chkpt.Run(devices, lastMountLSN); err != nil {
		logger.Warnf("engine: final checkpoint before close failed: %v", err)
	}

	if err := e.Log.Close(); err != nil {
		return Wrap(err, "engine: closing log manager")
	}
	return nil
}
