// Package checkpoint implements a fuzzy checkpoint: a
// begin_chkpt/chkpt_*/end_chkpt record sequence written without
// quiescing the system, followed by an atomic master-pointer update
// once the sequence is durable.
package checkpoint

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/logger"
	"github.com/ariesrecover/ariesrecover/txntable"
	"github.com/ariesrecover/ariesrecover/wal"
)

// defaultChunkSize bounds how many entries a single chkpt_dev_tab,
// chkpt_bf_tab or chkpt_xct_tab record carries. Splitting a large
// table across several records keeps any one record's payload well
// under a partition's per-record ceiling.
const defaultChunkSize = 512

// Checkpointer runs fuzzy checkpoints against a log, a buffer-pool
// page table and a transaction table. It holds no locks across the
// whole run: each table is read through its own snapshot method,
// which is what makes the checkpoint fuzzy rather than a quiesce point.
type Checkpointer struct {
	log       *wal.LogManager
	pages     *bufferpool.Table
	txns      *txntable.Table
	chunkSize int
}

func New(log *wal.LogManager, pages *bufferpool.Table, txns *txntable.Table) *Checkpointer {
	return &Checkpointer{log: log, pages: pages, txns: txns, chunkSize: defaultChunkSize}
}

// Result is what a completed checkpoint run produced, for logging and
// for tests to assert against.
type Result struct {
	RunID     uuid.UUID
	BeginLSN  wal.LSN
	EndLSN    wal.LSN
	MinRecLSN wal.LSN
	MinXctLSN wal.LSN
}

// Run emits one fuzzy checkpoint and, once it is durable, atomically
// advances the master pointer to its begin_chkpt LSN. devices is the
// currently mounted-device list and lastMountLSN the LSN of the most
// recent mount/dismount record; the engine tracks both since device
// mount bookkeeping lives outside this core's scope.
func (c *Checkpointer) Run(devices []wal.DevEntry, lastMountLSN wal.LSN) (Result, error) {
	runID := uuid.New()
	logger.Infof("checkpoint %s: starting", runID)

	beginLSN, err := c.log.Insert(wal.Header{Type: wal.RecBeginChkpt}, wal.EncodeBeginChkpt(wal.BeginChkptPayload{LastMountLSN: lastMountLSN}))
	if err != nil {
		return Result{}, fmt.Errorf("checkpoint %s: begin_chkpt: %w", runID, err)
	}

	if err := c.writeDevTab(devices); err != nil {
		return Result{}, fmt.Errorf("checkpoint %s: chkpt_dev_tab: %w", runID, err)
	}

	minRecLSN, err := c.writeBfTab()
	if err != nil {
		return Result{}, fmt.Errorf("checkpoint %s: chkpt_bf_tab: %w", runID, err)
	}

	minXctLSN, err := c.writeXctTab()
	if err != nil {
		return Result{}, fmt.Errorf("checkpoint %s: chkpt_xct_tab: %w", runID, err)
	}

	endLSN, err := c.log.Insert(wal.Header{Type: wal.RecEndChkpt}, wal.EncodeEndChkpt(wal.EndChkptPayload{
		BeginLSN:  beginLSN,
		MinRecLSN: minRecLSN,
		MinXctLSN: minXctLSN,
	}))
	if err != nil {
		return Result{}, fmt.Errorf("checkpoint %s: end_chkpt: %w", runID, err)
	}

	if err := c.log.Flush(endLSN, true); err != nil {
		return Result{}, fmt.Errorf("checkpoint %s: flushing end_chkpt: %w", runID, err)
	}

	if err := c.log.SetMaster(beginLSN); err != nil {
		return Result{}, fmt.Errorf("checkpoint %s: updating master pointer: %w", runID, err)
	}

	logger.Infof("checkpoint %s: complete, begin=%s end=%s redo_lsn=%s undo_lsn=%s",
		runID, beginLSN, endLSN, minRecLSN, minXctLSN)

	return Result{RunID: runID, BeginLSN: beginLSN, EndLSN: endLSN, MinRecLSN: minRecLSN, MinXctLSN: minXctLSN}, nil
}

func (c *Checkpointer) writeDevTab(devices []wal.DevEntry) error {
	if len(devices) == 0 {
		_, err := c.log.Insert(wal.Header{Type: wal.RecChkptDevTab}, wal.EncodeChkptDevTab(wal.ChkptDevTabPayload{}))
		return err
	}
	for start := 0; start < len(devices); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(devices) {
			end = len(devices)
		}
		payload := wal.EncodeChkptDevTab(wal.ChkptDevTabPayload{Devices: devices[start:end]})
		if _, err := c.log.Insert(wal.Header{Type: wal.RecChkptDevTab}, payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checkpointer) writeBfTab() (wal.LSN, error) {
	cbs := c.pages.Snapshot()
	var minRecLSN wal.LSN

	if len(cbs) == 0 {
		_, err := c.log.Insert(wal.Header{Type: wal.RecChkptBfTab}, wal.EncodeChkptBfTab(wal.ChkptBfTabPayload{}))
		return minRecLSN, err
	}

	entries := make([]wal.BFEntry, len(cbs))
	for i, cb := range cbs {
		entries[i] = wal.BFEntry{PID: cb.PID, RecLSN: cb.RecLSN}
		minRecLSN = wal.Min(minRecLSN, cb.RecLSN)
	}

	for start := 0; start < len(entries); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		payload := wal.EncodeChkptBfTab(wal.ChkptBfTabPayload{Entries: entries[start:end]})
		if _, err := c.log.Insert(wal.Header{Type: wal.RecChkptBfTab}, payload); err != nil {
			return wal.NullLSN, err
		}
	}
	return minRecLSN, nil
}

func (c *Checkpointer) writeXctTab() (wal.LSN, error) {
	descs := c.txns.Snapshot()
	youngest := c.txns.YoungestTid()
	var minXctLSN wal.LSN

	if len(descs) == 0 {
		_, err := c.log.Insert(wal.Header{Type: wal.RecChkptXctTab}, wal.EncodeChkptXctTab(wal.ChkptXctTabPayload{YoungestTid: youngest}))
		return minXctLSN, err
	}

	entries := make([]wal.XctEntry, 0, len(descs))
	for _, d := range descs {
		if d.State == txntable.Ended {
			continue
		}
		entries = append(entries, wal.XctEntry{
			Tid:      d.Tid,
			State:    uint8(d.State),
			FirstLSN: d.FirstLSN,
			LastLSN:  d.LastLSN,
			UndoNxt:  d.UndoNxt,
		})
		minXctLSN = wal.Min(minXctLSN, d.FirstLSN)
	}

	if len(entries) == 0 {
		_, err := c.log.Insert(wal.Header{Type: wal.RecChkptXctTab}, wal.EncodeChkptXctTab(wal.ChkptXctTabPayload{YoungestTid: youngest}))
		return minXctLSN, err
	}

	for start := 0; start < len(entries); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		payload := wal.EncodeChkptXctTab(wal.ChkptXctTabPayload{YoungestTid: youngest, Entries: entries[start:end]})
		if _, err := c.log.Insert(wal.Header{Type: wal.RecChkptXctTab}, payload); err != nil {
			return wal.NullLSN, err
		}
	}
	return minXctLSN, nil
}
