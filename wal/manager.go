package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/ariesrecover/ariesrecover/logger"
)

const masterFileName = "master"

// Archiver is the file_was_archived collaborator log_m names in the
// original design: given a reclaimed partition's path, it decides
// whether and how to preserve it, returning the archive location it was
// moved to (empty if it chose not to archive). When an Archiver is
// configured, removing the live file is its job; LogManager deletes the
// file itself only when no Archiver is set.
type Archiver interface {
	Archive(num uint32, path string) (archivePath string, err error)
}

// LogManager is the durable append-only record stream this core is
// built around: insert, flush, fetch, compensate, scavenge and space
// reservation over a LogBuffer-backed partition set, plus the master
// pointer that anchors restart.
type LogManager struct {
	buf *LogBuffer
	dir string

	archiver Archiver

	masterMu sync.Mutex
	master   LSN

	resMu            sync.Mutex
	resNotify        chan struct{}
	reserved         int64
	reservationLimit int64
}

// Options configures a LogManager's resource limits; zero values take
// sane defaults.
type Options struct {
	Dir                 string
	PartitionBytes      int64
	CacheRecords        int
	FlushThresholdBytes int64
	ActiveSlots         int
	ReservationLimit    int64
	Archiver            Archiver
}

func (o Options) withDefaults() Options {
	if o.PartitionBytes <= 0 {
		o.PartitionBytes = 64 << 20
	}
	if o.CacheRecords <= 0 {
		o.CacheRecords = 4096
	}
	if o.FlushThresholdBytes <= 0 {
		o.FlushThresholdBytes = 1 << 20
	}
	if o.ActiveSlots <= 0 {
		o.ActiveSlots = 8
	}
	if o.ReservationLimit <= 0 {
		o.ReservationLimit = o.PartitionBytes
	}
	return o
}

// Open opens or resumes a log at opts.Dir, reading any existing master
// pointer.
func Open(opts Options) (*LogManager, error) {
	opts = opts.withDefaults()

	buf, err := NewLogBuffer(opts.Dir, opts.PartitionBytes, opts.CacheRecords, opts.FlushThresholdBytes, opts.ActiveSlots)
	if err != nil {
		return nil, err
	}

	lm := &LogManager{
		buf:              buf,
		dir:              opts.Dir,
		archiver:         opts.Archiver,
		reservationLimit: opts.ReservationLimit,
		resNotify:        make(chan struct{}),
	}

	master, err := readMasterFile(opts.Dir)
	if err != nil {
		buf.Close()
		return nil, err
	}
	lm.master = master
	return lm, nil
}

// Insert assigns and appends one record, returning its LSN.
func (lm *LogManager) Insert(header Header, payload []byte) (LSN, error) {
	return lm.buf.Insert(header, payload)
}

// Flush guarantees every record up through target is durable. With
// block=false it merely schedules the daemon and returns immediately.
func (lm *LogManager) Flush(target LSN, block bool) error {
	if !block {
		lm.buf.RequestFlush()
		return nil
	}
	return lm.buf.Flush(target)
}

// Fetch returns the record at lsn (forward) or the record immediately
// preceding lsn (backward), together with the LSN to continue the scan
// from; see LogBuffer.Fetch.
func (lm *LogManager) Fetch(lsn LSN, forward bool) (Record, LSN, error) {
	return lm.buf.Fetch(lsn, forward)
}

// Compensate rewrites the undo_next link of the resident record at
// origLSN, forming a CLR chain.
func (lm *LogManager) Compensate(origLSN, undoLSN LSN) error {
	return lm.buf.Compensate(origLSN, undoLSN)
}

// CurrLSN, DurableLSN and MasterLSN are the monotone observers callers
// use to track insert/flush progress and the restart anchor.
func (lm *LogManager) CurrLSN() LSN    { return lm.buf.CurrLSN() }
func (lm *LogManager) DurableLSN() LSN { return lm.buf.DurableLSN() }

func (lm *LogManager) MasterLSN() LSN {
	lm.masterMu.Lock()
	defer lm.masterMu.Unlock()
	return lm.master
}

// GlobalMinLSN reports the earliest LSN still reachable on disk,
// mirroring log_m::global_min_lsn: the start of the oldest partition
// that has not yet been scavenged away.
func (lm *LogManager) GlobalMinLSN() (LSN, error) {
	entries, err := os.ReadDir(lm.dir)
	if err != nil {
		return NullLSN, err
	}
	var min uint32
	found := false
	for _, e := range entries {
		var n uint32
		if _, err := fmt.Sscanf(e.Name(), "log.%d", &n); err != nil {
			continue
		}
		if !found || n < min {
			min, found = n, true
		}
	}
	if !found {
		return NullLSN, nil
	}
	return NewLSN(min, 0), nil
}

// SetMaster durably records lsn as the new master pointer: the
// begin_chkpt LSN of the last complete checkpoint. The write is a
// temp-file-plus-rename so a crash mid-write never leaves a corrupt
// pointer behind.
func (lm *LogManager) SetMaster(lsn LSN) error {
	if err := writeMasterFile(lm.dir, lsn); err != nil {
		return err
	}
	lm.masterMu.Lock()
	lm.master = lsn
	lm.masterMu.Unlock()
	return nil
}

func readMasterFile(dir string) (LSN, error) {
	path := filepath.Join(dir, masterFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NullLSN, nil
		}
		return NullLSN, err
	}
	if len(data) != 16 {
		return NullLSN, fmt.Errorf("%w: master file has %d bytes, want 16", ErrCorruptLogHeader, len(data))
	}
	lsn := LSN(binary.BigEndian.Uint64(data[:8]))
	want := binary.BigEndian.Uint64(data[8:16])
	if xxhash.Checksum64(data[:8]) != want {
		return NullLSN, fmt.Errorf("%w: master pointer checksum mismatch", ErrCorruptLogHeader)
	}
	return lsn, nil
}

func writeMasterFile(dir string, lsn LSN) error {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(lsn))
	binary.BigEndian.PutUint64(buf[8:16], xxhash.Checksum64(buf[:8]))

	tmp := filepath.Join(dir, masterFileName+".tmp")
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, masterFileName))
}

// ReserveSpace pre-accounts n bytes of log space for a transaction so
// that its eventual abort can always complete without hitting
// OUT_OF_LOG_SPACE itself. It blocks until space is available or ctx
// is done. A request for more than the reservation limit can never be
// satisfied by any amount of waiting and fails immediately with
// ErrOutOfLogSpace instead of blocking forever.
func (lm *LogManager) ReserveSpace(ctx context.Context, n int64) error {
	if n > lm.reservationLimit {
		return fmt.Errorf("%w: requested %d exceeds reservation limit %d", ErrOutOfLogSpace, n, lm.reservationLimit)
	}
	for {
		lm.resMu.Lock()
		if lm.reserved+n <= lm.reservationLimit {
			lm.reserved += n
			lm.resMu.Unlock()
			return nil
		}
		notify := lm.resNotify
		lm.resMu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
}

// ReleaseSpace returns n bytes of previously reserved log space and
// wakes every reservation waiting for room.
func (lm *LogManager) ReleaseSpace(n int64) {
	lm.resMu.Lock()
	lm.reserved -= n
	if lm.reserved < 0 {
		lm.reserved = 0
	}
	old := lm.resNotify
	lm.resNotify = make(chan struct{})
	lm.resMu.Unlock()
	close(old)
}

// Scavenge permits reclamation of every partition wholly older than
// both minRecLSN and minXctLSN. Eligible partitions are forgotten by
// the read cache and then archived (best-effort, via the configured
// Archiver); a failure to archive does not block the reclamation
// bookkeeping.
func (lm *LogManager) Scavenge(minRecLSN, minXctLSN LSN) error {
	boundary := Min(minRecLSN, minXctLSN)
	nums, err := lm.buf.EligiblePartitions(boundary)
	if err != nil {
		return err
	}
	for _, num := range nums {
		path := lm.buf.PartitionPath(num)
		lm.buf.Forget(num)
		if lm.archiver != nil {
			if _, err := lm.archiver.Archive(num, path); err != nil {
				logger.Warnf("wal: archiving partition %d failed, leaving file in place: %v", num, err)
			}
			continue
		}
		_ = os.Remove(path)
	}
	return nil
}

// Close shuts down the log buffer and its flush daemon.
func (lm *LogManager) Close() error {
	return lm.buf.Close()
}
