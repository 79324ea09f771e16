package wal

import "errors"

var (
	// ErrOutOfLogSpace is returned by Insert/ReserveSpace when the
	// reservation cannot be satisfied. The caller's transaction must be
	// aborted using space it had already reserved.
	ErrOutOfLogSpace = errors.New("wal: out of log space")

	// ErrTimeout is returned by a blocking space wait that exceeded its
	// deadline.
	ErrTimeout = errors.New("wal: timed out waiting for log space")

	// ErrCorruptLogHeader is returned when a partition file's header
	// (or, mid-scan, a record's length/checksum framing) cannot be
	// trusted.
	ErrCorruptLogHeader = errors.New("wal: corrupt log header")

	// ErrTornRecord signals a torn tail: the bytes at a scan position
	// do not frame a valid record (bad length or checksum).
	// Forward scans stop at this point, as if the record never existed.
	ErrTornRecord = errors.New("wal: torn record at scan position")

	// ErrNotResident is returned by Compensate when the target record
	// is no longer held by the in-memory log buffer.
	ErrNotResident = errors.New("wal: record no longer resident in log buffer")

	// ErrEndOfLog is returned by Fetch when the scan runs off the end
	// (forward) or start (backward) of the log.
	ErrEndOfLog = errors.New("wal: end of log")

	// ErrPartitionFull is an internal signal that a partition has no
	// room left for the next record and must be closed with a skip
	// record.
	ErrPartitionFull = errors.New("wal: partition full")
)
