package engine

import (
	"errors"

	jujuerrors "github.com/juju/errors"
	pkgerrors "github.com/pkg/errors"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/recovery"
	"github.com/ariesrecover/ariesrecover/wal"
)

// ErrorKind is the four-way error taxonomy every package's sentinel
// errors get classified into.
type ErrorKind int

const (
	// KindRecoverableAtCallsite: the operation that raised it can
	// retry, skip, or fall back right where it happened (page latch
	// contention, a torn tail record, a bad page checksum driving SPR).
	KindRecoverableAtCallsite ErrorKind = iota
	// KindRecoverableAtTransaction: only the transaction involved needs
	// to be aborted; the engine as a whole keeps running.
	KindRecoverableAtTransaction
	// KindFatalRecovery: the current restart cannot be trusted and
	// must stop, but the process and its other subsystems are fine.
	KindFatalRecovery
	// KindFatalProcess: an invariant the whole engine depends on broke;
	// the only safe response is to log and exit.
	KindFatalProcess
)

func (k ErrorKind) String() string {
	switch k {
	case KindRecoverableAtCallsite:
		return "recoverable_at_callsite"
	case KindRecoverableAtTransaction:
		return "recoverable_at_transaction"
	case KindFatalRecovery:
		return "fatal_recovery"
	case KindFatalProcess:
		return "fatal_process"
	default:
		return "unknown"
	}
}

// Classify walks err's chain with errors.Is and reports which of the
// four kinds above it belongs to. An error this function does
// not recognize is treated as recoverable at the transaction level,
// the least disruptive assumption: anything that should instead be
// fatal is expected to already have a sentinel wired in here.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindRecoverableAtCallsite
	}

	switch {
	case errors.Is(err, bufferpool.ErrLatchTimeout),
		errors.Is(err, bufferpool.ErrBadChecksum),
		errors.Is(err, wal.ErrTornRecord),
		errors.Is(err, wal.ErrNotResident),
		errors.Is(err, wal.ErrTimeout):
		return KindRecoverableAtCallsite

	case errors.Is(err, wal.ErrOutOfLogSpace):
		return KindRecoverableAtTransaction

	case errors.Is(err, recovery.ErrBufferPoolExhausted),
		errors.Is(err, recovery.ErrUnknownRecordType),
		errors.Is(err, wal.ErrCorruptLogHeader):
		return KindFatalProcess

	case errors.Is(err, recovery.ErrMalformedMasterCheckpoint),
		errors.Is(err, recovery.ErrMissingRedoOrUndoLSN),
		errors.Is(err, recovery.ErrDirtyInDoubtMismatch),
		errors.Is(err, recovery.ErrZeroPageID),
		errors.Is(err, recovery.ErrUnexpectedTransactionState),
		errors.Is(err, recovery.ErrUndoableCompensate),
		errors.Is(err, recovery.ErrDeallocatedPageMissingCB),
		errors.Is(err, recovery.ErrUnexpectedRecordOnUsedPage),
		errors.Is(err, recovery.ErrLSNCheckMismatch),
		errors.Is(err, recovery.ErrSPRVerificationFailed),
		errors.Is(err, bufferpool.ErrOutOfBufferSlots),
		errors.Is(err, bufferpool.ErrPageNotFound):
		return KindFatalRecovery

	default:
		return KindRecoverableAtTransaction
	}
}

// Wrap annotates err with op, the operation boundary it crossed
// (e.g. "engine: opening log manager"), and attaches a stack trace if
// it doesn't already carry one. Every exported Engine method that
// returns an error not already wrapped by a lower package should pass
// it through Wrap before returning.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(jujuerrors.Annotate(err, op))
}
