package recovery

import "errors"

// The sentinels below realize the four-way error taxonomy engine.Classify
// sorts into kinds. Recover does not classify them itself: an error a
// phase returns comes back from Recover wrapped (with %w) in the run ID
// and the phase that produced it, so errors.Is still finds the sentinel
// and engine.Classify decides its kind.
var (
	// ErrMalformedMasterCheckpoint: the record at master is not
	// begin_chkpt. Fatal to recovery.
	ErrMalformedMasterCheckpoint = errors.New("recovery: record at master is not begin_chkpt")

	// ErrMissingRedoOrUndoLSN: the master checkpoint's end_chkpt never
	// arrived, so redo_lsn/undo_lsn were never assigned. Fatal to
	// recovery.
	ErrMissingRedoOrUndoLSN = errors.New("recovery: end_chkpt never encountered, redo_lsn/undo_lsn unset")

	// ErrDirtyInDoubtMismatch: Redo's post-condition dirty_count ==
	// in_doubt_count failed. Fatal to recovery.
	ErrDirtyInDoubtMismatch = errors.New("recovery: dirty_count does not equal in_doubt_count after redo")

	// ErrZeroPageID: a record that must reference a page carries the
	// zero PageID. Fatal to recovery.
	ErrZeroPageID = errors.New("recovery: record requires a page ID but carries the zero value")

	// ErrUnexpectedTransactionState: Analysis left a descriptor in a
	// state its post-conditions don't allow. Fatal to recovery.
	ErrUnexpectedTransactionState = errors.New("recovery: transaction left in an unexpected state after analysis")

	// ErrUndoableCompensate: Analysis encountered a compensate record
	// with undo semantics. CLRs are redo-only; this indicates a corrupted
	// chain. Fatal to recovery.
	ErrUndoableCompensate = errors.New("recovery: encountered an undoable compensation record")

	// ErrUnknownRecordType: a record's type is not one this core
	// knows how to classify. Fatal to the process: recovery cannot
	// make a safety judgment about an unrecognized record.
	ErrUnknownRecordType = errors.New("recovery: unknown log record type")

	// ErrBufferPoolExhausted: Analysis could not register a page
	// because every CB slot is in use. No eviction is permitted during
	// recovery, so this is fatal to the process, not just to recovery.
	ErrBufferPoolExhausted = errors.New("recovery: buffer pool exhausted during analysis")

	// ErrDeallocatedPageMissingCB: a record referencing a page absent
	// from the CB table is not a deallocation. Fatal to recovery.
	ErrDeallocatedPageMissingCB = errors.New("recovery: page absent from buffer pool on a non-deallocation record")

	// ErrUnexpectedRecordOnUsedPage: a record targets a page that is
	// neither in_doubt nor dirty, and is not an allocation. Fatal to
	// recovery.
	ErrUnexpectedRecordOnUsedPage = errors.New("recovery: non-allocation record targets a page with no in-doubt or dirty state")

	// ErrLSNCheckMismatch: a fetched record's self-reported LSN does
	// not match the scan position it was read from. Fatal to recovery.
	ErrLSNCheckMismatch = errors.New("recovery: record's lsn_check does not match its scan position")

	// ErrSPRVerificationFailed: single-page recovery replayed every
	// record up to the expected end LSN but the page's final page_lsn
	// did not reach it. Fatal to recovery.
	ErrSPRVerificationFailed = errors.New("recovery: single-page recovery did not reach the expected end LSN")
)
