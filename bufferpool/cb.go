// Package bufferpool keeps the page control blocks the recovery
// driver needs: an in-doubt/dirty bookkeeping table indexed both by
// slot and by page key, and a PageLoader collaborator that reads page
// bodies off disk during Redo and single-page recovery. It does not
// implement a full LRU buffer pool — eviction, pinning, and
// replacement policy are a different layer's job, and recovery itself
// is explicitly forbidden from evicting anything.
package bufferpool

import (
	"github.com/ariesrecover/ariesrecover/latch"
	"github.com/ariesrecover/ariesrecover/wal"
)

// CB is one page's control block. InDoubt, Dirty and Used are the
// three independent flags the buffer pool's recovery interface
// tracks; a page can be Used without being Dirty (clean, resident) and
// InDoubt pages are always also Used.
type CB struct {
	Idx int
	PID wal.PageID

	InDoubt bool
	Dirty   bool
	Used    bool

	// RecLSN is the earliest LSN of an unflushed update to this page,
	// the recovery floor below which redo for this page must start.
	RecLSN wal.LSN
	// PageLSN is the LSN embedded in the page body when it was loaded,
	// advanced by Redo each time it applies a record to the page.
	PageLSN wal.LSN
	// ExpectedEMLSN is single-page recovery's target: the LSN the page
	// is expected to reach once SPR has replayed every record for it.
	// Kept as its own field rather than overloading PageLSN, since a
	// page mid-SPR has a PageLSN that has not yet caught up to it.
	ExpectedEMLSN wal.LSN

	Latch *latch.Latch

	// Body is the most recently loaded page image; nil until
	// LoadForRedo (or single-page recovery) populates it.
	Body []byte
}
