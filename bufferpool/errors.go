package bufferpool

import "errors"

var (
	// ErrOutOfBufferSlots is fatal: recovery never evicts, so a full
	// table with no free slot cannot make progress.
	ErrOutOfBufferSlots = errors.New("bufferpool: no free control block slot")

	// ErrPageNotFound is returned by operations addressing a CB index
	// or page key that the table does not know about.
	ErrPageNotFound = errors.New("bufferpool: page not found")

	// ErrBadChecksum is returned by a PageLoader when a page body's
	// on-disk checksum does not match its contents; recovery responds
	// by falling back to single-page recovery.
	ErrBadChecksum = errors.New("bufferpool: page checksum mismatch")

	// ErrLatchTimeout is returned by an immediate-timeout latch
	// acquisition that failed to get the page.
	ErrLatchTimeout = errors.New("bufferpool: latch acquisition timed out")
)
