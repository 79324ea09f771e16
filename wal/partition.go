package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// partitionFileName returns the on-disk name of a partition: "log.<partition>".
func partitionFileName(num uint32) string {
	return fmt.Sprintf("log.%d", num)
}

// partition wraps one on-disk partition file. Writers only ever append
// to the current partition; readers may reopen and randomly access any
// partition by LSN.
type partition struct {
	num  uint32
	dir  string
	cap  int64
	mu   sync.Mutex
	file *os.File
	size int64
	// lastLSN is the LSN of the last real (non-skip) record written to
	// this partition; the terminal skip record's XidPrev is set to it so
	// backward scans can chain across the partition boundary.
	lastLSN LSN
}

func openPartition(dir string, num uint32, capBytes int64) (*partition, error) {
	path := filepath.Join(dir, partitionFileName(num))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &partition{num: num, dir: dir, cap: capBytes, file: f, size: info.Size()}, nil
}

// append writes data at the current end of the partition, returning the
// byte offset it was written at. It returns ErrPartitionFull without
// writing anything if data would not fit under the partition's cap.
func (p *partition) append(data []byte) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size+int64(len(data)) > p.cap {
		return 0, ErrPartitionFull
	}
	offset := p.size
	n, err := p.file.WriteAt(data, offset)
	if err != nil {
		return 0, err
	}
	p.size += int64(n)
	return uint32(offset), nil
}

// writeAt overwrites already-written bytes in place, used by Compensate
// to rewrite a resident record's undo_next link without changing its
// length. It refuses to write past the partition's current size.
func (p *partition) writeAt(offset uint32, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int64(offset)+int64(len(data)) > p.size {
		return fmt.Errorf("wal: writeAt %d+%d exceeds partition size %d", offset, len(data), p.size)
	}
	_, err := p.file.WriteAt(data, int64(offset))
	return err
}

// remaining reports how many bytes are left before the partition's cap.
func (p *partition) remaining() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cap - p.size
}

func (p *partition) currentSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *partition) sync() error {
	return p.file.Sync()
}

func (p *partition) readAt(offset uint32, maxLen int) ([]byte, error) {
	p.mu.Lock()
	avail := p.size - int64(offset)
	p.mu.Unlock()
	if avail <= 0 {
		return nil, ErrEndOfLog
	}
	if int64(maxLen) > avail {
		maxLen = int(avail)
	}
	buf := make([]byte, maxLen)
	n, err := p.file.ReadAt(buf, int64(offset))
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (p *partition) close() error {
	return p.file.Close()
}

func (p *partition) path() string {
	return filepath.Join(p.dir, partitionFileName(p.num))
}

// partitionSet owns the directory of partition files: the single
// append-target "current" partition plus a small cache of partitions
// opened for random/backward reads.
type partitionSet struct {
	dir        string
	capBytes   int64
	mu         sync.Mutex
	current    *partition
	readCache  map[uint32]*partition
}

func newPartitionSet(dir string, capBytes int64) (*partitionSet, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	ps := &partitionSet{dir: dir, capBytes: capBytes, readCache: make(map[uint32]*partition)}

	last, err := ps.latestPartitionNum()
	if err != nil {
		return nil, err
	}
	cur, err := openPartition(dir, last, capBytes)
	if err != nil {
		return nil, err
	}
	ps.current = cur
	return ps, nil
}

// latestPartitionNum scans the log directory for the highest-numbered
// log.<n> file, defaulting to partition 1 for a brand-new log (0 is
// reserved so NullLSN never names a real record).
func (ps *partitionSet) latestPartitionNum() (uint32, error) {
	entries, err := os.ReadDir(ps.dir)
	if err != nil {
		return 0, err
	}
	var max uint32 = 1
	for _, e := range entries {
		var n uint32
		if _, err := fmt.Sscanf(e.Name(), "log.%d", &n); err == nil {
			if n > max {
				max = n
			}
		}
	}
	return max, nil
}

// currentPartition returns the partition currently accepting appends.
func (ps *partitionSet) currentPartition() *partition {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.current
}

// rotate closes the current partition's acceptance of further writes
// (the caller has already appended its terminal skip record) and opens
// the next one.
func (ps *partitionSet) rotate() (*partition, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	next, err := openPartition(ps.dir, ps.current.num+1, ps.capBytes)
	if err != nil {
		return nil, err
	}
	ps.readCache[ps.current.num] = ps.current
	ps.current = next
	return next, nil
}

// get returns the partition for num, opening it (read-write, like every
// partition file) and caching it if it is not the current write target.
func (ps *partitionSet) get(num uint32) (*partition, error) {
	ps.mu.Lock()
	if ps.current != nil && ps.current.num == num {
		p := ps.current
		ps.mu.Unlock()
		return p, nil
	}
	if p, ok := ps.readCache[num]; ok {
		ps.mu.Unlock()
		return p, nil
	}
	ps.mu.Unlock()

	p, err := openPartition(ps.dir, num, ps.capBytes)
	if err != nil {
		return nil, err
	}
	ps.mu.Lock()
	ps.readCache[num] = p
	ps.mu.Unlock()
	return p, nil
}

// forget drops a partition from the read cache and closes its file
// handle, called once scavenge has archived/removed it.
func (ps *partitionSet) forget(num uint32) {
	ps.mu.Lock()
	p, ok := ps.readCache[num]
	delete(ps.readCache, num)
	ps.mu.Unlock()
	if ok {
		p.close()
	}
}

func (ps *partitionSet) closeAll() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var firstErr error
	if ps.current != nil {
		if err := ps.current.close(); err != nil {
			firstErr = err
		}
	}
	for _, p := range ps.readCache {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
