package bufferpool

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/ariesrecover/ariesrecover/wal"
)

// pageFooterLen is the trailer every page carries: an 8-byte page_lsn
// followed by an 8-byte xxHash64 checksum over everything before it.
const pageFooterLen = 16

// FileLoader is a minimal PageLoader: one flat file per mounted
// volume, fixed-size pages, a page_lsn + checksum trailer on each.
// Volume/device mount management beyond "which file backs this
// volume number" is out of this core's scope; FileLoader exists to
// make recovery's buffer-pool interface concretely testable, not to
// be a storage manager.
type FileLoader struct {
	mu       sync.RWMutex
	dir      string
	pageSize int
	volumes  map[uint32]*os.File
}

func NewFileLoader(dir string, pageSize int) *FileLoader {
	return &FileLoader{dir: dir, pageSize: pageSize, volumes: make(map[uint32]*os.File)}
}

func (l *FileLoader) volumePath(vol uint32) string {
	return filepath.Join(l.dir, fmt.Sprintf("vol_%d.dat", vol))
}

// MountVolume opens (creating if necessary) the backing file for vol.
func (l *FileLoader) MountVolume(vol uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.volumes[vol]; ok {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.volumePath(vol), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	l.volumes[vol] = f
	return nil
}

// DismountVolume closes vol's backing file.
func (l *FileLoader) DismountVolume(vol uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.volumes[vol]
	if !ok {
		return nil
	}
	delete(l.volumes, vol)
	return f.Close()
}

// WritePage writes body (which must be pageSize-pageFooterLen bytes or
// fewer) to pid's slot, stamping it with pageLSN and a checksum. It
// exists to set up fixtures and for Redo to harden newly formatted or
// updated pages; it is not on the PageLoader interface.
func (l *FileLoader) WritePage(pid wal.PageID, pageLSN wal.LSN, body []byte) error {
	l.mu.RLock()
	f, ok := l.volumes[pid.Volume]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bufferpool: volume %d not mounted", pid.Volume)
	}

	buf := make([]byte, l.pageSize)
	copy(buf, body)
	writeFooter(buf, l.pageSize, pageLSN)

	_, err := f.WriteAt(buf, int64(pid.Page)*int64(l.pageSize))
	return err
}

func writeFooter(buf []byte, pageSize int, pageLSN wal.LSN) {
	lsnOff := pageSize - pageFooterLen
	binary.BigEndian.PutUint64(buf[lsnOff:lsnOff+8], uint64(pageLSN))
	checksum := xxhash.Checksum64(buf[:pageSize-8])
	binary.BigEndian.PutUint64(buf[pageSize-8:pageSize], checksum)
}

// Load implements PageLoader.
func (l *FileLoader) Load(pid wal.PageID) ([]byte, wal.LSN, bool, error) {
	l.mu.RLock()
	f, ok := l.volumes[pid.Volume]
	l.mu.RUnlock()
	if !ok {
		return nil, wal.NullLSN, false, fmt.Errorf("bufferpool: volume %d not mounted", pid.Volume)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, wal.NullLSN, false, err
	}
	offset := int64(pid.Page) * int64(l.pageSize)
	if offset+int64(l.pageSize) > info.Size() {
		return nil, wal.NullLSN, true, nil
	}

	buf := make([]byte, l.pageSize)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, wal.NullLSN, false, err
	}

	want := binary.BigEndian.Uint64(buf[l.pageSize-8:])
	if xxhash.Checksum64(buf[:l.pageSize-8]) != want {
		return nil, wal.NullLSN, false, ErrBadChecksum
	}

	pageLSN := wal.LSN(binary.BigEndian.Uint64(buf[l.pageSize-16 : l.pageSize-8]))
	body := buf[:l.pageSize-pageFooterLen]
	return body, pageLSN, false, nil
}
