package wal

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/ariesrecover/ariesrecover/logger"
)

// LZ4Archiver is the default Archiver: it LZ4-compresses a scavenged
// partition into archiveDir and removes the live file once the
// archive is flushed and synced, mirroring log_m::file_was_archived
// from the original design — a collaborator told where a reclaimed
// log file ended up so it can update its own bookkeeping (a catalog
// of archived ranges, an object-store upload queue, and so on).
type LZ4Archiver struct {
	ArchiveDir string

	// Hook, if set, is called after a partition has been successfully
	// archived. It is the log_m::file_was_archived collaborator; the
	// default Archiver does not assume who needs to know.
	Hook func(num uint32, archivePath string)
}

func (a *LZ4Archiver) Archive(num uint32, path string) (string, error) {
	if err := os.MkdirAll(a.ArchiveDir, 0755); err != nil {
		return "", err
	}
	archivePath := filepath.Join(a.ArchiveDir, partitionFileName(num)+".lz4")

	if err := compressFile(path, archivePath); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		logger.Warnf("wal: archived partition %d but could not remove original %s: %v", num, path, err)
	}
	if a.Hook != nil {
		a.Hook(num, archivePath)
	}
	return archivePath, nil
}

func compressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer dst.Close()

	w := lz4.NewWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return dst.Sync()
}
