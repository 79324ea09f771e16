package recovery

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/ariesrecover/ariesrecover/logger"
	"github.com/ariesrecover/ariesrecover/wal"
)

// Report is the diagnostic summary a completed Recover call produces.
// It is written to disk for operators, never read back by recovery
// itself.
type Report struct {
	MasterLSN      string        `toml:"master_lsn"`
	RedoLSN        string        `toml:"redo_lsn"`
	UndoLSN        string        `toml:"undo_lsn"`
	CommitLSN      string        `toml:"commit_lsn"`
	LastLSN        string        `toml:"last_lsn"`
	InDoubtCount   int           `toml:"in_doubt_count"`
	DirtyCount     int           `toml:"dirty_count"`
	DoomedCount    int           `toml:"doomed_count"`
	AnalysisTook   time.Duration `toml:"analysis_took"`
	RedoTook       time.Duration `toml:"redo_took"`
	UndoTook       time.Duration `toml:"undo_took"`
	RecoveryMode   string        `toml:"recovery_mode"`
	RedoMode       string        `toml:"redo_mode"`
	UndoMode       string        `toml:"undo_mode"`
}

func newReport(masterLSN, redoLSN, undoLSN, commitLSN, lastLSN wal.LSN) Report {
	return Report{
		MasterLSN: masterLSN.String(),
		RedoLSN:   redoLSN.String(),
		UndoLSN:   undoLSN.String(),
		CommitLSN: commitLSN.String(),
		LastLSN:   lastLSN.String(),
	}
}

// WriteFile marshals r to path as TOML. A failure to write is logged,
// not returned, matching spec's "diagnostic only" status for this
// report.
func (r Report) WriteFile(path string) {
	data, err := toml.Marshal(r)
	if err != nil {
		logger.Warnf("recovery: marshaling report: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.Warnf("recovery: writing report to %s: %v", path, err)
	}
}
