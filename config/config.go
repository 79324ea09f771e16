// Package config loads this core's enumerated options from an INI
// file, using a section-based layout, and produces a validated Config
// the Engine constructs everything else from.
package config

import (
	"fmt"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// RecoveryMode selects how Analysis reconstructs lock state and how
// Redo/Undo may run concurrently with new transaction activity.
type RecoveryMode string

const (
	RecoverySerial              RecoveryMode = "serial"
	RecoveryConcurrentCommitLSN RecoveryMode = "concurrent_commit_lsn"
	RecoveryConcurrentLock      RecoveryMode = "concurrent_lock"
)

// RedoMode selects Redo's driving strategy.
type RedoMode string

const (
	RedoLogDriven   RedoMode = "log_driven"
	RedoPageDriven  RedoMode = "page_driven"
	RedoSPROnDemand RedoMode = "spr_on_demand"
)

// UndoMode selects Undo's draining strategy.
type UndoMode string

const (
	UndoReverse     UndoMode = "reverse"
	UndoTransaction UndoMode = "transaction"
)

// Config is the complete set of options this core accepts, loaded
// from an INI file's [log], [buffer], [recovery] and [logging] sections.
type Config struct {
	LogDir                string
	LogMaxBytes           int64
	PartitionBytes        int64
	BufferSegments        int
	SegmentBytes          int64
	BlockBytes            int
	ActiveSlots           int
	FlushTriggerSegments  int
	ReservationLimitBytes int64

	// DataDir and PageBytes describe the volumes bufferpool.FileLoader
	// reads pages from; BufferPoolPages is the fixed control-block
	// table size the Engine allocates at Open.
	DataDir         string
	PageBytes       int
	BufferPoolPages int

	RecoveryMode RecoveryMode
	RedoMode     RedoMode
	UndoMode     UndoMode

	ArchiveDir string

	LogLevel     string
	ErrorLogPath string
	InfoLogPath  string
}

// Default returns the configuration this core uses when no INI file
// is present: small enough to exercise quickly in tests, large enough
// to be a believable demo default.
func Default() *Config {
	return &Config{
		LogDir:               "data/log",
		LogMaxBytes:          1 << 30,
		PartitionBytes:       64 << 20,
		BufferSegments:       16,
		SegmentBytes:         1 << 20,
		BlockBytes:           4096,
		ActiveSlots:          8,
		FlushTriggerSegments: 4,
		DataDir:              "data/pages",
		PageBytes:            16384,
		BufferPoolPages:      256,
		RecoveryMode:         RecoverySerial,
		RedoMode:             RedoLogDriven,
		UndoMode:             UndoTransaction,
		ArchiveDir:           "data/log_archive",
		LogLevel:             "info",
		ErrorLogPath:         "data/error.log",
		InfoLogPath:          "data/info.log",
	}
}

// Load reads path as an INI file and overlays it on Default(). A
// missing file is not an error — the defaults stand. An unknown
// recovery_mode/redo_mode/undo_mode value is rejected here, at load
// time, rather than surfacing later as NOT_IMPLEMENTED deep inside the
// recovery driver.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	logSec := raw.Section("log")
	cfg.LogDir = logSec.Key("log_dir").MustString(cfg.LogDir)
	cfg.LogMaxBytes = logSec.Key("log_max_bytes").MustInt64(cfg.LogMaxBytes)
	cfg.PartitionBytes = logSec.Key("partition_bytes").MustInt64(cfg.PartitionBytes)
	cfg.BufferSegments = logSec.Key("buffer_segments").MustInt(cfg.BufferSegments)
	cfg.SegmentBytes = logSec.Key("segment_bytes").MustInt64(cfg.SegmentBytes)
	cfg.BlockBytes = logSec.Key("block_bytes").MustInt(cfg.BlockBytes)
	cfg.ActiveSlots = logSec.Key("active_slots").MustInt(cfg.ActiveSlots)
	cfg.FlushTriggerSegments = logSec.Key("flush_trigger_segments").MustInt(cfg.FlushTriggerSegments)
	cfg.ReservationLimitBytes = logSec.Key("reservation_limit_bytes").MustInt64(cfg.ReservationLimitBytes)
	cfg.ArchiveDir = logSec.Key("archive_dir").MustString(cfg.ArchiveDir)

	bufSec := raw.Section("buffer")
	cfg.DataDir = bufSec.Key("data_dir").MustString(cfg.DataDir)
	cfg.PageBytes = bufSec.Key("page_bytes").MustInt(cfg.PageBytes)
	cfg.BufferPoolPages = bufSec.Key("buffer_pool_pages").MustInt(cfg.BufferPoolPages)

	recSec := raw.Section("recovery")
	if v := recSec.Key("recovery_mode").MustString(string(cfg.RecoveryMode)); v != "" {
		cfg.RecoveryMode = RecoveryMode(v)
	}
	if v := recSec.Key("redo_mode").MustString(string(cfg.RedoMode)); v != "" {
		cfg.RedoMode = RedoMode(v)
	}
	if v := recSec.Key("undo_mode").MustString(string(cfg.UndoMode)); v != "" {
		cfg.UndoMode = UndoMode(v)
	}

	logCfgSec := raw.Section("logging")
	cfg.LogLevel = logCfgSec.Key("log_level").MustString(cfg.LogLevel)
	cfg.ErrorLogPath = logCfgSec.Key("error_log_path").MustString(cfg.ErrorLogPath)
	cfg.InfoLogPath = logCfgSec.Key("info_log_path").MustString(cfg.InfoLogPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects any enumerated option outside its closed set and
// any size that cannot possibly work (zero or negative where a
// positive byte count or count is required).
func (c *Config) Validate() error {
	switch c.RecoveryMode {
	case RecoverySerial, RecoveryConcurrentCommitLSN, RecoveryConcurrentLock:
	default:
		return fmt.Errorf("config: unknown recovery_mode %q", c.RecoveryMode)
	}
	switch c.RedoMode {
	case RedoLogDriven, RedoPageDriven, RedoSPROnDemand:
	default:
		return fmt.Errorf("config: unknown redo_mode %q", c.RedoMode)
	}
	switch c.UndoMode {
	case UndoReverse, UndoTransaction:
	default:
		return fmt.Errorf("config: unknown undo_mode %q", c.UndoMode)
	}
	if c.PartitionBytes <= 0 {
		return fmt.Errorf("config: partition_bytes must be positive, got %d", c.PartitionBytes)
	}
	if c.LogMaxBytes <= 0 {
		return fmt.Errorf("config: log_max_bytes must be positive, got %d", c.LogMaxBytes)
	}
	if c.ActiveSlots <= 0 {
		return fmt.Errorf("config: active_slots must be positive, got %d", c.ActiveSlots)
	}
	if c.BlockBytes <= 0 {
		return fmt.Errorf("config: block_bytes must be positive, got %d", c.BlockBytes)
	}
	if c.FlushTriggerSegments <= 0 {
		return fmt.Errorf("config: flush_trigger_segments must be positive, got %d", c.FlushTriggerSegments)
	}
	if c.PageBytes <= 0 {
		return fmt.Errorf("config: page_bytes must be positive, got %d", c.PageBytes)
	}
	if c.BufferPoolPages <= 0 {
		return fmt.Errorf("config: buffer_pool_pages must be positive, got %d", c.BufferPoolPages)
	}
	return nil
}

// ReportPath is where the recovery driver writes its diagnostic TOML
// report: a file inside the log directory, next to the partition files.
func (c *Config) ReportPath() string {
	return filepath.Join(c.LogDir, "recovery_report.toml")
}
