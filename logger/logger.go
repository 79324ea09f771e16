// Package logger provides the structured logging used across the
// wal, bufferpool, txntable, checkpoint, recovery and engine packages.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger is the default, debug-capable logger instance.
	Logger *logrus.Logger
	// InfoLogger carries info-and-above messages.
	InfoLogger *logrus.Logger
	// ErrorLogger carries error-and-above messages.
	ErrorLogger *logrus.Logger
)

func init() {
	// Usable before Init is explicitly called, e.g. from tests.
	_ = Init(Config{LogLevel: "info"})
}

// Config controls where, and at what level, the engine logs.
type Config struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

// entryFormatter renders a timestamp, level, call site and, when a
// caller attached them with ForRun or WithField, the structured
// fields a recovery or checkpoint run tags its lines with.
type entryFormatter struct{}

func (entryFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format("15:04:05 MST 2006/01/02")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	tags := formatFields(entry.Data)
	return []byte(fmt.Sprintf("[%s] [%s] (%s)%s %s\n", ts, level, caller(), tags, entry.Message)), nil
}

// formatFields renders logrus entry fields as "[key=value ...]", in a
// stable order so two runs of the same call site diff cleanly. Empty
// when the caller attached no fields.
func formatFields(data logrus.Fields) string {
	if len(data) == 0 {
		return ""
	}
	order := []string{"component", "run_id"}
	var b strings.Builder
	b.WriteString(" [")
	wrote := false
	write := func(k string, v interface{}) {
		if wrote {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%v", k, v)
		wrote = true
	}
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if v, ok := data[k]; ok {
			write(k, v)
			seen[k] = true
		}
	}
	var rest []string
	for k := range data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		write(k, data[k])
	}
	b.WriteString("]")
	return b.String()
}

// caller walks the stack past the logging framework's own frames to
// find the first frame outside logrus and this package.
func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "logger/logger.go") {
			continue
		}
		fn := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), fn, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// Init (re)configures the package-level loggers. Safe to call more
// than once; the engine calls it once with the loaded config values.
func Init(cfg Config) error {
	level := parseLevel(cfg.LogLevel)

	InfoLogger = newSublogger(level, cfg.InfoLogPath, os.Stdout)
	ErrorLogger = newSublogger(level, cfg.ErrorLogPath, os.Stderr)

	Logger = logrus.New()
	Logger.SetFormatter(entryFormatter{})
	Logger.SetLevel(level)
	Logger.SetOutput(InfoLogger.Out)

	return nil
}

// newSublogger builds one of Init's two file-backed loggers: its
// primary destination (stdout or stderr) always gets written to, and
// when path is set, a second write goes to that file too, falling
// back to primary-only with a warning if the file can't be opened.
func newSublogger(level logrus.Level, path string, primary *os.File) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(entryFormatter{})
	l.SetLevel(level)

	if path == "" {
		l.SetOutput(primary)
		return l
	}
	f, err := openLogFile(path)
	if err != nil {
		l.SetOutput(primary)
		l.Warnf("failed to open log file %s, falling back to %s: %v", path, primary.Name(), err)
		return l
	}
	l.SetOutput(io.MultiWriter(primary, f))
	return l
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

func Debug(args ...interface{})                { Logger.Debug(args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Info(args ...interface{})                  { InfoLogger.Info(args...) }
func Infof(format string, args ...interface{})  { InfoLogger.Infof(format, args...) }
func Warn(args ...interface{})                  { Logger.Warn(args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Error(args ...interface{})                 { ErrorLogger.Error(args...) }
func Errorf(format string, args ...interface{}) { ErrorLogger.Errorf(format, args...) }
func Fatal(args ...interface{})                 { ErrorLogger.Fatal(args...) }
func Fatalf(format string, args ...interface{}) { ErrorLogger.Fatalf(format, args...) }

// WithField/WithFields attach structured context (e.g. a recovery run
// ID) to a log line without having to format it into the message.
func WithField(key string, value interface{}) *logrus.Entry {
	return InfoLogger.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return InfoLogger.WithFields(fields)
}

// ForRun tags every line logged through the returned entry with the
// component that produced it ("recovery", "checkpoint") and a run
// identifier, so that interleaved log lines from a concurrent
// recovery pass and a periodic checkpoint can be told apart.
func ForRun(component string, runID fmt.Stringer) *logrus.Entry {
	return WithFields(logrus.Fields{"component": component, "run_id": runID.String()})
}
