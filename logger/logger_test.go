package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestInitFallsBackToPrimaryWhenLogFileCannotBeOpened(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	require.NoError(t, Init(Config{
		LogLevel:    "info",
		InfoLogPath: filepath.Join(blocker, "info.log"),
	}))
	t.Cleanup(func() { _ = Init(Config{LogLevel: "info"}) })

	require.NotNil(t, InfoLogger)
	require.NotNil(t, ErrorLogger)
	require.Equal(t, os.Stdout, InfoLogger.Out)
}

func TestInitWritesToConfiguredLogFile(t *testing.T) {
	dir := t.TempDir()
	infoPath := filepath.Join(dir, "info.log")
	require.NoError(t, Init(Config{LogLevel: "debug", InfoLogPath: infoPath}))
	t.Cleanup(func() { _ = Init(Config{LogLevel: "info"}) })

	Info("hello from a test")

	data, err := os.ReadFile(infoPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello from a test")
}

func TestForRunTagsEveryLineWithComponentAndRunID(t *testing.T) {
	require.NoError(t, Init(Config{LogLevel: "debug"}))
	t.Cleanup(func() { _ = Init(Config{LogLevel: "info"}) })

	var buf bytes.Buffer
	InfoLogger.SetOutput(&buf)

	runID := uuid.New()
	ForRun("recovery", runID).Info("analysis complete")

	out := buf.String()
	require.Contains(t, out, "component=recovery")
	require.Contains(t, out, "run_id="+runID.String())
	require.Contains(t, out, "analysis complete")
}

func TestFormatFieldsIsEmptyWithNoFields(t *testing.T) {
	require.Equal(t, "", formatFields(nil))
}
