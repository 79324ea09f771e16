package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ariesrecover/ariesrecover/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.LogDir = filepath.Join(dir, "log")
	cfg.DataDir = filepath.Join(dir, "pages")
	cfg.ArchiveDir = filepath.Join(dir, "archive")
	cfg.ErrorLogPath = ""
	cfg.InfoLogPath = ""
	cfg.BufferPoolPages = 16
	cfg.PartitionBytes = 1 << 20
	return cfg
}

func TestOpenOnFreshDirectoryRecoversCleanly(t *testing.T) {
	cfg := newTestConfig(t)
	e, err := Open(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestOpenThenCloseThenReopenSucceeds(t *testing.T) {
	cfg := newTestConfig(t)
	e, err := Open(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, e2.Close())
}

func TestCheckpointAdvancesMasterPointer(t *testing.T) {
	cfg := newTestConfig(t)
	e, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer e.Close()

	before := e.Log.MasterLSN()
	res, err := e.Checkpoint()
	require.NoError(t, err)
	require.Equal(t, res.BeginLSN, e.Log.MasterLSN())
	require.NotEqual(t, before, e.Log.MasterLSN())
}

func TestOpenWithConcurrentCommitLsnModeReturnsBeforeRedoUndoFinish(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RecoveryMode = config.RecoveryConcurrentCommitLSN

	e, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer e.Close()

	report, err := e.WaitRecovery()
	require.NoError(t, err)
	require.NotNil(t, report)
}

func TestWaitRecoveryIsNoOpUnderSerialMode(t *testing.T) {
	cfg := newTestConfig(t)
	e, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer e.Close()

	report, err := e.WaitRecovery()
	require.NoError(t, err)
	require.Nil(t, report)
}

func TestOpenWithConcurrentLockModeProvisionsALockManager(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RecoveryMode = config.RecoveryConcurrentLock

	e, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.WaitRecovery()
	require.NoError(t, err)
	require.NotNil(t, e.Driver.Locks)
}

func TestPeriodicCheckpointDaemonRunsOnItsOwnCadence(t *testing.T) {
	cfg := newTestConfig(t)
	e, err := Open(cfg, Options{CheckpointInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer e.Close()

	before := e.Log.MasterLSN()
	require.Eventually(t, func() bool {
		return e.Log.MasterLSN() != before
	}, time.Second, 10*time.Millisecond)
}

func TestMountedVolumeSurvivesCheckpointAndRestart(t *testing.T) {
	cfg := newTestConfig(t)
	e, err := Open(cfg, Options{})
	require.NoError(t, err)

	require.NoError(t, e.MountVolume(7, "vol_7.dat"))

	_, err = e.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer e2.Close()

	devices := e2.Driver.Devices()
	require.Len(t, devices, 1)
	require.Equal(t, uint32(7), devices[0].Volume)
	require.Equal(t, "vol_7.dat", devices[0].Path)
}

func TestDismountVolumeRemovesItFromTheNextCheckpointsDeviceTable(t *testing.T) {
	cfg := newTestConfig(t)
	e, err := Open(cfg, Options{})
	require.NoError(t, err)

	require.NoError(t, e.MountVolume(7, "vol_7.dat"))
	require.NoError(t, e.DismountVolume(7))

	_, err = e.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer e2.Close()

	require.Empty(t, e2.Driver.Devices())
}
