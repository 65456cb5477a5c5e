package server

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDFile_RecordsCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "uploadsrv.pid")

	p, err := AcquirePIDFile(path)
	require.NoError(t, err)

	defer p.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFile_FlockPreventsSecondAcquisition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "uploadsrv.pid")

	p1, err := AcquirePIDFile(path)
	require.NoError(t, err)

	defer p1.Release()

	p2, err := AcquirePIDFile(path)
	require.Error(t, err)
	assert.Nil(t, p2)
	assert.Contains(t, err.Error(), "already running")
}

func TestAcquirePIDFile_ReleaseRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "uploadsrv.pid")

	p, err := AcquirePIDFile(path)
	require.NoError(t, err)

	p.Release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquirePIDFile_ReleaseAllowsReacquisition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "uploadsrv.pid")

	p1, err := AcquirePIDFile(path)
	require.NoError(t, err)
	p1.Release()

	p2, err := AcquirePIDFile(path)
	require.NoError(t, err)

	defer p2.Release()
}

func TestAcquirePIDFile_EmptyPathReturnsError(t *testing.T) {
	t.Parallel()

	p, err := AcquirePIDFile("")
	assert.Error(t, err)
	assert.Nil(t, p)
}

func TestAcquirePIDFile_CreatesParentDirectories(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "uploadsrv.pid")

	p, err := AcquirePIDFile(path)
	require.NoError(t, err)

	defer p.Release()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAcquirePIDFile_TakesOverStaleFile(t *testing.T) {
	t.Parallel()

	// A leftover file from a crashed daemon carries no lock; acquisition
	// succeeds and rewrites it.
	path := filepath.Join(t.TempDir(), "uploadsrv.pid")
	require.NoError(t, os.WriteFile(path, []byte("99999\n"), 0o644))

	p, err := AcquirePIDFile(path)
	require.NoError(t, err)

	defer p.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
}
