package pidfile

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/grovetools/slidesync/errors"
)

func TestAcquireRelease(t *testing.T) {
	path := Path(t.TempDir(), "serve")
	require.NoError(t, Acquire(path, "serve"))

	running, pid, err := IsRunning(path)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, Release(path))
	running, _, err = IsRunning(path)
	require.NoError(t, err)
	assert.False(t, running)
	require.NoError(t, Release(path), "release is idempotent")
}

func TestAcquireRejectsLiveOwner(t *testing.T) {
	path := Path(t.TempDir(), "ingest")
	// PID 1 is always alive.
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o644))

	err := Acquire(path, "ingest")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAlreadyRunning))

	require.NoError(t, Release(path))
	_, err = os.Stat(path)
	assert.NoError(t, err, "another process's pid file is left alone")
}

func TestAcquireReplacesStale(t *testing.T) {
	path := Path(t.TempDir(), "serve")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	require.NoError(t, Acquire(path, "serve"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}
