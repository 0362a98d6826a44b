package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simtempd.pid")

	require.NoError(t, pid.Write(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, pid.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, pid.Remove(path))
}

func TestWriteWhileRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simtempd.pid")
	require.NoError(t, pid.Write(path))

	err := pid.Write(path)
	assert.Equal(t, errors.ErrAlreadyRunning, errors.CodeOf(err))
}

func TestWriteReplacesStaleRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simtempd.pid")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o600))

	require.NoError(t, pid.Write(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))
}
