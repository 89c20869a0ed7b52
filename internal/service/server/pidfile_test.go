package server

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAcquirePIDFile_WritesAndReleases records the current pid and removes it on release.
func TestAcquirePIDFile_WritesAndReleases(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")

	release, err := acquirePIDFile(context.Background(), path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	release()

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestAcquirePIDFile_LiveOwner refuses to start while the recorded process runs.
func TestAcquirePIDFile_LiveOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o600))

	_, err := acquirePIDFile(context.Background(), path)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

// TestAcquirePIDFile_StaleOwner takes over files left by dead or garbled owners.
func TestAcquirePIDFile_StaleOwner(t *testing.T) {
	t.Parallel()

	for _, content := range []string{"2147483646", "not-a-pid", ""} {
		path := filepath.Join(t.TempDir(), "daemon.pid")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		release, err := acquirePIDFile(context.Background(), path)
		require.NoError(t, err, content)

		release()
	}
}

// TestAcquirePIDFile_ReleaseKeepsForeignFile leaves a file another process took over.
func TestAcquirePIDFile_ReleaseKeepsForeignFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")

	release, err := acquirePIDFile(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))
	release()

	_, err = os.Stat(path)
	require.NoError(t, err)
}
