//go:build !windows

package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReapStale_TerminatesRecordedProcess(t *testing.T) {
	h, err := Start(shSpec("sleep 30"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Kill() })

	path := filepath.Join(t.TempDir(), "pdp.pid")
	require.NoError(t, WritePIDFile(path, h.PID(), h.RunID()))

	pid, err := ReapStale(context.Background(), path, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, h.PID(), pid)
	waitDone(t, h, 2*time.Second)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReapStale_IgnoresReusedPID(t *testing.T) {
	h, err := Start(shSpec("sleep 30"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Kill() })

	path := filepath.Join(t.TempDir(), "pdp.pid")
	require.NoError(t, WritePIDFile(path, h.PID(), ""))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, owned, err := Owned(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, owned)

	pid, err := ReapStale(context.Background(), path, time.Second)
	require.NoError(t, err)
	assert.Zero(t, pid)
	assert.True(t, Alive(context.Background(), h.PID()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReapStale_NoFile(t *testing.T) {
	pid, err := ReapStale(context.Background(), filepath.Join(t.TempDir(), "none.pid"), time.Second)
	require.NoError(t, err)
	assert.Zero(t, pid)

	pid, err = ReapStale(context.Background(), "", time.Second)
	require.NoError(t, err)
	assert.Zero(t, pid)
}

func TestReapStale_DeadProcess(t *testing.T) {
	h, err := Start(shSpec("exit 0"))
	require.NoError(t, err)
	waitDone(t, h, 2*time.Second)

	path := filepath.Join(t.TempDir(), "pdp.pid")
	require.NoError(t, WritePIDFile(path, h.PID(), h.RunID()))
	pid, err := ReapStale(context.Background(), path, time.Second)
	require.NoError(t, err)
	assert.Zero(t, pid)
}

func TestReapStale_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdp.pid")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o600))
	_, err := ReapStale(context.Background(), path, time.Second)
	require.Error(t, err)
}
