package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_RoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run", "pdp.pid")
	require.NoError(t, WritePIDFile(p, 4242, "01HRUNID"))

	pid, runID, err := ReadPIDFile(p)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
	assert.Equal(t, "01HRUNID", runID)

	require.NoError(t, RemovePIDFile(p))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, RemovePIDFile(p))
}

func TestPIDFile_LegacyPIDOnly(t *testing.T) {
	p := filepath.Join(t.TempDir(), "legacy.pid")
	require.NoError(t, os.WriteFile(p, []byte("123"), 0o600))

	pid, runID, err := ReadPIDFile(p)
	require.NoError(t, err)
	assert.Equal(t, 123, pid)
	assert.Empty(t, runID)
}

func TestPIDFile_Invalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(p, []byte("abc\n"), 0o600))
	_, _, err := ReadPIDFile(p)
	assert.Error(t, err)
}

func TestPIDFile_EmptyPathNoop(t *testing.T) {
	assert.NoError(t, WritePIDFile("", 1, ""))
	assert.NoError(t, RemovePIDFile(""))
}
