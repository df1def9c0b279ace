package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestProcessWriters_WithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := ProcessConfig{Dir: dir}
	outW, errW, err := cfg.Writers("pdp")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)

	for _, name := range []string{"pdp.stdout.log", "pdp.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
	}
}

func TestProcessWriters_ExplicitPathOverridesDir(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "custom.out")
	cfg := ProcessConfig{Dir: dir, StdoutPath: sp}
	outW, errW, err := cfg.Writers("pdp")
	require.NoError(t, err)
	defer closeIf(outW)
	defer closeIf(errW)

	assert.Equal(t, sp, outW.(*lj.Logger).Filename)
	assert.Equal(t, filepath.Join(dir, "pdp.stderr.log"), errW.(*lj.Logger).Filename)
}

func TestProcessWriters_Defaults(t *testing.T) {
	cfg := ProcessConfig{}
	assert.False(t, cfg.Enabled())
	outW, errW, err := cfg.Writers("n")
	require.NoError(t, err)
	assert.Nil(t, outW)
	assert.Nil(t, errW)

	cfg = ProcessConfig{StdoutPath: filepath.Join(t.TempDir(), "x")}
	outW, _, _ = cfg.Writers("n")
	l := outW.(*lj.Logger)
	assert.Equal(t, DefaultMaxSizeMB, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, c, err := New(Config{Format: "json", Level: "debug"}, &buf)
	require.NoError(t, err)
	defer closeIf(c)

	l.Debug("probe", slog.Int("pid", 42))
	assert.Contains(t, buf.String(), `"pid":42`)
}

func TestNew_FileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "pdpwatch.log")
	l, c, err := New(Config{File: path}, &buf)
	require.NoError(t, err)

	l.Info("spawned")
	require.NoError(t, c.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "spawned")
	assert.Contains(t, buf.String(), "spawned")
}

func TestNew_UnknownFormat(t *testing.T) {
	_, _, err := New(Config{Format: "xml"}, io.Discard)
	assert.Error(t, err)
}

func TestColorTextHandler_KeepsColorAfterWith(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil)).With("name", "pdp")
	l.Warn("unhealthy")

	out := buf.String()
	assert.True(t, strings.Contains(out, "\033[33mWARN"), out)
	assert.Contains(t, out, "name=pdp")
}
