package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/pdpwatch/internal/auth"
	"github.com/loykin/pdpwatch/internal/engine"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, engine.DefaultBaseURL, cfg.Engine.BaseURL)
	assert.Equal(t, engine.DefaultHealthPath, cfg.Engine.HealthPath)
	assert.Equal(t, 10*time.Second, cfg.Engine.HealthTimeout)
	assert.True(t, cfg.Engine.InheritEnv)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Health.InitialStartupDelay)
	assert.Equal(t, time.Second, cfg.Restart.RestartInterval)
	assert.Equal(t, 60*time.Second, cfg.Restart.TerminationTimeout)
	assert.False(t, cfg.Admin.Enabled)
	assert.False(t, cfg.History.Enabled())
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "pdpwatch.toml", `
[engine]
name = "horizon"
python = "/usr/bin/python3"
pdp_dir = "/srv/pdp"
module = "uvicorn"
app = "horizon.main:app"
port = 7001
log_level = "info"
args = ["--workers=2"]
env = ["PDP_DEBUG=true"]
env_files = ["pdp.env"]
inherit_env = false
base_url = "http://127.0.0.1:7001/"
tcp_check = "127.0.0.1:7001"

[health]
interval = "30s"
failure_threshold = 5
startup_delay = "2s"

[restart]
interval = "3s"
termination_timeout = "15s"

[log]
level = "debug"
format = "json"

[process_log]
dir = "/var/log/pdp"

[admin]
enabled = true
listen = ":9090"

[history]
sinks = ["sqlite:///var/lib/pdpwatch/events.db"]
`)
	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "horizon", cfg.Engine.Name)
	assert.Equal(t, uint16(7001), cfg.Engine.Port)
	assert.Equal(t, []string{filepath.Join(dir, "pdp.env")}, cfg.Engine.EnvFiles)
	assert.False(t, cfg.Engine.InheritEnv)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5, cfg.Health.FailureThreshold)
	assert.Equal(t, 2*time.Second, cfg.Health.InitialStartupDelay)
	assert.Equal(t, 3*time.Second, cfg.Restart.RestartInterval)
	assert.Equal(t, 15*time.Second, cfg.Restart.TerminationTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/log/pdp", cfg.ProcessLog.Dir)
	assert.Equal(t, ":9090", cfg.Admin.Listen)
	assert.Equal(t, "/api", cfg.Admin.BasePath)
	assert.True(t, cfg.History.Enabled())

	assert.Equal(t, []string{
		"-m", "uvicorn", "horizon.main:app", "--port", "7001", "--log-level", "info", "--workers=2",
	}, engine.Flatten(cfg.Args()))
}

func TestLoad_YAML(t *testing.T) {
	file := writeFile(t, t.TempDir(), "pdpwatch.yaml", `
engine:
  name: yaml-pdp
  reload: true
health:
  interval: 0s
`)
	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "yaml-pdp", cfg.Engine.Name)
	assert.Zero(t, cfg.Health.Interval)
	assert.Equal(t, []string{"--reload"}, engine.Flatten(cfg.Args()))
}

func TestLoad_EnvOverrides(t *testing.T) {
	file := writeFile(t, t.TempDir(), "pdpwatch.toml", `
[health]
interval = "30s"
`)
	t.Setenv("PDPWATCH_HEALTH_INTERVAL", "45s")
	t.Setenv("PDPWATCH_ENGINE_BASE_URL", "http://pdp:8181/")
	t.Setenv("PDPWATCH_ADMIN_ENABLED", "true")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Health.Interval)
	assert.Equal(t, "http://pdp:8181/", cfg.Engine.BaseURL)
	assert.True(t, cfg.Admin.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	file := writeFile(t, t.TempDir(), "bad.toml", `
[health]
failure_threshold = 0
[engine]
env = ["NOEQUALS"]
`)
	_, err = Load(file)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "failure_threshold")
	assert.Contains(t, err.Error(), "NOEQUALS")

	file = writeFile(t, t.TempDir(), "level.toml", "[log]\nlevel = \"loud\"\n")
	_, err = Load(file)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestLoad_AdminSecurityAndSchedule(t *testing.T) {
	hash, err := auth.HashPassword("pw", bcrypt.MinCost)
	require.NoError(t, err)
	dir := t.TempDir()
	file := writeFile(t, dir, "pdpwatch.toml", `
[admin]
enabled = true

[admin.auth]
enabled = true
token_ttl = "15m"

[[admin.auth.users]]
username = "ops"
password_hash = "`+hash+`"
roles = ["operator"]

[admin.tls]
enabled = true
dir = "certs"
auto_generate = true

[schedule]
restart = "0 3 * * *"
`)
	cfg, err := Load(file)
	require.NoError(t, err)
	assert.True(t, cfg.Admin.Auth.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Admin.Auth.TokenTTL)
	require.Len(t, cfg.Admin.Auth.Users, 1)
	assert.Equal(t, []string{"operator"}, cfg.Admin.Auth.Users[0].Roles)
	assert.Equal(t, filepath.Join(dir, "certs"), cfg.Admin.TLS.Dir)
	assert.Equal(t, "0 3 * * *", cfg.Schedule.Restart)
	assert.Equal(t, 2*time.Minute, cfg.Schedule.Timeout)
}

func TestLoad_AdminSecurityErrors(t *testing.T) {
	file := writeFile(t, t.TempDir(), "pdpwatch.toml", `
[admin.auth]
enabled = true

[admin.tls]
enabled = true
cert_file = "only-cert.pem"

[schedule]
restart = "whenever"
`)
	_, err := Load(file)
	require.ErrorIs(t, err, engine.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "admin.auth")
	assert.Contains(t, err.Error(), "key_file")
	assert.Contains(t, err.Error(), "schedule.restart")
}

func TestEnvironment_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.env", "# base\nTOKEN=from-a\nONLY_A=1\n")
	writeFile(t, dir, "b.env", "export TOKEN=\"from-b\"\n")
	file := writeFile(t, dir, "pdpwatch.toml", `
[engine]
env_files = ["a.env", "b.env"]
env = ["EXTRA=x"]
`)
	cfg, err := Load(file)
	require.NoError(t, err)

	vars, err := cfg.Environment()
	require.NoError(t, err)
	assert.Equal(t, "from-b", vars["TOKEN"])
	assert.Equal(t, "1", vars["ONLY_A"])
	assert.Equal(t, "x", vars["EXTRA"])

	cfg.Engine.Env = []string{"TOKEN=from-list"}
	vars, err = cfg.Environment()
	require.NoError(t, err)
	assert.Equal(t, "from-list", vars["TOKEN"])
}

func TestEnvironment_BadFile(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.env", "not a pair\n")
	cfg := Default()
	cfg.Engine.EnvFiles = []string{bad}
	_, err := cfg.Environment()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.env:1")

	_, err = cfg.Builder()
	assert.Error(t, err)
}

func TestBuilder_FromConfig(t *testing.T) {
	dir := t.TempDir()
	py := writeFile(t, dir, "python3", "#!/bin/sh\nexec sleep 60\n")
	require.NoError(t, os.Chmod(py, 0o755))

	cfg := Default()
	cfg.Engine.Python = py
	cfg.Engine.PDPDir = dir
	cfg.Engine.Module = "uvicorn"
	cfg.Engine.Env = []string{"PDP_MODE=test"}
	cfg.Engine.InheritEnv = false
	cfg.Engine.PIDFile = filepath.Join(dir, "pdp.pid")

	b, err := cfg.Builder()
	require.NoError(t, err)
	spec, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, py, spec.Path)
	assert.Equal(t, dir, spec.WorkDir)
	assert.Equal(t, []string{"-m", "uvicorn"}, spec.Args)
	assert.Equal(t, []string{"PDP_MODE=test"}, spec.Env)
	assert.Equal(t, cfg.Engine.PIDFile, spec.PIDFile)
}

func TestBuilder_FromConfigReportsBadPaths(t *testing.T) {
	cfg := Default()
	cfg.Engine.Python = filepath.Join(t.TempDir(), "nope")
	cfg.Engine.PDPDir = filepath.Join(t.TempDir(), "nope")

	b, err := cfg.Builder()
	require.NoError(t, err)
	_, err = b.Build()
	assert.ErrorIs(t, err, engine.ErrBinaryNotFound)
	assert.ErrorIs(t, err, engine.ErrDirNotFound)
}

func TestLoad_SampleConfig(t *testing.T) {
	path := filepath.Join("..", "..", "config", "pdpwatch.toml")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pdp.server", cfg.Engine.Module)
	assert.EqualValues(t, 7001, cfg.Engine.Port)
	assert.Equal(t, 60*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Restart.RestartInterval)
	assert.True(t, cfg.Admin.Enabled)
	assert.False(t, cfg.Admin.Auth.Enabled)
	assert.Equal(t, []string{"sqlite://data/history.db"}, cfg.History.Sinks)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "tls"), cfg.Admin.TLS.Dir)
	assert.Equal(t, []string{filepath.Join(filepath.Dir(path), "pdp.env")}, cfg.Engine.EnvFiles)
}
