package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDaemonArgs(t *testing.T) {
	got := daemonArgs([]string{
		"run", "--config", "pdpwatch.toml",
		"--daemonize", "--pidfile", "/run/pdpwatch.pid",
		"--logfile=/var/log/pdpwatch.log", "--admin-listen", ":7070",
	})
	assert.Equal(t, []string{"run", "--config", "pdpwatch.toml", "--admin-listen", ":7070"}, got)

	assert.Equal(t, []string{"run"}, daemonArgs([]string{"run", "--daemonize=true", "--pidfile=x"}))
	assert.Empty(t, daemonArgs(nil))
}
