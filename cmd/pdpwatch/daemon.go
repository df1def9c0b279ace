package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/pdpwatch/internal/process"
)

// daemonize re-executes the current command line in the background without
// --daemonize, records the child pid and returns.
func daemonize(pidFile, logFile string, out io.Writer) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204
	cmd := exec.Command(executable, daemonArgs(os.Args[1:])...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec G304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := cmd.Process.Pid
	if err := process.WritePIDFile(pidFile, pid, ""); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	_ = cmd.Process.Release()

	_, _ = fmt.Fprintf(out, "daemon started with PID %d\n", pid)
	return nil
}

// daemonArgs strips the daemon-only flags from args. Both "--flag value" and
// "--flag=value" forms are handled.
func daemonArgs(args []string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		name, _, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--daemonize":
			continue
		case "--pidfile", "--logfile":
			skipNext = !hasValue
			continue
		}
		out = append(out, arg)
	}
	return out
}
