package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePIDFile records pid and the run id on two lines.
func WritePIDFile(path string, pid int, runID string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	body := strconv.Itoa(pid) + "\n" + runID + "\n"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadPIDFile returns the pid and run id stored by WritePIDFile. Files that
// hold only a pid are accepted.
func ReadPIDFile(path string) (int, string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, "", err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return 0, "", fmt.Errorf("pid file %s: invalid pid %q", path, pidLine)
	}
	return pid, strings.TrimSpace(rest), nil
}

func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
