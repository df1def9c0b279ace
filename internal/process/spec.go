package process

import (
	"errors"
	"os/exec"

	"github.com/loykin/pdpwatch/internal/logger"
)

// Spec describes how to launch a supervised process. It is immutable once
// handed to a watchdog; every respawn uses the same Spec.
type Spec struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`     // executable
	Args    []string `json:"args"`     // arguments, not including Path
	WorkDir string   `json:"work_dir"` // empty means the supervisor's cwd
	// Env is the complete child environment as K=V pairs. A nil Env
	// inherits the supervisor's environment.
	Env     []string             `json:"env"`
	Log     logger.ProcessConfig `json:"log"`
	PIDFile string               `json:"pid_file"`
}

func (s Spec) Validate() error {
	if s.Path == "" {
		return errors.New("process spec: path is required")
	}
	return nil
}

// DisplayName is Name, or Path when no name was given.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

func (s Spec) command() *exec.Cmd {
	// #nosec G204 -- the executable is operator configuration
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.WorkDir
	if s.Env != nil {
		cmd.Env = append([]string(nil), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd
}
