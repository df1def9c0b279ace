package process

import (
	"errors"
	"fmt"
)

var (
	ErrSpawn = errors.New("spawn failed")
	// ErrForcedKill reports that a process survived SIGKILL or could not be
	// signalled. The supervisor treats it as fatal.
	ErrForcedKill = errors.New("forced kill failed")
)

// SpawnError carries the OS error from a failed launch.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }
