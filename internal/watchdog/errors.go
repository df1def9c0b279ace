package watchdog

import (
	"errors"

	"github.com/loykin/pdpwatch/internal/process"
)

var (
	// ErrSpawn matches any launch failure; see process.SpawnError.
	ErrSpawn = process.ErrSpawn
	// ErrForcedKill is fatal: the supervised process could not be killed.
	ErrForcedKill = process.ErrForcedKill
	// ErrWaitTimeout is returned by WaitForHealthy when the deadline passes.
	// The supervised process is left running.
	ErrWaitTimeout = errors.New("timed out waiting for healthy")
	// ErrStopped is returned by operations on a stopped watchdog.
	ErrStopped = errors.New("watchdog stopped")
)
