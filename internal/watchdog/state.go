package watchdog

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a ServiceWatchdog.
type State string

const (
	StateStarting       State = "starting"
	StateAwaitingHealth State = "awaiting_health"
	StateHealthy        State = "healthy"
	StateUnhealthy      State = "unhealthy"
	StateRestarting     State = "restarting"
	StateStopped        State = "stopped"
)

func (s State) String() string { return string(s) }

// AllStates lists every state, in lifecycle order.
var AllStates = []State{
	StateStarting, StateAwaitingHealth, StateHealthy, StateUnhealthy, StateRestarting, StateStopped,
}

const (
	evSpawned   = "spawned"
	evProbeOK   = "probe_ok"
	evProbeFail = "probe_fail"
	evThreshold = "threshold"
	evExited    = "exited"
	evRestart   = "restart"
	evStop      = "stop"
)

func stateNames(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// newMachine builds the service state machine. onEnter runs synchronously on
// every state change, from the goroutine that fired the event.
func newMachine(onEnter func(from, to State)) *fsm.FSM {
	probing := stateNames(StateAwaitingHealth, StateHealthy, StateUnhealthy)
	live := stateNames(StateStarting, StateAwaitingHealth, StateHealthy, StateUnhealthy, StateRestarting)
	return fsm.NewFSM(
		string(StateStarting),
		fsm.Events{
			{Name: evSpawned, Src: stateNames(StateStarting, StateRestarting), Dst: string(StateAwaitingHealth)},
			{Name: evProbeOK, Src: probing, Dst: string(StateHealthy)},
			{Name: evProbeFail, Src: probing, Dst: string(StateUnhealthy)},
			{Name: evThreshold, Src: stateNames(StateUnhealthy), Dst: string(StateRestarting)},
			{Name: evExited, Src: live, Dst: string(StateRestarting)},
			{Name: evRestart, Src: probing, Dst: string(StateRestarting)},
			{Name: evStop, Src: live, Dst: string(StateStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst))
			},
		},
	)
}

// fire sends event to m. Self-transitions are not errors.
func fire(m *fsm.FSM, event string) error {
	err := m.Event(context.Background(), event)
	var nte fsm.NoTransitionError
	if err != nil && errors.As(err, &nte) {
		return nil
	}
	return err
}
