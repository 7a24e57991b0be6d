package wbcache

import "sync/atomic"

// ControlState is the lifecycle state of the whole cache (spec §4.8):
// NOT_STARTED → RUNNING; RUNNING ↔ FLUSHING; RUNNING → SHUTDOWN_IN_PROGRESS
// → SHUTDOWN_COMPLETED.
type ControlState int32

const (
	StateNotStarted ControlState = iota
	StateRunning
	StateFlushing
	StateShutdownInProgress
	StateShutdownCompleted
)

func (s ControlState) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateRunning:
		return "RUNNING"
	case StateFlushing:
		return "FLUSHING"
	case StateShutdownInProgress:
		return "SHUTDOWN_IN_PROGRESS"
	case StateShutdownCompleted:
		return "SHUTDOWN_COMPLETED"
	default:
		return "UNKNOWN_CONTROL_STATE"
	}
}

// controlStateMachine is a single atomic reference with CAS transitions
// (spec §5), standing in for the source's single shared mutable control
// state.
type controlStateMachine struct {
	v atomic.Int32
}

func newControlStateMachine() *controlStateMachine {
	m := &controlStateMachine{}
	m.v.Store(int32(StateNotStarted))
	return m
}

func (m *controlStateMachine) load() ControlState {
	return ControlState(m.v.Load())
}

func (m *controlStateMachine) store(s ControlState) {
	m.v.Store(int32(s))
}

func (m *controlStateMachine) cas(old, new ControlState) bool {
	return m.v.CompareAndSwap(int32(old), int32(new))
}

// requireUsable returns a *ControlStateError (which unwraps to
// ErrControlState) unless the machine is currently
// RUNNING or FLUSHING (FLUSHING allows internal spooldown traffic but
// standard access operations are still permitted through it so in-flight
// client calls aren't starved while draining).
func (m *controlStateMachine) requireUsable(op string) error {
	switch m.load() {
	case StateRunning, StateFlushing:
		return nil
	default:
		return &ControlStateError{State: m.load(), Op: op}
	}
}
