package bridge

import (
	"sync"
	"sync/atomic"
)

// SetPointStore holds the last set-point written to the device successfully.
// It starts empty ("never applied") unless seeded.
type SetPointStore struct {
	mu      sync.Mutex
	value   any
	applied bool
}

// NewSetPointStore returns an empty store.
func NewSetPointStore() *SetPointStore {
	return &SetPointStore{}
}

// NewSeededSetPointStore returns a store that behaves as if value had
// already been written.
func NewSeededSetPointStore(value any) *SetPointStore {
	return &SetPointStore{value: value, applied: true}
}

// Load returns the last applied value; ok is false if nothing was applied.
func (s *SetPointStore) Load() (value any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.applied
}

// Apply writes value through write unless it equals the stored value.
// The store is updated only when write succeeds, and the whole
// compare-write-store sequence runs under the store's lock.
func (s *SetPointStore) Apply(value any, write func() error) (changed bool, previous any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous = s.value
	if s.applied && s.value == value {
		return false, previous, nil
	}
	if err := write(); err != nil {
		return false, previous, err
	}
	s.value = value
	s.applied = true
	return true, previous, nil
}

// State is a Lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateStopRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle is the one-way state machine Running -> StopRequested -> Stopped.
type Lifecycle struct {
	state    atomic.Int32
	onChange func(from, to State)
}

// NewLifecycle returns a Lifecycle in StateRunning. onChange, if set, is
// called after every transition.
func NewLifecycle(onChange func(from, to State)) *Lifecycle {
	return &Lifecycle{onChange: onChange}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// RequestStop moves Running to StopRequested. It reports whether this call
// made the transition; it is true for exactly one caller.
func (l *Lifecycle) RequestStop() bool {
	return l.transition(StateRunning, StateStopRequested)
}

// MarkStopped moves the lifecycle to Stopped, passing through StopRequested
// if no stop had been requested yet.
func (l *Lifecycle) MarkStopped() bool {
	l.RequestStop()
	return l.transition(StateStopRequested, StateStopped)
}

func (l *Lifecycle) transition(from, to State) bool {
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if l.onChange != nil {
		l.onChange(from, to)
	}
	return true
}
