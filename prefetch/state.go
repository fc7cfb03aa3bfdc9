package prefetch

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrIllegalTransition = errors.New("illegal prefetch state transition")

// State is the prefetch state of a package.
type State int

const (
	Idle State = iota
	Estimating
	AwaitingConfirmation
	Downloading
	Downloaded
	Failed
	Invalidating
)

var stateNames = [...]string{
	Idle:                 "idle",
	Estimating:           "estimating",
	AwaitingConfirmation: "awaiting-confirmation",
	Downloading:          "downloading",
	Downloaded:           "downloaded",
	Failed:               "failed",
	Invalidating:         "invalidating",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Busy reports whether an operation owns the package files.
func (s State) Busy() bool {
	switch s {
	case Estimating, AwaitingConfirmation, Downloading, Invalidating:
		return true
	}
	return false
}

var transitions = map[State][]State{
	Idle:                 {Estimating, Downloading},
	Estimating:           {AwaitingConfirmation, Idle},
	AwaitingConfirmation: {Downloading, Idle},
	Downloading:          {Downloaded, Failed},
	Downloaded:           {Estimating, Downloading, Invalidating, Idle},
	Failed:               {Estimating, Downloading, Invalidating, Idle},
	Invalidating:         {Idle},
}

// CanTransition reports whether the machine may move from one state to
// another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type machine struct {
	mu    sync.Mutex
	state State
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// begin moves to state to and returns the state it left.
func (m *machine) begin(to State) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.state
	if !CanTransition(from, to) {
		return from, errors.Wrapf(ErrIllegalTransition, "%s -> %s", from, to)
	}
	m.state = to
	return from, nil
}

// restore leaves an aborted Estimating or AwaitingConfirmation state for the
// settled state the operation started from.
func (m *machine) restore(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if (m.state != Estimating && m.state != AwaitingConfirmation) || to.Busy() {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// settle moves a Downloaded or Failed machine to to. Other states are left
// alone.
func (m *machine) settle(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if (m.state == Downloaded || m.state == Failed) && CanTransition(m.state, to) {
		m.state = to
	}
}

func (m *machine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", m.state, to)
	}
	m.state = to
	return nil
}
