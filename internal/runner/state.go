// internal/runner/state.go
package runner

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is a node of the per-step state machine.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateActing    State = "acting"
	StateVerifying State = "verifying"
	StateDone      State = "done"
	StateErrored   State = "errored"
)

// transitions lists the legal successors of each state. Errored is reachable
// from every non-terminal state and is absorbing, as is Done for the
// traversal itself.
var transitions = map[State][]State{
	StateIdle:      {StateResolving},
	StateResolving: {StateActing, StateDone},
	StateActing:    {StateVerifying, StateResolving, StateDone},
	StateVerifying: {StateDone, StateActing, StateResolving},
}

// machine tracks one step's traversal and its history. The traversal runs on
// its own goroutine, so every access goes through mu.
type machine struct {
	mu        sync.Mutex
	logger    *zap.Logger
	state     State
	history   []string
	abandoned bool
}

func newMachine(logger *zap.Logger) *machine {
	return &machine{logger: logger, state: StateIdle, history: []string{string(StateIdle)}}
}

// to moves the machine. Illegal moves panic; they are programming errors.
// Moves made after abandon are dropped.
func (m *machine) to(next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.abandoned {
		return
	}
	if !m.allowed(next) {
		panic(fmt.Sprintf("runner: illegal transition %s -> %s", m.state, next))
	}
	m.set(next)
}

func (m *machine) set(next State) {
	m.logger.Debug("Step state transition.", zap.String("from", string(m.state)), zap.String("to", string(next)))
	m.state = next
	m.history = append(m.history, string(next))
}

func (m *machine) allowed(next State) bool {
	if m.terminal() {
		return false
	}
	if next == StateErrored {
		return true
	}
	for _, s := range transitions[m.state] {
		if s == next {
			return true
		}
	}
	return false
}

func (m *machine) terminal() bool {
	return m.state == StateDone || m.state == StateErrored
}

// current returns the state the machine is in.
func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// states returns a copy of the history.
func (m *machine) states() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// fail moves to Errored unless the machine already ended.
func (m *machine) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.terminal() {
		m.set(StateErrored)
	}
}

// abandon ends a traversal whose context expired, even one that reached Done
// after its deadline. The machine moves to Errored and ignores the traversal
// from then on. It returns the state the traversal was in.
func (m *machine) abandon() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := m.state
	if m.state != StateErrored {
		m.set(StateErrored)
	}
	m.abandoned = true
	return last
}
