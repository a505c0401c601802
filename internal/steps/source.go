// internal/steps/source.go
package steps

import (
	"sync"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Source yields validated steps in file order, once.
type Source struct {
	name string

	mu    sync.Mutex
	steps []schemas.Step
	pos   int
}

var _ schemas.StepSource = (*Source)(nil)

// NewSource wraps already validated steps.
func NewSource(name string, steps []schemas.Step) *Source {
	return &Source{name: name, steps: steps}
}

// Next returns the next step. Once exhausted the source stays exhausted.
func (s *Source) Next() (schemas.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.steps) {
		return schemas.Step{}, false
	}
	step := s.steps[s.pos]
	s.pos++
	return step, true
}

// Name identifies the source in reports.
func (s *Source) Name() string { return s.name }

// Len is the total number of steps, consumed or not.
func (s *Source) Len() int { return len(s.steps) }
