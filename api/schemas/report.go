// File: api/schemas/report.go
package schemas

import "time"

// StepStatus is the terminal status of one step in a run.
type StepStatus string

const (
	StatusPassed  StepStatus = "passed"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// Attachment is a file captured during a step (screenshots, page dumps).
// Body is held in memory until a reporter persists it and sets Path.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Path        string `json:"path,omitempty"`
	Body        []byte `json:"-"`
}

// StepReport is the record handed to reporting hooks when a step ends.
type StepReport struct {
	Index       int              `json:"index"`
	Name        string           `json:"name"`
	Action      ActionKind       `json:"action"`
	Target      string           `json:"target"`
	Status      StepStatus       `json:"status"`
	States      []string         `json:"states,omitempty"`
	Resolved    *ResolvedElement `json:"resolved,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Outcome     ActionOutcome    `json:"outcome"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   ErrorKind        `json:"error_kind,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

// Duration is the wall time the step took.
func (r StepReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunReport aggregates one suite execution.
type RunReport struct {
	RunID      string       `json:"run_id"`
	Source     string       `json:"source"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepReport `json:"steps"`
	Passed     bool         `json:"passed"`
}

// Counts tallies step statuses.
func (r *RunReport) Counts() (passed, failed, skipped int) {
	for _, s := range r.Steps {
		switch s.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}
