// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes each run as one indented JSON document.
type JSONReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer}
}

// jsonRun adds the tallies to the serialized report.
type jsonRun struct {
	*schemas.RunReport
	DurationMS int64 `json:"duration_ms"`
	Summary    struct {
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Skipped int `json:"skipped"`
	} `json:"summary"`
}

// Write implements Reporter.
func (r *JSONReporter) Write(report *schemas.RunReport) error {
	out := jsonRun{RunReport: report, DurationMS: report.FinishedAt.Sub(report.StartedAt).Milliseconds()}
	out.Summary.Passed, out.Summary.Failed, out.Summary.Skipped = report.Counts()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

// Close implements Reporter.
func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
