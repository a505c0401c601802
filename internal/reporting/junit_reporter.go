// internal/reporting/junit_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// JUnitReporter buffers runs and writes a single <testsuites> document on
// Close, one <testsuite> per run and one <testcase> per step.
type JUnitReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	doc    *etree.Document
	root   *etree.Element
}

// NewJUnitReporter takes ownership of writer.
func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", "cartpilot")
	return &JUnitReporter{writer: writer, doc: doc, root: root}
}

// Write implements Reporter.
func (r *JUnitReporter) Write(report *schemas.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, failed, skipped := report.Counts()
	suite := r.root.CreateElement("testsuite")
	suite.CreateAttr("name", report.Source)
	suite.CreateAttr("id", report.RunID)
	suite.CreateAttr("tests", strconv.Itoa(len(report.Steps)))
	suite.CreateAttr("failures", strconv.Itoa(failed))
	suite.CreateAttr("skipped", strconv.Itoa(skipped))
	suite.CreateAttr("timestamp", report.StartedAt.UTC().Format("2006-01-02T15:04:05"))
	suite.CreateAttr("time", seconds(report.FinishedAt.Sub(report.StartedAt).Seconds()))

	for _, step := range report.Steps {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", report.Source)
		tc.CreateAttr("name", fmt.Sprintf("%03d %s", step.Index, step.Name))
		tc.CreateAttr("time", seconds(step.Duration().Seconds()))

		switch step.Status {
		case schemas.StatusFailed:
			f := tc.CreateElement("failure")
			f.CreateAttr("type", string(step.ErrorKind))
			f.CreateAttr("message", step.Error)
			f.SetText(failureDetail(step))
		case schemas.StatusSkipped:
			tc.CreateElement("skipped").CreateAttr("message", "not executed after an earlier failure")
		}

		if out := systemOut(step); out != "" {
			tc.CreateElement("system-out").SetText(out)
		}
	}
	r.root.CreateAttr("tests", strconv.Itoa(r.count("tests")))
	r.root.CreateAttr("failures", strconv.Itoa(r.count("failures")))
	return nil
}

// count sums an integer attribute over every suite written so far.
func (r *JUnitReporter) count(attr string) int {
	total := 0
	for _, s := range r.root.SelectElements("testsuite") {
		n, _ := strconv.Atoi(s.SelectAttrValue(attr, "0"))
		total += n
	}
	return total
}

// Close writes the document and closes the writer.
func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Indent(2)
	_, werr := r.doc.WriteTo(r.writer)
	cerr := r.writer.Close()
	if werr != nil {
		return fmt.Errorf("failed to write junit report: %w", werr)
	}
	return cerr
}

func failureDetail(step schemas.StepReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "action: %s\ntarget: %s\n", step.Action, step.Target)
	if step.Outcome.Attempts > 0 {
		fmt.Fprintf(&b, "attempts: %d\n", step.Outcome.Attempts)
	}
	if len(step.States) > 0 {
		fmt.Fprintf(&b, "states: %s\n", strings.Join(step.States, " -> "))
	}
	b.WriteString(step.Error)
	return b.String()
}

func systemOut(step schemas.StepReport) string {
	var lines []string
	if step.Resolved != nil {
		lines = append(lines, fmt.Sprintf("resolved: %s [%d] via %s", step.Resolved.Selector, step.Resolved.Index, step.Resolved.Provenance))
	}
	if step.Outcome.StrategyUsed != schemas.StrategyNone {
		lines = append(lines, "strategy: "+string(step.Outcome.StrategyUsed))
	}
	for _, a := range step.Attachments {
		if a.Path != "" {
			lines = append(lines, fmt.Sprintf("[[ATTACHMENT|%s]]", a.Path))
		}
	}
	return strings.Join(lines, "\n")
}

func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
