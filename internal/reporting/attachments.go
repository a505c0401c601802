// internal/reporting/attachments.go
package reporting

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// SaveAttachments writes every in-memory attachment of report under
// dir/<run id>/ and records the resulting paths. Bodies are released once
// written.
func SaveAttachments(dir string, report *schemas.RunReport) error {
	if dir == "" {
		return nil
	}
	base, err := homedir.Expand(dir)
	if err != nil {
		return fmt.Errorf("failed to expand screenshot dir %s: %w", dir, err)
	}
	runDir := filepath.Join(base, report.RunID)

	for i := range report.Steps {
		for j := range report.Steps[i].Attachments {
			a := &report.Steps[i].Attachments[j]
			if len(a.Body) == 0 {
				continue
			}
			if err := os.MkdirAll(runDir, 0o755); err != nil {
				return fmt.Errorf("failed to create attachment dir: %w", err)
			}
			path := filepath.Join(runDir, filepath.Base(a.Name))
			if err := os.WriteFile(path, a.Body, 0o644); err != nil {
				return fmt.Errorf("failed to write attachment %s: %w", a.Name, err)
			}
			a.Path = path
			a.Body = nil
		}
	}
	return nil
}

// ProgressHook prints one line per finished step.
type ProgressHook struct {
	mu     sync.Mutex
	w      io.Writer
	logger *zap.Logger
}

var _ schemas.StepHook = (*ProgressHook)(nil)

// NewProgressHook writes progress lines to w.
func NewProgressHook(w io.Writer, logger *zap.Logger) *ProgressHook {
	return &ProgressHook{w: w, logger: logger.Named("progress")}
}

// OnStepStart implements schemas.StepHook.
func (h *ProgressHook) OnStepStart(ctx context.Context, index int, step schemas.Step) {
	h.logger.Debug("Step started.", zap.Int("step", index), zap.String("name", step.Name()))
}

// OnStepEnd implements schemas.StepHook.
func (h *ProgressHook) OnStepEnd(ctx context.Context, report schemas.StepReport) {
	mark := map[schemas.StepStatus]string{
		schemas.StatusPassed:  "PASS",
		schemas.StatusFailed:  "FAIL",
		schemas.StatusSkipped: "SKIP",
	}[report.Status]

	line := fmt.Sprintf("%s %3d  %-48s %8s", mark, report.Index, report.Name, report.Duration().Round(time.Millisecond))
	switch {
	case report.Status == schemas.StatusFailed:
		line += fmt.Sprintf("  [%s] %s", report.ErrorKind, report.Error)
	case report.Outcome.StrategyUsed != schemas.StrategyNone:
		line += "  (" + string(report.Outcome.StrategyUsed) + ")"
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.w, line)
}
