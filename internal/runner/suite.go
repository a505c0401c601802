// internal/runner/suite.go
package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Suite runs the steps of a source strictly in order and stops at the first
// failure. Steps that never ran are reported as skipped.
type Suite struct {
	logger *zap.Logger
	runner *Runner
	store  schemas.RunStore
}

// NewSuite wraps runner. store may be nil to disable persistence.
func NewSuite(logger *zap.Logger, runner *Runner, store schemas.RunStore) *Suite {
	return &Suite{
		logger: logger.Named("suite"),
		runner: runner,
		store:  store,
	}
}

// Run drains source. The returned error is the first step failure, if any;
// the report is complete either way.
func (s *Suite) Run(ctx context.Context, source schemas.StepSource) (*schemas.RunReport, error) {
	runID := uuid.NewString()
	r := s.runner.WithRunID(runID)
	report := &schemas.RunReport{
		RunID:     runID,
		Source:    source.Name(),
		StartedAt: r.now(),
	}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("source", source.Name()))
	logger.Info("Starting run.")

	var firstErr error
	for index := 0; ; index++ {
		step, ok := source.Next()
		if !ok {
			break
		}
		if firstErr == nil && ctx.Err() != nil {
			firstErr = fmt.Errorf("run interrupted before step %d: %w", index, ctx.Err())
		}
		if firstErr != nil {
			report.Steps = append(report.Steps, s.skip(ctx, r, index, step))
			continue
		}

		stepReport, err := r.run(ctx, index, step)
		report.Steps = append(report.Steps, stepReport)
		if err != nil {
			firstErr = err
		}
	}

	report.FinishedAt = r.now()
	report.Passed = firstErr == nil
	passed, failed, skipped := report.Counts()
	logger.Info("Run finished.",
		zap.Bool("passed", report.Passed),
		zap.Int("steps_passed", passed),
		zap.Int("steps_failed", failed),
		zap.Int("steps_skipped", skipped),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	if s.store != nil {
		if err := s.store.PersistRun(context.WithoutCancel(ctx), report); err != nil {
			logger.Error("Failed to persist run report.", zap.Error(err))
			if firstErr == nil {
				return report, fmt.Errorf("failed to persist run %s: %w", runID, err)
			}
		}
	}
	return report, firstErr
}

func (s *Suite) skip(ctx context.Context, r *Runner, index int, step schemas.Step) schemas.StepReport {
	now := r.now()
	rep := schemas.StepReport{
		Index:      index,
		Name:       step.Name(),
		Action:     step.Action,
		Target:     target(step),
		Status:     schemas.StatusSkipped,
		StartedAt:  now,
		FinishedAt: now,
	}
	for _, h := range r.hooks {
		h.OnStepEnd(ctx, rep)
	}
	return rep
}
