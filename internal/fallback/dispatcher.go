// internal/fallback/dispatcher.go
package fallback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Dispatcher hands a step to the natural-language executor when structural
// resolution or every action strategy has failed. It invokes the executor
// exactly once per step; any failure is terminal.
type Dispatcher struct {
	executor schemas.NLExecutor
	logger   *zap.Logger
	timeout  time.Duration
}

// NewDispatcher wraps executor. A zero timeout leaves the call bounded only
// by the caller's context.
func NewDispatcher(executor schemas.NLExecutor, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		logger:   logger.Named("fallback"),
		timeout:  timeout,
	}
}

// Applicable reports whether step has a fallback instruction.
func (d *Dispatcher) Applicable(step schemas.Step) bool {
	_, ok := Instruction(step)
	return ok
}

// Dispatch renders the step's instruction and executes it once.
func (d *Dispatcher) Dispatch(ctx context.Context, step schemas.Step, page schemas.Page, tc schemas.TestContext) schemas.ActionOutcome {
	instruction, ok := Instruction(step)
	if !ok {
		return schemas.Failed(0, &schemas.FallbackExhaustedError{
			Err: fmt.Errorf("no fallback instruction for action %q", step.Action),
		})
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.logger.Info("Escalating step to natural-language executor.",
		zap.Int("step", tc.StepIndex),
		zap.String("instruction", instruction))

	start := time.Now()
	if err := d.executor.Execute(ctx, instruction, schemas.ExecContext{Page: page, Test: tc}); err != nil {
		d.logger.Warn("Natural-language executor failed.",
			zap.Int("step", tc.StepIndex),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return schemas.Failed(1, &schemas.FallbackExhaustedError{Instruction: instruction, Err: err})
	}

	d.logger.Info("Natural-language executor succeeded.",
		zap.Int("step", tc.StepIndex),
		zap.Duration("duration", time.Since(start)))
	return schemas.Succeeded(schemas.StrategyFallback, 1)
}
