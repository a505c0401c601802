// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/action"
	"github.com/xkilldash9x/cartpilot/internal/browser/session"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/fallback"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/resolve"
)

// screenshotTimeout bounds the failure screenshot taken after a step ended.
const screenshotTimeout = 5 * time.Second

// StepError is returned by Run when a step fails. It wraps the classified
// cause so errors.As reaches the typed errors of api/schemas.
type StepError struct {
	Index      int
	Action     schemas.ActionKind
	Target     string
	State      State
	Screenshot *schemas.Attachment
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s %q) failed in state %s: %v", e.Index, e.Action, e.Target, e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner drives one step at a time through resolve, act and verify against a
// single page, escalating to the fallback dispatcher when structural
// strategies are exhausted.
type Runner struct {
	logger     *zap.Logger
	cfg        config.RunnerConfig
	page       schemas.Page
	resolver   *resolve.Resolver
	executor   *action.Executor
	dispatcher *fallback.Dispatcher
	hooks      []schemas.StepHook
	runID      string
	now        func() time.Time
}

// New builds a runner. dispatcher may be nil, in which case local failures
// are final.
func New(logger *zap.Logger, cfg config.RunnerConfig, page schemas.Page, resolver *resolve.Resolver, executor *action.Executor, dispatcher *fallback.Dispatcher, hooks ...schemas.StepHook) *Runner {
	if cfg.MaxStepTime <= 0 {
		cfg.MaxStepTime = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	return &Runner{
		logger:     logger.Named("runner"),
		cfg:        cfg,
		page:       page,
		resolver:   resolver,
		executor:   executor,
		dispatcher: dispatcher,
		hooks:      hooks,
		now:        time.Now,
	}
}

// WithRunID returns a copy of the runner that tags fallback calls with id.
func (r *Runner) WithRunID(id string) *Runner {
	c := *r
	c.runID = id
	return &c
}

// Run executes one step under the per-step time bound.
func (r *Runner) Run(ctx context.Context, index int, step schemas.Step) (schemas.ActionOutcome, error) {
	report, err := r.run(ctx, index, step)
	return report.Outcome, err
}

// run is Run that also returns the report handed to the hooks.
func (r *Runner) run(ctx context.Context, index int, step schemas.Step) (schemas.StepReport, error) {
	logger := r.logger.With(observability.StepFields(index, step)...)
	report := schemas.StepReport{
		Index:     index,
		Name:      step.Name(),
		Action:    step.Action,
		Target:    target(step),
		StartedAt: r.now(),
	}
	for _, h := range r.hooks {
		h.OnStepStart(ctx, index, step)
	}

	m := newMachine(logger)
	sctx, cancel := context.WithTimeout(ctx, r.cfg.MaxStepTime)
	done := make(chan traversal, 1)
	go func() {
		outcome, el, err := r.traverse(sctx, index, step, m)
		done <- traversal{outcome: outcome, el: el, err: err}
	}()

	var res traversal
	finished := false
	select {
	case res = <-done:
		finished = true
	case <-sctx.Done():
		// Collaborators that ignore ctx keep running; their results are dropped.
		res = traversal{outcome: schemas.Failed(0, sctx.Err()), err: sctx.Err()}
	}
	timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	failedIn := m.current()
	if timedOut || !finished {
		failedIn = m.abandon()
		logger.Debug("Step traversal ended by its context.",
			zap.String("state", string(failedIn)),
			zap.Bool("finished", finished))
	}

	outcome, el, err := res.outcome, res.el, res.err
	if timedOut {
		err = &schemas.StepTimeoutError{Timeout: r.cfg.MaxStepTime, State: string(failedIn)}
		outcome = schemas.Failed(outcome.Attempts, err)
	}
	if err != nil {
		m.fail()
	}

	report.FinishedAt = r.now()
	report.States = m.states()
	report.Resolved = el
	report.Outcome = outcome

	var stepErr *StepError
	if err != nil {
		stepErr = &StepError{Index: index, Action: step.Action, Target: report.Target, State: failedIn, Err: err}
		if shot := r.screenshot(ctx, logger, index); shot != nil {
			stepErr.Screenshot = shot
			report.Attachments = append(report.Attachments, *shot)
		}
		report.Status = schemas.StatusFailed
		report.Error = err.Error()
		report.ErrorKind = schemas.KindOf(err)
		logger.Error("Step failed.",
			zap.String("state", string(failedIn)),
			zap.String("error_kind", string(report.ErrorKind)),
			zap.Error(err))
	} else {
		report.Status = schemas.StatusPassed
		logger.Info("Step passed.",
			zap.String("strategy", string(outcome.StrategyUsed)),
			zap.Int("attempts", outcome.Attempts),
			zap.Duration("duration", report.Duration()))
	}

	for _, h := range r.hooks {
		h.OnStepEnd(ctx, report)
	}
	if stepErr != nil {
		return report, stepErr
	}
	return report, nil
}

// traversal is what traverse hands back to run.
type traversal struct {
	outcome schemas.ActionOutcome
	el      *schemas.ResolvedElement
	err     error
}

// traverse walks Idle to Done. Errors are returned unclassified; run maps an
// expired step deadline to StepTimeoutError.
func (r *Runner) traverse(ctx context.Context, index int, step schemas.Step, m *machine) (schemas.ActionOutcome, *schemas.ResolvedElement, error) {
	m.to(StateResolving)
	if err := sleep(ctx, step.WaitBefore); err != nil {
		return schemas.Failed(0, err), nil, err
	}

	if !step.Action.ResolvesElement() {
		m.to(StateActing)
		out := r.executor.Act(ctx, r.page, schemas.ResolvedElement{}, step.Action, step.Value)
		if !out.Success {
			return out, nil, out.Err
		}
		m.to(StateVerifying)
		if err := r.stabilize(ctx, step); err != nil {
			return schemas.Failed(out.Attempts, err), nil, err
		}
		m.to(StateDone)
		return out, nil, nil
	}

	el, candidates, err := r.resolver.Resolve(ctx, r.page, step)
	if err != nil {
		return schemas.Failed(0, err), nil, err
	}
	if el == nil {
		if ctx.Err() != nil {
			return schemas.Failed(0, ctx.Err()), nil, ctx.Err()
		}
		local := &schemas.ElementNotFoundError{Target: step.Locator, Candidates: candidates}
		out, err := r.escalate(ctx, index, step, m, 0, local)
		return out, nil, err
	}

	m.to(StateActing)
	return r.actAndVerify(ctx, index, step, m, el)
}

// actAndVerify runs the action ladder and verification, retrying with
// exponential backoff before escalating. The element is resolved again
// before every retry since a failed attempt may have changed the page.
func (r *Runner) actAndVerify(ctx context.Context, index int, step schemas.Step, m *machine, el *schemas.ResolvedElement) (schemas.ActionOutcome, *schemas.ResolvedElement, error) {
	b := r.retryPolicy()
	attempts := 0
	var lastErr error

	for {
		out := r.executor.Act(ctx, r.page, *el, step.Action, step.Value)
		attempts += out.Attempts
		if out.Success {
			m.to(StateVerifying)
			if err := r.stabilize(ctx, step); err != nil {
				return schemas.Failed(attempts, err), el, err
			}
			lastErr = r.executor.Verify(ctx, r.page, *el, step.Action, step.Value)
			if lastErr == nil {
				m.to(StateDone)
				out.Attempts = attempts
				return out, el, nil
			}
		} else {
			lastErr = out.Err
		}

		if ctx.Err() != nil {
			return schemas.Failed(attempts, ctx.Err()), el, ctx.Err()
		}
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		r.logger.Debug("Retrying step action.",
			zap.Int("step", index),
			zap.Duration("delay", next),
			zap.Error(lastErr))
		if err := sleep(ctx, next); err != nil {
			return schemas.Failed(attempts, err), el, err
		}

		m.to(StateResolving)
		again, candidates, err := r.resolver.Resolve(ctx, r.page, step)
		if err != nil {
			return schemas.Failed(attempts, err), el, err
		}
		if again == nil {
			if ctx.Err() != nil {
				return schemas.Failed(attempts, ctx.Err()), el, ctx.Err()
			}
			local := &schemas.ElementNotFoundError{Target: step.Locator, Candidates: candidates}
			out, err := r.escalate(ctx, index, step, m, attempts, local)
			return out, nil, err
		}
		el = again
		m.to(StateActing)
	}

	if m.current() != StateActing {
		m.to(StateActing)
	}
	out, err := r.escalate(ctx, index, step, m, attempts, lastErr)
	return out, el, err
}

// retryPolicy yields base*2^n delays, no jitter, for MaxAttempts-1 retries.
func (r *Runner) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1))
}

// escalate hands the step to the fallback dispatcher. Without one, or for
// actions that have no instruction template, the local error stands.
func (r *Runner) escalate(ctx context.Context, index int, step schemas.Step, m *machine, attempts int, local error) (schemas.ActionOutcome, error) {
	if r.dispatcher == nil || !r.dispatcher.Applicable(step) {
		return schemas.Failed(attempts, local), local
	}
	r.logger.Info("Structural strategies exhausted, escalating.",
		zap.Int("step", index),
		zap.String("cause", string(schemas.KindOf(local))))

	out := r.dispatcher.Dispatch(ctx, step, r.page, schemas.TestContext{RunID: r.runID, StepIndex: index, Step: step})
	out.Attempts += attempts
	if !out.Success {
		return out, out.Err
	}
	m.to(StateDone)
	return out, nil
}

// stabilize waits for the page to settle after an action.
func (r *Runner) stabilize(ctx context.Context, step schemas.Step) error {
	d := step.WaitAfter
	if d == 0 {
		d = r.cfg.StabilizationWait
	}
	return sleep(ctx, d)
}

// screenshot captures the page for a failed step. It runs on a context
// detached from the (possibly expired) step deadline.
func (r *Runner) screenshot(ctx context.Context, logger *zap.Logger, index int) *schemas.Attachment {
	if !r.cfg.ScreenshotOnFailure || r.page == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(session.Detach(ctx), screenshotTimeout)
	defer cancel()

	png, err := r.page.Screenshot(sctx)
	if err != nil {
		if !errors.Is(err, schemas.ErrUnsupported) {
			logger.Warn("Failed to capture failure screenshot.", zap.Error(err))
		}
		return nil
	}
	return &schemas.Attachment{
		Name:        fmt.Sprintf("step-%03d.png", index),
		ContentType: "image/png",
		Body:        png,
	}
}

func target(step schemas.Step) string {
	if step.Locator != "" {
		return step.Locator
	}
	return step.Value
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
