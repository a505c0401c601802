// internal/action/executor.go
package action

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/selector"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// Executor runs the escalation ladder for one action on a resolved element.
// Strategies run strictly one after another; a strategy never overlaps the next.
type Executor struct {
	logger *zap.Logger
	cfg    config.ActionConfig

	// mu protects rng.
	mu  sync.Mutex
	rng *rand.Rand
}

// NewExecutor builds an executor from the action configuration.
func NewExecutor(logger *zap.Logger, cfg config.ActionConfig) *Executor {
	return &Executor{
		logger: logger.Named("action"),
		cfg:    withDefaults(cfg),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func withDefaults(cfg config.ActionConfig) config.ActionConfig {
	if cfg.ClickTimeout <= 0 {
		cfg.ClickTimeout = 2 * time.Second
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 5 * time.Second
	}
	if cfg.ScrollTimeout <= 0 {
		cfg.ScrollTimeout = 2 * time.Second
	}
	if cfg.VisibleTimeout <= 0 {
		cfg.VisibleTimeout = 15 * time.Second
	}
	if cfg.TypingDelayMax < cfg.TypingDelayMin {
		cfg.TypingDelayMax = cfg.TypingDelayMin
	}
	return cfg
}

// strategy is one rung of a ladder.
type strategy struct {
	name    schemas.Strategy
	timeout time.Duration
	run     func(ctx context.Context) error
}

// Act performs kind on el. Only exhaustion of the whole ladder is a failure;
// Attempts counts the strategies tried.
func (e *Executor) Act(ctx context.Context, page schemas.Page, el schemas.ResolvedElement, kind schemas.ActionKind, value string) schemas.ActionOutcome {
	switch kind {
	case schemas.ActionFillData:
		return e.ladder(ctx, kind, e.fillLadder(page, el, value))
	case schemas.ActionClickTo:
		return e.ladder(ctx, kind, e.clickLadder(page, el))
	case schemas.ActionScrollClick:
		return e.scrollClick(ctx, page, el, value)
	case schemas.ActionCheckVisible:
		return e.waitVisible(ctx, page, el)
	case schemas.ActionAssertText:
		return e.ladder(ctx, kind, []strategy{{
			name:    schemas.StrategyTextMatch,
			timeout: e.cfg.VisibleTimeout,
			run: func(ctx context.Context) error {
				return e.assertText(ctx, page, el, value)
			},
		}})
	case schemas.ActionNavigate:
		return e.ladder(ctx, kind, []strategy{{
			name: schemas.StrategyNavigate,
			run: func(ctx context.Context) error {
				return page.Navigate(ctx, value)
			},
		}})
	case schemas.ActionWait:
		d, err := schemas.ParseWait(value)
		if err != nil {
			return schemas.Failed(0, fmt.Errorf("invalid wait %q: %w", value, err))
		}
		if err := sleep(ctx, d); err != nil {
			return schemas.Failed(1, err)
		}
		return schemas.Succeeded(schemas.StrategyWait, 1)
	default:
		return schemas.Failed(0, fmt.Errorf("%w: %q", schemas.ErrUnknownAction, kind))
	}
}

// ladder walks the strategies in order. An expired parent context ends the
// walk at once; anything else escalates to the next rung.
func (e *Executor) ladder(ctx context.Context, kind schemas.ActionKind, rungs []strategy) schemas.ActionOutcome {
	var lastErr error
	attempts := 0
	for _, s := range rungs {
		if err := ctx.Err(); err != nil {
			return schemas.Failed(attempts, err)
		}
		attempts++

		err := e.attempt(ctx, kind, s)
		if err == nil {
			e.logger.Debug("Strategy succeeded.",
				zap.String("action", string(kind)),
				zap.String("strategy", string(s.name)),
				zap.Int("attempts", attempts))
			return schemas.Succeeded(s.name, attempts)
		}
		lastErr = err
		if ctx.Err() != nil {
			return schemas.Failed(attempts, ctx.Err())
		}
		e.logger.Debug("Strategy failed, escalating.",
			zap.String("action", string(kind)),
			zap.String("strategy", string(s.name)),
			zap.Error(err))
	}
	return schemas.Failed(attempts, lastErr)
}

// attempt bounds one strategy and reports its own deadline as an ActionTimeoutError.
func (e *Executor) attempt(ctx context.Context, kind schemas.ActionKind, s strategy) error {
	if s.timeout <= 0 {
		return s.run(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.run(sctx)
	if err != nil && ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		return &schemas.ActionTimeoutError{Action: kind, Strategy: s.name, Timeout: s.timeout, Err: err}
	}
	return err
}

// -- fill --

func (e *Executor) fillLadder(page schemas.Page, el schemas.ResolvedElement, value string) []strategy {
	return []strategy{
		{
			name:    schemas.StrategyDirect,
			timeout: e.cfg.FillTimeout,
			run: func(ctx context.Context) error {
				if err := page.Fill(ctx, el.Selector, el.Index, value); err != nil {
					return err
				}
				return readBack(ctx, page, el, value)
			},
		},
		{
			name:    schemas.StrategyTyped,
			timeout: e.typingBudget(value),
			run: func(ctx context.Context) error {
				if err := page.Clear(ctx, el.Selector, el.Index); err != nil {
					return err
				}
				for i, r := range value {
					if i > 0 {
						if err := sleep(ctx, e.typingDelay()); err != nil {
							return err
						}
					}
					if err := page.TypeText(ctx, el.Selector, el.Index, string(r)); err != nil {
						return err
					}
				}
				return readBack(ctx, page, el, value)
			},
		},
	}
}

// typingBudget extends the fill bound by the worst case typing delay.
func (e *Executor) typingBudget(value string) time.Duration {
	return e.cfg.FillTimeout + time.Duration(len([]rune(value)))*e.cfg.TypingDelayMax
}

func (e *Executor) typingDelay() time.Duration {
	spread := e.cfg.TypingDelayMax - e.cfg.TypingDelayMin
	if spread <= 0 {
		return e.cfg.TypingDelayMin
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.TypingDelayMin + time.Duration(e.rng.Int63n(int64(spread)+1))
}

// readBack compares the control's value with what was meant to be written.
func readBack(ctx context.Context, page schemas.Page, el schemas.ResolvedElement, want string) error {
	got, err := page.Value(ctx, el.Selector, el.Index)
	if err != nil {
		return fmt.Errorf("reading back value: %w", err)
	}
	if got != want {
		return &schemas.VerificationMismatchError{Selector: el.Selector, Expected: want, Actual: got}
	}
	return nil
}

// Verify re-reads a filled control after the page settled. Other actions
// verify inside their own ladder and always pass here.
func (e *Executor) Verify(ctx context.Context, page schemas.Page, el schemas.ResolvedElement, kind schemas.ActionKind, value string) error {
	if kind != schemas.ActionFillData {
		return nil
	}
	return readBack(ctx, page, el, value)
}

// -- click --

func (e *Executor) clickLadder(page schemas.Page, el schemas.ResolvedElement) []strategy {
	return []strategy{
		{schemas.StrategyNormal, e.cfg.ClickTimeout, func(ctx context.Context) error {
			return page.Click(ctx, el.Selector, el.Index)
		}},
		{schemas.StrategyForced, e.cfg.ClickTimeout, func(ctx context.Context) error {
			return page.ForceClick(ctx, el.Selector, el.Index)
		}},
		{schemas.StrategyProgrammatic, e.cfg.ClickTimeout, func(ctx context.Context) error {
			return page.DispatchClick(ctx, el.Selector, el.Index)
		}},
	}
}

// scrollClick retargets the ordinal match, scrolls it into view and clicks.
// Scrolling failures are logged; the click ladder still runs because forced
// and programmatic clicks do not need the element on screen.
func (e *Executor) scrollClick(ctx context.Context, page schemas.Page, el schemas.ResolvedElement, value string) schemas.ActionOutcome {
	ordinal := schemas.Step{Value: value}.Ordinal()
	target := el.WithIndex(ordinal - 1)

	n, err := page.Count(ctx, el.Selector)
	if err != nil {
		return schemas.Failed(0, err)
	}
	if n < ordinal {
		return schemas.Failed(0, &schemas.ElementNotFoundError{
			Target:     fmt.Sprintf("%s (match %d of %d)", el.Selector, ordinal, n),
			Candidates: 1,
		})
	}

	scrolled := false
	for _, s := range []strategy{
		{schemas.StrategyScrollIntoView, e.cfg.ScrollTimeout, func(ctx context.Context) error {
			return page.ScrollIntoView(ctx, target.Selector, target.Index)
		}},
		{schemas.StrategySmoothScroll, e.cfg.ScrollTimeout, func(ctx context.Context) error {
			return page.SmoothScroll(ctx, target.Selector, target.Index)
		}},
	} {
		if err := e.attempt(ctx, schemas.ActionScrollClick, s); err == nil {
			scrolled = true
			break
		} else if ctx.Err() != nil {
			return schemas.Failed(0, ctx.Err())
		} else {
			e.logger.Debug("Scroll attempt failed.", zap.String("selector", target.Selector), zap.Error(err))
		}
	}
	if !scrolled {
		e.logger.Warn("Could not scroll target into view, clicking anyway.",
			zap.String("selector", target.Selector), zap.Int("ordinal", ordinal))
	}

	return e.ladder(ctx, schemas.ActionScrollClick, e.clickLadder(page, target))
}

// -- visibility and text --

func (e *Executor) waitVisible(ctx context.Context, page schemas.Page, el schemas.ResolvedElement) schemas.ActionOutcome {
	if err := ctx.Err(); err != nil {
		return schemas.Failed(0, err)
	}
	wctx, cancel := context.WithTimeout(ctx, e.cfg.VisibleTimeout)
	defer cancel()

	start := time.Now()
	if err := page.WaitVisible(wctx, el.Selector, el.Index); err != nil {
		if ctx.Err() != nil {
			return schemas.Failed(1, ctx.Err())
		}
		return schemas.Failed(1, &schemas.ElementNotVisibleError{Selector: el.Selector, Waited: time.Since(start), Err: err})
	}
	return schemas.Succeeded(schemas.StrategyWaitVisible, 1)
}

// assertText passes when the element's text (or, for controls, its value)
// contains the expected text, ignoring case and whitespace runs.
func (e *Executor) assertText(ctx context.Context, page schemas.Page, el schemas.ResolvedElement, want string) error {
	text, err := page.Text(ctx, el.Selector, el.Index)
	if err != nil {
		return err
	}
	if containsFold(text, want) {
		return nil
	}
	if v, err := page.Value(ctx, el.Selector, el.Index); err == nil && v != "" && containsFold(v, want) {
		return nil
	}
	return &schemas.VerificationMismatchError{Selector: el.Selector, Expected: want, Actual: selector.NormalizeText(text)}
}

func containsFold(have, want string) bool {
	return strings.Contains(
		strings.ToLower(selector.NormalizeText(have)),
		strings.ToLower(selector.NormalizeText(want)))
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
