// internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/action"
	"github.com/xkilldash9x/cartpilot/internal/browser/htmlpage"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/fallback"
	"github.com/xkilldash9x/cartpilot/internal/mocks"
	"github.com/xkilldash9x/cartpilot/internal/resolve"
)

func testRunnerConfig() config.RunnerConfig {
	return config.RunnerConfig{
		MaxStepTime:       5 * time.Second,
		MaxAttempts:       2,
		BaseDelay:         5 * time.Millisecond,
		StabilizationWait: time.Millisecond,
	}
}

func newTestRunner(t *testing.T, page schemas.Page, cfg config.RunnerConfig, nl schemas.NLExecutor, hooks ...schemas.StepHook) *Runner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	prober := resolve.NewProber(logger, config.ProbeConfig{CandidateTimeout: 200 * time.Millisecond})
	resolver := resolve.NewResolver(logger, prober, nil)
	executor := action.NewExecutor(logger, config.ActionConfig{
		ClickTimeout:   200 * time.Millisecond,
		FillTimeout:    200 * time.Millisecond,
		ScrollTimeout:  200 * time.Millisecond,
		VisibleTimeout: 300 * time.Millisecond,
	})
	var dispatcher *fallback.Dispatcher
	if nl != nil {
		dispatcher = fallback.NewDispatcher(nl, logger, time.Second)
	}
	return New(logger, cfg, page, resolver, executor, dispatcher, hooks...)
}

func newHTMLPage(t *testing.T, markup string) *htmlpage.Page {
	t.Helper()
	p, err := htmlpage.FromString(zaptest.NewLogger(t), markup, "https://shop.example/checkout")
	require.NoError(t, err)
	return p
}

func TestScenarioFillEmail(t *testing.T) {
	page := newHTMLPage(t, `<form><input type="email" name="email"></form>`)
	r := newTestRunner(t, page, testRunnerConfig(), nil)

	report, err := r.run(context.Background(), 0, schemas.Step{
		Action: schemas.ActionFillData, Locator: "#email", Value: "a@b.com",
	})
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusPassed, report.Status)
	assert.True(t, report.Outcome.Success)
	assert.Equal(t, schemas.StrategyDirect, report.Outcome.StrategyUsed)
	assert.Equal(t, 1, report.Outcome.Attempts)
	require.NotNil(t, report.Resolved)
	assert.Equal(t, schemas.ProvenanceInputSubtype, report.Resolved.Provenance)
	assert.Equal(t, []string{"idle", "resolving", "acting", "verifying", "done"}, report.States)

	v, err := page.Value(context.Background(), `input[name="email"]`, 0)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", v)
}

func TestScenarioClickByText(t *testing.T) {
	page := newHTMLPage(t, `<div><p>Review your order</p><button>Continue to payment</button></div>`)
	r := newTestRunner(t, page, testRunnerConfig(), nil)

	out, err := r.Run(context.Background(), 1, schemas.Step{Action: schemas.ActionClickTo, Locator: "Continue to payment"})
	require.NoError(t, err)
	assert.Equal(t, schemas.StrategyNormal, out.StrategyUsed)
	assert.Equal(t, 1, out.Attempts)

	clicks := page.Clicks()
	require.Len(t, clicks, 1)
	assert.Equal(t, "button", clicks[0].Tag)
	assert.Equal(t, htmlpage.ClickNormal, clicks[0].Method)
}

func TestScenarioStepTimeoutBeforeAnyStrategy(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	page := new(mocks.MockPage)
	page.On("Screenshot", mock.Anything).Return(nil, schemas.ErrUnsupported).Once()

	cfg := testRunnerConfig()
	cfg.MaxStepTime = 100 * time.Millisecond
	cfg.ScreenshotOnFailure = true
	r := newTestRunner(t, page, cfg, nil)

	start := time.Now()
	out, err := r.Run(context.Background(), 0, schemas.Step{
		Action: schemas.ActionClickTo, Locator: "Continue", WaitBefore: 500 * time.Millisecond,
	})
	assert.Less(t, time.Since(start), 450*time.Millisecond)

	var timeout *schemas.StepTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 100*time.Millisecond, timeout.Timeout)
	assert.Equal(t, schemas.ErrKindStepTimeout, out.Error)
	assert.False(t, out.Success)
	assert.Zero(t, out.Attempts)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateResolving, stepErr.State)
	assert.Nil(t, stepErr.Screenshot)

	page.AssertNotCalled(t, "Count", mock.Anything, mock.Anything)
	page.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything)
	page.AssertExpectations(t)
}

func TestStepTimeoutAbandonsExecutorIgnoringContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	logger := zap.NewNop()
	page, err := htmlpage.FromString(logger, `<p>Hello</p><button>Checkout</button>`, "https://shop.example/checkout")
	require.NoError(t, err)

	released := make(chan struct{})
	nl := new(mocks.MockNLExecutor)
	nl.On("Execute", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		time.Sleep(800 * time.Millisecond)
		close(released)
	}).Return(nil).Once()

	cfg := testRunnerConfig()
	cfg.MaxStepTime = 200 * time.Millisecond
	prober := resolve.NewProber(logger, config.ProbeConfig{CandidateTimeout: 50 * time.Millisecond})
	r := New(logger, cfg, page, resolve.NewResolver(logger, prober, nil),
		action.NewExecutor(logger, config.ActionConfig{}), fallback.NewDispatcher(nl, logger, 0))

	start := time.Now()
	report, err := r.run(context.Background(), 0, schemas.Step{Action: schemas.ActionClickTo, Locator: "Gift card balance"})
	assert.Less(t, time.Since(start), 600*time.Millisecond, "the step ends at its deadline")

	var timeout *schemas.StepTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 200*time.Millisecond, timeout.Timeout)
	assert.Equal(t, string(StateResolving), timeout.State)
	assert.Equal(t, schemas.StatusFailed, report.Status)
	assert.Equal(t, schemas.ErrKindStepTimeout, report.ErrorKind)
	assert.False(t, report.Outcome.Success)
	assert.Equal(t, "errored", report.States[len(report.States)-1])

	<-released
	nl.AssertExpectations(t)
}

func TestFallbackInvokedOnceWhenNothingMatches(t *testing.T) {
	page := newHTMLPage(t, `<p>Hello</p><button>Checkout</button>`)
	nl := new(mocks.MockNLExecutor)
	nl.On("Execute", mock.Anything, "Click the element containing text 'Gift card balance'",
		mock.MatchedBy(func(ec schemas.ExecContext) bool { return ec.Test.StepIndex == 4 })).
		Return(nil).Once()

	r := newTestRunner(t, page, testRunnerConfig(), nl)
	report, err := r.run(context.Background(), 4, schemas.Step{Action: schemas.ActionClickTo, Locator: "Gift card balance"})
	require.NoError(t, err)

	assert.Equal(t, schemas.StrategyFallback, report.Outcome.StrategyUsed)
	assert.Nil(t, report.Resolved)
	assert.Equal(t, []string{"idle", "resolving", "done"}, report.States)
	nl.AssertNumberOfCalls(t, "Execute", 1)
	assert.Empty(t, page.Clicks())
}

func TestNotFoundWithoutFallback(t *testing.T) {
	page := newHTMLPage(t, `<p>Hello</p>`)
	r := newTestRunner(t, page, testRunnerConfig(), nil)

	out, err := r.Run(context.Background(), 0, schemas.Step{Action: schemas.ActionClickTo, Locator: "Gift card balance"})
	assert.ErrorIs(t, err, schemas.ErrElementNotFound)
	assert.Equal(t, schemas.ErrKindElementNotFound, out.Error)

	var nf *schemas.ElementNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Positive(t, nf.Candidates)
}

func TestActionRetriedWithBackoff(t *testing.T) {
	page := new(mocks.MockPage)
	intercepted := errors.New("click intercepted by overlay")
	page.On("Count", mock.Anything, mock.Anything).Return(1, nil)
	page.On("IsVisible", mock.Anything, mock.Anything, 0).Return(true, nil)
	page.On("Click", mock.Anything, mock.Anything, 0).Return(intercepted).Once()
	page.On("ForceClick", mock.Anything, mock.Anything, 0).Return(intercepted).Once()
	page.On("DispatchClick", mock.Anything, mock.Anything, 0).Return(intercepted).Once()
	page.On("Click", mock.Anything, mock.Anything, 0).Return(nil).Once()

	r := newTestRunner(t, page, testRunnerConfig(), nil)
	report, err := r.run(context.Background(), 0, schemas.Step{Action: schemas.ActionClickTo, Locator: "Place order"})
	require.NoError(t, err)

	assert.Equal(t, schemas.StrategyNormal, report.Outcome.StrategyUsed)
	assert.Equal(t, 4, report.Outcome.Attempts)
	assert.Equal(t, []string{"idle", "resolving", "acting", "resolving", "acting", "verifying", "done"}, report.States)
	page.AssertNumberOfCalls(t, "Click", 2)
}

func TestRetryPolicyDefaults(t *testing.T) {
	r := New(zap.NewNop(), config.RunnerConfig{}, nil, nil, nil, nil)
	b := r.retryPolicy()

	assert.Equal(t, 250*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff(), "three attempts means two retries")
}

func TestDefaultAttemptsBeforeEscalation(t *testing.T) {
	page := new(mocks.MockPage)
	detached := errors.New("node is detached from document")
	page.On("Count", mock.Anything, mock.Anything).Return(1, nil)
	page.On("IsVisible", mock.Anything, mock.Anything, 0).Return(true, nil)
	page.On("Click", mock.Anything, mock.Anything, 0).Return(detached)
	page.On("ForceClick", mock.Anything, mock.Anything, 0).Return(detached)
	page.On("DispatchClick", mock.Anything, mock.Anything, 0).Return(detached)

	nl := new(mocks.MockNLExecutor)
	nl.On("Execute", mock.Anything, "Click the element containing text 'Place order'", mock.Anything).Return(nil).Once()

	cfg := testRunnerConfig()
	cfg.MaxAttempts = 0
	r := newTestRunner(t, page, cfg, nl)
	report, err := r.run(context.Background(), 0, schemas.Step{Action: schemas.ActionClickTo, Locator: "Place order"})
	require.NoError(t, err)

	page.AssertNumberOfCalls(t, "Click", 3)
	page.AssertNumberOfCalls(t, "DispatchClick", 3)
	nl.AssertNumberOfCalls(t, "Execute", 1)
	assert.Equal(t, schemas.StrategyFallback, report.Outcome.StrategyUsed)
	assert.Equal(t, 10, report.Outcome.Attempts, "three ladder rounds of three rungs plus the fallback")
	assert.Equal(t, []string{
		"idle", "resolving", "acting", "resolving", "acting", "resolving", "acting", "done",
	}, report.States)
}

func TestRetryActsOnTheReResolvedElement(t *testing.T) {
	page := new(mocks.MockPage)
	detached := errors.New("node is detached from document")
	page.On("Count", mock.Anything, mock.Anything).Return(2, nil)
	page.On("IsVisible", mock.Anything, mock.Anything, 0).Return(true, nil).Once()
	page.On("IsVisible", mock.Anything, mock.Anything, 0).Return(false, nil)
	page.On("IsVisible", mock.Anything, mock.Anything, 1).Return(true, nil)
	page.On("Click", mock.Anything, mock.Anything, 0).Return(detached).Once()
	page.On("ForceClick", mock.Anything, mock.Anything, 0).Return(detached).Once()
	page.On("DispatchClick", mock.Anything, mock.Anything, 0).Return(detached).Once()
	page.On("Click", mock.Anything, mock.Anything, 1).Return(nil).Once()

	r := newTestRunner(t, page, testRunnerConfig(), nil)
	report, err := r.run(context.Background(), 0, schemas.Step{Action: schemas.ActionClickTo, Locator: "Place order"})
	require.NoError(t, err)

	require.NotNil(t, report.Resolved)
	assert.Equal(t, 1, report.Resolved.Index, "the retry uses the match visible after the re-render")
	assert.Equal(t, 4, report.Outcome.Attempts)
	assert.Equal(t, []string{"idle", "resolving", "acting", "resolving", "acting", "verifying", "done"}, report.States)
	page.AssertExpectations(t)
}

func TestVerificationMismatchCapturesScreenshot(t *testing.T) {
	page := new(mocks.MockPage)
	png := []byte{0x89, 'P', 'N', 'G'}
	page.On("Count", mock.Anything, mock.Anything).Return(1, nil)
	page.On("IsVisible", mock.Anything, mock.Anything, 0).Return(true, nil)
	page.On("Fill", mock.Anything, mock.Anything, 0, "a@b.com").Return(nil)
	page.On("Clear", mock.Anything, mock.Anything, 0).Return(nil)
	page.On("TypeText", mock.Anything, mock.Anything, 0, mock.Anything).Return(nil)
	page.On("Value", mock.Anything, mock.Anything, 0).Return("masked", nil)
	page.On("Screenshot", mock.Anything).Return(png, nil).Once()

	cfg := testRunnerConfig()
	cfg.ScreenshotOnFailure = true
	hook := new(mocks.MockHook)
	hook.On("OnStepStart", mock.Anything, 2, mock.Anything).Once()
	hook.On("OnStepEnd", mock.Anything, mock.MatchedBy(func(rep schemas.StepReport) bool {
		return rep.Status == schemas.StatusFailed && len(rep.Attachments) == 1 && rep.Attachments[0].Name == "step-002.png"
	})).Once()

	r := newTestRunner(t, page, cfg, nil, hook)
	out, err := r.Run(context.Background(), 2, schemas.Step{Action: schemas.ActionFillData, Locator: "email", Value: "a@b.com"})

	assert.ErrorIs(t, err, schemas.ErrVerificationMismatch)
	assert.Equal(t, schemas.ErrKindVerificationMismatch, out.Error)
	assert.Equal(t, 4, out.Attempts, "two fill strategies on each of two attempts")

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateActing, stepErr.State)
	require.NotNil(t, stepErr.Screenshot)
	assert.Equal(t, png, stepErr.Screenshot.Body)
	assert.Equal(t, "image/png", stepErr.Screenshot.ContentType)
	hook.AssertExpectations(t)
	page.AssertExpectations(t)
}

func TestNonElementActions(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Navigate", mock.Anything, "https://shop.example/cart").Return(nil).Once()
	r := newTestRunner(t, page, testRunnerConfig(), nil)

	out, err := r.Run(context.Background(), 0, schemas.Step{Action: schemas.ActionNavigate, Value: "https://shop.example/cart"})
	require.NoError(t, err)
	assert.Equal(t, schemas.StrategyNavigate, out.StrategyUsed)

	out, err = r.Run(context.Background(), 1, schemas.Step{Action: schemas.ActionWait, Value: "20"})
	require.NoError(t, err)
	assert.Equal(t, schemas.StrategyWait, out.StrategyUsed)
	page.AssertExpectations(t)
}

func TestParentCancellationIsNotATimeout(t *testing.T) {
	page := new(mocks.MockPage)
	r := newTestRunner(t, page, testRunnerConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, 0, schemas.Step{Action: schemas.ActionClickTo, Locator: "Continue", WaitBefore: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, schemas.ErrStepTimeout)
}

func TestMachineRejectsIllegalTransitions(t *testing.T) {
	m := newMachine(zaptest.NewLogger(t))
	assert.Panics(t, func() { m.to(StateVerifying) })
	m.to(StateResolving)
	m.to(StateActing)
	m.fail()
	assert.Equal(t, StateErrored, m.current())
	m.fail()
	assert.Equal(t, []string{"idle", "resolving", "acting", "errored"}, m.states())
	assert.Panics(t, func() { m.to(StateDone) })
}

func TestAbandonedMachineIgnoresLateMoves(t *testing.T) {
	m := newMachine(zaptest.NewLogger(t))
	m.to(StateResolving)
	assert.Equal(t, StateResolving, m.abandon())
	m.to(StateActing)
	m.to(StateDone)
	assert.Equal(t, StateErrored, m.current())
	assert.Equal(t, []string{"idle", "resolving", "errored"}, m.states())

	late := newMachine(zaptest.NewLogger(t))
	late.to(StateResolving)
	late.to(StateDone)
	assert.Equal(t, StateDone, late.abandon(), "finishing after the deadline is still a failure")
	assert.Equal(t, StateErrored, late.current())
}
