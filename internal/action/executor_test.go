// internal/action/executor_test.go
package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/htmlpage"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/mocks"
)

var anyCtx = mock.Anything

func testConfig() config.ActionConfig {
	return config.ActionConfig{
		ClickTimeout:   200 * time.Millisecond,
		FillTimeout:    200 * time.Millisecond,
		ScrollTimeout:  200 * time.Millisecond,
		VisibleTimeout: 200 * time.Millisecond,
	}
}

func newExecutor(t *testing.T, cfg config.ActionConfig) *Executor {
	return NewExecutor(zaptest.NewLogger(t), cfg)
}

func element(sel string) schemas.ResolvedElement {
	return schemas.ResolvedElement{Selector: sel, Provenance: schemas.ProvenanceElementKind, Visible: true}
}

func TestClickEscalatesToForced(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Click", anyCtx, "#pay", 0).Return(errors.New("element is obscured by another element")).Once()
	page.On("ForceClick", anyCtx, "#pay", 0).Return(nil).Once()

	out := newExecutor(t, testConfig()).Act(context.Background(), page, element("#pay"), schemas.ActionClickTo, "")

	assert.True(t, out.Success)
	assert.Equal(t, schemas.StrategyForced, out.StrategyUsed)
	assert.Equal(t, 2, out.Attempts)
	page.AssertExpectations(t)
	page.AssertNotCalled(t, "DispatchClick", anyCtx, "#pay", 0)
}

func TestClickLadderExhausted(t *testing.T) {
	page := new(mocks.MockPage)
	boom := errors.New("detached")
	page.On("Click", anyCtx, "#pay", 0).Return(boom)
	page.On("ForceClick", anyCtx, "#pay", 0).Return(boom)
	page.On("DispatchClick", anyCtx, "#pay", 0).Return(boom)

	out := newExecutor(t, testConfig()).Act(context.Background(), page, element("#pay"), schemas.ActionClickTo, "")

	assert.False(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, schemas.ErrKindUnknown, out.Error)
}

func TestClickTimeoutsMapToActionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ClickTimeout = 10 * time.Millisecond
	block := func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }

	page := new(mocks.MockPage)
	page.On("Click", anyCtx, "#pay", 0).Run(block).Return(context.DeadlineExceeded)
	page.On("ForceClick", anyCtx, "#pay", 0).Run(block).Return(context.DeadlineExceeded)
	page.On("DispatchClick", anyCtx, "#pay", 0).Run(block).Return(context.DeadlineExceeded)

	out := newExecutor(t, cfg).Act(context.Background(), page, element("#pay"), schemas.ActionClickTo, "")

	assert.False(t, out.Success)
	assert.Equal(t, schemas.ErrKindActionTimeout, out.Error)
	var ate *schemas.ActionTimeoutError
	require.ErrorAs(t, out.Err, &ate)
	assert.Equal(t, schemas.StrategyProgrammatic, ate.Strategy)
}

func TestExpiredContextStopsTheLadder(t *testing.T) {
	page := new(mocks.MockPage)
	ctx, cancel := context.WithCancel(context.Background())
	page.On("Click", anyCtx, "#pay", 0).Run(func(mock.Arguments) { cancel() }).Return(context.Canceled)

	out := newExecutor(t, testConfig()).Act(ctx, page, element("#pay"), schemas.ActionClickTo, "")

	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.ErrorIs(t, out.Err, context.Canceled)
	page.AssertNotCalled(t, "ForceClick", anyCtx, "#pay", 0)
}

func TestFillDirect(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Fill", anyCtx, "#email", 0, "a@b.com").Return(nil)
	page.On("Value", anyCtx, "#email", 0).Return("a@b.com", nil)

	out := newExecutor(t, testConfig()).Act(context.Background(), page, element("#email"), schemas.ActionFillData, "a@b.com")

	assert.True(t, out.Success)
	assert.Equal(t, schemas.StrategyDirect, out.StrategyUsed)
	assert.Equal(t, 1, out.Attempts)
	page.AssertNotCalled(t, "TypeText", anyCtx, "#email", 0, mock.Anything)
}

func TestFillFallsBackToTyping(t *testing.T) {
	cfg := testConfig()
	cfg.TypingDelayMin = time.Millisecond
	cfg.TypingDelayMax = 2 * time.Millisecond

	page := new(mocks.MockPage)
	page.On("Fill", anyCtx, "#zip", 0, "90210").Return(nil)
	// A masked input swallows the direct write.
	page.On("Value", anyCtx, "#zip", 0).Return("", nil).Once()
	page.On("Clear", anyCtx, "#zip", 0).Return(nil)
	for _, r := range "90210" {
		page.On("TypeText", anyCtx, "#zip", 0, string(r)).Return(nil)
	}
	page.On("Value", anyCtx, "#zip", 0).Return("90210", nil).Once()

	out := newExecutor(t, cfg).Act(context.Background(), page, element("#zip"), schemas.ActionFillData, "90210")

	assert.True(t, out.Success)
	assert.Equal(t, schemas.StrategyTyped, out.StrategyUsed)
	assert.Equal(t, 2, out.Attempts)
	page.AssertNumberOfCalls(t, "TypeText", 5)
}

func TestFillMismatchIsAFailure(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Fill", anyCtx, "#qty", 0, "3").Return(nil)
	page.On("Clear", anyCtx, "#qty", 0).Return(nil)
	page.On("TypeText", anyCtx, "#qty", 0, "3").Return(nil)
	page.On("Value", anyCtx, "#qty", 0).Return("1", nil)

	out := newExecutor(t, testConfig()).Act(context.Background(), page, element("#qty"), schemas.ActionFillData, "3")

	assert.False(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, schemas.ErrKindVerificationMismatch, out.Error)
}

func TestTypingDelayStaysInRange(t *testing.T) {
	cfg := testConfig()
	cfg.TypingDelayMin = 30 * time.Millisecond
	cfg.TypingDelayMax = 120 * time.Millisecond
	e := newExecutor(t, cfg)
	for i := 0; i < 200; i++ {
		d := e.typingDelay()
		assert.GreaterOrEqual(t, d, cfg.TypingDelayMin)
		assert.LessOrEqual(t, d, cfg.TypingDelayMax)
	}
}

// -- offline page scenarios --

func offline(t *testing.T, markup string) *htmlpage.Page {
	t.Helper()
	p, err := htmlpage.FromString(zaptest.NewLogger(t), markup, "https://shop.example/")
	require.NoError(t, err)
	return p
}

func TestFillEmailOffline(t *testing.T) {
	page := offline(t, `<input type="email" name="email">`)
	el := schemas.ResolvedElement{Selector: `input[type="email"][name*="email" i]`, Provenance: schemas.ProvenanceInputSubtype}
	e := newExecutor(t, testConfig())

	out := e.Act(context.Background(), page, el, schemas.ActionFillData, "a@b.com")
	require.True(t, out.Success, "%v", out.Err)
	assert.Equal(t, schemas.StrategyDirect, out.StrategyUsed)

	require.NoError(t, e.Verify(context.Background(), page, el, schemas.ActionFillData, "a@b.com"))
	err := e.Verify(context.Background(), page, el, schemas.ActionFillData, "other@b.com")
	assert.ErrorIs(t, err, schemas.ErrVerificationMismatch)
}

func TestNormalClickOffline(t *testing.T) {
	page := offline(t, `<button>Continue to payment</button>`)
	el := element(`button:has-text("Continue to payment")`)

	out := newExecutor(t, testConfig()).Act(context.Background(), page, el, schemas.ActionClickTo, "")
	require.True(t, out.Success)
	assert.Equal(t, schemas.StrategyNormal, out.StrategyUsed)
	assert.Equal(t, 1, out.Attempts)

	clicks := page.Clicks()
	require.Len(t, clicks, 1)
	assert.Equal(t, htmlpage.ClickNormal, clicks[0].Method)
}

func TestDisabledButtonNeedsForce(t *testing.T) {
	page := offline(t, `<button disabled>Apply coupon</button>`)
	out := newExecutor(t, testConfig()).Act(context.Background(), page, element("button"), schemas.ActionClickTo, "")
	require.True(t, out.Success)
	assert.Equal(t, schemas.StrategyForced, out.StrategyUsed)
	assert.Equal(t, 2, out.Attempts)
}

func TestScrollClickOrdinal(t *testing.T) {
	page := offline(t, `<ul>
		<li><button>Add to cart</button></li>
		<li><button>Add to cart</button></li>
		<li><button>Add to cart</button></li>
	</ul>`)
	e := newExecutor(t, testConfig())
	el := element(`button:has-text("Add to cart")`)

	out := e.Act(context.Background(), page, el, schemas.ActionScrollClick, "2")
	require.True(t, out.Success, "%v", out.Err)
	assert.Equal(t, schemas.StrategyNormal, out.StrategyUsed)

	out = e.Act(context.Background(), page, el, schemas.ActionScrollClick, "not-a-number")
	require.True(t, out.Success)

	clicks := page.Clicks()
	require.Len(t, clicks, 2)
	assert.Equal(t, 1, clicks[0].Index, "ordinal 2 is the second match")
	assert.Equal(t, 0, clicks[1].Index, "invalid ordinals select the first match")

	out = e.Act(context.Background(), page, el, schemas.ActionScrollClick, "7")
	assert.False(t, out.Success)
	assert.Equal(t, schemas.ErrKindElementNotFound, out.Error)
}

func TestScrollTimeoutsNameTheirRung(t *testing.T) {
	page := new(mocks.MockPage)
	blockUntilDone := func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}
	page.On("Count", anyCtx, "#coupon").Return(1, nil).Once()
	page.On("ScrollIntoView", anyCtx, "#coupon", 0).Run(blockUntilDone).Return(context.DeadlineExceeded).Once()
	page.On("SmoothScroll", anyCtx, "#coupon", 0).Run(blockUntilDone).Return(context.DeadlineExceeded).Once()
	page.On("Click", anyCtx, "#coupon", 0).Return(nil).Once()

	cfg := testConfig()
	cfg.ScrollTimeout = 20 * time.Millisecond
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewExecutor(zap.New(core), cfg)

	out := e.Act(context.Background(), page, element("#coupon"), schemas.ActionScrollClick, "")
	require.True(t, out.Success, "%v", out.Err)
	assert.Equal(t, schemas.StrategyNormal, out.StrategyUsed)
	page.AssertExpectations(t)

	failed := logs.FilterMessage("Scroll attempt failed.").All()
	require.Len(t, failed, 2)
	assert.Equal(t, "scrollclick (scroll-into-view) timed out after 20ms", failed[0].ContextMap()["error"])
	assert.Equal(t, "scrollclick (smooth-scroll) timed out after 20ms", failed[1].ContextMap()["error"])
}

func TestCheckVisible(t *testing.T) {
	page := offline(t, `<div id="ok">Saved</div><div id="toast" style="display:none">Later</div>`)
	e := newExecutor(t, testConfig())

	out := e.Act(context.Background(), page, element("#ok"), schemas.ActionCheckVisible, "")
	assert.True(t, out.Success)
	assert.Equal(t, schemas.StrategyWaitVisible, out.StrategyUsed)

	out = e.Act(context.Background(), page, element("#toast"), schemas.ActionCheckVisible, "")
	assert.False(t, out.Success)
	assert.Equal(t, schemas.ErrKindElementNotVisible, out.Error)
}

func TestAssertText(t *testing.T) {
	page := offline(t, `<p id="total">Order  total: <b>$10.00</b></p><input id="coupon" value="SAVE10">`)
	e := newExecutor(t, testConfig())

	out := e.Act(context.Background(), page, element("#total"), schemas.ActionAssertText, "order total: $10.00")
	assert.True(t, out.Success, "%v", out.Err)
	assert.Equal(t, schemas.StrategyTextMatch, out.StrategyUsed)

	out = e.Act(context.Background(), page, element("#coupon"), schemas.ActionAssertText, "save10")
	assert.True(t, out.Success, "controls are compared by value")

	out = e.Act(context.Background(), page, element("#total"), schemas.ActionAssertText, "$12.00")
	assert.False(t, out.Success)
	assert.Equal(t, schemas.ErrKindVerificationMismatch, out.Error)
}

func TestNavigateAndWait(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Navigate", anyCtx, "https://shop.example/cart").Return(nil)
	e := newExecutor(t, testConfig())

	out := e.Act(context.Background(), page, schemas.ResolvedElement{}, schemas.ActionNavigate, "https://shop.example/cart")
	assert.True(t, out.Success)
	assert.Equal(t, schemas.StrategyNavigate, out.StrategyUsed)

	out = e.Act(context.Background(), page, schemas.ResolvedElement{}, schemas.ActionWait, "5")
	assert.True(t, out.Success)
	assert.Equal(t, schemas.StrategyWait, out.StrategyUsed)

	out = e.Act(context.Background(), page, schemas.ResolvedElement{}, schemas.ActionWait, "soon")
	assert.False(t, out.Success)
}
