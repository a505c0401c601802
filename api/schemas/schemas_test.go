// File: api/schemas/schemas_test.go
package schemas_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

func TestParseActionKind(t *testing.T) {
	tests := map[string]schemas.ActionKind{
		"navigate":        schemas.ActionNavigate,
		"GoTo":            schemas.ActionNavigate,
		"fill":            schemas.ActionFillData,
		" fill_data ":     schemas.ActionFillData,
		"click":           schemas.ActionClickTo,
		"scroll-to-click": schemas.ActionScrollClick,
		"Verify Visible":  schemas.ActionCheckVisible,
		"assertText":      schemas.ActionAssertText,
		"wait":            schemas.ActionWait,
	}
	for in, want := range tests {
		got, err := schemas.ParseActionKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := schemas.ParseActionKind("hover")
	assert.ErrorIs(t, err, schemas.ErrUnknownAction)
}

func TestResolvesElement(t *testing.T) {
	assert.False(t, schemas.ActionNavigate.ResolvesElement())
	assert.False(t, schemas.ActionWait.ResolvesElement())
	assert.True(t, schemas.ActionClickTo.ResolvesElement())
	assert.True(t, schemas.ActionCheckVisible.ResolvesElement())
}

func TestStepValidate(t *testing.T) {
	tests := []struct {
		name  string
		step  schemas.Step
		field string
	}{
		{"navigate without url", schemas.Step{Action: schemas.ActionNavigate}, "value"},
		{"fill without locator", schemas.Step{Action: schemas.ActionFillData, Value: "x"}, "locator"},
		{"fill without value", schemas.Step{Action: schemas.ActionFillData, Locator: "#email"}, "value"},
		{"assert without value", schemas.Step{Action: schemas.ActionAssertText, Locator: "Total"}, "value"},
		{"click without locator", schemas.Step{Action: schemas.ActionClickTo, Locator: "  "}, "locator"},
		{"bad ordinal", schemas.Step{Action: schemas.ActionScrollClick, Locator: "Add", Value: "0"}, "value"},
		{"wait without duration", schemas.Step{Action: schemas.ActionWait}, "waitBefore"},
		{"wait with junk", schemas.Step{Action: schemas.ActionWait, Value: "soon"}, "value"},
		{"negative wait", schemas.Step{Action: schemas.ActionClickTo, Locator: "Pay", WaitAfter: -time.Second}, "waitAfter"},
		{"empty registry", schemas.Step{Action: schemas.ActionClickTo, Locator: "k", LocatorType: "registry: "}, "locatorType"},
		{"unknown action", schemas.Step{Action: "hover", Locator: "x"}, "action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			var verr *schemas.StepValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	valid := []schemas.Step{
		{Action: schemas.ActionNavigate, Value: "https://shop.example"},
		{Action: schemas.ActionFillData, Locator: "#email", Value: "a@b.com"},
		{Action: schemas.ActionScrollClick, Locator: "Add to cart"},
		{Action: schemas.ActionScrollClick, Locator: "Add to cart", Value: "3"},
		{Action: schemas.ActionWait, Value: "1500"},
		{Action: schemas.ActionWait, WaitBefore: time.Second},
		{Action: schemas.ActionClickTo, Locator: "continueButton", LocatorType: "registry:amazonParsers"},
	}
	for _, s := range valid {
		assert.NoError(t, s.Validate(), s.Name())
	}
}

func TestStepHelpers(t *testing.T) {
	s := schemas.Step{Action: schemas.ActionScrollClick, Locator: "Add to cart", Value: " 2 "}
	assert.Equal(t, 2, s.Ordinal())
	assert.Equal(t, "scrollclick Add to cart", s.Name())
	assert.Equal(t, 1, schemas.Step{Value: "first"}.Ordinal())

	nav := schemas.Step{Action: schemas.ActionNavigate, Value: "https://shop.example"}
	assert.Equal(t, "navigate https://shop.example", nav.Name())
	nav.Description = "open shop"
	assert.Equal(t, "open shop", nav.Name())

	id, ok := schemas.Step{LocatorType: "registry: amazonParsers"}.RegistrySource()
	assert.True(t, ok)
	assert.Equal(t, "amazonParsers", id)
	_, ok = schemas.Step{LocatorType: "css"}.RegistrySource()
	assert.False(t, ok)
}

func TestParseWait(t *testing.T) {
	d, err := schemas.ParseWait("250")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = schemas.ParseWait("1.5s")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = schemas.ParseWait("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = schemas.ParseWait("-5")
	assert.Error(t, err)
	_, err = schemas.ParseWait("-1s")
	assert.Error(t, err)
	_, err = schemas.ParseWait("later")
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err      error
		kind     schemas.ErrorKind
		sentinel error
	}{
		{&schemas.ElementNotFoundError{Target: "Pay", Candidates: 12}, schemas.ErrKindElementNotFound, schemas.ErrElementNotFound},
		{&schemas.ElementNotVisibleError{Selector: "#pay", Waited: time.Second}, schemas.ErrKindElementNotVisible, schemas.ErrElementNotVisible},
		{&schemas.ActionTimeoutError{Action: schemas.ActionClickTo, Strategy: schemas.StrategyNormal}, schemas.ErrKindActionTimeout, schemas.ErrActionTimeout},
		{&schemas.VerificationMismatchError{Selector: "#email", Expected: "a", Actual: "b"}, schemas.ErrKindVerificationMismatch, schemas.ErrVerificationMismatch},
		{&schemas.FallbackExhaustedError{Instruction: "Click"}, schemas.ErrKindFallbackExhausted, schemas.ErrFallbackExhausted},
		{&schemas.SourceParseError{SourceID: "s", Key: "k"}, schemas.ErrKindSourceParse, schemas.ErrSourceParse},
		{&schemas.StepTimeoutError{Timeout: time.Second, State: "resolving"}, schemas.ErrKindStepTimeout, schemas.ErrStepTimeout},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("step 3: %w", tt.err)
		assert.Equal(t, tt.kind, schemas.KindOf(wrapped))
		assert.ErrorIs(t, wrapped, tt.sentinel)
	}

	assert.Equal(t, schemas.ErrKindNone, schemas.KindOf(nil))
	assert.Equal(t, schemas.ErrKindUnknown, schemas.KindOf(errors.New("boom")))
}

func TestTypedErrorsKeepTheirCause(t *testing.T) {
	err := &schemas.ActionTimeoutError{Action: schemas.ActionFillData, Strategy: schemas.StrategyTyped, Timeout: time.Second, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "filldata (typed) timed out after 1s", err.Error())

	fe := &schemas.FallbackExhaustedError{Instruction: "Click the element containing text 'Pay'", Err: errors.New("no plan")}
	assert.Contains(t, fe.Error(), "no plan")
}

func TestOutcomes(t *testing.T) {
	ok := schemas.Succeeded(schemas.StrategyForced, 2)
	assert.True(t, ok.Success)
	assert.Equal(t, schemas.ErrKindNone, ok.Error)

	cause := &schemas.ElementNotVisibleError{Selector: "#pay"}
	failed := schemas.Failed(3, cause)
	assert.False(t, failed.Success)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, schemas.ErrKindElementNotVisible, failed.Error)
	assert.Same(t, cause, failed.Err)
}

func TestReportTallies(t *testing.T) {
	start := time.Now()
	run := schemas.RunReport{Steps: []schemas.StepReport{
		{Status: schemas.StatusPassed, StartedAt: start, FinishedAt: start.Add(time.Second)},
		{Status: schemas.StatusFailed},
		{Status: schemas.StatusSkipped},
		{Status: schemas.StatusSkipped},
	}}
	passed, failed, skipped := run.Counts()
	assert.Equal(t, []int{1, 1, 2}, []int{passed, failed, skipped})
	assert.Equal(t, time.Second, run.Steps[0].Duration())
	assert.Zero(t, run.Steps[1].Duration())
}
