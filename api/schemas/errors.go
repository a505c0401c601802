// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies engine failures for reports and escalation decisions.
type ErrorKind string

const (
	ErrKindNone                 ErrorKind = ""
	ErrKindElementNotFound      ErrorKind = "element-not-found"
	ErrKindElementNotVisible    ErrorKind = "element-not-visible"
	ErrKindActionTimeout        ErrorKind = "action-timeout"
	ErrKindVerificationMismatch ErrorKind = "verification-mismatch"
	ErrKindFallbackExhausted    ErrorKind = "fallback-exhausted"
	ErrKindSourceParse          ErrorKind = "source-parse"
	ErrKindStepTimeout          ErrorKind = "step-timeout"
	ErrKindUnknown              ErrorKind = "unknown"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrElementNotFound      = errors.New("element not found")
	ErrElementNotVisible    = errors.New("element not visible")
	ErrActionTimeout        = errors.New("action timed out")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrFallbackExhausted    = errors.New("fallback exhausted")
	ErrSourceParse          = errors.New("no matching locator declaration")
	ErrStepTimeout          = errors.New("step timed out")

	// ErrUnsupported is returned by page drivers lacking a primitive.
	ErrUnsupported = errors.New("operation not supported by page driver")
)

// KindedError is implemented by every error of the taxonomy.
type KindedError interface {
	error
	Kind() ErrorKind
}

// KindOf classifies err. Nil yields ErrKindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return ErrKindUnknown
}

// ElementNotFoundError: no candidate matched and no fallback was applicable.
type ElementNotFoundError struct {
	Target     string
	Candidates int
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found for %q after %d candidates", e.Target, e.Candidates)
}
func (e *ElementNotFoundError) Kind() ErrorKind      { return ErrKindElementNotFound }
func (e *ElementNotFoundError) Is(target error) bool { return target == ErrElementNotFound }

// ElementNotVisibleError: matched but never became visible within the bound.
type ElementNotVisibleError struct {
	Selector string
	Waited   time.Duration
	Err      error
}

func (e *ElementNotVisibleError) Error() string {
	msg := fmt.Sprintf("element %q not visible after %v", e.Selector, e.Waited)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}
func (e *ElementNotVisibleError) Kind() ErrorKind      { return ErrKindElementNotVisible }
func (e *ElementNotVisibleError) Is(target error) bool { return target == ErrElementNotVisible }
func (e *ElementNotVisibleError) Unwrap() error        { return e.Err }

// ActionTimeoutError: a single strategy attempt exceeded its bound.
type ActionTimeoutError struct {
	Action   ActionKind
	Strategy Strategy
	Timeout  time.Duration
	Err      error
}

func (e *ActionTimeoutError) Error() string {
	return fmt.Sprintf("%s (%s) timed out after %v", e.Action, e.Strategy, e.Timeout)
}
func (e *ActionTimeoutError) Kind() ErrorKind      { return ErrKindActionTimeout }
func (e *ActionTimeoutError) Is(target error) bool { return target == ErrActionTimeout }
func (e *ActionTimeoutError) Unwrap() error        { return e.Err }

// VerificationMismatchError: the read-back value differs from the intended one.
type VerificationMismatchError struct {
	Selector string
	Expected string
	Actual   string
}

func (e *VerificationMismatchError) Error() string {
	return fmt.Sprintf("verification mismatch on %q: expected %q, got %q", e.Selector, e.Expected, e.Actual)
}
func (e *VerificationMismatchError) Kind() ErrorKind      { return ErrKindVerificationMismatch }
func (e *VerificationMismatchError) Is(target error) bool { return target == ErrVerificationMismatch }

// FallbackExhaustedError: the natural-language executor failed as well.
type FallbackExhaustedError struct {
	Instruction string
	Err         error
}

func (e *FallbackExhaustedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fallback exhausted for instruction %q", e.Instruction)
	}
	return fmt.Sprintf("fallback exhausted for instruction %q: %v", e.Instruction, e.Err)
}
func (e *FallbackExhaustedError) Kind() ErrorKind      { return ErrKindFallbackExhausted }
func (e *FallbackExhaustedError) Is(target error) bool { return target == ErrFallbackExhausted }
func (e *FallbackExhaustedError) Unwrap() error        { return e.Err }

// SourceParseError: static extraction found no matching declaration.
type SourceParseError struct {
	SourceID string
	Key      string
	Err      error
}

func (e *SourceParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no locator declaration for %q in source %q", e.Key, e.SourceID)
	}
	return fmt.Sprintf("no locator declaration for %q in source %q: %v", e.Key, e.SourceID, e.Err)
}
func (e *SourceParseError) Kind() ErrorKind      { return ErrKindSourceParse }
func (e *SourceParseError) Is(target error) bool { return target == ErrSourceParse }
func (e *SourceParseError) Unwrap() error        { return e.Err }

// StepTimeoutError: the whole-step wall clock bound expired.
type StepTimeoutError struct {
	Timeout time.Duration
	State   string
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step exceeded %v (state %s)", e.Timeout, e.State)
}
func (e *StepTimeoutError) Kind() ErrorKind      { return ErrKindStepTimeout }
func (e *StepTimeoutError) Is(target error) bool { return target == ErrStepTimeout }
