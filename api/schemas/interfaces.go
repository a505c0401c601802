package schemas

import (
	"context"
)

// -- Page Driver Interface --

// Page is the selector-based surface of a browser page the engine depends on.
// Selectors use the expression language of internal/browser/selector; index
// addresses the n-th (0-based) match. Every call is bounded by ctx.
type Page interface {
	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)
	// IsVisible reports whether the index-th match is rendered and visible.
	IsVisible(ctx context.Context, selector string, index int) (bool, error)
	// WaitVisible polls until the index-th match is visible or ctx ends.
	WaitVisible(ctx context.Context, selector string, index int) error

	// Click performs a standard, actionability-checked click.
	Click(ctx context.Context, selector string, index int) error
	// ForceClick dispatches mouse events at the element centre without checks.
	ForceClick(ctx context.Context, selector string, index int) error
	// DispatchClick invokes the element's click() from page script.
	DispatchClick(ctx context.Context, selector string, index int) error

	// Fill sets the value directly and fires input/change events.
	Fill(ctx context.Context, selector string, index int, value string) error
	// Clear empties the element's value.
	Clear(ctx context.Context, selector string, index int) error
	// TypeText focuses the element and sends text as key events.
	TypeText(ctx context.Context, selector string, index int, text string) error
	// Value reads the current value of a form control.
	Value(ctx context.Context, selector string, index int) (string, error)
	// Text reads the normalized text content.
	Text(ctx context.Context, selector string, index int) (string, error)
	// Attribute reads a named attribute; missing attributes read as "".
	Attribute(ctx context.Context, selector string, index int, name string) (string, error)

	// ScrollIntoView uses the native scroll-into-view primitive.
	ScrollIntoView(ctx context.Context, selector string, index int) error
	// SmoothScroll scrolls the element to the viewport centre by script.
	SmoothScroll(ctx context.Context, selector string, index int) error

	// Screenshot captures the viewport. ErrUnsupported when unavailable.
	Screenshot(ctx context.Context) ([]byte, error)
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
}

// -- Natural-Language Executor Interface --

// TestContext identifies the step a natural-language instruction belongs to.
type TestContext struct {
	RunID     string `json:"run_id"`
	StepIndex int    `json:"step_index"`
	Step      Step   `json:"step"`
}

// ExecContext binds an instruction to the current page and test.
type ExecContext struct {
	Page Page
	Test TestContext
}

// NLExecutor executes a natural-language instruction against a page. It is
// opaque to the engine and may retry internally.
type NLExecutor interface {
	Execute(ctx context.Context, instruction string, ec ExecContext) error
}

// -- Step Source and Hooks --

// StepSource yields an ordered, finite, one-shot sequence of steps.
type StepSource interface {
	// Next returns the next step, or false once the source is exhausted.
	Next() (Step, bool)
	// Name identifies the source in reports.
	Name() string
}

// StepHook receives per-step lifecycle records for logging and reporting.
type StepHook interface {
	OnStepStart(ctx context.Context, index int, step Step)
	OnStepEnd(ctx context.Context, report StepReport)
}

// -- Store Interface --

// RunStore persists completed run reports.
type RunStore interface {
	PersistRun(ctx context.Context, report *RunReport) error
	GetRun(ctx context.Context, runID string) (*RunReport, error)
}
