// internal/browser/session/page.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const smoothScrollSettle = 400 * time.Millisecond

var (
	// ErrNotVisible is returned by actionability-checked primitives on hidden elements.
	ErrNotVisible = errors.New("element is not visible")
	// ErrDisabled is returned when the element refuses interaction.
	ErrDisabled = errors.New("element is disabled")
	// ErrObscured is returned when another element would receive the click.
	ErrObscured = errors.New("element is obscured by another element")
)

type markArgs struct {
	Token   string `json:"token"`
	Scroll  bool   `json:"scroll"`
	HitTest bool   `json:"hitTest"`
}

type fillArgs struct {
	Value string `json:"value"`
}

type readArgs struct {
	What string `json:"what"`
	Name string `json:"name,omitempty"`
}

type scrollArgs struct {
	SettleMs int64 `json:"settleMs"`
}

// mark tags the element so chromedp's node-level actions can address it.
func (s *Session) mark(ctx context.Context, selector string, index int, scroll, hitTest bool) (string, engineResult, error) {
	token := uuid.New().String()
	res, err := s.call(ctx, "mark", selector, index, markArgs{Token: token, Scroll: scroll, HitTest: hitTest})
	if err != nil {
		return "", res, err
	}
	return markSelector(token), res, nil
}

// Count returns the number of elements matching selector.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	res, err := s.call(ctx, "count", selector, 0, nil)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// IsVisible reports whether the index-th match has a box and is not styled away.
func (s *Session) IsVisible(ctx context.Context, selector string, index int) (bool, error) {
	res, err := s.call(ctx, "visible", selector, index, nil)
	if err != nil {
		return false, err
	}
	return res.Visible, nil
}

// WaitVisible polls until the element is visible or ctx ends.
func (s *Session) WaitVisible(ctx context.Context, selector string, index int) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		visible, err := s.IsVisible(ctx, selector, index)
		if err == nil && visible {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for '%s' to become visible: %w", selector, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Click checks visibility, enablement and hit-testing, then clicks through CDP.
func (s *Session) Click(ctx context.Context, selector string, index int) error {
	markSel, state, err := s.mark(ctx, selector, index, true, true)
	if err != nil {
		return err
	}
	switch {
	case !state.Visible:
		return fmt.Errorf("click '%s': %w", selector, ErrNotVisible)
	case !state.Enabled:
		return fmt.Errorf("click '%s': %w", selector, ErrDisabled)
	case state.Obscured:
		return fmt.Errorf("click '%s': %w", selector, ErrObscured)
	}

	if err := s.RunActions(ctx, chromedp.Click(markSel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	s.logger.Debug("Click successful.", zap.String("selector", selector), zap.Int("index", index))
	return nil
}

// ForceClick presses and releases the mouse at the element centre.
func (s *Session) ForceClick(ctx context.Context, selector string, index int) error {
	res, err := s.call(ctx, "centre", selector, index, nil)
	if err != nil {
		return err
	}
	x, y := res.X, res.Y
	err = s.RunActions(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
	if err != nil {
		return fmt.Errorf("forced click failed for selector '%s': %w", selector, err)
	}
	return nil
}

// DispatchClick calls element.click() in the page.
func (s *Session) DispatchClick(ctx context.Context, selector string, index int) error {
	_, err := s.call(ctx, "click", selector, index, nil)
	return err
}

// Fill sets the value through the native setter and fires input/change.
func (s *Session) Fill(ctx context.Context, selector string, index int, value string) error {
	res, err := s.call(ctx, "fill", selector, index, fillArgs{Value: value})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("fill '%s': %s", selector, res.Reason)
	}
	return nil
}

// Clear empties the element's value.
func (s *Session) Clear(ctx context.Context, selector string, index int) error {
	return s.Fill(ctx, selector, index, "")
}

// TypeText focuses the element and sends text as key events.
func (s *Session) TypeText(ctx context.Context, selector string, index int, text string) error {
	markSel, _, err := s.mark(ctx, selector, index, false, false)
	if err != nil {
		return err
	}
	if err := s.RunActions(ctx, chromedp.Focus(markSel, chromedp.ByQuery), chromedp.KeyEvent(text)); err != nil {
		return fmt.Errorf("type action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Value reads the element's current value.
func (s *Session) Value(ctx context.Context, selector string, index int) (string, error) {
	res, err := s.call(ctx, "read", selector, index, readArgs{What: "value"})
	return res.Value, err
}

// Text reads the element's normalized text.
func (s *Session) Text(ctx context.Context, selector string, index int) (string, error) {
	res, err := s.call(ctx, "read", selector, index, readArgs{What: "text"})
	return res.Value, err
}

// Attribute reads a named attribute.
func (s *Session) Attribute(ctx context.Context, selector string, index int, name string) (string, error) {
	res, err := s.call(ctx, "read", selector, index, readArgs{What: "attr", Name: name})
	return res.Value, err
}

// ScrollIntoView uses the CDP scroll-into-view primitive.
func (s *Session) ScrollIntoView(ctx context.Context, selector string, index int) error {
	markSel, _, err := s.mark(ctx, selector, index, false, false)
	if err != nil {
		return err
	}
	if err := s.RunActions(ctx, chromedp.ScrollIntoView(markSel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("scroll into view failed for selector '%s': %w", selector, err)
	}
	return nil
}

// SmoothScroll scrolls the element to the viewport centre and waits for it to settle.
func (s *Session) SmoothScroll(ctx context.Context, selector string, index int) error {
	_, err := s.call(ctx, "smoothScroll", selector, index, scrollArgs{SettleMs: smoothScrollSettle.Milliseconds()})
	return err
}
