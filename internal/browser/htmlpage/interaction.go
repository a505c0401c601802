// internal/browser/htmlpage/interaction.go
package htmlpage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const waitPollInterval = 50 * time.Millisecond

var (
	// ErrNotVisible is returned by actionability-checked primitives on hidden elements.
	ErrNotVisible = errors.New("element is not visible")
	// ErrDisabled is returned when an element refuses interaction.
	ErrDisabled = errors.New("element is disabled")
	// ErrNotEditable is returned when filling an element that takes no input.
	ErrNotEditable = errors.New("element is not editable")
)

// Count returns the number of elements matching selector.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	nodes, err := p.queryAll(selector)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// IsVisible reports whether the index-th match is rendered.
func (p *Page) IsVisible(ctx context.Context, selector string, index int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, err := p.nth(selector, index)
	if err != nil {
		return false, err
	}
	return isVisible(n), nil
}

// WaitVisible polls until the element is visible or ctx ends.
func (p *Page) WaitVisible(ctx context.Context, selector string, index int) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		if visible, err := p.IsVisible(ctx, selector, index); err == nil && visible {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for '%s' to become visible: %w", selector, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Click performs an actionability-checked click.
func (p *Page) Click(ctx context.Context, selector string, index int) error {
	return p.click(ctx, selector, index, ClickNormal)
}

// ForceClick clicks without visibility or enabled checks.
func (p *Page) ForceClick(ctx context.Context, selector string, index int) error {
	return p.click(ctx, selector, index, ClickForced)
}

// DispatchClick invokes the element's click handler directly.
func (p *Page) DispatchClick(ctx context.Context, selector string, index int) error {
	return p.click(ctx, selector, index, ClickDispatch)
}

func (p *Page) click(ctx context.Context, selector string, index int, method ClickMethod) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.nth(selector, index)
	if err != nil {
		return err
	}
	if method == ClickNormal {
		if !isVisible(n) {
			return fmt.Errorf("click '%s': %w", selector, ErrNotVisible)
		}
		if isDisabled(n) {
			return fmt.Errorf("click '%s': %w", selector, ErrDisabled)
		}
	}

	toggleCheckable(n)
	p.clicks = append(p.clicks, ClickRecord{
		Selector: selector,
		Index:    index,
		Method:   method,
		Tag:      n.Data,
		Text:     elementText(n),
	})
	p.logger.Debug("Clicked element", zap.String("selector", selector), zap.Int("index", index), zap.String("method", string(method)))
	return nil
}

// Fill sets the control value directly.
func (p *Page) Fill(ctx context.Context, selector string, index int, value string) error {
	return p.mutate(ctx, selector, index, func(n *html.Node) error {
		return setControlValue(n, value)
	})
}

// Clear empties the control value.
func (p *Page) Clear(ctx context.Context, selector string, index int) error {
	return p.mutate(ctx, selector, index, func(n *html.Node) error {
		if n.Data == "select" {
			return nil
		}
		return setControlValue(n, "")
	})
}

// TypeText appends text to the current value, as key events would.
func (p *Page) TypeText(ctx context.Context, selector string, index int, text string) error {
	return p.mutate(ctx, selector, index, func(n *html.Node) error {
		if n.Data == "select" {
			return setControlValue(n, text)
		}
		return setControlValue(n, controlValue(n)+text)
	})
}

func (p *Page) mutate(ctx context.Context, selector string, index int, fn func(*html.Node) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.nth(selector, index)
	if err != nil {
		return err
	}
	if !isEditable(n) {
		return fmt.Errorf("'%s': %w", selector, ErrNotEditable)
	}
	if isDisabled(n) {
		return fmt.Errorf("'%s': %w", selector, ErrDisabled)
	}
	return fn(n)
}

// Value reads the current control value.
func (p *Page) Value(ctx context.Context, selector string, index int) (string, error) {
	return p.read(ctx, selector, index, controlValue)
}

// Text reads the normalized text content.
func (p *Page) Text(ctx context.Context, selector string, index int) (string, error) {
	return p.read(ctx, selector, index, elementText)
}

// Attribute reads a named attribute.
func (p *Page) Attribute(ctx context.Context, selector string, index int, name string) (string, error) {
	return p.read(ctx, selector, index, func(n *html.Node) string {
		if name == "value" {
			return controlValue(n)
		}
		return getAttr(n, name)
	})
}

func (p *Page) read(ctx context.Context, selector string, index int, fn func(*html.Node) string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, err := p.nth(selector, index)
	if err != nil {
		return "", err
	}
	return fn(n), nil
}

// ScrollIntoView has nothing to scroll offline; it fails on hidden elements as
// the native primitive does.
func (p *Page) ScrollIntoView(ctx context.Context, selector string, index int) error {
	visible, err := p.IsVisible(ctx, selector, index)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("scroll '%s': %w", selector, ErrNotVisible)
	}
	return nil
}

// SmoothScroll only requires the element to exist.
func (p *Page) SmoothScroll(ctx context.Context, selector string, index int) error {
	_, err := p.IsVisible(ctx, selector, index)
	return err
}
