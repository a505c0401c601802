// internal/browser/session/session.go
package session

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/selector"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

//go:embed engine.js
var engineJS string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	markAttr         = "data-cartpilot-target"
	closeGracePeriod = 10 * time.Second
	waitPollInterval = 100 * time.Millisecond
)

// Session is one browser tab driven over CDP. It implements schemas.Page.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	// runActionsFunc and evalFunc default to the chromedp-backed
	// implementations; tests substitute them.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
	evalFunc       func(ctx context.Context, script string, res interface{}) error

	onClose   func()
	closeOnce sync.Once
}

var _ schemas.Page = (*Session)(nil)

// New opens a tab under allocCtx, which must come from chromedp.NewExecAllocator.
func New(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	s := newSession(cfg, logger)
	s.cancel()

	tabCtx, cancel := chromedp.NewContext(allocCtx)
	s.ctx = tabCtx
	s.cancel = cancel

	initActions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		initActions = append(initActions, chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)))
	}
	if cfg.UserAgent != "" {
		initActions = append(initActions, emulation.SetUserAgentOverride(cfg.UserAgent))
	}

	// The first Run on a fresh context creates the tab itself.
	if err := chromedp.Run(tabCtx, initActions...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	s.logger.Debug("Browser tab ready.")
	return s, nil
}

func newSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		cfg:    cfg,
	}
	s.runActionsFunc = s.runActions
	s.evalFunc = s.evaluate
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SetOnClose registers a callback invoked once the tab is closed.
func (s *Session) SetOnClose(fn func()) { s.onClose = fn }

// Close closes the tab and waits for chromedp to release it.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		waitCtx, cancel := context.WithTimeout(ctx, closeGracePeriod)
		defer cancel()
		select {
		case <-s.ctx.Done():
		case <-waitCtx.Done():
			err = fmt.Errorf("timed out waiting for tab %s to close: %w", s.id, waitCtx.Err())
		}
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Session closed.")
	})
	return err
}

// RunActions executes actions on this tab, bounded by both the session and ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	return s.runActionsFunc(ctx, actions...)
}

func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		// Report the context that actually ended rather than chromedp's view of it.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
	}
	return err
}

func (s *Session) evaluate(ctx context.Context, script string, res interface{}) error {
	return s.RunActions(ctx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
}

// Navigate loads url and lets the page settle for the configured post-load wait.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating.", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()

	actions := []chromedp.Action{chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)}
	if s.cfg.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.PostLoadWait))
	}

	if err := s.RunActions(navCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", err)
		}
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, navTimeout, navCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// URL returns the current document location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.RunActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.RunActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// -- page engine plumbing --

// engineResult is the union of everything the page engine returns.
type engineResult struct {
	Found    bool    `json:"found"`
	Count    int     `json:"count"`
	Visible  bool    `json:"visible"`
	Enabled  bool    `json:"enabled"`
	Editable bool    `json:"editable"`
	Obscured bool    `json:"obscured"`
	OK       bool    `json:"ok"`
	Reason   string  `json:"reason"`
	Value    string  `json:"value"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// buildScript wraps the engine and one operation into a self-contained IIFE.
func buildScript(op string, q *selector.Query, index int, arg interface{}) (string, error) {
	payload, err := q.Payload()
	if err != nil {
		return "", err
	}
	if arg == nil {
		arg = struct{}{}
	}
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s arguments: %w", op, err)
	}

	var b strings.Builder
	b.Grow(len(engineJS) + len(payload) + len(argJSON) + 64)
	b.WriteString("(function(){\n")
	b.WriteString(engineJS)
	fmt.Fprintf(&b, "\nreturn cp.%s(%s, %d, %s);\n})()", op, payload, index, argJSON)
	return b.String(), nil
}

// call runs one engine operation and reports a missing element as an error.
func (s *Session) call(ctx context.Context, op, expr string, index int, arg interface{}) (engineResult, error) {
	var res engineResult
	q, err := selector.Parse(expr)
	if err != nil {
		return res, err
	}
	script, err := buildScript(op, q, index, arg)
	if err != nil {
		return res, err
	}
	if err := s.evalFunc(ctx, script, &res); err != nil {
		return res, fmt.Errorf("page engine %s failed for '%s': %w", op, expr, err)
	}
	if op != "count" && !res.Found {
		return res, fmt.Errorf("element not found matching selector '%s' at index %d (%d matches)", expr, index, res.Count)
	}
	return res, nil
}

// markSelector addresses the element tagged by the most recent mark call.
func markSelector(token string) string {
	return fmt.Sprintf(`[%s=%q]`, markAttr, token)
}
