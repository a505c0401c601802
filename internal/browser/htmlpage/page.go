// internal/browser/htmlpage/page.go
package htmlpage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// ClickMethod records which click primitive reached an element.
type ClickMethod string

const (
	ClickNormal   ClickMethod = "normal"
	ClickForced   ClickMethod = "forced"
	ClickDispatch ClickMethod = "dispatch"
)

// ClickRecord is one click observed by the page.
type ClickRecord struct {
	Selector string
	Index    int
	Method   ClickMethod
	Tag      string
	Text     string
}

// Page is an offline, stateful DOM implementing schemas.Page. Mutations made by
// fill and click primitives persist until the next navigation.
type Page struct {
	logger *zap.Logger
	client *http.Client

	mu         sync.RWMutex
	currentURL *url.URL
	root       *html.Node
	clicks     []ClickRecord
}

var _ schemas.Page = (*Page)(nil)

// Option configures a Page.
type Option func(*Page)

// WithHTTPClient sets the client used to navigate to http(s) URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Page) { p.client = c }
}

// New creates an empty page.
func New(logger *zap.Logger, opts ...Option) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Page{
		logger: logger.Named("htmlpage"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.root = emptyDocument()
	return p
}

// FromString parses markup into a new page at pageURL.
func FromString(logger *zap.Logger, markup, pageURL string) (*Page, error) {
	p := New(logger)
	if err := p.Load(strings.NewReader(markup), pageURL); err != nil {
		return nil, err
	}
	return p, nil
}

// Open parses a local HTML snapshot.
func Open(logger *zap.Logger, path string) (*Page, error) {
	p := New(logger)
	if err := p.Navigate(context.Background(), path); err != nil {
		return nil, err
	}
	return p, nil
}

// Load replaces the document with markup read from r.
func (p *Page) Load(r io.Reader, pageURL string) error {
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}
	var u *url.URL
	if pageURL != "" {
		if u, err = url.Parse(pageURL); err != nil {
			return fmt.Errorf("invalid page URL '%s': %w", pageURL, err)
		}
	}
	p.updateState(u, doc)
	return nil
}

// Navigate loads a local file, a file:// URL, or an http(s) URL. Relative
// targets resolve against the current URL.
func (p *Page) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := p.resolveURL(target)
	if err != nil {
		return fmt.Errorf("failed to resolve URL '%s': %w", target, err)
	}

	p.logger.Debug("Navigating", zap.String("url", resolved.String()))

	switch resolved.Scheme {
	case "http", "https":
		return p.fetch(ctx, resolved)
	case "file", "":
		path := resolved.Path
		if resolved.Scheme == "" {
			path = target
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open snapshot '%s': %w", path, err)
		}
		defer f.Close()
		if resolved.Scheme == "" {
			abs, absErr := filepath.Abs(path)
			if absErr == nil {
				resolved = &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
			}
		}
		return p.Load(f, resolved.String())
	default:
		return fmt.Errorf("unsupported URL scheme '%s'", resolved.Scheme)
	}
}

func (p *Page) fetch(ctx context.Context, u *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request for '%s': %w", u, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.logger.Warn("Request resulted in error status code", zap.Int("status", resp.StatusCode), zap.String("url", u.String()))
	}
	return p.Load(resp.Body, resp.Request.URL.String())
}

func (p *Page) resolveURL(target string) (*url.URL, error) {
	p.mu.RLock()
	current := p.currentURL
	p.mu.RUnlock()

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if current != nil && !parsed.IsAbs() && current.Scheme != "file" {
		return current.ResolveReference(parsed), nil
	}
	return parsed, nil
}

func (p *Page) updateState(u *url.URL, doc *html.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentURL = u
	p.root = doc
	p.clicks = nil

	pageURL, title := "about:blank", ""
	if u != nil {
		pageURL = u.String()
	}
	if t := htmlquery.FindOne(doc, "//title"); t != nil {
		title = strings.TrimSpace(htmlquery.InnerText(t))
	}
	p.logger.Debug("Page state updated", zap.String("url", pageURL), zap.String("title", title))
}

// URL returns the current document URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.currentURL == nil {
		return "about:blank", nil
	}
	return p.currentURL.String(), nil
}

// Screenshot is not available offline.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("htmlpage: screenshot: %w", schemas.ErrUnsupported)
}

// Snapshot renders the current (possibly mutated) DOM.
func (p *Page) Snapshot() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var buf bytes.Buffer
	if err := html.Render(&buf, p.root); err != nil {
		return "", fmt.Errorf("failed to render DOM snapshot: %w", err)
	}
	return buf.String(), nil
}

// Clicks returns the clicks recorded since the last navigation.
func (p *Page) Clicks() []ClickRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ClickRecord, len(p.clicks))
	copy(out, p.clicks)
	return out
}

func emptyDocument() *html.Node {
	doc, _ := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	return doc
}
