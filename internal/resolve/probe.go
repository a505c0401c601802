// internal/resolve/probe.go
package resolve

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

const (
	defaultCandidateTimeout = 750 * time.Millisecond
	// maxVisibilityScan bounds how many matches of one candidate are checked
	// for visibility before moving on.
	maxVisibilityScan = 25
)

// Prober evaluates candidates against a live page in order.
type Prober struct {
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewProber builds a prober with the per-candidate bound from cfg.
func NewProber(logger *zap.Logger, cfg config.ProbeConfig) *Prober {
	timeout := cfg.CandidateTimeout
	if timeout <= 0 {
		timeout = defaultCandidateTimeout
	}
	return &Prober{
		logger:  logger.Named("probe"),
		timeout: timeout,
		now:     time.Now,
	}
}

// Probe returns the first candidate with a visible match, or nil. Candidate
// errors and timeouts count as misses. When every candidate misses, three raw
// text selectors built from rawTarget are tried before giving up. A cancelled
// ctx ends the walk with nil.
func (p *Prober) Probe(ctx context.Context, page schemas.Page, candidates []schemas.CandidateSelector, rawTarget string) *schemas.ResolvedElement {
	return p.walk(ctx, page, candidates, rawTarget, true)
}

// ProbeAttached is Probe without the visibility requirement. Visibility
// assertions use it to find an element that is present but still hidden.
func (p *Prober) ProbeAttached(ctx context.Context, page schemas.Page, candidates []schemas.CandidateSelector, rawTarget string) *schemas.ResolvedElement {
	return p.walk(ctx, page, candidates, rawTarget, false)
}

func (p *Prober) walk(ctx context.Context, page schemas.Page, candidates []schemas.CandidateSelector, rawTarget string, requireVisible bool) *schemas.ResolvedElement {
	if el := p.try(ctx, page, candidates, requireVisible); el != nil {
		return el
	}
	if ctx.Err() != nil {
		return nil
	}

	var final []schemas.CandidateSelector
	for i, expr := range finalPass(rawTarget) {
		final = append(final, schemas.CandidateSelector{
			Selector:   expr,
			Provenance: schemas.ProvenanceFinalPass,
			Rank:       len(candidates) + i,
		})
	}
	if el := p.try(ctx, page, final, requireVisible); el != nil {
		return el
	}

	p.logger.Debug("No candidate matched.",
		zap.String("target", rawTarget),
		zap.Int("candidates", len(candidates)+len(final)))
	return nil
}

func (p *Prober) try(ctx context.Context, page schemas.Page, candidates []schemas.CandidateSelector, requireVisible bool) *schemas.ResolvedElement {
	for _, c := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		index, visible, ok := p.check(ctx, page, c.Selector, requireVisible)
		p.logger.Debug("Probed candidate.",
			zap.Int("rank", c.Rank),
			zap.String("provenance", string(c.Provenance)),
			zap.String("selector", c.Selector),
			zap.Bool("matched", ok))
		if !ok {
			continue
		}
		return &schemas.ResolvedElement{
			Selector:   c.Selector,
			Index:      index,
			Provenance: c.Provenance,
			Rank:       c.Rank,
			Visible:    visible,
			ResolvedAt: p.now(),
		}
	}
	return nil
}

// check counts matches and looks for the first visible one, all within the
// per-candidate bound.
func (p *Prober) check(ctx context.Context, page schemas.Page, sel string, requireVisible bool) (index int, visible bool, ok bool) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	n, err := page.Count(checkCtx, sel)
	if err != nil || n == 0 {
		return 0, false, false
	}
	limit := n
	if limit > maxVisibilityScan {
		limit = maxVisibilityScan
	}
	for i := 0; i < limit; i++ {
		v, err := page.IsVisible(checkCtx, sel, i)
		if err != nil {
			if checkCtx.Err() != nil {
				break
			}
			continue
		}
		if v {
			return i, true, true
		}
	}
	if requireVisible {
		return 0, false, false
	}
	return 0, false, true
}
