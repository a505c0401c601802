// internal/resolve/resolver.go
package resolve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// LocatorLookup serves selectors from the known selector registry.
type LocatorLookup interface {
	GetLocator(ctx context.Context, sourceID, key string) (string, error)
}

// Resolver turns a step into a ResolvedElement on a page.
type Resolver struct {
	logger   *zap.Logger
	prober   *Prober
	locators LocatorLookup
}

// NewResolver wires the prober with an optional registry lookup.
func NewResolver(logger *zap.Logger, prober *Prober, locators LocatorLookup) *Resolver {
	return &Resolver{
		logger:   logger.Named("resolver"),
		prober:   prober,
		locators: locators,
	}
}

// Candidates returns what will be probed for step. Registry steps yield the
// single known selector; everything else goes through Generate.
func (r *Resolver) Candidates(ctx context.Context, step schemas.Step) ([]schemas.CandidateSelector, error) {
	sourceID, ok := step.RegistrySource()
	if !ok {
		return GenerateForStep(step), nil
	}
	if r.locators == nil {
		return nil, &schemas.SourceParseError{SourceID: sourceID, Key: step.Locator, Err: fmt.Errorf("no locator registry configured")}
	}
	sel, err := r.locators.GetLocator(ctx, sourceID, step.Locator)
	if err != nil {
		return nil, err
	}
	return []schemas.CandidateSelector{{Selector: sel, Provenance: schemas.ProvenanceRegistry}}, nil
}

// Resolve probes the step's candidates. A nil element with a nil error means
// nothing matched; the returned count is how many candidates were generated.
// Visibility checks accept a present but hidden element so the action can
// wait for it.
func (r *Resolver) Resolve(ctx context.Context, page schemas.Page, step schemas.Step) (*schemas.ResolvedElement, int, error) {
	candidates, err := r.Candidates(ctx, step)
	if err != nil {
		return nil, 0, err
	}

	rawTarget := step.Locator
	if _, registry := step.RegistrySource(); registry {
		rawTarget = ""
	}

	var el *schemas.ResolvedElement
	if step.Action == schemas.ActionCheckVisible {
		el = r.prober.ProbeAttached(ctx, page, candidates, rawTarget)
	} else {
		el = r.prober.Probe(ctx, page, candidates, rawTarget)
	}

	if el != nil {
		r.logger.Debug("Resolved element.",
			zap.String("target", step.Locator),
			zap.String("selector", el.Selector),
			zap.Int("index", el.Index),
			zap.String("provenance", string(el.Provenance)))
	}
	return el, len(candidates), nil
}
