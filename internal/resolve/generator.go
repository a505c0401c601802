// internal/resolve/generator.go
package resolve

import (
	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/selector"
)

// tier pairs a provenance with the pattern table that produces it.
type tier struct {
	provenance schemas.Provenance
	patterns   func(t terms, kind schemas.ElementKind, subtype schemas.InputSubtype) []string
}

// tiers is the precedence list. Earlier tiers are probed first and nothing is
// ever reordered by quality: the first visible match wins.
var tiers = []tier{
	{schemas.ProvenanceInputSubtype, func(t terms, kind schemas.ElementKind, sub schemas.InputSubtype) []string {
		return subtypePatterns(sub, t)
	}},
	{schemas.ProvenanceElementKind, func(t terms, kind schemas.ElementKind, _ schemas.InputSubtype) []string {
		return kindPatterns(kind, t)
	}},
	{schemas.ProvenanceCommonAttribute, func(t terms, _ schemas.ElementKind, _ schemas.InputSubtype) []string {
		return commonPatterns(t)
	}},
	{schemas.ProvenanceEcommerce, func(t terms, _ schemas.ElementKind, _ schemas.InputSubtype) []string {
		return ecommercePatterns(t)
	}},
	{schemas.ProvenanceFramework, func(t terms, _ schemas.ElementKind, _ schemas.InputSubtype) []string {
		return frameworkPatterns(t)
	}},
	{schemas.ProvenanceGenericText, func(t terms, _ schemas.ElementKind, _ schemas.InputSubtype) []string {
		return textPatterns(t)
	}},
}

// Generate returns the ranked candidate selectors for a target. It is a pure
// function of its arguments. Duplicates keep their first, higher priority
// position; expressions that would not parse are dropped. Ranks are assigned
// after de-duplication, starting at 0.
func Generate(target string, kind schemas.ElementKind, subtype schemas.InputSubtype) []schemas.CandidateSelector {
	t := newTerms(target)
	if t.text == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []schemas.CandidateSelector
	for _, tr := range tiers {
		for _, expr := range tr.patterns(t, kind, subtype) {
			if _, dup := seen[expr]; dup {
				continue
			}
			seen[expr] = struct{}{}
			if _, err := selector.Parse(expr); err != nil {
				continue
			}
			out = append(out, schemas.CandidateSelector{
				Selector:   expr,
				Provenance: tr.provenance,
				Rank:       len(out),
			})
		}
	}
	return out
}

// GenerateForStep derives kind and subtype from the step and generates.
func GenerateForStep(step schemas.Step) []schemas.CandidateSelector {
	kind := KindFor(step)
	subtype := schemas.SubtypeNone
	if kind == schemas.KindInput || kind == schemas.KindTextarea {
		subtype = SubtypeFor(step.Locator, step.Value)
	}
	return Generate(step.Locator, kind, subtype)
}
