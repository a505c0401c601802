// File: api/schemas/selectors.go
package schemas

import "time"

// Provenance tags the generator tier a candidate selector came from.
type Provenance string

const (
	ProvenanceInputSubtype    Provenance = "input-subtype"
	ProvenanceElementKind     Provenance = "element-kind"
	ProvenanceCommonAttribute Provenance = "common-attribute"
	ProvenanceEcommerce       Provenance = "universal-ecommerce"
	ProvenanceFramework       Provenance = "framework"
	ProvenanceGenericText     Provenance = "generic-text"
	// ProvenanceFinalPass marks the raw-text pass run after every candidate missed.
	ProvenanceFinalPass Provenance = "final-pass"
	// ProvenanceRegistry marks selectors served by the known selector registry.
	ProvenanceRegistry Provenance = "registry"
)

// ElementKind narrows the idiomatic selector shapes the generator emits.
type ElementKind string

const (
	KindInput     ElementKind = "input"
	KindTextarea  ElementKind = "textarea"
	KindSelect    ElementKind = "select"
	KindCheckbox  ElementKind = "checkbox"
	KindButton    ElementKind = "button"
	KindLink      ElementKind = "link"
	KindDiv       ElementKind = "div"
	KindSpan      ElementKind = "span"
	KindClickable ElementKind = "clickable"
	KindText      ElementKind = "text"
)

// InputSubtype refines input-targeting candidates.
type InputSubtype string

const (
	SubtypeNone     InputSubtype = ""
	SubtypeEmail    InputSubtype = "email"
	SubtypePassword InputSubtype = "password"
	SubtypeSearch   InputSubtype = "search"
	SubtypeTel      InputSubtype = "tel"
	SubtypeNumber   InputSubtype = "number"
	SubtypePostal   InputSubtype = "postal"
	SubtypeName     InputSubtype = "name"
	SubtypeCard     InputSubtype = "card"
)

// CandidateSelector is one hypothesized query expression. Candidates are
// generated fresh per resolution and never persisted.
type CandidateSelector struct {
	Selector   string     `json:"selector"`
	Provenance Provenance `json:"provenance"`
	Rank       int        `json:"rank"`
}

// ResolvedElement is the live handle (selector plus match index on the page
// that resolved it). It is only valid for the step that produced it.
type ResolvedElement struct {
	Selector   string     `json:"selector"`
	Index      int        `json:"index"`
	Provenance Provenance `json:"provenance"`
	Rank       int        `json:"rank"`
	Visible    bool       `json:"visible"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

// WithIndex returns a copy of the element pointing at another match of the
// same selector.
func (e ResolvedElement) WithIndex(index int) ResolvedElement {
	e.Index = index
	return e
}

// LocatorKey identifies an entry of the extraction cache.
type LocatorKey struct {
	SourceID string `json:"source_id"`
	Key      string `json:"key"`
}

func (k LocatorKey) String() string {
	return k.SourceID + "/" + k.Key
}
