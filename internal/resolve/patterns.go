// internal/resolve/patterns.go
package resolve

import (
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/selector"
)

// terms carries the spellings of one target the pattern tables draw from.
type terms struct {
	raw   string // locator as written in the step
	text  string // normalized display text
	lower string
	slug  string
	ident string
	words map[string]struct{}
}

func newTerms(locator string) terms {
	text := NormalizeTarget(locator)
	return terms{
		raw:   strings.TrimSpace(locator),
		text:  text,
		lower: strings.ToLower(text),
		slug:  slug(text),
		ident: ident(text),
		words: words(text),
	}
}

func (t terms) has(word string) bool {
	_, ok := t.words[word]
	return ok
}

// attr builds `[name op "value" i]`; op is one of "=", "*=", "^=".
func attr(name, op, value string, insensitive bool) string {
	s := "[" + name + op + selector.Quote(value)
	if insensitive {
		s += " i"
	}
	return s + "]"
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) (string, bool) {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`, true
	case !strings.Contains(s, "'"):
		return "'" + s + "'", true
	default:
		return "", false
	}
}

// labelled returns XPath candidates for a control of tag associated with a
// <label> containing the target text, either by for= or by nesting.
func labelled(tag string, t terms) []string {
	lit, ok := xpathLiteral(t.text)
	if !ok {
		return nil
	}
	label := "//label[contains(normalize-space(.), " + lit + ")]"
	return []string{
		"xpath=//" + tag + "[@id=" + label + "/@for]",
		"xpath=" + label + "//" + tag,
	}
}

// -- tier 1: input subtype --

func subtypePatterns(subtype schemas.InputSubtype, t terms) []string {
	tok := t.ident
	scoped := func(typ string) []string {
		return []string{
			`input[type="` + typ + `"]` + attr("name", "*=", tok, true),
			`input[type="` + typ + `"]` + attr("id", "*=", tok, true),
			`input[type="` + typ + `"]` + attr("placeholder", "*=", t.text, true),
			`input[type="` + typ + `"]`,
		}
	}

	switch subtype {
	case schemas.SubtypeEmail:
		return append(scoped("email"),
			`input[autocomplete="email"]`,
			`input[autocomplete="username"]`+attr("name", "*=", "email", true),
			`input[name*="email" i]`,
			`input[id*="email" i]`,
			`input[inputmode="email"]`,
		)
	case schemas.SubtypePassword:
		return append(scoped("password"),
			`input[autocomplete="current-password"]`,
			`input[autocomplete="new-password"]`,
			`input[name*="pass" i]`,
		)
	case schemas.SubtypeSearch:
		return append(scoped("search"),
			`input[role="searchbox"]`,
			`input[role="combobox"]`+attr("name", "*=", tok, true),
			`input[name="q"]`,
			`input[name*="search" i]`,
			`input[aria-label*="search" i]`,
		)
	case schemas.SubtypeTel:
		return append(scoped("tel"),
			`input[autocomplete="tel"]`,
			`input[autocomplete="tel-national"]`,
			`input[name*="phone" i]`,
			`input[id*="phone" i]`,
		)
	case schemas.SubtypeNumber:
		return append(scoped("number"),
			`input[inputmode="numeric"]`+attr("name", "*=", tok, true),
			`input[name*="qty" i]`,
			`input[name*="quantity" i]`,
		)
	case schemas.SubtypePostal:
		return []string{
			`input[autocomplete="postal-code"]`,
			`input` + attr("name", "*=", tok, true) + `[inputmode="numeric"]`,
			`input[name*="zip" i]`,
			`input[name*="postal" i]`,
			`input[id*="zip" i]`,
			`input[id*="postal" i]`,
		}
	case schemas.SubtypeName:
		return []string{
			`input[type="text"]` + attr("name", "*=", tok, true),
			`input[autocomplete="name"]`,
			`input[autocomplete="given-name"]`,
			`input[autocomplete="family-name"]`,
			`input` + attr("autocomplete", "*=", "name", false) + attr("id", "*=", tok, true),
		}
	case schemas.SubtypeCard:
		return []string{
			`input[autocomplete="cc-number"]`,
			`input[autocomplete="cc-csc"]`,
			`input[autocomplete="cc-exp"]`,
			`input[inputmode="numeric"][name*="card" i]`,
			`input[name*="card" i]`,
			`input[id*="card" i]`,
			`input[data-elements-stable-field-name]`,
		}
	default:
		return nil
	}
}

// -- tier 2: element kind --

func controlPatterns(tag string, t terms) []string {
	out := []string{
		tag + attr("placeholder", "*=", t.text, true),
		tag + attr("aria-label", "*=", t.text, true),
		tag + attr("name", "*=", t.ident, true),
		tag + attr("id", "*=", t.ident, true),
	}
	return append(out, labelled(tag, t)...)
}

func buttonPatterns(t terms) []string {
	return []string{
		selector.HasText("button", t.text),
		`input[type="submit"]` + attr("value", "*=", t.text, true),
		`input[type="button"]` + attr("value", "*=", t.text, true),
		selector.HasText(`[role="button"]`, t.text),
		`button` + attr("aria-label", "*=", t.text, true),
	}
}

func linkPatterns(t terms) []string {
	return []string{
		selector.HasText("a", t.text),
		`a` + attr("title", "*=", t.text, true),
		`a` + attr("aria-label", "*=", t.text, true),
		selector.HasText(`[role="link"]`, t.text),
	}
}

func blockPatterns(tag string, t terms) []string {
	return []string{
		selector.TextMatches(tag, selector.WholeTextPattern(t.text), "i"),
		tag + attr("class", "*=", t.slug, true),
		selector.HasText(tag, t.text),
	}
}

func kindPatterns(kind schemas.ElementKind, t terms) []string {
	switch kind {
	case schemas.KindInput:
		return controlPatterns("input", t)
	case schemas.KindTextarea:
		return controlPatterns("textarea", t)
	case schemas.KindSelect:
		return controlPatterns("select", t)
	case schemas.KindCheckbox:
		out := []string{
			`input[type="checkbox"]` + attr("name", "*=", t.ident, true),
			`input[type="checkbox"]` + attr("id", "*=", t.ident, true),
			`input[type="checkbox"]` + attr("aria-label", "*=", t.text, true),
		}
		if lit, ok := xpathLiteral(t.text); ok {
			out = append(out, `xpath=//label[contains(normalize-space(.), `+lit+`)]//input[@type="checkbox"]`)
		}
		return append(out, selector.HasText(`[role="checkbox"]`, t.text))
	case schemas.KindButton:
		return buttonPatterns(t)
	case schemas.KindLink:
		return linkPatterns(t)
	case schemas.KindDiv:
		return blockPatterns("div", t)
	case schemas.KindSpan:
		return blockPatterns("span", t)
	case schemas.KindClickable:
		out := append(buttonPatterns(t), linkPatterns(t)...)
		return append(out,
			selector.HasText("[onclick]", t.text),
			selector.HasText("label", t.text),
		)
	case schemas.KindText:
		return []string{
			selector.HasText("[role=\"alert\"]", t.text),
			selector.HasText("[aria-live]", t.text),
			selector.HasText("h1", t.text),
			selector.HasText("h2", t.text),
			selector.HasText("h3", t.text),
			selector.HasText("p", t.text),
			selector.HasText("label", t.text),
			selector.HasText("span", t.text),
			selector.TextMatches("div", selector.WholeTextPattern(t.text), "i"),
		}
	default:
		return nil
	}
}

// -- tier 3: common attributes --

func commonPatterns(t terms) []string {
	var out []string
	if IsSelectorShaped(t.raw) {
		out = append(out, t.raw)
	}
	return append(out,
		attr("name", "=", t.ident, false),
		attr("id", "=", t.ident, false),
		attr("aria-label", "*=", t.text, true),
		attr("data-testid", "*=", t.slug, true),
		attr("data-test", "*=", t.slug, true),
		attr("data-qa", "*=", t.slug, true),
		attr("data-test-id", "*=", t.slug, true),
		attr("title", "*=", t.text, true),
		attr("placeholder", "*=", t.text, true),
	)
}

// -- tier 4: universal e-commerce --

// ecommerceGroup fires when any trigger word appears in the target.
type ecommerceGroup struct {
	triggers  []string
	fragments []string
	scopes    []string
}

var ecommerceGroups = []ecommerceGroup{
	{ // cart
		triggers:  []string{"cart", "basket", "bag", "add"},
		fragments: []string{"cart", "basket", "bag"},
	},
	{ // checkout
		triggers:  []string{"checkout", "payment", "pay", "order", "continue", "proceed", "place", "shipping", "delivery"},
		fragments: []string{"checkout", "payment", "order", "shipping"},
	},
	{ // price
		triggers:  []string{"price", "total", "subtotal", "amount", "cost", "tax", "discount", "coupon"},
		fragments: []string{"price", "total", "amount", "summary"},
	},
	{ // account
		triggers:  []string{"account", "login", "log", "sign", "signin", "register", "profile", "password", "email"},
		fragments: []string{"account", "login", "signin", "auth"},
	},
	{ // navigation
		triggers: []string{"menu", "nav", "home", "back", "next", "previous", "category", "search", "shop"},
		scopes:   []string{"nav", "header", `[role="navigation"]`, `[class*="menu" i]`, `[class*="breadcrumb" i]`},
	},
}

func ecommercePatterns(t terms) []string {
	var out []string
	for _, g := range ecommerceGroups {
		fired := false
		for _, trig := range g.triggers {
			if t.has(trig) {
				fired = true
				break
			}
		}
		if !fired {
			continue
		}
		for _, frag := range g.fragments {
			out = append(out,
				selector.HasText(attr("class", "*=", frag, true), t.text),
				selector.HasText(attr("id", "*=", frag, true), t.text),
				selector.HasText(attr("data-testid", "*=", frag, true), t.text),
			)
		}
		for _, scope := range g.scopes {
			out = append(out, selector.HasText(scope+" a", t.text))
		}
	}
	return out
}

// -- tier 5: UI frameworks --

func frameworkPatterns(t terms) []string {
	return []string{
		attr("ng-model", "*=", t.ident, true),
		attr("formcontrolname", "*=", t.ident, true),
		attr("v-model", "*=", t.ident, true),
		attr("x-model", "*=", t.ident, true),
		attr("data-bind", "*=", t.ident, true),
		attr("data-cy", "*=", t.slug, true),
		attr("data-automation-id", "*=", t.slug, true),
		selector.HasText("[data-reactid]", t.text),
	}
}

// -- tier 6: generic text --

func textPatterns(t terms) []string {
	return []string{
		selector.TextExact(t.text),
		selector.TextMatches("", selector.WholeTextPattern(t.text), "i"),
		selector.TextContains(t.text),
		attr("value", "=", t.text, true),
		selector.HasText("", t.text),
	}
}

// finalPass is tried by the probe with the raw target once every candidate missed.
func finalPass(rawTarget string) []string {
	text := selector.NormalizeText(rawTarget)
	if text == "" {
		return nil
	}
	return []string{
		selector.TextExact(text),
		selector.TextContains(text),
		selector.HasText("*", text),
	}
}
