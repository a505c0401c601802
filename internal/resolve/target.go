// internal/resolve/target.go
package resolve

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/selector"
)

// NormalizeTarget turns a step locator into the human text the generator
// works from: "#email" -> "email", `[name="q"]` -> "q", quotes dropped,
// whitespace collapsed.
func NormalizeTarget(locator string) string {
	t := strings.TrimSpace(locator)
	if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
		inner := strings.TrimSuffix(strings.TrimPrefix(t, "["), "]")
		if eq := strings.Index(inner, "="); eq >= 0 {
			t = inner[eq+1:]
		}
	}
	t = strings.TrimLeft(t, "#.")
	t = strings.Trim(t, `"'`+"`")
	return selector.NormalizeText(t)
}

// IsSelectorShaped reports whether a locator is already a query expression
// worth trying verbatim. Plain prose is not, even when it happens to parse
// as a chain of type selectors.
func IsSelectorShaped(locator string) bool {
	l := strings.TrimSpace(locator)
	if l == "" {
		return false
	}
	for _, prefix := range []string{"#", ".", "[", "//", "(//", "text=", "xpath="} {
		if strings.HasPrefix(l, prefix) {
			_, err := selector.Parse(l)
			return err == nil
		}
	}
	if strings.ContainsAny(l, " \t") || !strings.ContainsAny(l, "#.[:>") {
		return false
	}
	_, err := selector.Parse(l)
	return err == nil
}

var kindNames = map[string]schemas.ElementKind{
	"input":     schemas.KindInput,
	"textarea":  schemas.KindTextarea,
	"select":    schemas.KindSelect,
	"dropdown":  schemas.KindSelect,
	"checkbox":  schemas.KindCheckbox,
	"button":    schemas.KindButton,
	"link":      schemas.KindLink,
	"a":         schemas.KindLink,
	"div":       schemas.KindDiv,
	"span":      schemas.KindSpan,
	"clickable": schemas.KindClickable,
	"text":      schemas.KindText,
}

// KindFor picks the element kind for a step. An explicit locatorType naming a
// kind wins; otherwise the action decides.
func KindFor(step schemas.Step) schemas.ElementKind {
	if kind, ok := kindNames[strings.ToLower(strings.TrimSpace(step.LocatorType))]; ok {
		return kind
	}
	switch step.Action {
	case schemas.ActionFillData:
		return schemas.KindInput
	case schemas.ActionClickTo, schemas.ActionScrollClick:
		return schemas.KindClickable
	default:
		return schemas.KindText
	}
}

// subtypeKeywords is checked in order; the first keyword found in the target wins.
var subtypeKeywords = []struct {
	subtype  schemas.InputSubtype
	keywords []string
}{
	{schemas.SubtypeEmail, []string{"email", "e-mail", "mail"}},
	{schemas.SubtypePassword, []string{"password", "passwd", "pwd", "passcode"}},
	{schemas.SubtypeSearch, []string{"search", "query", "find"}},
	{schemas.SubtypeTel, []string{"phone", "tel", "telephone", "mobile", "cell"}},
	{schemas.SubtypePostal, []string{"zip", "zipcode", "postal", "postcode", "postalcode"}},
	{schemas.SubtypeCard, []string{"card", "cc", "cardnumber", "ccnumber", "cvv", "cvc"}},
	{schemas.SubtypeNumber, []string{"quantity", "qty", "number", "amount", "count"}},
	{schemas.SubtypeName, []string{"name", "firstname", "lastname", "fullname", "surname"}},
}

// SubtypeFor infers the input subtype from keywords in the target, falling back
// to the shape of the value being typed.
func SubtypeFor(target, value string) schemas.InputSubtype {
	words := words(target)
	lower := strings.ToLower(target)
	for _, entry := range subtypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(kw, "-") {
				if strings.Contains(lower, kw) {
					return entry.subtype
				}
				continue
			}
			if _, ok := words[kw]; ok {
				return entry.subtype
			}
		}
	}
	if strings.Contains(value, "@") && !strings.ContainsAny(value, " \t") {
		return schemas.SubtypeEmail
	}
	return schemas.SubtypeNone
}

// words splits s into lowercase alphanumeric tokens, also indexing camelCase
// and snake_case parts so "billingEmail" and "billing_email" both yield "email".
func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out[strings.ToLower(string(cur))] = struct{}{}
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()

	// Keep the squashed form too: "first name" -> "firstname".
	var joined strings.Builder
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		joined.WriteString(f)
	}
	if joined.Len() > 0 {
		out[joined.String()] = struct{}{}
	}
	return out
}

// slug is the lowercase, hyphen-joined form used for test-id style attributes.
func slug(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "-")
}

// ident is the token used in exact name/id matches: the text itself when it is
// a single word, its slug otherwise.
func ident(text string) string {
	if strings.ContainsAny(text, " \t") {
		return slug(text)
	}
	return text
}
