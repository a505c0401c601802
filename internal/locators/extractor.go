// internal/locators/extractor.go
package locators

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Shape names a declaration form the extractor recognises, in precedence order.
type Shape string

const (
	ShapeChained Shape = "chained"
	ShapeSingle  Shape = "single"
	ShapeLiteral Shape = "literal"
)

// strLit matches a double, single or backtick quoted string literal.
const strLit = "(\"(?:[^\"\\\\]|\\\\.)*\"|'(?:[^'\\\\]|\\\\.)*'|`[^`]*`)"

var (
	// document.querySelector("A").querySelector("B"), optional chaining allowed.
	chainedQueryRe = regexp.MustCompile(`querySelector(?:All)?\(\s*` + strLit + `\s*\)(?:\[\d+\])?\s*\??\.\s*querySelector(?:All)?\(\s*` + strLit + `\s*\)`)
	// $("A").find("B")
	chainedFindRe = regexp.MustCompile(`\$\(\s*` + strLit + `\s*\)\s*\.\s*find\(\s*` + strLit + `\s*\)`)

	singleQueryRe = regexp.MustCompile(`querySelector(?:All)?\(\s*` + strLit + `\s*\)`)
	singleJQueryRe = regexp.MustCompile(`\$\(\s*` + strLit + `\s*\)`)
	singleByIDRe  = regexp.MustCompile(`getElementById\(\s*` + strLit + `\s*\)`)
)

// Extractor recovers selector strings declared in reference source text.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns the selector declared for key. Shapes are tried in order
// (chained access inside a function named key, single access inside such a
// function, then an object or property literal) and the first match wins.
func (x *Extractor) Extract(source, key string) (string, error) {
	sel, _, err := x.ExtractShape(source, key)
	return sel, err
}

// ExtractShape is Extract that also reports which shape matched.
func (x *Extractor) ExtractShape(source, key string) (string, Shape, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", &schemas.SourceParseError{Key: key, Err: fmt.Errorf("empty key")}
	}

	bodies := functionBodies(source, key)
	for _, body := range bodies {
		if sel, ok := chained(body); ok {
			return sel, ShapeChained, nil
		}
	}
	for _, body := range bodies {
		if sel, ok := single(body); ok {
			return sel, ShapeSingle, nil
		}
	}
	if sel, ok := literal(source, key); ok {
		return sel, ShapeLiteral, nil
	}
	return "", "", &schemas.SourceParseError{Key: key}
}

func chained(body string) (string, bool) {
	if m := chainedQueryRe.FindStringSubmatch(body); m != nil {
		return joinSelectors(unquote(m[1]), unquote(m[2])), true
	}
	if m := chainedFindRe.FindStringSubmatch(body); m != nil {
		return joinSelectors(unquote(m[1]), unquote(m[2])), true
	}
	return "", false
}

// single takes the earliest lookup in the body, whatever its form.
func single(body string) (string, bool) {
	best, bestAt := "", -1
	consider := func(re *regexp.Regexp, conv func(string) string) {
		loc := re.FindStringSubmatchIndex(body)
		if loc == nil || (bestAt >= 0 && loc[0] >= bestAt) {
			return
		}
		best, bestAt = conv(unquote(body[loc[2]:loc[3]])), loc[0]
	}
	same := func(s string) string { return s }
	consider(singleQueryRe, same)
	consider(singleJQueryRe, same)
	consider(singleByIDRe, func(id string) string { return "#" + id })
	return best, bestAt >= 0 && strings.TrimSpace(best) != ""
}

func literal(source, key string) (string, bool) {
	k := regexp.QuoteMeta(key)
	re := regexp.MustCompile(`(?:^|[^\w$.])(?:` + k + `|"` + k + `"|'` + k + `')\s*(?::|=>|=)\s*` + strLit)
	m := re.FindStringSubmatch(source)
	if m == nil {
		return "", false
	}
	sel := unquote(m[1])
	return sel, strings.TrimSpace(sel) != ""
}

// functionBodies returns the brace-delimited bodies of functions or methods
// named key: `key(...) {`, `function key(...) {`, `key: function (...) {`,
// `key = (...) => {` and `key: async (...) => {`.
func functionBodies(source, key string) []string {
	k := regexp.QuoteMeta(key)
	header := regexp.MustCompile(
		`(?:function\s+` + k + `\s*\([^)]*\)` +
			`|(?:^|[^\w$.])` + k + `\s*\([^)]*\)` +
			`|(?:^|[^\w$.])(?:` + k + `|"` + k + `"|'` + k + `')\s*[:=]\s*(?:async\s+)?(?:function\s*\w*\s*)?\([^)]*\)\s*(?:=>)?` +
			`|(?:^|[^\w$.])(?:` + k + `|"` + k + `"|'` + k + `')\s*[:=]\s*(?:async\s+)?\w+\s*=>` +
			`)\s*\{`)

	var bodies []string
	for _, loc := range header.FindAllStringIndex(source, -1) {
		open := loc[1] - 1
		if body, ok := braceBody(source, open); ok {
			bodies = append(bodies, body)
		}
	}
	return bodies
}

// braceBody returns the text between source[open] == '{' and its matching
// brace, skipping braces inside string literals.
func braceBody(source string, open int) (string, bool) {
	depth := 0
	var quote byte
	for i := open; i < len(source); i++ {
		c := source[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return source[open+1 : i], true
			}
		}
	}
	return "", false
}

// unquote strips the delimiters of a literal matched by strLit and resolves
// backslash escapes of the delimiter and of backslash itself.
func unquote(lit string) string {
	if len(lit) < 2 {
		return lit
	}
	inner := lit[1 : len(lit)-1]
	if lit[0] == '`' {
		return inner
	}
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			switch inner[i+1] {
			case '\\', '"', '\'':
				i++
			}
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

func joinSelectors(outer, inner string) string {
	return strings.TrimSpace(outer) + " " + strings.TrimSpace(inner)
}
