// File: internal/browser/selector/query.go
package selector

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine names the matching strategy a Query uses.
type Engine string

const (
	EngineCSS   Engine = "css"
	EngineText  Engine = "text"
	EngineXPath Engine = "xpath"
)

const (
	pseudoHasText     = ":has-text("
	pseudoTextMatches = ":text-matches("
)

// ErrEmptySelector is returned when parsing a blank expression.
var ErrEmptySelector = errors.New("selector: empty expression")

// Query is a parsed selector expression. Both page drivers evaluate the same
// Query so a candidate means the same thing online and offline.
type Query struct {
	Engine    Engine `json:"engine"`
	CSS       string `json:"css,omitempty"`
	XPath     string `json:"xpath,omitempty"`
	Text      string `json:"text,omitempty"`
	Exact     bool   `json:"exact,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Flags     string `json:"flags,omitempty"`
	Innermost bool   `json:"innermost,omitempty"`
	Raw       string `json:"-"`

	re *regexp.Regexp
}

// Parse turns a selector expression into a Query. CSS parts are validated with
// cascadia so an expression that parses here is accepted by both drivers.
func Parse(expr string) (*Query, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, ErrEmptySelector
	}

	switch {
	case strings.HasPrefix(raw, "xpath="):
		return newXPath(raw, strings.TrimSpace(strings.TrimPrefix(raw, "xpath=")))
	case strings.HasPrefix(raw, "//"), strings.HasPrefix(raw, "(//"):
		return newXPath(raw, raw)
	case strings.HasPrefix(raw, "text="):
		return parseTextEngine(raw)
	}
	return parseCSS(raw)
}

// MustParse is like Parse but panics on error. Intended for static tables.
func MustParse(expr string) *Query {
	q, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return q
}

func newXPath(raw, path string) (*Query, error) {
	if path == "" {
		return nil, fmt.Errorf("selector %q: empty xpath", raw)
	}
	return &Query{Engine: EngineXPath, XPath: path, Raw: raw}, nil
}

func parseTextEngine(raw string) (*Query, error) {
	body := strings.TrimSpace(strings.TrimPrefix(raw, "text="))
	if body == "" {
		return nil, fmt.Errorf("selector %q: empty text", raw)
	}
	q := &Query{Engine: EngineText, CSS: "*", Innermost: true, Raw: raw}
	if body[0] == '"' || body[0] == '\'' {
		val, rest, err := readQuoted(body)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", raw, err)
		}
		if strings.TrimSpace(rest) != "" {
			return nil, fmt.Errorf("selector %q: trailing input after quoted text", raw)
		}
		q.Text = val
		q.Exact = true
		return q, nil
	}
	q.Text = body
	return q, nil
}

func parseCSS(raw string) (*Query, error) {
	q := &Query{Engine: EngineCSS, CSS: raw, Raw: raw}

	hasIdx := strings.LastIndex(raw, pseudoHasText)
	reIdx := strings.LastIndex(raw, pseudoTextMatches)
	if hasIdx >= 0 || reIdx >= 0 {
		var (
			base string
			rest string
			err  error
		)
		if hasIdx > reIdx {
			base = raw[:hasIdx]
			q.Text, rest, err = readQuoted(strings.TrimSpace(raw[hasIdx+len(pseudoHasText):]))
		} else {
			base = raw[:reIdx]
			q.Pattern, q.Flags, rest, err = readPatternArgs(strings.TrimSpace(raw[reIdx+len(pseudoTextMatches):]))
		}
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", raw, err)
		}
		if strings.TrimSpace(rest) != ")" {
			return nil, fmt.Errorf("selector %q: text filter must close the expression", raw)
		}
		q.CSS = strings.TrimSpace(base)
		if q.CSS == "" {
			q.CSS = "*"
		}
		q.Innermost = q.CSS == "*"
	}

	if _, err := cascadia.ParseGroup(q.CSS); err != nil {
		return nil, fmt.Errorf("selector %q: invalid css: %w", raw, err)
	}
	if q.Pattern != "" {
		re, err := compilePattern(q.Pattern, q.Flags)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", raw, err)
		}
		q.re = re
	}
	return q, nil
}

func readPatternArgs(s string) (pattern, flags, rest string, err error) {
	pattern, rest, err = readQuoted(s)
	if err != nil {
		return "", "", "", err
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, ",") {
		flags, rest, err = readQuoted(strings.TrimSpace(rest[1:]))
		if err != nil {
			return "", "", "", err
		}
	}
	return pattern, flags, rest, nil
}

// compilePattern maps JavaScript-style flags onto RE2 inline flags.
func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'g', 'u':
		default:
			return nil, fmt.Errorf("unsupported regular expression flag %q", f)
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}

// readQuoted reads a single- or double-quoted string with backslash escapes
// from the start of s and returns the unescaped value and the remainder.
func readQuoted(s string) (string, string, error) {
	if s == "" || (s[0] != '"' && s[0] != '\'') {
		return "", s, errors.New("expected a quoted string")
	}
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case c == quote:
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", errors.New("unterminated quoted string")
}

// HasTextFilter reports whether matches are further filtered by their text.
func (q *Query) HasTextFilter() bool {
	return q.Text != "" || q.Pattern != ""
}

// MatchText applies the query's text filter to an element's text content.
// Queries without a filter match everything.
func (q *Query) MatchText(text string) bool {
	norm := NormalizeText(text)
	switch {
	case q.Pattern != "":
		if q.re == nil {
			re, err := compilePattern(q.Pattern, q.Flags)
			if err != nil {
				return false
			}
			q.re = re
		}
		return q.re.MatchString(norm)
	case q.Text == "":
		return true
	case q.Exact:
		return norm == NormalizeText(q.Text)
	default:
		return strings.Contains(strings.ToLower(norm), strings.ToLower(NormalizeText(q.Text)))
	}
}

// Payload encodes the query for the page-side engine.
func (q *Query) Payload() (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("selector: failed to encode query: %w", err)
	}
	return string(b), nil
}

func (q *Query) String() string {
	return q.Raw
}

// NormalizeText collapses runs of whitespace and trims the ends.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
