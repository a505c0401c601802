// File: internal/browser/selector/build.go
package selector

import (
	"regexp"
	"strings"
)

// Quote renders s as a double-quoted string usable both as a CSS attribute
// value and as a text filter argument.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// HasText appends a case-insensitive substring filter to css.
func HasText(css, text string) string {
	return css + pseudoHasText + Quote(text) + ")"
}

// TextMatches appends a regular expression filter to css.
func TextMatches(css, pattern, flags string) string {
	if flags == "" {
		return css + pseudoTextMatches + Quote(pattern) + ")"
	}
	return css + pseudoTextMatches + Quote(pattern) + ", " + Quote(flags) + ")"
}

// TextExact matches the innermost element whose whole text equals text.
func TextExact(text string) string {
	return "text=" + Quote(text)
}

// TextContains matches the innermost element whose text contains text.
func TextContains(text string) string {
	return "text=" + text
}

// WholeTextPattern is an anchored, case-insensitive pattern for the literal text.
func WholeTextPattern(text string) string {
	return `^\s*` + regexp.QuoteMeta(NormalizeText(text)) + `\s*$`
}
