// internal/fallback/templates.go
package fallback

import (
	"fmt"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/resolve"
)

// Instruction renders the natural-language instruction for step. The second
// result is false for actions that have no template (navigate, wait).
func Instruction(step schemas.Step) (string, bool) {
	target := resolve.NormalizeTarget(step.Locator)
	switch step.Action {
	case schemas.ActionFillData:
		return fmt.Sprintf("Type '%s' into the field labeled '%s'", step.Value, target), true
	case schemas.ActionClickTo:
		return fmt.Sprintf("Click the element containing text '%s'", target), true
	case schemas.ActionScrollClick:
		return fmt.Sprintf("Scroll to the %s element containing text '%s' and click it", Ordinal(step.Ordinal()), target), true
	case schemas.ActionCheckVisible:
		return fmt.Sprintf("Verify that the element containing text '%s' is visible", target), true
	case schemas.ActionAssertText:
		return fmt.Sprintf("Verify that the element labeled '%s' shows the text '%s'", target, step.Value), true
	default:
		return "", false
	}
}

// Ordinal spells n as an English ordinal: 1st, 2nd, 3rd, 4th, 11th, 22nd.
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
