// internal/fallback/plan.go
package fallback

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Plan operations understood by the executor.
const (
	OpClick         = "click"
	OpFill          = "fill"
	OpScroll        = "scroll"
	OpAssertVisible = "assert_visible"
	OpAssertText    = "assert_text"
	OpDone          = "done"
)

// fenceRegex unwraps a plan the model wrapped in a markdown code block.
// \x60 is a backtick.
var fenceRegex = regexp.MustCompile("(?s)^\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60$")

// errEmptyPlan is returned for a well-formed plan with no operation to apply
// before its first done.
var errEmptyPlan = errors.New("model returned an empty plan")

// PlanStep is one operation against a snapshot element.
type PlanStep struct {
	Op    string `json:"op"`
	Ref   string `json:"ref,omitempty"`
	Value string `json:"value,omitempty"`
}

// ParsePlan decodes a model response into plan steps. Both a bare array and
// an object with a "steps" array are accepted, optionally fenced or wrapped
// in prose.
func ParsePlan(response string) ([]PlanStep, error) {
	text := strings.TrimSpace(response)
	if m := fenceRegex.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !strings.HasPrefix(text, "[") && !strings.HasPrefix(text, "{") {
		text = outermost(text)
	}

	var steps []PlanStep
	switch {
	case strings.HasPrefix(text, "["):
		if err := json.Unmarshal([]byte(text), &steps); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
	case strings.HasPrefix(text, "{"):
		var wrapped struct {
			Steps []PlanStep `json:"steps"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
		steps = wrapped.Steps
	default:
		return nil, fmt.Errorf("failed to decode plan: no JSON found in response")
	}

	if len(steps) == 0 {
		return nil, errEmptyPlan
	}
	acts, ended := 0, false
	for i := range steps {
		steps[i].Op = strings.ToLower(strings.TrimSpace(steps[i].Op))
		steps[i].Ref = strings.TrimSpace(steps[i].Ref)
		switch steps[i].Op {
		case OpClick, OpFill, OpScroll, OpAssertVisible, OpAssertText:
			if steps[i].Ref == "" {
				return nil, fmt.Errorf("plan step %d (%s) has no ref", i, steps[i].Op)
			}
			if !ended {
				acts++
			}
		case OpDone:
			ended = true
		default:
			return nil, fmt.Errorf("plan step %d has unknown op %q", i, steps[i].Op)
		}
	}
	// Execution stops at the first done, so a plan must act before it.
	if acts == 0 {
		return nil, errEmptyPlan
	}
	return steps, nil
}

// outermost cuts the first JSON array or object out of surrounding prose.
func outermost(text string) string {
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		first := strings.Index(text, pair[0])
		last := strings.LastIndex(text, pair[1])
		if first >= 0 && last > first {
			return text[first : last+1]
		}
	}
	return text
}
