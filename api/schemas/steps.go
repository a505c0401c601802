// File: api/schemas/steps.go
package schemas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActionKind is the closed set of operations a Step can request.
type ActionKind string

const (
	ActionNavigate     ActionKind = "navigate"
	ActionFillData     ActionKind = "filldata"
	ActionClickTo      ActionKind = "clickto"
	ActionScrollClick  ActionKind = "scrollclick"
	ActionCheckVisible ActionKind = "checkvisible"
	ActionAssertText   ActionKind = "asserttext"
	ActionWait         ActionKind = "wait"
)

// RegistryLocatorPrefix marks a locatorType that points at the known selector
// registry, e.g. "registry:amazonParsers". The Step locator is then the key.
const RegistryLocatorPrefix = "registry:"

var actionAliases = map[string]ActionKind{
	"navigate":      ActionNavigate,
	"goto":          ActionNavigate,
	"filldata":      ActionFillData,
	"fill":          ActionFillData,
	"type":          ActionFillData,
	"clickto":       ActionClickTo,
	"click":         ActionClickTo,
	"scrollclick":   ActionScrollClick,
	"scrolltoclick": ActionScrollClick,
	"checkvisible":  ActionCheckVisible,
	"verifyvisible": ActionCheckVisible,
	"visible":       ActionCheckVisible,
	"asserttext":    ActionAssertText,
	"verifytext":    ActionAssertText,
	"wait":          ActionWait,
}

// ErrUnknownAction is returned when an action name is not part of the closed set.
var ErrUnknownAction = errors.New("unknown action kind")

// ParseActionKind normalizes an action name, accepting the documented aliases.
func ParseActionKind(name string) (ActionKind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	if kind, ok := actionAliases[key]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// ResolvesElement reports whether the action needs a page element.
func (k ActionKind) ResolvesElement() bool {
	switch k {
	case ActionNavigate, ActionWait:
		return false
	default:
		return true
	}
}

// Step is one declarative unit of test intent. It is immutable once read.
type Step struct {
	Action      ActionKind    `json:"action" yaml:"action"`
	Locator     string        `json:"locator,omitempty" yaml:"locator,omitempty"`
	LocatorType string        `json:"locatorType,omitempty" yaml:"locatorType,omitempty"`
	Value       string        `json:"value,omitempty" yaml:"value,omitempty"`
	WaitBefore  time.Duration `json:"waitBefore,omitempty" yaml:"waitBefore,omitempty"`
	WaitAfter   time.Duration `json:"waitAfter,omitempty" yaml:"waitAfter,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// Name is the human readable label used in reports.
func (s Step) Name() string {
	if s.Description != "" {
		return s.Description
	}
	if s.Locator == "" {
		return fmt.Sprintf("%s %s", s.Action, s.Value)
	}
	return fmt.Sprintf("%s %s", s.Action, s.Locator)
}

// RegistrySource returns the source id when the step references the known
// selector registry instead of a free-form description.
func (s Step) RegistrySource() (string, bool) {
	if !strings.HasPrefix(s.LocatorType, RegistryLocatorPrefix) {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimPrefix(s.LocatorType, RegistryLocatorPrefix))
	return id, id != ""
}

// Ordinal is the 1-based match index used by scrollclick. Anything that is not
// a positive integer selects the first match.
func (s Step) Ordinal() int {
	n, err := strconv.Atoi(strings.TrimSpace(s.Value))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// StepValidationError describes a malformed record rejected at ingestion.
type StepValidationError struct {
	Action ActionKind
	Field  string
	Reason string
}

func (e *StepValidationError) Error() string {
	return fmt.Sprintf("invalid %s step: field %q %s", e.Action, e.Field, e.Reason)
}

// Validate enforces the required fields of each action kind.
func (s Step) Validate() error {
	missing := func(field string) error {
		return &StepValidationError{Action: s.Action, Field: field, Reason: "is required"}
	}
	if s.WaitBefore < 0 {
		return &StepValidationError{Action: s.Action, Field: "waitBefore", Reason: "must not be negative"}
	}
	if s.WaitAfter < 0 {
		return &StepValidationError{Action: s.Action, Field: "waitAfter", Reason: "must not be negative"}
	}

	switch s.Action {
	case ActionNavigate:
		if strings.TrimSpace(s.Value) == "" {
			return missing("value")
		}
	case ActionFillData, ActionAssertText:
		if strings.TrimSpace(s.Locator) == "" {
			return missing("locator")
		}
		if s.Value == "" {
			return missing("value")
		}
	case ActionClickTo, ActionCheckVisible:
		if strings.TrimSpace(s.Locator) == "" {
			return missing("locator")
		}
	case ActionScrollClick:
		if strings.TrimSpace(s.Locator) == "" {
			return missing("locator")
		}
		if v := strings.TrimSpace(s.Value); v != "" {
			if n, err := strconv.Atoi(v); err != nil || n < 1 {
				return &StepValidationError{Action: s.Action, Field: "value", Reason: "must be a positive ordinal"}
			}
		}
	case ActionWait:
		if s.WaitBefore == 0 && strings.TrimSpace(s.Value) == "" {
			return missing("waitBefore")
		}
		if v := strings.TrimSpace(s.Value); v != "" {
			if _, err := ParseWait(v); err != nil {
				return &StepValidationError{Action: s.Action, Field: "value", Reason: err.Error()}
			}
		}
	default:
		return &StepValidationError{Action: s.Action, Field: "action", Reason: "is not a known action"}
	}

	if strings.HasPrefix(s.LocatorType, RegistryLocatorPrefix) {
		if _, ok := s.RegistrySource(); !ok {
			return &StepValidationError{Action: s.Action, Field: "locatorType", Reason: "names no registry source"}
		}
	}
	return nil
}

// ParseWait reads a wait value. Bare integers are milliseconds; anything else
// must be a Go duration string.
func ParseWait(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("is not a duration: %q", v)
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
