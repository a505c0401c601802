// File: api/schemas/outcome.go
package schemas

// Strategy names the interaction technique that produced an outcome.
type Strategy string

const (
	StrategyNone           Strategy = ""
	StrategyDirect         Strategy = "direct"
	StrategyTyped          Strategy = "typed"
	StrategyNormal         Strategy = "normal"
	StrategyForced         Strategy = "forced"
	StrategyProgrammatic   Strategy = "programmatic"
	StrategyScrollIntoView Strategy = "scroll-into-view"
	StrategySmoothScroll   Strategy = "smooth-scroll"
	StrategyWaitVisible    Strategy = "wait-visible"
	StrategyTextMatch      Strategy = "text-match"
	StrategyNavigate       Strategy = "navigate"
	StrategyWait           Strategy = "wait"
	StrategyFallback       Strategy = "fallback"
)

// ActionOutcome is produced once per action invocation.
type ActionOutcome struct {
	Success      bool      `json:"success"`
	StrategyUsed Strategy  `json:"strategy_used,omitempty"`
	Attempts     int       `json:"attempts"`
	Error        ErrorKind `json:"error,omitempty"`
	// Err carries the underlying cause. It is not serialized.
	Err error `json:"-"`
}

// Succeeded builds a successful outcome.
func Succeeded(strategy Strategy, attempts int) ActionOutcome {
	return ActionOutcome{Success: true, StrategyUsed: strategy, Attempts: attempts}
}

// Failed builds a failed outcome classified from err.
func Failed(attempts int, err error) ActionOutcome {
	return ActionOutcome{Attempts: attempts, Error: KindOf(err), Err: err}
}
