// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context derived from primary that is also canceled
// when secondary is. Values come from primary only, which for chromedp is the
// context carrying the target connection; secondary usually carries a deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// detachedContext keeps the values of its parent but none of its deadline or
// cancellation.
type detachedContext struct {
	context.Context
}

func (detachedContext) Deadline() (deadline time.Time, ok bool) { return }

func (detachedContext) Done() <-chan struct{} { return nil }

func (detachedContext) Err() error { return nil }

// Detach returns a context carrying ctx's values that outlives ctx. Failure
// screenshots use it after a step deadline has already expired.
func Detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}
