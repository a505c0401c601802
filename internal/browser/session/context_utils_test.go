// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type ctxKey string

const targetKey ctxKey = "target"

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("values come from the primary context", func(t *testing.T) {
		primary := context.WithValue(context.Background(), targetKey, "tab-1")
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(targetKey))
		assert.NoError(t, combined.Err())
	})

	t.Run("primary cancellation propagates", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("secondary deadline cancels the combined context", func(t *testing.T) {
		primary, cancelPrimary := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelPrimary()
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancelSecondary()

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()

		select {
		case <-combined.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("combined context outlived its secondary")
		}
		assert.ErrorIs(t, secondary.Err(), context.DeadlineExceeded)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("primary deadline is inherited", func(t *testing.T) {
		deadline := time.Now().Add(time.Minute)
		primary, cancelPrimary := context.WithDeadline(context.Background(), deadline)
		defer cancelPrimary()

		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		got, ok := combined.Deadline()
		require.True(t, ok)
		assert.True(t, got.Equal(deadline))
	})
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), targetKey, "tab-2"), 20*time.Millisecond)
	defer cancel()

	detached := Detach(parent)
	<-parent.Done()

	assert.Equal(t, "tab-2", detached.Value(targetKey))
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, ok := detached.Deadline()
	assert.False(t, ok)

	derived, cancelDerived := context.WithTimeout(detached, 20*time.Millisecond)
	defer cancelDerived()
	<-derived.Done()
	assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
}
