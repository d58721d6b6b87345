package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendWithRetry(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := SendWithRetry(ctx, 2, time.Millisecond, func(context.Context) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds on last retry", func(t *testing.T) {
		calls := 0
		err := SendWithRetry(ctx, 2, time.Millisecond, func(context.Context) error {
			calls++
			if calls < 3 {
				return boom
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after retries", func(t *testing.T) {
		calls := 0
		err := SendWithRetry(ctx, 2, time.Millisecond, func(context.Context) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := SendWithRetry(cctx, 5, time.Hour, func(context.Context) error {
			calls++
			cancel()
			return boom
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestBuyer_DisplayName(t *testing.T) {
	assert.Equal(t, "Ana Souza", Buyer{ID: 1, FirstName: "Ana", LastName: "Souza"}.DisplayName())
	assert.Equal(t, "@ana", Buyer{ID: 1, Username: "ana"}.DisplayName())
	assert.Equal(t, "42", Buyer{ID: 42}.DisplayName())
}

func TestEvent_IsCommand(t *testing.T) {
	ev := Event{Kind: EventMessage, Command: "start"}
	assert.True(t, ev.IsCommand("start"))
	assert.False(t, ev.IsCommand("help"))
	assert.False(t, Event{Kind: EventCallback, Command: "start"}.IsCommand("start"))
}
