package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDispatchGuard(t *testing.T) {
	guard := NewLocalDispatchGuard()
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, "claim-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = guard.Acquire(ctx, "claim-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "second acquire must be blocked while held")

	// A different claim is independent
	acquired, err = guard.Acquire(ctx, "claim-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	guard.Release(ctx, "claim-1")
	acquired, err = guard.Acquire(ctx, "claim-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "release must free the slot")
}

func TestLocalDispatchGuard_TTLExpiry(t *testing.T) {
	guard := NewLocalDispatchGuard()
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, "claim-1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(5 * time.Millisecond)

	acquired, err = guard.Acquire(ctx, "claim-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "expired hold must not block")
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	assert.Equal(t, "claim-abc123", idempotencyKey("abc123"))
	assert.Equal(t, idempotencyKey("abc123"), idempotencyKey("abc123"))
}
