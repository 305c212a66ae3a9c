package window_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcert/issuance-worker/internal/window"
)

const testGSRN = "571313000000001234"

var contractStart = time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)

func TestGetCursor_CreatesAtContractStart(t *testing.T) {
	store := window.NewMemoryStore()

	cursor, err := store.GetCursor(context.Background(), testGSRN, contractStart)
	require.NoError(t, err)
	assert.Equal(t, contractStart, cursor)
}

func TestGetCursor_MisalignedContractStartFlooredToHour(t *testing.T) {
	store := window.NewMemoryStore()

	midHour := time.Date(2022, 3, 1, 14, 37, 12, 0, time.UTC)
	cursor, err := store.GetCursor(context.Background(), testGSRN, midHour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 3, 1, 14, 0, 0, 0, time.UTC), cursor)
}

func TestGetCursor_SecondAccessIgnoresContractStart(t *testing.T) {
	store := window.NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetCursor(ctx, testGSRN, contractStart)
	require.NoError(t, err)

	later := contractStart.Add(24 * time.Hour)
	cursor, err := store.GetCursor(ctx, testGSRN, later)
	require.NoError(t, err)
	assert.Equal(t, contractStart, cursor)
}

func TestAdvance_MovesForward(t *testing.T) {
	store := window.NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetCursor(ctx, testGSRN, contractStart)
	require.NoError(t, err)

	next := contractStart.Add(time.Hour)
	require.NoError(t, store.Advance(ctx, testGSRN, next))

	cursor, err := store.GetCursor(ctx, testGSRN, contractStart)
	require.NoError(t, err)
	assert.Equal(t, next, cursor)
}

func TestAdvance_ReplayIsNoOp(t *testing.T) {
	store := window.NewMemoryStore()
	ctx := context.Background()

	next := contractStart.Add(2 * time.Hour)
	_, err := store.GetCursor(ctx, testGSRN, contractStart)
	require.NoError(t, err)
	require.NoError(t, store.Advance(ctx, testGSRN, next))

	// Same value and an earlier value must both leave the cursor untouched
	require.NoError(t, store.Advance(ctx, testGSRN, next))
	require.NoError(t, store.Advance(ctx, testGSRN, contractStart.Add(time.Hour)))

	cursor, err := store.GetCursor(ctx, testGSRN, contractStart)
	require.NoError(t, err)
	assert.Equal(t, next, cursor)
}

func TestAdvance_Monotonic(t *testing.T) {
	store := window.NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetCursor(ctx, testGSRN, contractStart)
	require.NoError(t, err)

	previous := contractStart
	steps := []time.Duration{time.Hour, 30 * time.Minute, 3 * time.Hour, time.Hour, 0}
	for _, step := range steps {
		require.NoError(t, store.Advance(ctx, testGSRN, previous.Add(step)))

		cursor, err := store.GetCursor(ctx, testGSRN, contractStart)
		require.NoError(t, err)
		assert.False(t, cursor.Before(previous), "cursor went backwards")
		previous = cursor
	}
}

func TestStore_IndependentPerMeteringPoint(t *testing.T) {
	store := window.NewMemoryStore()
	ctx := context.Background()

	other := "571313000000005678"
	_, err := store.GetCursor(ctx, testGSRN, contractStart)
	require.NoError(t, err)
	_, err = store.GetCursor(ctx, other, contractStart)
	require.NoError(t, err)

	require.NoError(t, store.Advance(ctx, testGSRN, contractStart.Add(time.Hour)))

	cursor, err := store.GetCursor(ctx, other, contractStart)
	require.NoError(t, err)
	assert.Equal(t, contractStart, cursor)
}
