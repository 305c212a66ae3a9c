package correlation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridcert/issuance-worker/internal/certificate"
	"github.com/gridcert/issuance-worker/internal/correlation"
	"github.com/gridcert/issuance-worker/internal/metrics"
	"github.com/gridcert/issuance-worker/tools/periodclock"
)

type fixture struct {
	cache    *correlation.Cache
	certs    *certificate.MemoryStore
	resolver *correlation.Resolver
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, attempts int, delay time.Duration) *fixture {
	t.Helper()

	cache := correlation.NewCache()
	certs := certificate.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	resolver := correlation.NewResolver(cache, certs, attempts, delay, zap.NewNop(), m)

	return &fixture{cache: cache, certs: certs, resolver: resolver, metrics: m}
}

func (f *fixture) dispatch(t *testing.T, gsrn string) ([]byte, certificate.Record) {
	t.Helper()

	rec, err := f.certs.GetOrCreate(context.Background(), certificate.Record{
		ID:       uuid.New(),
		GSRN:     gsrn,
		Period:   periodclock.NewHour(time.Date(2022, 3, 3, 12, 0, 0, 0, time.UTC)),
		Quantity: 42,
		Quality:  "measured",
	})
	require.NoError(t, err)

	commandID := uuid.New()
	f.resolver.OnDispatch(commandID[:], rec)
	return commandID[:], rec
}

func TestKey_DeterministicAndHex(t *testing.T) {
	id := []byte{0x01, 0x02, 0x03}

	assert.Equal(t, correlation.Key(id), correlation.Key([]byte{0x01, 0x02, 0x03}))
	assert.NotEqual(t, correlation.Key(id), correlation.Key([]byte{0x01, 0x02, 0x04}))
	assert.Len(t, correlation.Key(id), 64)
}

func TestOnConfirmation_Issued(t *testing.T) {
	f := newFixture(t, 3, time.Millisecond)
	commandID, rec := f.dispatch(t, "571313000000001234")

	require.NoError(t, f.resolver.OnConfirmation(context.Background(), commandID, true, ""))

	got, ok := f.certs.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, certificate.StateIssued, got.State)
	assert.Equal(t, 0, f.cache.Len())
}

func TestOnConfirmation_Rejected(t *testing.T) {
	f := newFixture(t, 3, time.Millisecond)
	commandID, rec := f.dispatch(t, "571313000000001234")

	require.NoError(t, f.resolver.OnConfirmation(context.Background(), commandID, false, "non contiguous period"))

	got, ok := f.certs.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, certificate.StateRejected, got.State)
	assert.Equal(t, "non contiguous period", got.RejectionReason)
}

func TestOnConfirmation_DuplicateIsNoOp(t *testing.T) {
	f := newFixture(t, 3, time.Millisecond)
	commandID, rec := f.dispatch(t, "571313000000001234")

	require.NoError(t, f.resolver.OnConfirmation(context.Background(), commandID, true, ""))
	// Redelivery with the opposite outcome must not flip the terminal state
	require.NoError(t, f.resolver.OnConfirmation(context.Background(), commandID, false, "late rejection"))

	got, _ := f.certs.Get(rec.ID)
	assert.Equal(t, certificate.StateIssued, got.State)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.CorrelationsAbandoned))
}

func TestOnConfirmation_UnknownCommandIsAbandoned(t *testing.T) {
	f := newFixture(t, 3, time.Millisecond)

	unknown := uuid.New()
	require.NoError(t, f.resolver.OnConfirmation(context.Background(), unknown[:], true, ""))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.CorrelationsAbandoned))
}

func TestOnConfirmation_WaitsForLateDispatch(t *testing.T) {
	f := newFixture(t, 10, 5*time.Millisecond)

	rec, err := f.certs.GetOrCreate(context.Background(), certificate.Record{
		ID:     uuid.New(),
		GSRN:   "571313000000001234",
		Period: periodclock.NewHour(time.Date(2022, 3, 3, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	commandID := uuid.New()

	// Confirmation arrives before the dispatch path has inserted the entry
	done := make(chan error, 1)
	go func() {
		done <- f.resolver.OnConfirmation(context.Background(), commandID[:], true, "")
	}()

	time.Sleep(15 * time.Millisecond)
	f.resolver.OnDispatch(commandID[:], rec)

	require.NoError(t, <-done)
	got, _ := f.certs.Get(rec.ID)
	assert.Equal(t, certificate.StateIssued, got.State)
}

func TestOnConfirmation_ConcurrentCommandsNoCrossTalk(t *testing.T) {
	f := newFixture(t, 3, time.Millisecond)

	idA, recA := f.dispatch(t, "571313000000001111")
	idB, recB := f.dispatch(t, "571313000000002222")

	// Confirmations arrive in reverse order, concurrently
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, f.resolver.OnConfirmation(context.Background(), idB, false, "rejected B"))
	}()
	go func() {
		defer wg.Done()
		require.NoError(t, f.resolver.OnConfirmation(context.Background(), idA, true, ""))
	}()
	wg.Wait()

	gotA, _ := f.certs.Get(recA.ID)
	gotB, _ := f.certs.Get(recB.ID)
	assert.Equal(t, certificate.StateIssued, gotA.State)
	assert.Equal(t, certificate.StateRejected, gotB.State)
	assert.Equal(t, "rejected B", gotB.RejectionReason)
	assert.Equal(t, 0, f.cache.Len())
}

func TestHandleMessage_MalformedBody(t *testing.T) {
	f := newFixture(t, 3, time.Millisecond)

	assert.Error(t, f.resolver.HandleMessage(context.Background(), []byte("not json")))
	assert.Error(t, f.resolver.HandleMessage(context.Background(), []byte(`{"success":true}`)))
}
