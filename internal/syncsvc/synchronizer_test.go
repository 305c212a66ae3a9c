package syncsvc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridcert/issuance-worker/internal/contract"
	"github.com/gridcert/issuance-worker/internal/issuance"
	"github.com/gridcert/issuance-worker/internal/measurement"
	"github.com/gridcert/issuance-worker/internal/metrics"
	"github.com/gridcert/issuance-worker/internal/relation"
	"github.com/gridcert/issuance-worker/internal/syncsvc"
	"github.com/gridcert/issuance-worker/internal/window"
	"github.com/gridcert/issuance-worker/tools/periodclock"
)

const (
	testGSRN  = "571313000000001234"
	testOwner = "39315041111111"
)

var (
	t0      = time.Unix(1646308800, 0).UTC() // 2022-03-03T12:00:00Z
	testNow = time.Date(2022, 3, 3, 13, 5, 0, 0, time.UTC)
)

type fakePoints []contract.MeteringPoint

func (f fakePoints) ListActive(context.Context) ([]contract.MeteringPoint, error) { return f, nil }

type fakeValidator func(gsrn string, period periodclock.Period) (relation.Result, error)

func (f fakeValidator) Validate(_ context.Context, _, gsrn string, period periodclock.Period) (relation.Result, error) {
	return f(gsrn, period)
}

type fakeMeasurements func(gsrn string, period periodclock.Period) (measurement.Reading, error)

func (f fakeMeasurements) Get(_ context.Context, gsrn string, period periodclock.Period) (measurement.Reading, error) {
	return f(gsrn, period)
}

func eligible(string, periodclock.Period) (relation.Result, error) {
	return relation.Result{Status: relation.StatusEligible}, nil
}

func fixedReading(quantity uint64) fakeMeasurements {
	return func(string, periodclock.Period) (measurement.Reading, error) {
		return measurement.Reading{Quantity: quantity, Quality: "measured"}, nil
	}
}

type harness struct {
	windows *window.MemoryStore
	ledger  *issuance.MemoryLedger
	metrics *metrics.Metrics
}

func newSynchronizer(t *testing.T, points fakePoints, v fakeValidator, m fakeMeasurements, opts syncsvc.Options) (*syncsvc.Synchronizer, *harness) {
	t.Helper()

	h := &harness{
		windows: window.NewMemoryStore(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.ledger = issuance.NewMemoryLedger(h.windows)

	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	s := syncsvc.New(points, h.windows, v, m, h.ledger, opts, zap.NewNop(), h.metrics)
	return s, h
}

func singlePoint() fakePoints {
	return fakePoints{{GSRN: testGSRN, OwnerSubject: testOwner, ContractStart: t0}}
}

func TestSyncAll_EmitsOneRequestAndAdvancesCursor(t *testing.T) {
	s, h := newSynchronizer(t, singlePoint(), eligible, fixedReading(42), syncsvc.Options{})

	require.NoError(t, s.SyncAll(context.Background()))

	requests := h.ledger.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, testGSRN, requests[0].GSRN)
	assert.Equal(t, t0, requests[0].Period.From)
	assert.Equal(t, t0.Add(time.Hour), requests[0].Period.To)
	assert.Equal(t, uint64(42), requests[0].Quantity)

	cursor, _ := h.windows.Cursor(testGSRN)
	assert.Equal(t, time.Unix(1646312400, 0).UTC(), cursor)
}

func TestSyncAll_PeriodEndingAtLatestClosedHourIsEligibleWithZeroThreshold(t *testing.T) {
	// candidate [12:00, 13:00) with now=13:05 and no age buffer: the
	// period end equals the latest closed hour and must be synchronized.
	s, h := newSynchronizer(t, singlePoint(), eligible, fixedReading(1), syncsvc.Options{MinimumAge: 0})

	require.NoError(t, s.SyncAll(context.Background()))
	assert.Len(t, h.ledger.Requests(), 1)
}

func TestSyncAll_AgeThresholdDefersPeriod(t *testing.T) {
	s, h := newSynchronizer(t, singlePoint(), eligible, fixedReading(1), syncsvc.Options{MinimumAge: time.Hour})

	require.NoError(t, s.SyncAll(context.Background()))

	assert.Empty(t, h.ledger.Requests())
	cursor, _ := h.windows.Cursor(testGSRN)
	assert.Equal(t, t0, cursor)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PointsSkipped.WithLabelValues(metrics.SkipTooRecent)))
}

func TestSyncAll_NotYetRelatedSkipsQuietly(t *testing.T) {
	notRelated := fakeValidator(func(string, periodclock.Period) (relation.Result, error) {
		return relation.Result{Status: relation.StatusNotYetRelated}, nil
	})
	s, h := newSynchronizer(t, singlePoint(), notRelated, fixedReading(1), syncsvc.Options{})

	require.NoError(t, s.SyncAll(context.Background()))

	assert.Empty(t, h.ledger.Requests())
	cursor, _ := h.windows.Cursor(testGSRN)
	assert.Equal(t, t0, cursor)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PointsSkipped.WithLabelValues(metrics.SkipNotYetRelated)))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.PointsSkipped.WithLabelValues(metrics.SkipRelationRejected)))
}

func TestSyncAll_RejectionSkipsAndCounts(t *testing.T) {
	rejected := fakeValidator(func(string, periodclock.Period) (relation.Result, error) {
		return relation.Result{Status: relation.StatusRejected, Reason: "registry rejection LMC-009"}, nil
	})
	s, h := newSynchronizer(t, singlePoint(), rejected, fixedReading(1), syncsvc.Options{})

	require.NoError(t, s.SyncAll(context.Background()))

	assert.Empty(t, h.ledger.Requests())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PointsSkipped.WithLabelValues(metrics.SkipRelationRejected)))
}

func TestSyncAll_MeasurementUnavailableSkipsWithoutAdvance(t *testing.T) {
	unavailable := fakeMeasurements(func(string, periodclock.Period) (measurement.Reading, error) {
		return measurement.Reading{}, measurement.ErrUnavailable
	})
	s, h := newSynchronizer(t, singlePoint(), eligible, unavailable, syncsvc.Options{})

	require.NoError(t, s.SyncAll(context.Background()))

	assert.Empty(t, h.ledger.Requests())
	cursor, _ := h.windows.Cursor(testGSRN)
	assert.Equal(t, t0, cursor)
}

func TestSyncAll_OnePeriodPerTickWithoutCatchUp(t *testing.T) {
	// Three closed hours of backlog
	now := time.Date(2022, 3, 3, 15, 5, 0, 0, time.UTC)
	s, h := newSynchronizer(t, singlePoint(), eligible, fixedReading(7), syncsvc.Options{
		Now: func() time.Time { return now },
	})

	require.NoError(t, s.SyncAll(context.Background()))
	assert.Len(t, h.ledger.Requests(), 1)
}

func TestSyncAll_CatchUpDrainsBacklogInOrder(t *testing.T) {
	now := time.Date(2022, 3, 3, 15, 5, 0, 0, time.UTC)
	s, h := newSynchronizer(t, singlePoint(), eligible, fixedReading(7), syncsvc.Options{
		CatchUp: true,
		Now:     func() time.Time { return now },
	})

	require.NoError(t, s.SyncAll(context.Background()))

	requests := h.ledger.Requests()
	require.Len(t, requests, 3)
	for i, req := range requests {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Hour), req.Period.From)
	}
	cursor, _ := h.windows.Cursor(testGSRN)
	assert.Equal(t, t0.Add(3*time.Hour), cursor)
}

func TestSyncAll_FailureIsolatedPerMeteringPoint(t *testing.T) {
	failing := "571313000000009999"
	points := fakePoints{
		{GSRN: failing, OwnerSubject: testOwner, ContractStart: t0},
		{GSRN: testGSRN, OwnerSubject: testOwner, ContractStart: t0},
	}
	validator := fakeValidator(func(gsrn string, _ periodclock.Period) (relation.Result, error) {
		if gsrn == failing {
			return relation.Result{Status: relation.StatusRejected}, errors.New("registry unreachable")
		}
		return relation.Result{Status: relation.StatusEligible}, nil
	})

	s, h := newSynchronizer(t, points, validator, fixedReading(9), syncsvc.Options{Parallelism: 2})

	require.NoError(t, s.SyncAll(context.Background()))

	requests := h.ledger.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, testGSRN, requests[0].GSRN)
}
