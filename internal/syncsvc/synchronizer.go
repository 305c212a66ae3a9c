package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridcert/issuance-worker/internal/contract"
	"github.com/gridcert/issuance-worker/internal/issuance"
	"github.com/gridcert/issuance-worker/internal/logging"
	"github.com/gridcert/issuance-worker/internal/measurement"
	"github.com/gridcert/issuance-worker/internal/metrics"
	"github.com/gridcert/issuance-worker/internal/relation"
	"github.com/gridcert/issuance-worker/tools/periodclock"
)

// CursorStore is the slice of the window store the synchronizer needs
type CursorStore interface {
	GetCursor(ctx context.Context, gsrn string, contractStart time.Time) (time.Time, error)
}

// RelationValidator checks the customer relation for one period
type RelationValidator interface {
	Validate(ctx context.Context, owner, gsrn string, period periodclock.Period) (relation.Result, error)
}

// MeasurementSource fetches the measured quantity for one period
type MeasurementSource interface {
	Get(ctx context.Context, gsrn string, period periodclock.Period) (measurement.Reading, error)
}

// Options configures the synchronizer
type Options struct {
	// MinimumAge is the age buffer a period must clear beyond the latest
	// closed hour before it becomes eligible. Zero means no buffer.
	MinimumAge time.Duration

	// CatchUp lets a metering point drain its backlog within a single
	// tick. Off by default: one period per point per tick bounds the work
	// and keeps the batch fair across points.
	CatchUp bool

	// Parallelism bounds how many metering points sync concurrently
	Parallelism int

	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Synchronizer drives certificate issuance for all active metering
// points: per point it finds the next hour period after the sliding
// window cursor, gates it on age and customer relation, fetches the
// measured quantity and commits the issuance request together with the
// cursor advance.
type Synchronizer struct {
	points       contract.Source
	windows      CursorStore
	validator    RelationValidator
	measurements MeasurementSource
	ledger       issuance.Ledger
	opts         Options
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// New creates a new synchronizer
func New(
	points contract.Source,
	windows CursorStore,
	validator RelationValidator,
	measurements MeasurementSource,
	ledger issuance.Ledger,
	opts Options,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Synchronizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Synchronizer{
		points:       points,
		windows:      windows,
		validator:    validator,
		measurements: measurements,
		ledger:       ledger,
		opts:         opts,
		logger:       logger,
		metrics:      m,
	}
}

// SyncAll processes every active metering point once. Failures are
// isolated per point: no error from one point may abort the batch, so
// the only error returned is a failure to list the points at all.
func (s *Synchronizer) SyncAll(ctx context.Context) error {
	points, err := s.points.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active metering points: %w", err)
	}

	s.logger.Info("starting sync batch", zap.Int("metering_points", len(points)))

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Parallelism)
	for _, point := range points {
		point := point
		g.Go(func() error {
			s.syncPoint(ctx, point)
			return nil
		})
	}
	// Units never return errors; Wait is for completion only
	_ = g.Wait()

	return nil
}

func (s *Synchronizer) syncPoint(ctx context.Context, point contract.MeteringPoint) {
	logger := logging.WithGSRN(s.logger, point.GSRN)

	for {
		advanced := s.syncNextPeriod(ctx, point, logger)
		if !advanced || !s.opts.CatchUp {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// syncNextPeriod attempts one period for the metering point and reports
// whether the cursor advanced (the catch-up loop keeps going only then).
func (s *Synchronizer) syncNextPeriod(ctx context.Context, point contract.MeteringPoint, logger *zap.Logger) bool {
	cursor, err := s.windows.GetCursor(ctx, point.GSRN, point.ContractStart)
	if err != nil {
		s.metrics.SkipPoint(metrics.SkipCommitFailed)
		logger.Error("failed to read sliding window cursor", zap.Error(err))
		return false
	}

	candidate := periodclock.NewHour(cursor)

	cutoff := periodclock.LatestClosedHour(s.opts.Now()).Add(-s.opts.MinimumAge)
	if candidate.To.After(cutoff) {
		s.metrics.SkipPoint(metrics.SkipTooRecent)
		logger.Debug("period too recent, skipping",
			zap.String("period", candidate.String()),
			zap.Time("cutoff", cutoff),
		)
		return false
	}

	result, err := s.validator.Validate(ctx, point.OwnerSubject, point.GSRN, candidate)
	if err != nil {
		s.metrics.SkipPoint(metrics.SkipRelationRejected)
		logger.Error("relation validation failed", zap.Error(err), zap.String("period", candidate.String()))
		return false
	}
	switch result.Status {
	case relation.StatusNotYetRelated:
		// Expected while onboarding is in flight; retried next tick
		s.metrics.SkipPoint(metrics.SkipNotYetRelated)
		logger.Debug("customer relation not established yet, skipping")
		return false
	case relation.StatusRejected:
		s.metrics.SkipPoint(metrics.SkipRelationRejected)
		logger.Error("metering point rejected by relation registry",
			zap.String("reason", result.Reason),
			zap.String("period", candidate.String()),
		)
		return false
	}

	reading, err := s.measurements.Get(ctx, point.GSRN, candidate)
	if err != nil {
		s.metrics.SkipPoint(metrics.SkipMeasurementUnavailable)
		if errors.Is(err, measurement.ErrUnavailable) {
			logger.Debug("measurement unavailable, skipping", zap.Error(err))
		} else {
			logger.Error("measurement fetch failed", zap.Error(err))
		}
		return false
	}

	commit, err := s.ledger.Commit(ctx, issuance.Request{
		GSRN:     point.GSRN,
		Period:   candidate,
		Quantity: reading.Quantity,
		Quality:  reading.Quality,
	})
	if err != nil {
		s.metrics.SkipPoint(metrics.SkipCommitFailed)
		logger.Error("failed to commit issuance request", zap.Error(err), zap.String("period", candidate.String()))
		return false
	}

	if commit.Duplicate {
		s.metrics.IssuanceRequestsDuplicate.Inc()
		logger.Debug("issuance request already existed, cursor advanced",
			zap.String("period", candidate.String()),
		)
	} else {
		s.metrics.IssuanceRequestsEmitted.Inc()
		logger.Info("issuance request emitted",
			zap.String("period", candidate.String()),
			zap.Uint64("quantity_wh", reading.Quantity),
			zap.String("quality", reading.Quality),
		)
	}

	return true
}
