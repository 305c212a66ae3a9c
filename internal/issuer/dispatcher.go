package issuer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridcert/issuance-worker/internal/certificate"
	"github.com/gridcert/issuance-worker/internal/correlation"
	"github.com/gridcert/issuance-worker/internal/issuance"
	"github.com/gridcert/issuance-worker/internal/logging"
	"github.com/gridcert/issuance-worker/internal/metrics"
	"github.com/gridcert/issuance-worker/internal/mq"
)

// CommandPublisher publishes issue commands to the registry channel
type CommandPublisher interface {
	PublishIssueCommand(ctx context.Context, cmd mq.IssueCommand) error
}

// Dispatcher turns committed issuance requests into registry commands.
// It claims a batch so concurrent workers never double-publish. Per
// request it creates (or finds) the certificate record in state
// creating, registers the command with the correlator and only then
// publishes, so a confirmation can never arrive before the correlation
// entry exists.
type Dispatcher struct {
	requests     issuance.RequestSource
	certificates certificate.Store
	resolver     *correlation.Resolver
	publisher    CommandPublisher
	batchSize    int
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	requests issuance.RequestSource,
	certificates certificate.Store,
	resolver *correlation.Resolver,
	publisher CommandPublisher,
	batchSize int,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		requests:     requests,
		certificates: certificates,
		resolver:     resolver,
		publisher:    publisher,
		batchSize:    batchSize,
		logger:       logger,
		metrics:      m,
	}
}

// DispatchPending claims one batch of pending issuance requests and
// publishes them. Failures are isolated per request; a claim whose
// command was never published is released so the next pass retries it.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	claimed, err := d.requests.ClaimPending(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending requests: %w", err)
	}

	for i, req := range claimed {
		if err := ctx.Err(); err != nil {
			d.releaseClaims(claimed[i:])
			return err
		}
		if err := d.dispatchOne(ctx, req); err != nil {
			logging.WithGSRN(d.logger, req.GSRN).Error("failed to dispatch issuance request",
				zap.Error(err),
				zap.String("request_id", req.ID.String()),
			)
		}
	}

	return nil
}

// releaseClaims hands unprocessed claims back on early exit. Release
// uses a fresh context because the batch context is already cancelled.
func (d *Dispatcher) releaseClaims(claims []issuance.StoredRequest) {
	ctx := context.Background()
	for _, req := range claims {
		if err := d.requests.Release(ctx, req.ID); err != nil {
			d.logger.Error("failed to release claimed request",
				zap.Error(err),
				zap.String("request_id", req.ID.String()),
			)
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, req issuance.StoredRequest) error {
	rec, err := d.certificates.GetOrCreate(ctx, certificate.Record{
		ID:       uuid.New(),
		GSRN:     req.GSRN,
		Period:   req.Period,
		Quantity: req.Quantity,
		Quality:  req.Quality,
	})
	if err != nil {
		d.releaseClaims([]issuance.StoredRequest{req})
		return fmt.Errorf("failed to create certificate record: %w", err)
	}

	commandID := uuid.New()
	d.resolver.OnDispatch(commandID[:], rec)

	err = d.publisher.PublishIssueCommand(ctx, mq.IssueCommand{
		CommandID:  commandID[:],
		GSRN:       req.GSRN,
		PeriodFrom: req.Period.From,
		PeriodTo:   req.Period.To,
		Quantity:   req.Quantity,
		Quality:    req.Quality,
	})
	if err != nil {
		// Nothing was published: withdraw the correlation entry and
		// release the claim so the next pass re-dispatches with a fresh
		// command id.
		d.resolver.Withdraw(commandID[:])
		d.releaseClaims([]issuance.StoredRequest{req})
		return fmt.Errorf("failed to publish issue command: %w", err)
	}

	// The command is out; the claim is deliberately not released on a
	// marking failure. It goes stale and is reclaimed, and the resulting
	// duplicate command resolves against the same certificate record.
	if err := d.requests.MarkDispatched(ctx, req.ID); err != nil {
		return err
	}

	d.metrics.CommandsDispatched.Inc()
	logging.WithGSRN(d.logger, req.GSRN).Info("issue command dispatched",
		zap.String("certificate_id", rec.ID.String()),
		zap.String("period", req.Period.String()),
	)

	return nil
}
