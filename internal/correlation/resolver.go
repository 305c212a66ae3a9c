package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/gridcert/issuance-worker/internal/certificate"
	"github.com/gridcert/issuance-worker/internal/metrics"
)

var (
	errEntryNotFound   = errors.New("no pending certificate for command")
	errAlreadyResolved = errors.New("command already resolved")
)

// confirmationMessage is the asynchronous registry confirmation event
type confirmationMessage struct {
	CommandID []byte `json:"command_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Resolver correlates asynchronous registry confirmations back to the
// pending certificate that triggered the command.
type Resolver struct {
	cache          *Cache
	certificates   certificate.Store
	lookupAttempts int
	lookupDelay    time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// NewResolver creates a new resolver
func NewResolver(
	cache *Cache,
	certificates certificate.Store,
	lookupAttempts int,
	lookupDelay time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Resolver {
	return &Resolver{
		cache:          cache,
		certificates:   certificates,
		lookupAttempts: lookupAttempts,
		lookupDelay:    lookupDelay,
		logger:         logger,
		metrics:        m,
	}
}

// OnDispatch registers a pending certificate under the command key. Must
// happen-before the command is published.
func (r *Resolver) OnDispatch(commandID []byte, rec certificate.Record) {
	key := Key(commandID)
	r.cache.Put(key, Entry{Certificate: rec, DispatchedAt: time.Now().UTC()})
	r.logger.Debug("registered pending certificate",
		zap.String("command_key", key),
		zap.String("certificate_id", rec.ID.String()),
		zap.String("gsrn", rec.GSRN),
	)
}

// Withdraw removes a pending entry whose command was never actually
// published, so a later redispatch does not leak entries.
func (r *Resolver) Withdraw(commandID []byte) {
	key := Key(commandID)
	if _, found := r.cache.Take(key); found {
		r.logger.Debug("withdrew pending certificate", zap.String("command_key", key))
	}
}

// HandleMessage decodes a confirmation event and resolves it
func (r *Resolver) HandleMessage(ctx context.Context, body []byte) error {
	var msg confirmationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal confirmation: %w", err)
	}
	if len(msg.CommandID) == 0 {
		return fmt.Errorf("confirmation carries no command id")
	}

	return r.OnConfirmation(ctx, msg.CommandID, msg.Success, msg.Error)
}

// OnConfirmation looks up the pending certificate for commandID and
// transitions it to issued or rejected. The lookup is retried up to the
// configured bound with a fixed delay, because the dispatch path may not
// have inserted the entry yet when the confirmation arrives. A
// confirmation that never matches is logged and dropped; the certificate
// stays in creating until an external reconciliation picks it up.
func (r *Resolver) OnConfirmation(ctx context.Context, commandID []byte, success bool, errorText string) error {
	key := Key(commandID)

	if r.cache.WasResolved(key) {
		r.logger.Debug("duplicate confirmation, ignoring", zap.String("command_key", key))
		return nil
	}

	entry, err := backoff.Retry(ctx, func() (Entry, error) {
		if e, found := r.cache.Take(key); found {
			return e, nil
		}
		if r.cache.WasResolved(key) {
			return Entry{}, backoff.Permanent(errAlreadyResolved)
		}
		return Entry{}, errEntryNotFound
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.lookupDelay)),
		backoff.WithMaxTries(uint(r.lookupAttempts)),
	)
	if err != nil {
		if errors.Is(err, errAlreadyResolved) {
			r.logger.Debug("duplicate confirmation, ignoring", zap.String("command_key", key))
			return nil
		}
		r.metrics.CorrelationsAbandoned.Inc()
		r.logger.Error("abandoning confirmation, no pending certificate found",
			zap.String("command_key", key),
			zap.Int("lookup_attempts", r.lookupAttempts),
		)
		return nil
	}

	if err := r.resolve(ctx, entry, success, errorText); err != nil {
		// Re-insert so a replay of this confirmation (DLQ shovel or
		// broker redelivery) can retry the state transition instead of
		// being dropped as a duplicate.
		r.cache.Put(key, entry)
		return err
	}

	r.cache.MarkResolved(key)
	return nil
}

func (r *Resolver) resolve(ctx context.Context, entry Entry, success bool, errorText string) error {
	rec := entry.Certificate

	if success {
		if err := r.certificates.MarkIssued(ctx, rec.ID); err != nil {
			return fmt.Errorf("failed to mark certificate issued: %w", err)
		}
		r.metrics.ResolveCorrelation("issued")
		r.logger.Info("certificate issued",
			zap.String("certificate_id", rec.ID.String()),
			zap.String("gsrn", rec.GSRN),
			zap.String("period", rec.Period.String()),
		)
		return nil
	}

	if err := r.certificates.MarkRejected(ctx, rec.ID, errorText); err != nil {
		return fmt.Errorf("failed to mark certificate rejected: %w", err)
	}
	r.metrics.ResolveCorrelation("rejected")
	r.logger.Info("certificate rejected by registry",
		zap.String("certificate_id", rec.ID.String()),
		zap.String("gsrn", rec.GSRN),
		zap.String("reason", errorText),
	)
	return nil
}
