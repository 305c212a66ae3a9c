package issuance

import (
	"context"

	"github.com/google/uuid"

	"github.com/gridcert/issuance-worker/tools/periodclock"
)

// Request is an accepted issuance request for one (metering point, period)
type Request struct {
	GSRN     string
	Period   periodclock.Period
	Quantity uint64
	Quality  string
}

// StoredRequest is a persisted request awaiting dispatch to the registry
type StoredRequest struct {
	ID       uuid.UUID
	GSRN     string
	Period   periodclock.Period
	Quantity uint64
	Quality  string
}

// CommitResult reports what a commit did
type CommitResult struct {
	// Duplicate is true when a request for the same (gsrn, period) already
	// existed. The uniqueness constraint is the final idempotence backstop,
	// independent of the sliding-window cursor, so a duplicate is success.
	Duplicate bool
}

// Ledger commits an issuance request and the sliding-window advance as one
// atomic step: a crash can never leave a committed cursor without the
// corresponding request, or the request without the cursor.
type Ledger interface {
	Commit(ctx context.Context, req Request) (CommitResult, error)
}

// RequestSource hands pending requests to the dispatcher.
//
// ClaimPending atomically marks the returned requests as being
// dispatched, so concurrent worker replicas never pick up the same
// request. A claim either ends in MarkDispatched, is handed back via
// Release when the dispatch could not happen, or goes stale and is
// reclaimed on a later ClaimPending after the holder crashed.
type RequestSource interface {
	ClaimPending(ctx context.Context, limit int) ([]StoredRequest, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
}
