package certificate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gridcert/issuance-worker/tools/periodclock"
)

// ErrNotCreating is returned when a state transition is attempted on a
// record that is not in the creating state. Issued and rejected are
// terminal.
var ErrNotCreating = errors.New("certificate is not in creating state")

// State of a certificate record
type State string

const (
	StateCreating State = "creating"
	StateIssued   State = "issued"
	StateRejected State = "rejected"
)

// Record is a certificate in the local ledger. It is created in state
// creating when an issuance request is dispatched to the registry and
// transitions exactly once, via the command correlator, when the
// registry confirms or rejects the command.
type Record struct {
	ID              uuid.UUID
	GSRN            string
	Period          periodclock.Period
	Quantity        uint64
	Quality         string
	State           State
	RejectionReason string
	CreatedAt       time.Time
}

// Store persists certificate records
type Store interface {
	// GetOrCreate returns the existing record for (gsrn, period) or
	// creates rec. Re-dispatch after a crash or failed publish must not
	// create a second record for the same period.
	GetOrCreate(ctx context.Context, rec Record) (Record, error)

	// MarkIssued transitions the record from creating to issued
	MarkIssued(ctx context.Context, id uuid.UUID) error

	// MarkRejected transitions the record from creating to rejected
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) error
}
