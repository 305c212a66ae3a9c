package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridcert/issuance-worker/tools/periodclock"
)

// PostgresStore persists certificate records in the certificates table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new certificate store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetOrCreate returns the existing record for (gsrn, period) or creates rec
func (s *PostgresStore) GetOrCreate(ctx context.Context, rec Record) (Record, error) {
	query := `
		SELECT id, gsrn, period_from, period_to, quantity, quality, state, rejection_reason, created_at
		FROM certificates
		WHERE gsrn = $1 AND period_from = $2 AND period_to = $3
	`

	existing, err := scanRecord(s.pool.QueryRow(ctx, query, rec.GSRN, rec.Period.From.UTC(), rec.Period.To.UTC()))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("failed to query certificate: %w", err)
	}

	// The conflict clause makes a lost race against another inserter
	// return that row instead of erroring; exactly one record may exist
	// per (gsrn, period).
	insertQuery := `
		INSERT INTO certificates (id, gsrn, period_from, period_to, quantity, quality, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (gsrn, period_from, period_to) DO UPDATE SET gsrn = certificates.gsrn
		RETURNING id, gsrn, period_from, period_to, quantity, quality, state, rejection_reason, created_at
	`

	created, err := scanRecord(s.pool.QueryRow(ctx, insertQuery,
		rec.ID,
		rec.GSRN,
		rec.Period.From.UTC(),
		rec.Period.To.UTC(),
		rec.Quantity,
		rec.Quality,
		StateCreating,
		time.Now().UTC(),
	))
	if err != nil {
		return Record{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	return created, nil
}

// MarkIssued transitions the record from creating to issued
func (s *PostgresStore) MarkIssued(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StateIssued, nil)
}

// MarkRejected transitions the record from creating to rejected
func (s *PostgresStore) MarkRejected(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transition(ctx, id, StateRejected, &reason)
}

func (s *PostgresStore) transition(ctx context.Context, id uuid.UUID, state State, reason *string) error {
	query := `
		UPDATE certificates
		SET state = $2, rejection_reason = $3, updated_at = now()
		WHERE id = $1 AND state = $4
	`

	tag, err := s.pool.Exec(ctx, query, id, state, reason, StateCreating)
	if err != nil {
		return fmt.Errorf("failed to transition certificate %s to %s: %w", id, state, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("certificate %s: %w", id, ErrNotCreating)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var from, to time.Time
	var reason *string

	err := row.Scan(&rec.ID, &rec.GSRN, &from, &to, &rec.Quantity, &rec.Quality, &rec.State, &reason, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}

	rec.Period = periodclock.Period{From: from.UTC(), To: to.UTC()}
	if reason != nil {
		rec.RejectionReason = *reason
	}
	return rec, nil
}
