package issuance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridcert/issuance-worker/internal/window"
	"github.com/gridcert/issuance-worker/tools/periodclock"
)

// PostgresLedger commits issuance requests and cursor advances in one
// database transaction.
type PostgresLedger struct {
	pool    *pgxpool.Pool
	windows *window.PostgresStore
}

// NewPostgresLedger creates a new ledger
func NewPostgresLedger(pool *pgxpool.Pool, windows *window.PostgresStore) *PostgresLedger {
	return &PostgresLedger{pool: pool, windows: windows}
}

// Commit inserts the request and advances the sliding window atomically
func (l *PostgresLedger) Commit(ctx context.Context, req Request) (CommitResult, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return CommitResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO issuance_requests (id, gsrn, period_from, period_to, quantity, quality, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
		ON CONFLICT (gsrn, period_from, period_to) DO NOTHING
	`

	tag, err := tx.Exec(ctx, insertQuery,
		uuid.New(),
		req.GSRN,
		req.Period.From.UTC(),
		req.Period.To.UTC(),
		req.Quantity,
		req.Quality,
		time.Now().UTC(),
	)
	if err != nil {
		return CommitResult{}, fmt.Errorf("failed to insert issuance request: %w", err)
	}

	if err := l.windows.AdvanceTx(ctx, tx, req.GSRN, req.Period.To); err != nil {
		return CommitResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CommitResult{}, fmt.Errorf("failed to commit issuance transaction: %w", err)
	}

	return CommitResult{Duplicate: tag.RowsAffected() == 0}, nil
}

// ClaimPending claims up to limit requests awaiting dispatch, oldest
// first. The locked subquery makes concurrent replicas skip each
// other's claims instead of double-publishing; claims whose holder died
// mid-dispatch go stale and are picked up again.
func (l *PostgresLedger) ClaimPending(ctx context.Context, limit int) ([]StoredRequest, error) {
	query := `
		UPDATE issuance_requests
		SET state = 'dispatching', claimed_at = now()
		WHERE id IN (
			SELECT id
			FROM issuance_requests
			WHERE state = 'pending'
			   OR (state = 'dispatching' AND claimed_at < now() - interval '10 minutes')
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, gsrn, period_from, period_to, quantity, quality
	`

	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending requests: %w", err)
	}
	defer rows.Close()

	var requests []StoredRequest
	for rows.Next() {
		var req StoredRequest
		var from, to time.Time
		if err := rows.Scan(&req.ID, &req.GSRN, &from, &to, &req.Quantity, &req.Quality); err != nil {
			return nil, fmt.Errorf("failed to scan issuance request: %w", err)
		}
		req.Period = periodclock.Period{From: from.UTC(), To: to.UTC()}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return requests, nil
}

// MarkDispatched marks a claimed request as handed to the registry
// command channel
func (l *PostgresLedger) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE issuance_requests
		SET state = 'dispatched', dispatched_at = now()
		WHERE id = $1 AND state = 'dispatching'
	`

	tag, err := l.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark request dispatched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The claim went stale and another worker took it over
		return fmt.Errorf("request %s is no longer claimed by this worker", id)
	}
	return nil
}

// Release hands a claimed request back to the pending state so the next
// dispatch pass retries it
func (l *PostgresLedger) Release(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE issuance_requests
		SET state = 'pending', claimed_at = NULL
		WHERE id = $1 AND state = 'dispatching'
	`

	if _, err := l.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release claimed request: %w", err)
	}
	return nil
}
