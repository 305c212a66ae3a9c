package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sliding window cursors in the sliding_windows table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new sliding window store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetCursor returns the cursor for gsrn, creating it at contractStart on first access
func (s *PostgresStore) GetCursor(ctx context.Context, gsrn string, contractStart time.Time) (time.Time, error) {
	query := `
		SELECT synced_until
		FROM sliding_windows
		WHERE gsrn = $1
	`

	var syncedUntil time.Time
	err := s.pool.QueryRow(ctx, query, gsrn).Scan(&syncedUntil)
	if err == nil {
		return syncedUntil.UTC(), nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("failed to query sliding window: %w", err)
	}

	// First sync attempt for this metering point. The seed is floored to
	// the hour: contract starts are not guaranteed hour-aligned, and a
	// misaligned cursor would put every period off the hour grid.
	insertQuery := `
		INSERT INTO sliding_windows (gsrn, synced_until)
		VALUES ($1, $2)
		ON CONFLICT (gsrn) DO UPDATE SET gsrn = sliding_windows.gsrn
		RETURNING synced_until
	`

	err = s.pool.QueryRow(ctx, insertQuery, gsrn, contractStart.UTC().Truncate(time.Hour)).Scan(&syncedUntil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to create sliding window: %w", err)
	}

	return syncedUntil.UTC(), nil
}

// Advance moves the cursor forward outside a surrounding transaction
func (s *PostgresStore) Advance(ctx context.Context, gsrn string, newUntil time.Time) error {
	_, err := s.pool.Exec(ctx, advanceQuery, gsrn, newUntil.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance sliding window: %w", err)
	}
	return nil
}

// AdvanceTx moves the cursor forward within the caller's transaction, so
// the advance commits or rolls back together with the issuance request.
func (s *PostgresStore) AdvanceTx(ctx context.Context, tx pgx.Tx, gsrn string, newUntil time.Time) error {
	_, err := tx.Exec(ctx, advanceQuery, gsrn, newUntil.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance sliding window: %w", err)
	}
	return nil
}

// The WHERE clause is the monotonicity guard: a replay with an equal or
// earlier cursor matches no row and changes nothing.
const advanceQuery = `
	UPDATE sliding_windows
	SET synced_until = $2
	WHERE gsrn = $1 AND synced_until < $2
`
