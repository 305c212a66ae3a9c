package contract

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads active issuing contracts from the database
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a new contract source
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// ListActive returns the metering points of all currently active contracts
func (s *PostgresSource) ListActive(ctx context.Context) ([]MeteringPoint, error) {
	query := `
		SELECT gsrn, owner_subject, contract_start
		FROM issuing_contracts
		WHERE contract_end IS NULL OR contract_end > now()
		ORDER BY gsrn
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active contracts: %w", err)
	}
	defer rows.Close()

	var points []MeteringPoint
	for rows.Next() {
		var p MeteringPoint
		if err := rows.Scan(&p.GSRN, &p.OwnerSubject, &p.ContractStart); err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		p.ContractStart = p.ContractStart.UTC()
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return points, nil
}
