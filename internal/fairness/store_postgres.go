package fairness

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/onnwee/discovery/internal/tracing"
)

// reportChainLock is the advisory lock key serializing appends.
const reportChainLock = 0x66616972

// PostgresStore implements Store using PostgreSQL. The report body is kept
// as JSONB next to the chain columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append implements Store. Appends take a transaction-scoped advisory lock
// so concurrent writers cannot fork the chain.
func (s *PostgresStore) Append(ctx context.Context, r *Report) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "fairness_reports", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin report append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, reportChainLock); err != nil {
		return fmt.Errorf("failed to lock report chain: %w", err)
	}

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM fairness_reports ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read report chain head: %w", err)
	}
	if err := seal(r, prev); err != nil {
		return fmt.Errorf("failed to seal fairness report: %w", err)
	}

	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode fairness report: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fairness_reports (id, created_at, verdict, body, previous_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.CreatedAt, string(r.Verdict), body, r.PreviousHash, r.Hash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrReportExists
		}
		return fmt.Errorf("failed to insert fairness report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fairness report: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *PostgresStore) Latest(ctx context.Context) (*Report, error) {
	reports, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, ErrReportNotFound
	}
	return reports[0], nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Report, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "fairness_reports", tracing.DBOperationQuery)
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM fairness_reports WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		endSpan(nil)
		return nil, ErrReportNotFound
	}
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("failed to get fairness report: %w", err)
	}
	return decodeReport(body)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, limit int) (_ []*Report, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "fairness_reports", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT body FROM fairness_reports ORDER BY seq DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fairness reports: %w", err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan fairness report: %w", err)
		}
		r, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list fairness reports: %w", err)
	}
	return out, nil
}

func decodeReport(body []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode fairness report: %w", err)
	}
	return &r, nil
}
