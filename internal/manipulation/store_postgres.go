package manipulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/onnwee/discovery/internal/tracing"
)

// PostgresFlagStore implements FlagStore using PostgreSQL.
type PostgresFlagStore struct {
	db *sql.DB
}

// NewPostgresFlagStore creates a new PostgresFlagStore.
func NewPostgresFlagStore(db *sql.DB) *PostgresFlagStore {
	return &PostgresFlagStore{db: db}
}

const flagColumns = `id, creator_id, descriptor_ref, fingerprint, confidence, categories,
		       status, reviewed_by, case_id, created_at, updated_at, resolved_at`

// Create inserts a new flag.
func (s *PostgresFlagStore) Create(ctx context.Context, f *Flag) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manipulation_flags", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO manipulation_flags (
			id, creator_id, descriptor_ref, fingerprint, confidence, categories,
			status, reviewed_by, case_id, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		f.ID, f.CreatorID, f.DescriptorRef, f.Fingerprint, f.Confidence, pq.Array(f.Categories),
		string(f.Status), f.ReviewedBy, f.CaseID, f.CreatedAt, f.UpdatedAt, f.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create manipulation flag: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an existing flag.
func (s *PostgresFlagStore) Update(ctx context.Context, f *Flag) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manipulation_flags", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `
		UPDATE manipulation_flags
		SET fingerprint = $2, confidence = $3, categories = $4, status = $5,
		    reviewed_by = $6, case_id = $7, updated_at = $8, resolved_at = $9
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		f.ID, f.Fingerprint, f.Confidence, pq.Array(f.Categories), string(f.Status),
		f.ReviewedBy, f.CaseID, f.UpdatedAt, f.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update manipulation flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update manipulation flag: %w", err)
	}
	if n == 0 {
		return ErrFlagNotFound
	}
	return nil
}

// Delete removes a flag by id.
func (s *PostgresFlagStore) Delete(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manipulation_flags", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM manipulation_flags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete manipulation flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete manipulation flag: %w", err)
	}
	if n == 0 {
		return ErrFlagNotFound
	}
	return nil
}

// Get retrieves a flag by id.
func (s *PostgresFlagStore) Get(ctx context.Context, id string) (*Flag, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM manipulation_flags WHERE id = $1`, id)
	f, err := scanFlag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manipulation flag: %w", err)
	}
	return f, nil
}

// ListByCreator returns a creator's flags, newest first.
func (s *PostgresFlagStore) ListByCreator(ctx context.Context, creatorID string) ([]*Flag, error) {
	return s.List(ctx, ListFilter{CreatorID: creatorID})
}

// List returns flags matching filter, newest first.
func (s *PostgresFlagStore) List(ctx context.Context, filter ListFilter) (_ []*Flag, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "manipulation_flags", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var (
		where []string
		args  []interface{}
	)
	if filter.CreatorID != "" {
		args = append(args, filter.CreatorID)
		where = append(where, fmt.Sprintf("creator_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + flagColumns + ` FROM manipulation_flags`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list manipulation flags: %w", err)
	}
	defer rows.Close()

	var flags []*Flag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manipulation flag: %w", err)
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating manipulation flags: %w", err)
	}
	return flags, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFlag(row scanner) (*Flag, error) {
	f := &Flag{}
	var (
		status     string
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&f.ID, &f.CreatorID, &f.DescriptorRef, &f.Fingerprint, &f.Confidence,
		pq.Array(&f.Categories), &status, &f.ReviewedBy, &f.CaseID,
		&f.CreatedAt, &f.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}
	return f, nil
}
