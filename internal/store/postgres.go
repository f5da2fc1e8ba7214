package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const requestColumns = `
	id, title, description, category, location, contact_info, photo_ref,
	respondent, status, priority, admin_notes, COALESCE(owner_id, ''),
	display_name, submitted_at, updated_at
`

func scanRequest(row interface{ Scan(...any) error }) (Request, error) {
	var item Request
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Category,
		&item.Location,
		&item.ContactInfo,
		&item.PhotoRef,
		&item.Respondent,
		&item.Status,
		&item.Priority,
		&item.AdminNotes,
		&item.OwnerID,
		&item.DisplayName,
		&item.SubmittedAt,
		&item.UpdatedAt,
	)
	return item, err
}

// NextAnonymousSeq reserves the next value of the anonymous handle sequence.
// The sequence is never reset, so reserved values are unique across all time
// even when a submission later fails and leaves a gap.
func (s *PostgresStore) NextAnonymousSeq(ctx context.Context) (uint64, error) {
	var next uint64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('anonymous_handle_seq')`).Scan(&next); err != nil {
		return 0, fmt.Errorf("next anonymous seq: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) InsertRequest(ctx context.Context, item Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			id, title, description, category, location, contact_info, photo_ref,
			respondent, status, priority, admin_notes, owner_id, display_name,
			submitted_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15)
	`,
		item.ID,
		item.Title,
		item.Description,
		item.Category,
		item.Location,
		item.ContactInfo,
		item.PhotoRef,
		item.Respondent,
		item.Status,
		item.Priority,
		item.AdminNotes,
		item.OwnerID,
		item.DisplayName,
		item.SubmittedAt,
		item.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateHandle
	}
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE id=$1
	`, requestID)
	return scanRequest(row)
}

func (s *PostgresStore) ListRequests(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		ORDER BY submitted_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return collectRequests(rows)
}

func (s *PostgresStore) ListRequestsByOwner(ctx context.Context, ownerID string) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE owner_id=$1
		ORDER BY submitted_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list requests by owner: %w", err)
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]Request, error) {
	defer rows.Close()
	items := make([]Request, 0)
	for rows.Next() {
		item, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

// SetStatus replaces the status and bumps updated_at even when the value is
// unchanged. Returns false when the id does not resolve.
func (s *PostgresStore) SetStatus(ctx context.Context, requestID, status string) (bool, error) {
	return s.setField(ctx, `UPDATE requests SET status=$2, updated_at=NOW() WHERE id=$1`, requestID, status)
}

func (s *PostgresStore) SetPriority(ctx context.Context, requestID, priority string) (bool, error) {
	return s.setField(ctx, `UPDATE requests SET priority=$2, updated_at=NOW() WHERE id=$1`, requestID, priority)
}

func (s *PostgresStore) SetAdminNotes(ctx context.Context, requestID, notes string) (bool, error) {
	return s.setField(ctx, `UPDATE requests SET admin_notes=$2, updated_at=NOW() WHERE id=$1`, requestID, notes)
}

func (s *PostgresStore) setField(ctx context.Context, query, requestID, value string) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, requestID, value)
	if err != nil {
		return false, fmt.Errorf("update request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update request rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteRequest(ctx context.Context, requestID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id=$1`, requestID)
	if err != nil {
		return false, fmt.Errorf("delete request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete request rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
