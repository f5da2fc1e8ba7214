package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PGSearch is the fallback matcher over the requests table.
type PGSearch struct {
	db *sql.DB
}

func NewPGSearch(db *sql.DB) *PGSearch {
	return &PGSearch{db: db}
}

// Search matches the query text against title, description, and location.
func (p *PGSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + strings.TrimSpace(q.Text) + "%"
	conditions := []string{`(title ILIKE $1 OR description ILIKE $1 OR location ILIKE $1)`}
	args := []any{pattern}
	if q.Status != "" {
		args = append(args, q.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM requests WHERE ` + where
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`
		SELECT id, title, description, category, status, priority
		FROM requests
		WHERE %s
		ORDER BY submitted_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search requests: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var item Result
		if err := rows.Scan(&item.ID, &item.Title, &item.Snippet, &item.Category, &item.Status, &item.Priority); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every request for reindexing into Meilisearch.
func (p *PGSearch) LoadAllRecords(ctx context.Context) ([]RequestRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, category, location, status, priority,
		       display_name, EXTRACT(EPOCH FROM submitted_at)::BIGINT
		FROM requests
	`)
	if err != nil {
		return nil, fmt.Errorf("load requests for reindex: %w", err)
	}
	defer rows.Close()

	records := make([]RequestRecord, 0)
	for rows.Next() {
		var record RequestRecord
		if err := rows.Scan(
			&record.ID,
			&record.Title,
			&record.Description,
			&record.Category,
			&record.Location,
			&record.Status,
			&record.Priority,
			&record.DisplayName,
			&record.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reindex record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reindex records: %w", err)
	}
	return records, nil
}
