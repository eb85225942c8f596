package store

import (
	"context"
	"fmt"
)

// RecordAudit inserts a new audit entry. An empty Changes payload is stored
// as NULL so the JSONB column stays queryable.
func (s *PostgresStore) RecordAudit(ctx context.Context, e *AuditEntry) error {
	query := `
		INSERT INTO audit_logs (entity_type, entity_key, environment_key, action, changes)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id, created_at
	`

	changes := e.Changes
	if len(changes) == 0 {
		changes = nil
	}

	err := s.db.QueryRow(ctx, query,
		e.EntityType,
		e.EntityKey,
		e.EnvironmentKey,
		e.Action,
		changes,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// ListAudit retrieves a paginated audit trail, newest first.
func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditEntry, int64, error) {
	var total int64
	countQuery := `
		SELECT count(*) FROM audit_logs
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR entity_key = $2)
	`

	if err := s.db.QueryRow(ctx, countQuery, filter.EntityType, filter.EntityKey).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	if total == 0 {
		return []*AuditEntry{}, 0, nil
	}

	query := `
		SELECT id, entity_type, entity_key, COALESCE(environment_key, ''), action, changes, created_at
		FROM audit_logs
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR entity_key = $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.db.Query(ctx, query, filter.EntityType, filter.EntityKey, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0, limit)

	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(
			&e.ID,
			&e.EntityType,
			&e.EntityKey,
			&e.EnvironmentKey,
			&e.Action,
			&e.Changes,
			&e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, total, nil
}
