package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// flagColumns is the canonical column list shared by every flag query.
const flagColumns = `id, key, name, description, flag_type, enabled, rollout_percentage, environment_id, created_at, updated_at`

// scanFlag maps one row onto a Flag struct. Works for both pgx.Row and pgx.Rows.
func scanFlag(row pgx.Row, f *Flag) error {
	return row.Scan(
		&f.ID,
		&f.Key,
		&f.Name,
		&f.Description,
		&f.Type,
		&f.Enabled,
		&f.RolloutPercentage,
		&f.EnvironmentID,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
}

// CreateFlag inserts a new flag into the database.
// It uses the RETURNING clause to get the server-generated ID and timestamps efficiently.
func (s *PostgresStore) CreateFlag(ctx context.Context, f *Flag) error {
	query := `
		INSERT INTO flags (key, name, description, flag_type, enabled, rollout_percentage, environment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		f.Key,
		f.Name,
		f.Description,
		f.Type,
		f.Enabled,
		f.RolloutPercentage,
		f.EnvironmentID,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)

	if err != nil {
		// Handle specific database errors explicitly.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation on (environment_id, key)
				return fmt.Errorf("flag %q in environment %d: %w", f.Key, f.EnvironmentID, ErrDuplicateKey)
			case "23503": // foreign_key_violation on environment_id
				return fmt.Errorf("environment %d: %w", f.EnvironmentID, ErrNotFound)
			}
		}
		return fmt.Errorf("failed to insert flag: %w", err)
	}

	return nil
}

// ListFlags retrieves a subset of flags based on pagination parameters.
// A nil environmentID lists across all environments. It executes two queries:
// one for the total count and one for the data.
func (s *PostgresStore) ListFlags(ctx context.Context, environmentID *int64, limit, offset int) ([]*Flag, int64, error) {
	// 1. Get Total Count (for pagination metadata).
	// The $1 IS NULL trick folds the optional filter into a single statement.
	var total int64
	countQuery := `SELECT count(*) FROM flags WHERE ($1::bigint IS NULL OR environment_id = $1)`

	if err := s.db.QueryRow(ctx, countQuery, environmentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count flags: %w", err)
	}

	// If there are no flags, return empty immediately to save the second query.
	if total == 0 {
		return []*Flag{}, 0, nil
	}

	// 2. Get Data
	query := `
		SELECT ` + flagColumns + `
		FROM flags
		WHERE ($1::bigint IS NULL OR environment_id = $1)
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, environmentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flags: %w", err)
	}
	// Ensure rows are closed to prevent connection leaks in the pool.
	defer rows.Close()

	// Pre-allocate slice with a capacity of 'limit' to avoid resizing allocations.
	flags := make([]*Flag, 0, limit)

	for rows.Next() {
		var f Flag
		if err := scanFlag(rows, &f); err != nil {
			return nil, 0, fmt.Errorf("failed to scan flag row: %w", err)
		}
		flags = append(flags, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return flags, total, nil
}

// FindFlag returns the flag with the given key inside the environment, or
// (nil, nil) if it does not exist.
func (s *PostgresStore) FindFlag(ctx context.Context, key string, environmentID int64) (*Flag, error) {
	query := `
		SELECT ` + flagColumns + `
		FROM flags
		WHERE key = $1 AND environment_id = $2
	`

	var f Flag
	err := scanFlag(s.db.QueryRow(ctx, query, key, environmentID), &f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find flag %q: %w", key, err)
	}

	return &f, nil
}

// UpdateFlag applies the patch inside a single transaction. The row is locked
// with FOR UPDATE so the capture-old / apply-new sequence is atomic with
// respect to other writers of the same flag; readers are unaffected.
func (s *PostgresStore) UpdateFlag(ctx context.Context, environmentID int64, key string, patch FlagPatch) (*Flag, *Flag, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op once the transaction is committed.
	defer func() { _ = tx.Rollback(ctx) }()

	// 1. Capture old values under a row lock.
	selectQuery := `
		SELECT ` + flagColumns + `
		FROM flags
		WHERE key = $1 AND environment_id = $2
		FOR UPDATE
	`

	var old Flag
	if err := scanFlag(tx.QueryRow(ctx, selectQuery, key, environmentID), &old); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("flag %q: %w", key, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to lock flag %q: %w", key, err)
	}

	// 2. Apply the patch on top of the old state.
	updated := old
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Type != nil {
		updated.Type = *patch.Type
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}
	if patch.RolloutPercentage != nil {
		updated.RolloutPercentage = *patch.RolloutPercentage
	}

	// 3. Commit the new values.
	updateQuery := `
		UPDATE flags
		SET name = $1, description = $2, flag_type = $3, enabled = $4,
		    rollout_percentage = $5, updated_at = now()
		WHERE id = $6
		RETURNING updated_at
	`

	err = tx.QueryRow(ctx, updateQuery,
		updated.Name,
		updated.Description,
		updated.Type,
		updated.Enabled,
		updated.RolloutPercentage,
		old.ID,
	).Scan(&updated.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update flag %q: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit flag update: %w", err)
	}

	return &old, &updated, nil
}

// DeleteFlag removes the flag and returns the deleted row for audit recording.
func (s *PostgresStore) DeleteFlag(ctx context.Context, environmentID int64, key string) (*Flag, error) {
	query := `
		DELETE FROM flags
		WHERE key = $1 AND environment_id = $2
		RETURNING ` + flagColumns + `
	`

	var f Flag
	err := scanFlag(s.db.QueryRow(ctx, query, key, environmentID), &f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("flag %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to delete flag %q: %w", key, err)
	}

	return &f, nil
}
