package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CreateEnvironment inserts a new environment.
// It uses the RETURNING clause to get the server-generated ID and timestamp.
func (s *PostgresStore) CreateEnvironment(ctx context.Context, e *Environment) error {
	query := `
		INSERT INTO environments (key, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := s.db.QueryRow(ctx, query, e.Key, e.Name, e.Description).
		Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("environment %q: %w", e.Key, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert environment: %w", err)
	}

	return nil
}

// ListEnvironments returns every environment, ordered by key for stable output.
func (s *PostgresStore) ListEnvironments(ctx context.Context) ([]*Environment, error) {
	query := `
		SELECT id, key, name, description, created_at
		FROM environments
		ORDER BY key
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var envs []*Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.Key, &e.Name, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan environment row: %w", err)
		}
		envs = append(envs, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return envs, nil
}

// FindEnvironmentByKey returns the environment with the given key, or
// (nil, nil) if no such environment exists. Absence is not an error: the
// evaluation path turns it into a normal "not found" result.
func (s *PostgresStore) FindEnvironmentByKey(ctx context.Context, key string) (*Environment, error) {
	query := `
		SELECT id, key, name, description, created_at
		FROM environments
		WHERE key = $1
	`

	var e Environment
	err := s.db.QueryRow(ctx, query, key).
		Scan(&e.ID, &e.Key, &e.Name, &e.Description, &e.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find environment %q: %w", key, err)
	}

	return &e, nil
}

// DeleteEnvironment removes the environment row. The flags FK is declared
// ON DELETE CASCADE, so the environment's flags disappear in the same
// transaction. The deleted row is returned for audit recording.
func (s *PostgresStore) DeleteEnvironment(ctx context.Context, key string) (*Environment, error) {
	query := `
		DELETE FROM environments
		WHERE key = $1
		RETURNING id, key, name, description, created_at
	`

	var e Environment
	err := s.db.QueryRow(ctx, query, key).
		Scan(&e.ID, &e.Key, &e.Name, &e.Description, &e.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("environment %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to delete environment %q: %w", key, err)
	}

	return &e, nil
}
