// Package store provides the Data Access Layer (Repository) for Beacon.
// It handles all direct interactions with the PostgreSQL database using the
// pgx driver and owns the authoritative record of flag configuration.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beaconlabs/beacon/internal/validation"
)

// Sentinel errors returned by the repositories. Callers classify failures
// with errors.Is instead of matching on message text.
var (
	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
	ErrDuplicateKey = errors.New("store: key already exists")

	// ErrNotFound is returned by mutations whose target row does not exist.
	// Read paths signal absence with a nil result instead (see EvaluationReader).
	ErrNotFound = errors.New("store: not found")
)

// FlagType discriminates the two supported flag kinds. The set is closed:
// values are validated at the API boundary and by a CHECK constraint, so the
// evaluation path never sees anything else.
type FlagType string

const (
	// FlagTypeBoolean is a plain on/off toggle.
	FlagTypeBoolean FlagType = "boolean"

	// FlagTypePercentage is a gradual rollout gated by user bucketing.
	FlagTypePercentage FlagType = "percentage"
)

// Valid reports whether t is one of the two known variants.
func (t FlagType) Valid() bool {
	return t == FlagTypeBoolean || t == FlagTypePercentage
}

// Environment represents a deployment context (e.g., production, staging)
// that partitions flag configurations. Mirrors the 'environments' table.
type Environment struct {
	ID          int64     `db:"id"`
	Key         string    `db:"key"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Flag represents the database schema for a feature flag.
// It mirrors the 'flags' table structure; (environment_id, key) is unique.
type Flag struct {
	ID                int64     `db:"id"`
	Key               string    `db:"key"`
	Name              string    `db:"name"`
	Description       string    `db:"description"`
	Type              FlagType  `db:"flag_type"`
	Enabled           bool      `db:"enabled"`
	RolloutPercentage int       `db:"rollout_percentage"`
	EnvironmentID     int64     `db:"environment_id"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// FlagPatch is a partial update for a flag. Nil fields are left unchanged,
// which lets the PATCH handler distinguish "missing field" from "explicit false".
type FlagPatch struct {
	Name              *string
	Description       *string
	Type              *FlagType
	Enabled           *bool
	RolloutPercentage *int
}

// AuditAction enumerates the recorded mutation kinds.
type AuditAction string

const (
	AuditActionCreated AuditAction = "created"
	AuditActionUpdated AuditAction = "updated"
	AuditActionDeleted AuditAction = "deleted"
)

// AuditEntry records one administrative mutation. Changes holds a JSON object
// of {field: {"old": ..., "new": ...}} for updates, and is empty otherwise.
type AuditEntry struct {
	ID             int64           `db:"id"`
	EntityType     string          `db:"entity_type"`
	EntityKey      string          `db:"entity_key"`
	EnvironmentKey string          `db:"environment_key"`
	Action         AuditAction     `db:"action"`
	Changes        json.RawMessage `db:"changes"`
	CreatedAt      time.Time       `db:"created_at"`
}

// EnvironmentRepository defines the persistence operations for environments.
type EnvironmentRepository interface {
	// CreateEnvironment inserts a new environment and populates ID and CreatedAt.
	CreateEnvironment(ctx context.Context, e *Environment) error

	// ListEnvironments returns all environments ordered by key.
	ListEnvironments(ctx context.Context) ([]*Environment, error)

	// FindEnvironmentByKey returns the environment with the given key,
	// or (nil, nil) if it does not exist.
	FindEnvironmentByKey(ctx context.Context, key string) (*Environment, error)

	// DeleteEnvironment removes the environment and, via FK cascade, its flags.
	// Returns the deleted row, or ErrNotFound.
	DeleteEnvironment(ctx context.Context, key string) (*Environment, error)
}

// FlagRepository defines the persistence operations for flags.
type FlagRepository interface {
	// CreateFlag inserts a new flag and populates ID and timestamps.
	CreateFlag(ctx context.Context, f *Flag) error

	// ListFlags retrieves a paginated list of flags and the total count.
	// A nil environmentID lists across all environments.
	ListFlags(ctx context.Context, environmentID *int64, limit, offset int) ([]*Flag, int64, error)

	// FindFlag returns the flag with the given key inside the environment,
	// or (nil, nil) if it does not exist.
	FindFlag(ctx context.Context, key string, environmentID int64) (*Flag, error)

	// UpdateFlag applies the patch atomically: the old row is captured and the
	// new values committed in a single transaction, so concurrent writers of
	// the same flag are serialized by the row lock. Returns the previous and
	// updated states, or ErrNotFound.
	UpdateFlag(ctx context.Context, environmentID int64, key string, patch FlagPatch) (old, updated *Flag, err error)

	// DeleteFlag removes the flag and returns the deleted row, or ErrNotFound.
	DeleteFlag(ctx context.Context, environmentID int64, key string) (*Flag, error)
}

// EvaluationReader is the read-only view of the store consumed by the
// evaluation path. Absent entities are reported as (nil, nil), never as
// errors: a missing flag is a normal disabled result, not a failure.
type EvaluationReader interface {
	FindEnvironmentByKey(ctx context.Context, key string) (*Environment, error)
	FindFlag(ctx context.Context, key string, environmentID int64) (*Flag, error)
}

// AuditRepository defines the persistence operations for the audit trail.
type AuditRepository interface {
	// RecordAudit inserts a new audit entry and populates ID and CreatedAt.
	RecordAudit(ctx context.Context, e *AuditEntry) error

	// ListAudit retrieves a paginated audit trail, newest first, optionally
	// filtered by entity type and key.
	ListAudit(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditEntry, int64, error)
}

// AuditFilter narrows an audit listing. Empty fields match everything.
type AuditFilter struct {
	EntityType string
	EntityKey  string
}

// Compile-time checks that PostgresStore satisfies every repository contract.
// If an interface changes and the struct doesn't, the build fails here.
var (
	_ EnvironmentRepository = (*PostgresStore)(nil)
	_ FlagRepository        = (*PostgresStore)(nil)
	_ EvaluationReader      = (*PostgresStore)(nil)
	_ AuditRepository       = (*PostgresStore)(nil)
)

// PostgresStore is the implementation of the repositories backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "database pool")
	return &PostgresStore{db: db}
}
