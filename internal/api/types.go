package api

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/beaconlabs/beacon/internal/store"
)

// keyRegex ensures keys are URL-safe slugs (lowercase, numbers, hyphens).
// We compile it once at package initialization for performance.
var keyRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// Environment is the API representation of a deployment context.
type Environment struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Flag is the API representation of a feature flag, always scoped to the
// environment it lives in.
type Flag struct {
	ID                int64          `json:"id"`
	Key               string         `json:"key"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Type              store.FlagType `json:"flag_type"`
	Enabled           bool           `json:"enabled"`
	RolloutPercentage int            `json:"rollout_percentage"`
	EnvironmentKey    string         `json:"environment_key"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// AuditEntry is the API representation of one administrative mutation.
type AuditEntry struct {
	ID             int64           `json:"id"`
	EntityType     string          `json:"entity_type"`
	EntityKey      string          `json:"entity_key"`
	EnvironmentKey string          `json:"environment_key,omitempty"`
	Action         string          `json:"action"`
	Changes        json.RawMessage `json:"changes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Reusable Validation Logic
// -----------------------------------------------------------------------------

// validateKey enforces the format and length rules for natural keys.
// Both environments and flags share the same slug format.
func validateKey(field, key string) *ErrorResponse {
	if key == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " is required",
		}
	}
	if len(key) < 2 || len(key) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " must be between 2 and 255 characters",
		}
	}
	if !keyRegex.MatchString(key) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " must strictly contain only lowercase letters, numbers, and hyphens (slug format)",
		}
	}
	return nil
}

// validateName enforces rules for human-readable names.
func validateName(name string) *ErrorResponse {
	if name == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Name is required",
		}
	}
	if len(name) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Name must be less than 255 characters",
		}
	}
	return nil
}

// validateRollout enforces the rollout percentage bounds.
func validateRollout(pct int) *ErrorResponse {
	if pct < 0 || pct > 100 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: fmt.Sprintf("Rollout percentage must be between 0 and 100, got %d", pct),
		}
	}
	return nil
}

// CreateEnvironmentRequest defines the payload for creating an environment.
type CreateEnvironmentRequest struct {
	// Key is required and immutable. Matches '^[a-z0-9-]+$'.
	Key string `json:"key"`

	// Name is required.
	Name string `json:"name"`

	// Description is optional.
	Description string `json:"description,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *CreateEnvironmentRequest) Sanitize() {
	r.Key = strings.ToLower(strings.TrimSpace(r.Key))
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *CreateEnvironmentRequest) Validate() *ErrorResponse {
	if err := validateKey("Key", r.Key); err != nil {
		return err
	}
	return validateName(r.Name)
}

// CreateFlagRequest defines the payload for creating a new flag.
type CreateFlagRequest struct {
	// EnvironmentKey scopes the flag. Required.
	EnvironmentKey string `json:"environment_key"`

	// Key is required and immutable. Matches '^[a-z0-9-]+$'.
	Key string `json:"key"`

	// Name is required.
	Name string `json:"name"`

	// Description is optional.
	Description string `json:"description,omitempty"`

	// Type is "boolean" or "percentage".
	Type store.FlagType `json:"flag_type"`

	// Enabled defaults to false if omitted (Secure by Default).
	Enabled bool `json:"enabled"`

	// RolloutPercentage only applies to percentage flags. Defaults to 0.
	RolloutPercentage int `json:"rollout_percentage"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *CreateFlagRequest) Sanitize() {
	r.EnvironmentKey = strings.ToLower(strings.TrimSpace(r.EnvironmentKey))
	r.Key = strings.ToLower(strings.TrimSpace(r.Key))
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Type = store.FlagType(strings.ToLower(strings.TrimSpace(string(r.Type))))
}

// Validate checks if the request data adheres to business rules.
func (r *CreateFlagRequest) Validate() *ErrorResponse {
	if err := validateKey("Environment key", r.EnvironmentKey); err != nil {
		return err
	}
	if err := validateKey("Key", r.Key); err != nil {
		return err
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	if !r.Type.Valid() {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: fmt.Sprintf("Flag type must be %q or %q", store.FlagTypeBoolean, store.FlagTypePercentage),
		}
	}
	return validateRollout(r.RolloutPercentage)
}

// UpdateFlagRequest defines the payload for partial updates (PATCH).
// Pointers are used to distinguish between "missing field" (do nothing)
// and "false value" (explicit update to false).
type UpdateFlagRequest struct {
	Name              *string         `json:"name,omitempty"`
	Description       *string         `json:"description,omitempty"`
	Type              *store.FlagType `json:"flag_type,omitempty"`
	Enabled           *bool           `json:"enabled,omitempty"`
	RolloutPercentage *int            `json:"rollout_percentage,omitempty"`
}

// Validate checks if the provided fields adhere to business rules.
func (r *UpdateFlagRequest) Validate() *ErrorResponse {
	if r.Name != nil {
		if err := validateName(*r.Name); err != nil {
			return err
		}
	}
	if r.Type != nil && !r.Type.Valid() {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: fmt.Sprintf("Flag type must be %q or %q", store.FlagTypeBoolean, store.FlagTypePercentage),
		}
	}
	if r.RolloutPercentage != nil {
		if err := validateRollout(*r.RolloutPercentage); err != nil {
			return err
		}
	}
	if r.Name == nil && r.Description == nil && r.Type == nil && r.Enabled == nil && r.RolloutPercentage == nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "At least one field must be provided",
		}
	}
	return nil
}

// Patch converts the request to the store's partial-update representation.
func (r *UpdateFlagRequest) Patch() store.FlagPatch {
	return store.FlagPatch{
		Name:              r.Name,
		Description:       r.Description,
		Type:              r.Type,
		Enabled:           r.Enabled,
		RolloutPercentage: r.RolloutPercentage,
	}
}

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	// Data holds the list of resources (e.g., []Flag).
	Data interface{} `json:"data"`

	// Pagination contains pagination metadata.
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// -----------------------------------------------------------------------------
// Domain -> DTO mapping
// -----------------------------------------------------------------------------

func mapEnvironment(e *store.Environment) Environment {
	return Environment{
		ID:          e.ID,
		Key:         e.Key,
		Name:        e.Name,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

func mapFlag(f *store.Flag, environmentKey string) Flag {
	return Flag{
		ID:                f.ID,
		Key:               f.Key,
		Name:              f.Name,
		Description:       f.Description,
		Type:              f.Type,
		Enabled:           f.Enabled,
		RolloutPercentage: f.RolloutPercentage,
		EnvironmentKey:    environmentKey,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
}

func mapAuditEntry(e *store.AuditEntry) AuditEntry {
	return AuditEntry{
		ID:             e.ID,
		EntityType:     e.EntityType,
		EntityKey:      e.EntityKey,
		EnvironmentKey: e.EnvironmentKey,
		Action:         string(e.Action),
		Changes:        e.Changes,
		CreatedAt:      e.CreatedAt,
	}
}
