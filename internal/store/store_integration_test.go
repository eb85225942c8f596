//go:build integration

// Package store_test contains integration tests for the Data Access Layer.
// We use the '_test' suffix to enforce black-box testing, ensuring we only
// access the exported API of the store package.
package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconlabs/beacon/internal/store"
	"github.com/beaconlabs/beacon/internal/testsupport"
)

// TestPostgresStore_Integration orchestrates the integration tests for the
// repository. It spins up a real PostgreSQL container once and runs
// scenarios against it sequentially, since they share container state.
func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	// Relative path from 'internal/store' to the 'migrations' folder in root.
	migrationsPath := "../../migrations"

	pgContainer, err := testsupport.StartPostgresContainer(ctx, migrationsPath)
	require.NoError(t, err, "failed to start postgres container")

	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	repo := store.NewPostgresStore(pgContainer.DB)

	var production *store.Environment

	t.Run("CreateEnvironment", func(t *testing.T) {
		production = &store.Environment{
			Key:         "production",
			Name:        "Production",
			Description: "Live traffic",
		}

		err := repo.CreateEnvironment(ctx, production)
		require.NoError(t, err)
		assert.NotZero(t, production.ID, "expected DB to assign an ID")
		assert.False(t, production.CreatedAt.IsZero(), "expected DB to assign CreatedAt")
	})

	t.Run("CreateEnvironment_DuplicateKey", func(t *testing.T) {
		err := repo.CreateEnvironment(ctx, &store.Environment{Key: "production", Name: "Copy"})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	t.Run("FindEnvironmentByKey", func(t *testing.T) {
		env, err := repo.FindEnvironmentByKey(ctx, "production")
		require.NoError(t, err)
		require.NotNil(t, env)
		assert.Equal(t, production.ID, env.ID)

		// Absence is (nil, nil), not an error.
		env, err = repo.FindEnvironmentByKey(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, env)
	})

	t.Run("CreateFlag", func(t *testing.T) {
		flag := &store.Flag{
			Key:               "new-checkout",
			Name:              "New Checkout",
			Description:       "Created via Testcontainers",
			Type:              store.FlagTypePercentage,
			Enabled:           true,
			RolloutPercentage: 25,
			EnvironmentID:     production.ID,
		}

		err := repo.CreateFlag(ctx, flag)
		require.NoError(t, err)
		assert.NotZero(t, flag.ID)
		assert.False(t, flag.CreatedAt.IsZero())
		assert.False(t, flag.UpdatedAt.IsZero())

		// Deep verification straight from the table.
		var persisted store.Flag
		query := `
			SELECT key, name, flag_type, enabled, rollout_percentage, environment_id
			FROM flags
			WHERE id = $1
		`
		err = pgContainer.DB.QueryRow(ctx, query, flag.ID).Scan(
			&persisted.Key, &persisted.Name, &persisted.Type,
			&persisted.Enabled, &persisted.RolloutPercentage, &persisted.EnvironmentID,
		)
		require.NoError(t, err)
		assert.Equal(t, "new-checkout", persisted.Key)
		assert.Equal(t, store.FlagTypePercentage, persisted.Type)
		assert.Equal(t, 25, persisted.RolloutPercentage)
		assert.Equal(t, production.ID, persisted.EnvironmentID)
	})

	t.Run("CreateFlag_DuplicateKeyInSameEnvironment", func(t *testing.T) {
		err := repo.CreateFlag(ctx, &store.Flag{
			Key:           "new-checkout",
			Name:          "Dup",
			Type:          store.FlagTypeBoolean,
			EnvironmentID: production.ID,
		})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	t.Run("CreateFlag_UnknownEnvironment", func(t *testing.T) {
		err := repo.CreateFlag(ctx, &store.Flag{
			Key:           "orphan",
			Name:          "Orphan",
			Type:          store.FlagTypeBoolean,
			EnvironmentID: 99999,
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SameKeyInOtherEnvironment", func(t *testing.T) {
		staging := &store.Environment{Key: "staging", Name: "Staging"}
		require.NoError(t, repo.CreateEnvironment(ctx, staging))

		err := repo.CreateFlag(ctx, &store.Flag{
			Key:           "new-checkout",
			Name:          "New Checkout",
			Type:          store.FlagTypeBoolean,
			EnvironmentID: staging.ID,
		})
		assert.NoError(t, err, "flag keys are only unique per environment")
	})

	t.Run("FindFlag", func(t *testing.T) {
		flag, err := repo.FindFlag(ctx, "new-checkout", production.ID)
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.Equal(t, 25, flag.RolloutPercentage)

		flag, err = repo.FindFlag(ctx, "ghost", production.ID)
		require.NoError(t, err)
		assert.Nil(t, flag)
	})

	t.Run("ListFlags_ScopedAndGlobal", func(t *testing.T) {
		flags, total, err := repo.ListFlags(ctx, &production.ID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, flags, 1)
		assert.Equal(t, "new-checkout", flags[0].Key)

		_, total, err = repo.ListFlags(ctx, nil, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total, "nil filter lists across environments")
	})

	t.Run("UpdateFlag_ReturnsOldAndNewState", func(t *testing.T) {
		enabled := false
		rollout := 80
		old, updated, err := repo.UpdateFlag(ctx, production.ID, "new-checkout", store.FlagPatch{
			Enabled:           &enabled,
			RolloutPercentage: &rollout,
		})
		require.NoError(t, err)

		assert.True(t, old.Enabled)
		assert.Equal(t, 25, old.RolloutPercentage)
		assert.False(t, updated.Enabled)
		assert.Equal(t, 80, updated.RolloutPercentage)
		// Untouched fields carry over.
		assert.Equal(t, old.Name, updated.Name)
		assert.True(t, updated.UpdatedAt.After(old.UpdatedAt) || updated.UpdatedAt.Equal(old.UpdatedAt))
	})

	t.Run("UpdateFlag_NotFound", func(t *testing.T) {
		enabled := true
		_, _, err := repo.UpdateFlag(ctx, production.ID, "ghost", store.FlagPatch{Enabled: &enabled})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("RecordAudit_AndList", func(t *testing.T) {
		changes, _ := json.Marshal(map[string]map[string]interface{}{
			"enabled": {"old": true, "new": false},
		})

		err := repo.RecordAudit(ctx, &store.AuditEntry{
			EntityType:     "flag",
			EntityKey:      "new-checkout",
			EnvironmentKey: "production",
			Action:         store.AuditActionUpdated,
			Changes:        changes,
		})
		require.NoError(t, err)

		err = repo.RecordAudit(ctx, &store.AuditEntry{
			EntityType: "environment",
			EntityKey:  "staging",
			Action:     store.AuditActionCreated,
		})
		require.NoError(t, err)

		entries, total, err := repo.ListAudit(ctx, store.AuditFilter{}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		// Newest first.
		assert.Equal(t, "staging", entries[0].EntityKey)

		entries, total, err = repo.ListAudit(ctx, store.AuditFilter{EntityType: "flag"}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.JSONEq(t, string(changes), string(entries[0].Changes))
	})

	t.Run("DeleteFlag", func(t *testing.T) {
		deleted, err := repo.DeleteFlag(ctx, production.ID, "new-checkout")
		require.NoError(t, err)
		assert.Equal(t, "new-checkout", deleted.Key)

		flag, err := repo.FindFlag(ctx, "new-checkout", production.ID)
		require.NoError(t, err)
		assert.Nil(t, flag)

		_, err = repo.DeleteFlag(ctx, production.ID, "new-checkout")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteEnvironment_CascadesToFlags", func(t *testing.T) {
		env, err := repo.FindEnvironmentByKey(ctx, "staging")
		require.NoError(t, err)
		require.NotNil(t, env)

		deleted, err := repo.DeleteEnvironment(ctx, "staging")
		require.NoError(t, err)
		assert.Equal(t, env.ID, deleted.ID)

		// The cascade removed the environment's flags.
		var count int
		err = pgContainer.DB.QueryRow(ctx,
			`SELECT COUNT(*) FROM flags WHERE environment_id = $1`, env.ID,
		).Scan(&count)
		require.NoError(t, err)
		assert.Zero(t, count)

		_, err = repo.DeleteEnvironment(ctx, "staging")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
