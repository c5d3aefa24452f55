//go:build integration

package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tenantguard_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, RunMigrations(ctx, db, logger, Migrations()))
	return db
}

func TestPostgresStoreIntegration(t *testing.T) {
	db := setupPostgres(t)
	store := NewPostgresStore(db)
	cfg := Config{Logger: observability.NewLogger(observability.ErrorLevel, io.Discard)}
	directory := NewDirectory(store, cfg)
	registry := NewRegistry(store, cfg)
	ctx := context.Background()

	acme, err := directory.CreateTenant(ctx, "Acme", "U1")
	require.NoError(t, err)
	again, err := directory.CreateTenant(ctx, "Acme", "U2")
	require.NoError(t, err)
	assert.Equal(t, "acme-2", again.Slug)

	got, err := directory.GetTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, acme.Slug, got.Slug)

	t.Run("concurrent default switches leave one default", func(t *testing.T) {
		var ids []string
		for i := 0; i < 5; i++ {
			tenant, err := directory.CreateTenant(ctx, fmt.Sprintf("Default %d", i), "U3")
			require.NoError(t, err)
			ids = append(ids, tenant.ID)
		}

		var wg sync.WaitGroup
		for round := 0; round < 4; round++ {
			for _, id := range ids {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					assert.NoError(t, registry.SetDefaultTenant(ctx, "U3", id))
				}(id)
			}
		}
		wg.Wait()

		var defaults int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM memberships WHERE user_id = 'U3' AND is_default`).Scan(&defaults))
		assert.Equal(t, 1, defaults)
	})

	t.Run("concurrent first tenants of a new user", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 6)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = directory.CreateTenant(ctx, fmt.Sprintf("First %d", i), "U5")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		var total, defaults int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*), COUNT(*) FILTER (WHERE is_default) FROM memberships WHERE user_id = 'U5'`).
			Scan(&total, &defaults))
		assert.Equal(t, len(errs), total)
		assert.Equal(t, 1, defaults)
	})

	t.Run("concurrent owner removals keep an owner", func(t *testing.T) {
		_, err := registry.AddMember(ctx, acme.ID, "U4", tenancy.RoleOwner, "U1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, user := range []string{"U1", "U4"} {
			wg.Add(1)
			go func(i int, user string) {
				defer wg.Done()
				errs[i] = registry.RemoveMember(ctx, acme.ID, user, user)
			}(i, user)
		}
		wg.Wait()

		members, err := store.ListMembershipsByTenant(ctx, acme.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, activeOwners(members))
	})

	t.Run("audit entries are append-only", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO audit_entries (id, tenant_id, actor_user_id, action, entity_type, entity_id, occurred_at)
			VALUES ('a1', $1, 'U1', 'tenant.create', 'tenant', $1, NOW())`, acme.ID)
		require.NoError(t, err)

		_, err = db.Exec(`UPDATE audit_entries SET action = 'x' WHERE id = 'a1'`)
		assert.ErrorContains(t, err, "append-only")
		_, err = db.Exec(`DELETE FROM audit_entries WHERE id = 'a1'`)
		assert.ErrorContains(t, err, "append-only")
	})
}
