package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema of tenants, memberships, subscription
// events and the audit trail
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT NOT NULL UNIQUE,
					status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended')),
					tier TEXT NOT NULL DEFAULT 'free',
					max_users INTEGER NOT NULL DEFAULT 0,
					max_projects INTEGER NOT NULL DEFAULT 0,
					settings JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					tenant_id TEXT NOT NULL REFERENCES tenants(id),
					user_id TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					status TEXT NOT NULL CHECK (status IN ('active', 'invited', 'removed')),
					invited_by TEXT,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					join_seq BIGSERIAL,
					PRIMARY KEY (tenant_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_one_default
					ON memberships(user_id) WHERE is_default;
			`,
		},
		{
			Version:     3,
			Description: "Create subscription_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_events (
					event_id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL REFERENCES tenants(id),
					applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     4,
			Description: "Create append-only audit_entries table",
			SQL: audit.PortableSchema + `
				CREATE OR REPLACE FUNCTION audit_entries_immutable() RETURNS trigger AS $$
				BEGIN
					RAISE EXCEPTION 'audit_entries is append-only';
				END;
				$$ LANGUAGE plpgsql;

				DROP TRIGGER IF EXISTS audit_entries_no_mutation ON audit_entries;
				CREATE TRIGGER audit_entries_no_mutation
					BEFORE UPDATE OR DELETE ON audit_entries
					FOR EACH ROW EXECUTE FUNCTION audit_entries_immutable();
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in
// schema_migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger, migrations []Migration) error {
	if logger == nil {
		logger = observability.GetLogger(ctx)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return fmt.Errorf("duplicate migration version %d", sorted[i].Version)
		}
	}

	for _, migration := range sorted {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("Migration completed")
	}

	return nil
}
