package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

const uniqueViolation = "23505"

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is a Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
	pgReader
}

// NewPostgresStore creates a store on db. The schema is created by Migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, pgReader: pgReader{q: db}}
}

// InTx implements Store
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{pgReader: pgReader{q: sqlTx}, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgReader struct {
	q querier
}

const tenantColumns = `id, name, slug, status, tier, max_users, max_projects, settings, created_at, updated_at`

const membershipColumns = `tenant_id, user_id, role, is_default, status, invited_by, joined_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*tenancy.Tenant, error) {
	var t tenancy.Tenant
	var settings []byte
	if err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &t.Status, &t.Tier,
		&t.Limits.MaxUsers, &t.Limits.MaxProjects, &settings,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return &t, nil
}

func scanMembership(row rowScanner) (*tenancy.Membership, error) {
	var m tenancy.Membership
	var invitedBy sql.NullString
	if err := row.Scan(
		&m.TenantID, &m.UserID, &m.Role, &m.IsDefault, &m.Status,
		&invitedBy, &m.JoinedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.InvitedBy = invitedBy.String
	return &m, nil
}

func (r pgReader) tenantWhere(ctx context.Context, where string, arg any, lock bool) (*tenancy.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	t, err := scanTenant(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.NotFound("tenant", fmt.Sprint(arg))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

func (r pgReader) GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	return r.tenantWhere(ctx, "id = $1", tenantID, false)
}

func (r pgReader) GetTenantBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	return r.tenantWhere(ctx, "slug = $1", slug, false)
}

func (r pgReader) GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE tenant_id = $1 AND user_id = $2`
	m, err := scanMembership(r.q.QueryRowContext(ctx, query, tenantID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenancy.NotFound("membership", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (r pgReader) listMemberships(ctx context.Context, column, value string) ([]*tenancy.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE ` + column + ` = $1 ORDER BY joined_at, join_seq`
	rows, err := r.q.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var out []*tenancy.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r pgReader) ListMembershipsByUser(ctx context.Context, userID string) ([]*tenancy.Membership, error) {
	return r.listMemberships(ctx, "user_id", userID)
}

func (r pgReader) ListMembershipsByTenant(ctx context.Context, tenantID string) ([]*tenancy.Membership, error) {
	return r.listMemberships(ctx, "tenant_id", tenantID)
}

type pgTx struct {
	pgReader
	tx *sql.Tx
}

func (t *pgTx) LockTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	return t.tenantWhere(ctx, "id = $1", tenantID, true)
}

// LockUser takes a transaction-scoped advisory lock keyed on the user id.
// It serializes first memberships too, where no row exists to lock yet.
func (t *pgTx) LockUser(ctx context.Context, userID string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "membership:"+userID); err != nil {
		return fmt.Errorf("failed to lock user memberships: %w", err)
	}
	return nil
}

func (t *pgTx) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tenants WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func marshalSettings(settings map[string]any) ([]byte, error) {
	if settings == nil {
		settings = map[string]any{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return data, nil
}

func (t *pgTx) InsertTenant(ctx context.Context, tenant *tenancy.Tenant) error {
	settings, err := marshalSettings(tenant.Settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tenants (id, name, slug, status, tier, max_users, max_projects, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = t.tx.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Slug, tenant.Status, tenant.Tier,
		tenant.Limits.MaxUsers, tenant.Limits.MaxProjects, settings,
		tenant.CreatedAt, tenant.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", tenancy.ErrDuplicateSlug, tenant.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateTenant(ctx context.Context, tenant *tenancy.Tenant) error {
	settings, err := marshalSettings(tenant.Settings)
	if err != nil {
		return err
	}

	query := `
		UPDATE tenants
		SET name = $2, slug = $3, status = $4, tier = $5, max_users = $6, max_projects = $7, settings = $8, updated_at = $9
		WHERE id = $1
	`
	result, err := t.tx.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Slug, tenant.Status, tenant.Tier,
		tenant.Limits.MaxUsers, tenant.Limits.MaxProjects, settings, tenant.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", tenancy.ErrDuplicateSlug, tenant.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return tenancy.NotFound("tenant", tenant.ID)
	}
	return nil
}

func (t *pgTx) SaveMembership(ctx context.Context, m *tenancy.Membership) error {
	query := `
		INSERT INTO memberships (tenant_id, user_id, role, is_default, status, invited_by, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, is_default = EXCLUDED.is_default, status = EXCLUDED.status,
		    invited_by = EXCLUDED.invited_by, joined_at = EXCLUDED.joined_at, updated_at = EXCLUDED.updated_at
	`
	var invitedBy sql.NullString
	if m.InvitedBy != "" {
		invitedBy = sql.NullString{String: m.InvitedBy, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, query,
		m.TenantID, m.UserID, m.Role, m.IsDefault, m.Status, invitedBy, m.JoinedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return tenancy.Invalidf("user %s already has a default tenant", m.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

func (t *pgTx) ClearDefault(ctx context.Context, userID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE memberships SET is_default = FALSE WHERE user_id = $1 AND is_default`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear default tenant: %w", err)
	}
	return nil
}

func (t *pgTx) RecordSubscriptionEvent(ctx context.Context, eventID, tenantID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO subscription_events (event_id, tenant_id) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to record subscription event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
