package tenants

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

var tenantCols = []string{"id", "name", "slug", "status", "tier", "max_users", "max_projects", "settings", "created_at", "updated_at"}

var membershipCols = []string{"tenant_id", "user_id", "role", "is_default", "status", "invited_by", "joined_at", "updated_at"}

func TestPostgresGetTenant(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants WHERE id = $1")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow("t1", "Acme", "acme", "active", "pro", 50, 100, []byte(`{"timezone":"UTC"}`), now, now))

	tenant, err := store.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.Slug)
	assert.Equal(t, tenancy.PlanPro, tenant.Tier)
	assert.Equal(t, tenancy.Limits{MaxUsers: 50, MaxProjects: 100}, tenant.Limits)
	assert.Equal(t, "UTC", tenant.Settings["timezone"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetTenantNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants WHERE slug = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetTenantBySlug(context.Background(), "nope")
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListMembershipsByUser(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM memberships WHERE user_id = $1 ORDER BY joined_at, join_seq")).
		WithArgs("U1").
		WillReturnRows(sqlmock.NewRows(membershipCols).
			AddRow("T1", "U1", "owner", true, "active", nil, now, now).
			AddRow("T2", "U1", "member", false, "invited", "U9", now, now))

	ms, err := store.ListMembershipsByUser(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.True(t, ms[0].IsDefault)
	assert.Empty(t, ms[0].InvitedBy)
	assert.Equal(t, "U9", ms[1].InvitedBy)
	assert.Equal(t, tenancy.MembershipInvited, ms[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertTenantDuplicateSlug(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenants")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tenants_slug_key"})
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertTenant(context.Background(), &tenancy.Tenant{ID: "t1", Name: "Acme", Slug: "acme", CreatedAt: now, UpdatedAt: now})
	})
	assert.ErrorIs(t, err, tenancy.ErrDuplicateSlug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLockAndSaveMembership(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants WHERE id = $1 FOR UPDATE")).
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow("T1", "Acme", "acme", "active", "free", 5, 10, []byte(`{}`), now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memberships")).
		WithArgs("T1", "U2", "member", false, "active", "U1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockTenant(ctx, "T1"); err != nil {
			return err
		}
		return tx.SaveMembership(ctx, &tenancy.Membership{
			TenantID: "T1", UserID: "U2", Role: tenancy.RoleMember, Status: tenancy.MembershipActive,
			InvitedBy: "U1", JoinedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetDefaultLocksUser(t *testing.T) {
	store, mock := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("membership:U1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE memberships SET is_default = FALSE WHERE user_id = $1")).
		WithArgs("U1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockUser(ctx, "U1"); err != nil {
			return err
		}
		return tx.ClearDefault(ctx, "U1")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordSubscriptionEvent(t *testing.T) {
	store, mock := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscription_events")).
		WithArgs("evt_1", "T1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO subscription_events")).
		WithArgs("evt_1", "T1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var first, second bool
	err := store.InTx(ctx, func(tx Tx) error {
		var err error
		if first, err = tx.RecordSubscriptionEvent(ctx, "evt_1", "T1"); err != nil {
			return err
		}
		second, err = tx.RecordSubscriptionEvent(ctx, "evt_1", "T1")
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInTxRollsBackOnError(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.InTx(context.Background(), func(tx Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTenantMissing(t *testing.T) {
	store, mock := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tenants")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.InTx(ctx, func(tx Tx) error {
		return tx.UpdateTenant(ctx, &tenancy.Tenant{ID: "gone", Slug: "gone"})
	})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
