package resources

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func expectScope(mock sqlmock.Sqlmock, tenantID string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config($1, $2, true)")).
		WithArgs("app.current_tenant", tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

var taskCols = []string{"id", "tenant_id", "created_by", "title", "status", "created_at", "updated_at"}

func TestPostgresFindScopesQuery(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	expectScope(mock, "T1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM tasks WHERE tenant_id = $1 AND status = $2 ORDER BY created_at, id")).
		WithArgs("T1", "open").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("k1", "T1", "U1", []byte("Call"), "open", now, now))
	mock.ExpectCommit()

	rows, err := store.Find(context.Background(), Task, "T1", Filter{"status": "open"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Call", rows[0]["title"])
	assert.Equal(t, "T1", rows[0].TenantID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindRejectsUnknownColumn(t *testing.T) {
	store, mock := setupMockStore(t)

	_, err := store.Find(context.Background(), Task, "T1", Filter{"title; DROP TABLE tasks": "x"})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)
	_, err = store.Find(context.Background(), Task, "T1", Filter{"secret": "x"})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindOtherTenantFilter(t *testing.T) {
	store, mock := setupMockStore(t)

	rows, err := store.Find(context.Background(), Task, "T1", Filter{"tenant_id": "T2"})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUnscopedCallsNeverReachDatabase(t *testing.T) {
	store, mock := setupMockStore(t)
	ctx := context.Background()

	_, err := store.Find(ctx, Task, "", nil)
	assert.ErrorIs(t, err, tenancy.ErrForbidden)
	_, err = store.Count(ctx, Task, "")
	assert.ErrorIs(t, err, tenancy.ErrForbidden)
	_, err = store.Insert(ctx, Task, Record{"id": "k1", "created_by": "U1", "title": "x"})
	assert.ErrorIs(t, err, tenancy.ErrForbidden)
	assert.ErrorIs(t, store.Delete(ctx, Task, "", "k1"), tenancy.ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsert(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	expectScope(mock, "T1")
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks (id, tenant_id, created_by, status, title) VALUES ($1, $2, $3, $4, $5) RETURNING *")).
		WithArgs("k1", "T1", "U1", "open", "Call").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("k1", "T1", "U1", "Call", "open", now, now))
	mock.ExpectCommit()

	row, err := store.Insert(context.Background(), Task, Record{
		"id": "k1", "tenant_id": "T1", "created_by": "U1", "title": "Call", "status": "open",
	})
	require.NoError(t, err)
	assert.Equal(t, "k1", row.ID())
	assert.Equal(t, now, row[ColumnCreatedAt])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdate(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	expectScope(mock, "T1")
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE tasks SET updated_at = NOW(), status = $1 WHERE tenant_id = $2 AND id = $3 RETURNING *")).
		WithArgs("done", "T1", "k1").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("k1", "T1", "U1", "Call", "done", now, now))
	mock.ExpectCommit()

	row, err := store.Update(context.Background(), Task, "T1", "k1", Record{"status": "done", "tenant_id": "T1"})
	require.NoError(t, err)
	assert.Equal(t, "done", row["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMissingRow(t *testing.T) {
	store, mock := setupMockStore(t)

	expectScope(mock, "T1")
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE tasks SET")).
		WithArgs("done", "T1", "k9").
		WillReturnRows(sqlmock.NewRows(taskCols))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), Task, "T1", "k9", Record{"status": "done"})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTenantChange(t *testing.T) {
	store, mock := setupMockStore(t)

	_, err := store.Update(context.Background(), Task, "T1", "k1", Record{"tenant_id": "T2"})
	assert.ErrorIs(t, err, tenancy.ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDelete(t *testing.T) {
	store, mock := setupMockStore(t)

	expectScope(mock, "T1")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM vendors WHERE tenant_id = $1 AND id = $2")).
		WithArgs("T1", "v1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, store.Delete(context.Background(), Vendor, "T1", "v1"))

	expectScope(mock, "T1")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM vendors WHERE tenant_id = $1 AND id = $2")).
		WithArgs("T1", "v2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	assert.ErrorIs(t, store.Delete(context.Background(), Vendor, "T1", "v2"), tenancy.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCount(t *testing.T) {
	store, mock := setupMockStore(t)

	expectScope(mock, "T1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM projects WHERE tenant_id = $1")).
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectCommit()

	n, err := store.Count(context.Background(), Project, "T1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreatorNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	expectScope(mock, "T2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT created_by FROM projects WHERE tenant_id = $1 AND id = $2")).
		WithArgs("T2", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"created_by"}))
	mock.ExpectRollback()

	_, err := store.Creator(context.Background(), Project, "p1", "T2")
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMoveTenantSetsReassignTarget(t *testing.T) {
	store, mock := setupMockStore(t)

	expectScope(mock, "T1")
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config($1, $2, true)")).
		WithArgs("app.reassign_target", "T2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE projects SET tenant_id = $1, created_by = $2, updated_at = NOW() WHERE tenant_id = $3 AND id = $4")).
		WithArgs("T2", "U2", "T1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.MoveTenant(context.Background(), Project, "p1", "T1", "T2", "U2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScopeFailureRollsBack(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config($1, $2, true)")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Count(context.Background(), Project, "T1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set app.current_tenant")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsEnableRowLevelSecurity(t *testing.T) {
	migrations := Migrations()
	require.Len(t, migrations, len(Tables()))

	for i, m := range migrations {
		assert.Equal(t, 100+i, m.Version)
		assert.Contains(t, m.SQL, "tenant_id TEXT NOT NULL REFERENCES tenants(id)")
		assert.Contains(t, m.SQL, "ENABLE ROW LEVEL SECURITY")
		assert.Contains(t, m.SQL, "FORCE ROW LEVEL SECURITY")
		assert.Contains(t, m.SQL, "current_setting('app.current_tenant', true)")
	}
}
