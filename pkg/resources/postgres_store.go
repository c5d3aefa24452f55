package resources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Session settings read by the row level security policies
const (
	settingCurrentTenant  = "app.current_tenant"
	settingReassignTarget = "app.reassign_target"
)

// PostgresStore is a Store backed by PostgreSQL. Every call runs in its own
// transaction with app.current_tenant set to the call's tenant.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on an open database
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// scoped runs fn in a transaction bound to tenantID
func (s *PostgresStore) scoped(ctx context.Context, tenantID string, fn func(tx *sqlx.Tx) error) error {
	if tenantID == "" {
		return unscoped()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setSession(ctx, tx, settingCurrentTenant, tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func setSession(ctx context.Context, tx *sqlx.Tx, name, value string) error {
	if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, true)`, name, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

// Find implements Store
func (s *PostgresStore) Find(ctx context.Context, entityType, tenantID string, filter Filter) ([]Record, error) {
	e, err := Lookup(entityType)
	if err != nil {
		return nil, err
	}
	if err := e.checkColumns(filter, e.filterable); err != nil {
		return nil, err
	}
	if v, ok := filter[ColumnTenantID]; ok && v != tenantID {
		return nil, nil
	}

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	for _, column := range sortedKeys(filter) {
		if column == ColumnTenantID {
			continue
		}
		args = append(args, filter[column])
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY created_at, id",
		e.Table, strings.Join(where, " AND "))

	var out []Record
	err = s.scoped(ctx, tenantID, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", e.Table, err)
		}
		defer rows.Close()

		records, err := scanRecords(rows)
		out = records
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Insert implements Store
func (s *PostgresStore) Insert(ctx context.Context, entityType string, record Record) (Record, error) {
	e, err := Lookup(entityType)
	if err != nil {
		return nil, err
	}
	tenantID := record.TenantID()
	if tenantID == "" {
		return nil, unscoped()
	}
	if record.ID() == "" || record.CreatedBy() == "" {
		return nil, tenancy.Invalidf("%s requires id and created_by", entityType)
	}

	fields := make(Record, len(record))
	for k, v := range record {
		if k != ColumnID && k != ColumnTenantID && k != ColumnCreatedBy {
			fields[k] = v
		}
	}
	if err := e.checkColumns(fields, e.writable); err != nil {
		return nil, err
	}

	columns := []string{ColumnID, ColumnTenantID, ColumnCreatedBy}
	args := []any{record.ID(), tenantID, record.CreatedBy()}
	for _, column := range sortedKeys(fields) {
		columns = append(columns, column)
		args = append(args, fields[column])
	}
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		e.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	var out Record
	err = s.scoped(ctx, tenantID, func(tx *sqlx.Tx) error {
		row, err := queryOne(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", e.Table, err)
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update implements Store
func (s *PostgresStore) Update(ctx context.Context, entityType, tenantID, id string, patch Record) (Record, error) {
	e, err := Lookup(entityType)
	if err != nil {
		return nil, err
	}

	fields := make(Record, len(patch))
	for k, v := range patch {
		if k == ColumnTenantID {
			if v != tenantID {
				return nil, tenancy.Forbidden(tenancy.ReasonCrossTenant)
			}
			continue
		}
		fields[k] = v
	}
	if err := e.checkColumns(fields, e.writable); err != nil {
		return nil, err
	}

	set := []string{"updated_at = NOW()"}
	var args []any
	for _, column := range sortedKeys(fields) {
		args = append(args, fields[column])
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	args = append(args, tenantID, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE tenant_id = $%d AND id = $%d RETURNING *",
		e.Table, strings.Join(set, ", "), len(args)-1, len(args))

	var out Record
	err = s.scoped(ctx, tenantID, func(tx *sqlx.Tx) error {
		row, err := queryOne(ctx, tx, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return tenancy.NotFound(entityType, id)
		}
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", e.Table, err)
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete implements Store
func (s *PostgresStore) Delete(ctx context.Context, entityType, tenantID, id string) error {
	e, err := Lookup(entityType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1 AND id = $2", e.Table)
	return s.scoped(ctx, tenantID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, tenantID, id)
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", e.Table, err)
		}
		return expectOne(res, entityType, id)
	})
}

// Count implements Store
func (s *PostgresStore) Count(ctx context.Context, entityType, tenantID string) (int, error) {
	e, err := Lookup(entityType)
	if err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id = $1", e.Table)
	err = s.scoped(ctx, tenantID, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &n, query, tenantID); err != nil {
			return fmt.Errorf("failed to count %s: %w", e.Table, err)
		}
		return nil
	})
	return n, err
}

// Creator implements policy.ResourceMover
func (s *PostgresStore) Creator(ctx context.Context, entityType, id, tenantID string) (string, error) {
	e, err := Lookup(entityType)
	if err != nil {
		return "", err
	}

	var createdBy string
	query := fmt.Sprintf("SELECT created_by FROM %s WHERE tenant_id = $1 AND id = $2", e.Table)
	err = s.scoped(ctx, tenantID, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &createdBy, query, tenantID, id)
		if err == sql.ErrNoRows {
			return tenancy.NotFound(entityType, id)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s creator: %w", e.Table, err)
		}
		return nil
	})
	return createdBy, err
}

// MoveTenant implements policy.ResourceMover. The row level security check
// accepts the new tenant_id only because app.reassign_target names it.
func (s *PostgresStore) MoveTenant(ctx context.Context, entityType, id, fromTenant, toTenant, createdBy string) error {
	e, err := Lookup(entityType)
	if err != nil {
		return err
	}
	if toTenant == "" {
		return unscoped()
	}

	query := fmt.Sprintf(
		"UPDATE %s SET tenant_id = $1, created_by = $2, updated_at = NOW() WHERE tenant_id = $3 AND id = $4",
		e.Table)
	return s.scoped(ctx, fromTenant, func(tx *sqlx.Tx) error {
		if err := setSession(ctx, tx, settingReassignTarget, toTenant); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, toTenant, createdBy, fromTenant, id)
		if err != nil {
			return fmt.Errorf("failed to move %s: %w", e.Table, err)
		}
		return expectOne(res, entityType, id)
	})
}

func queryOne(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (Record, error) {
	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, sql.ErrNoRows
	}
	return records[0], nil
}

func scanRecords(rows *sqlx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, Record(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

func expectOne(res sql.Result, entityType, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return tenancy.NotFound(entityType, id)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
