package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// SQLSink stores entries in the audit_entries table. It only ever inserts;
// placeholders use the $n form understood by both lib/pq and go-sqlite3.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink creates a sink over an open database
func NewSQLSink(db *sql.DB) (*SQLSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLSink{db: db}, nil
}

// PortableSchema creates audit_entries with column types accepted by both
// PostgreSQL and SQLite. Production PostgreSQL deployments use the versioned
// migrations instead, which add the immutability trigger.
const PortableSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	actor_user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_tenant ON audit_entries(tenant_id, occurred_at);
`

// EnsureSchema creates the portable audit table if it does not exist
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PortableSchema); err != nil {
		return fmt.Errorf("failed to ensure audit_entries table: %w", err)
	}
	return nil
}

// Write inserts an entry; a duplicate id is ignored
func (s *SQLSink) Write(ctx context.Context, entry Entry) error {
	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO audit_entries (
			id, tenant_id, actor_user_id, action, entity_type, entity_id, occurred_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.ActorUserID, entry.Action,
		entry.EntityType, entry.EntityID, entry.Timestamp.UTC(), metadata,
	)
	return tenancy.StorageError("insert audit entry", err)
}

// Search returns entries of one tenant, oldest first
func (s *SQLSink) Search(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	if err := filter.normalize(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, actor_user_id, action, entity_type, entity_id, occurred_at, metadata
		FROM audit_entries
		WHERE tenant_id = $1`
	args := []interface{}{filter.TenantID}
	argCount := 2

	if filter.ActorUserID != "" {
		query += fmt.Sprintf(" AND actor_user_id = $%d", argCount)
		args = append(args, filter.ActorUserID)
		argCount++
	}

	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, filter.EntityType)
		argCount++
	}

	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, filter.EntityID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = fmt.Sprintf("$%d", argCount)
			args = append(args, a)
			argCount++
		}
		query += " AND action IN (" + strings.Join(placeholders, ", ") + ")"
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, filter.StartTime.UTC())
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argCount)
		args = append(args, filter.EndTime.UTC())
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY occurred_at ASC, id ASC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tenancy.StorageError("search audit entries", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			ts       time.Time
			metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorUserID, &e.Action, &e.EntityType, &e.EntityID, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = ts.UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, tenancy.StorageError("iterate audit entries", err)
	}
	return entries, nil
}

// Count returns the number of entries stored for a tenant
func (s *SQLSink) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, tenancy.StorageError("count audit entries", err)
	}
	return n, nil
}
