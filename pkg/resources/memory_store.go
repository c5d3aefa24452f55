package resources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]Record
	seq  int64
	// order keeps insertion order for stable listings
	order map[string]int64
	now   func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[string]map[string]Record),
		order: make(map[string]int64),
		now:   time.Now,
	}
}

func (s *MemoryStore) table(entityType string) (map[string]Record, error) {
	if _, err := Lookup(entityType); err != nil {
		return nil, err
	}
	t, ok := s.rows[entityType]
	if !ok {
		t = make(map[string]Record)
		s.rows[entityType] = t
	}
	return t, nil
}

// Find implements Store
func (s *MemoryStore) Find(ctx context.Context, entityType, tenantID string, filter Filter) ([]Record, error) {
	if tenantID == "" {
		return nil, unscoped()
	}
	if v, ok := filter[ColumnTenantID]; ok && v != tenantID {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entityType)
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, row := range t {
		if row.TenantID() != tenantID || !matches(row, filter) {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[entityType+"/"+out[i].ID()] < s.order[entityType+"/"+out[j].ID()]
	})
	return out, nil
}

func matches(row Record, filter Filter) bool {
	for k, v := range filter {
		if fmt.Sprint(row[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Insert implements Store
func (s *MemoryStore) Insert(ctx context.Context, entityType string, record Record) (Record, error) {
	if record.TenantID() == "" {
		return nil, unscoped()
	}
	if record.ID() == "" || record.CreatedBy() == "" {
		return nil, tenancy.Invalidf("%s requires id and created_by", entityType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entityType)
	if err != nil {
		return nil, err
	}
	if _, exists := t[record.ID()]; exists {
		return nil, tenancy.Invalidf("%s %s already exists", entityType, record.ID())
	}

	row := record.Clone()
	now := s.now().UTC()
	row[ColumnCreatedAt] = now
	row[ColumnUpdatedAt] = now
	t[row.ID()] = row
	s.seq++
	s.order[entityType+"/"+row.ID()] = s.seq
	return row.Clone(), nil
}

// Update implements Store
func (s *MemoryStore) Update(ctx context.Context, entityType, tenantID, id string, patch Record) (Record, error) {
	if tenantID == "" {
		return nil, unscoped()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entityType)
	if err != nil {
		return nil, err
	}
	row, ok := t[id]
	if !ok || row.TenantID() != tenantID {
		return nil, tenancy.NotFound(entityType, id)
	}
	if v, ok := patch[ColumnTenantID]; ok && v != tenantID {
		return nil, tenancy.Forbidden(tenancy.ReasonCrossTenant)
	}

	for k, v := range patch {
		row[k] = v
	}
	row[ColumnUpdatedAt] = s.now().UTC()
	return row.Clone(), nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, entityType, tenantID, id string) error {
	if tenantID == "" {
		return unscoped()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entityType)
	if err != nil {
		return err
	}
	row, ok := t[id]
	if !ok || row.TenantID() != tenantID {
		return tenancy.NotFound(entityType, id)
	}
	delete(t, id)
	delete(s.order, entityType+"/"+id)
	return nil
}

// Count implements Store
func (s *MemoryStore) Count(ctx context.Context, entityType, tenantID string) (int, error) {
	rows, err := s.Find(ctx, entityType, tenantID, nil)
	return len(rows), err
}

// Creator implements policy.ResourceMover
func (s *MemoryStore) Creator(ctx context.Context, entityType, id, tenantID string) (string, error) {
	rows, err := s.Find(ctx, entityType, tenantID, Filter{ColumnID: id})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", tenancy.NotFound(entityType, id)
	}
	return rows[0].CreatedBy(), nil
}

// MoveTenant implements policy.ResourceMover
func (s *MemoryStore) MoveTenant(ctx context.Context, entityType, id, fromTenant, toTenant, createdBy string) error {
	if fromTenant == "" || toTenant == "" {
		return unscoped()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entityType)
	if err != nil {
		return err
	}
	row, ok := t[id]
	if !ok || row.TenantID() != fromTenant {
		return tenancy.NotFound(entityType, id)
	}
	row[ColumnTenantID] = toTenant
	row[ColumnCreatedBy] = createdBy
	row[ColumnUpdatedAt] = s.now().UTC()
	return nil
}
