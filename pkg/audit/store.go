package audit

import (
	"context"
	"fmt"
	"io"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Store is the read-only query surface over persisted entries. It exposes no
// way to modify or delete an entry.
type Store struct {
	reader Reader
}

// NewStore creates a query store
func NewStore(reader Reader) *Store {
	return &Store{reader: reader}
}

// Search returns a page of entries for filter.TenantID
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	if filter.TenantID == "" {
		return nil, tenancy.Invalidf("audit search requires tenant_id")
	}
	return s.reader.Search(ctx, filter)
}

// All pages through every entry matching filter
func (s *Store) All(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	filter.Offset = 0
	filter.Limit = maxSearchLimit

	var all []Entry
	for {
		page, err := s.Search(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			return all, nil
		}
		filter.Offset += len(page)
	}
}

// Export writes every entry matching filter to w
func (s *Store) Export(ctx context.Context, w io.Writer, filter SearchFilter, format ExportFormat) (int, error) {
	entries, err := s.All(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to load audit entries: %w", err)
	}
	if err := Export(w, entries, format); err != nil {
		return 0, err
	}
	return len(entries), nil
}
