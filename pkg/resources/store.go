package resources

import (
	"context"

	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Store is the storage layer contract. tenantID is mandatory on every call
// and a call without it fails with tenancy.ErrForbidden. Rows of other
// tenants behave as if they did not exist.
type Store interface {
	// Find returns the rows of tenantID matching filter, oldest first
	Find(ctx context.Context, entityType, tenantID string, filter Filter) ([]Record, error)
	// Insert stores record, which must carry tenant_id, id and created_by
	Insert(ctx context.Context, entityType string, record Record) (Record, error)
	// Update applies patch to the row and returns the updated row
	Update(ctx context.Context, entityType, tenantID, id string, patch Record) (Record, error)
	Delete(ctx context.Context, entityType, tenantID, id string) error
	Count(ctx context.Context, entityType, tenantID string) (int, error)

	policy.ResourceMover
}

func unscoped() error {
	return tenancy.Forbidden(tenancy.ReasonUnscoped)
}
