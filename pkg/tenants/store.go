package tenants

import (
	"context"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Reader reads tenants and memberships.
// Absent rows are reported with errors matching tenancy.ErrNotFound.
type Reader interface {
	GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error)
	GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error)
	// ListMembershipsByUser returns the user's memberships in any status ordered by join time
	ListMembershipsByUser(ctx context.Context, userID string) ([]*tenancy.Membership, error)
	// ListMembershipsByTenant returns the tenant's memberships in any status ordered by join time
	ListMembershipsByTenant(ctx context.Context, tenantID string) ([]*tenancy.Membership, error)
}

// Tx is a store transaction
type Tx interface {
	Reader

	// LockTenant returns the tenant and holds an exclusive lock on it until
	// the transaction ends. Membership mutations of a tenant lock it first.
	LockTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
	// LockUser holds an exclusive lock on the user's memberships until the
	// transaction ends, including for a user who has none yet
	LockUser(ctx context.Context, userID string) error

	SlugExists(ctx context.Context, slug string) (bool, error)
	// InsertTenant fails with tenancy.ErrDuplicateSlug if the slug is taken
	InsertTenant(ctx context.Context, tenant *tenancy.Tenant) error
	UpdateTenant(ctx context.Context, tenant *tenancy.Tenant) error

	// SaveMembership inserts or replaces the (tenant, user) membership
	SaveMembership(ctx context.Context, m *tenancy.Membership) error
	// ClearDefault unsets is_default on every membership of the user
	ClearDefault(ctx context.Context, userID string) error

	// RecordSubscriptionEvent marks a provider event as applied.
	// It returns false when the event was applied before.
	RecordSubscriptionEvent(ctx context.Context, eventID, tenantID string) (bool, error)
}

// Store is the durable backend of the directory and registry
type Store interface {
	Reader
	// InTx runs fn in a transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
