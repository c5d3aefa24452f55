package tenants

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

var tracer = observability.Tracer("tenants")

// SystemActor is the actor recorded for changes pushed by the billing provider
const SystemActor = "system:billing"

// PlanCatalog maps plan tiers to their limits
type PlanCatalog interface {
	Limits(tier tenancy.PlanTier) (tenancy.Limits, bool)
}

// Config configures a Directory or Registry
type Config struct {
	// StoreTimeout bounds each store call or transaction
	StoreTimeout time.Duration
	Recorder     audit.Recorder
	// Cache is invalidated on every membership change when set
	Cache *MembershipCache
	// Plans provides limits for new tenants and tier changes without explicit limits
	Plans PlanCatalog
	// MaxSlugAttempts bounds the counter suffixes tried for a taken slug
	MaxSlugAttempts int
	Metrics         *observability.Metrics
	Logger          *observability.Logger
	Now             func() time.Time
}

const (
	defaultStoreTimeout    = 3 * time.Second
	defaultMaxSlugAttempts = 100
)

func (c Config) withDefaults() Config {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	if c.Recorder == nil {
		c.Recorder = audit.Discard
	}
	if c.MaxSlugAttempts <= 0 {
		c.MaxSlugAttempts = defaultMaxSlugAttempts
	}
	if c.Logger == nil {
		c.Logger = observability.GetLogger(context.Background())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// base holds what Directory and Registry share
type base struct {
	store Store
	cfg   Config
}

func (b *base) now() time.Time {
	return b.cfg.Now().UTC().Truncate(time.Microsecond)
}

// inTx runs fn in a store transaction bounded by the store timeout.
// Taxonomy errors pass through untouched; anything else is a storage failure.
func (b *base) inTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := b.store.InTx(ctx, fn)
	err = classify(op, err)
	b.cfg.Metrics.ObserveStorage(op, time.Since(start), tenancy.IsStorageTimeout(err))
	return err
}

// read runs a single store read bounded by the store timeout
func read[T any](ctx context.Context, b *base, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	v, err := fn(ctx)
	err = classify(op, err)
	b.cfg.Metrics.ObserveStorage(op, time.Since(start), tenancy.IsStorageTimeout(err))
	return v, err
}

func classify(op string, err error) error {
	if err == nil || tenancy.IsDomain(err) {
		return err
	}
	return tenancy.StorageError(op, err)
}

func (b *base) record(ctx context.Context, entry audit.Entry) {
	b.cfg.Recorder.Record(ctx, entry)
}

func (b *base) logDenied(ctx context.Context, op, tenantID, actor string, err error) {
	if !errors.Is(err, tenancy.ErrForbidden) {
		return
	}
	b.cfg.Logger.WithFields(map[string]interface{}{
		"operation": op,
		"tenant_id": tenantID,
		"actor":     actor,
		"reason":    tenancy.ForbiddenReason(err),
	}).Warn("tenant operation denied")
}

// authorizeTx locks the tenant and evaluates the actor's membership against
// the fresh rows of the current transaction
func authorizeTx(ctx context.Context, tx Tx, tenantID, actor string, required tenancy.Role, action policy.Action) (*tenancy.Tenant, *tenancy.Membership, error) {
	tenant, err := tx.LockTenant(ctx, tenantID)
	if errors.Is(err, tenancy.ErrNotFound) {
		return nil, nil, tenancy.Forbidden(tenancy.ReasonNoMembership)
	}
	if err != nil {
		return nil, nil, err
	}

	m, err := optionalMembership(tx.GetMembership(ctx, tenantID, actor))
	if err != nil {
		return nil, nil, err
	}

	if _, err := policy.Evaluate(tenant, m, policy.Request{
		UserID:       actor,
		TenantID:     tenantID,
		RequiredRole: required,
		Action:       action,
	}); err != nil {
		return nil, nil, err
	}
	return tenant, m, nil
}

func optionalMembership(m *tenancy.Membership, err error) (*tenancy.Membership, error) {
	if errors.Is(err, tenancy.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func activeOwners(members []*tenancy.Membership) int {
	n := 0
	for _, m := range members {
		if m.IsActive() && m.Role == tenancy.RoleOwner {
			n++
		}
	}
	return n
}
