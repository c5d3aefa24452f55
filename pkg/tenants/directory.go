package tenants

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Directory stores tenants and their subscription state
type Directory struct {
	base
}

// NewDirectory creates a tenant directory over store
func NewDirectory(store Store, cfg Config) *Directory {
	return &Directory{base{store: store, cfg: cfg.withDefaults()}}
}

// CreateTenant creates a tenant and its owner membership in one transaction.
// The slug is derived from name; taken slugs get a counter suffix until
// MaxSlugAttempts is exhausted, which fails with tenancy.ErrDuplicateSlug.
// The membership becomes the owner's default when they have none.
func (d *Directory) CreateTenant(ctx context.Context, name, ownerUserID string) (tenant *tenancy.Tenant, err error) {
	ctx, span := tracer.Start(ctx, "tenants.CreateTenant")
	defer func() {
		observability.EndSpan(span, err)
		d.cfg.Metrics.ObserveTenantMutation("create", err)
	}()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, tenancy.Invalidf("tenant name is required")
	}
	if ownerUserID == "" {
		return nil, tenancy.Invalidf("owner user id is required")
	}

	now := d.now()
	tenant = &tenancy.Tenant{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    tenancy.TenantStatusActive,
		Tier:      tenancy.PlanFree,
		Limits:    d.limitsFor(tenancy.PlanFree),
		Settings:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := &tenancy.Membership{
		TenantID:  tenant.ID,
		UserID:    ownerUserID,
		Role:      tenancy.RoleOwner,
		Status:    tenancy.MembershipActive,
		JoinedAt:  now,
		UpdatedAt: now,
	}

	err = d.inTx(ctx, "create tenant", func(tx Tx) error {
		slug, err := d.freeSlug(ctx, tx, tenancy.Slugify(name))
		if err != nil {
			return err
		}
		tenant.Slug = slug

		if err := tx.InsertTenant(ctx, tenant); err != nil {
			return err
		}

		if err := tx.LockUser(ctx, ownerUserID); err != nil {
			return err
		}
		existing, err := tx.ListMembershipsByUser(ctx, ownerUserID)
		if err != nil {
			return err
		}
		owner.IsDefault = !hasDefault(existing)

		return tx.SaveMembership(ctx, owner)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("tenant_id", tenant.ID))
	d.cfg.Cache.Invalidate(ctx, ownerUserID)
	d.record(ctx, audit.Entry{
		TenantID:    tenant.ID,
		ActorUserID: ownerUserID,
		Action:      audit.ActionTenantCreate,
		EntityType:  "tenant",
		EntityID:    tenant.ID,
		Metadata:    map[string]any{"name": tenant.Name, "slug": tenant.Slug},
	})
	d.cfg.Logger.WithFields(map[string]interface{}{
		"tenant_id": tenant.ID,
		"slug":      tenant.Slug,
		"owner":     ownerUserID,
	}).Info("Tenant created")

	return tenant, nil
}

func (d *Directory) freeSlug(ctx context.Context, tx Tx, base string) (string, error) {
	for n := 1; n <= d.cfg.MaxSlugAttempts; n++ {
		candidate := tenancy.SlugCandidate(base, n)
		taken, err := tx.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s and %d suffixed variants are taken", tenancy.ErrDuplicateSlug, base, d.cfg.MaxSlugAttempts)
}

func (d *Directory) limitsFor(tier tenancy.PlanTier) tenancy.Limits {
	if d.cfg.Plans != nil {
		if limits, ok := d.cfg.Plans.Limits(tier); ok {
			return limits
		}
	}
	return tenancy.DefaultLimits()
}

// GetTenant returns a tenant by id
func (d *Directory) GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	return read(ctx, &d.base, "get tenant", func(ctx context.Context) (*tenancy.Tenant, error) {
		return d.store.GetTenant(ctx, tenantID)
	})
}

// GetTenantBySlug returns a tenant by slug
func (d *Directory) GetTenantBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	return read(ctx, &d.base, "get tenant by slug", func(ctx context.Context) (*tenancy.Tenant, error) {
		return d.store.GetTenantBySlug(ctx, slug)
	})
}

// UpdateTenantSettings merges patch into the tenant settings. A nil value
// removes the key. actingUser must be an active owner or admin.
func (d *Directory) UpdateTenantSettings(ctx context.Context, tenantID string, patch map[string]any, actingUser string) (tenant *tenancy.Tenant, err error) {
	ctx, span := tracer.Start(ctx, "tenants.UpdateTenantSettings")
	defer func() {
		observability.EndSpan(span, err)
		d.cfg.Metrics.ObserveTenantMutation("update_settings", err)
	}()

	if len(patch) == 0 {
		return nil, tenancy.Invalidf("settings patch is empty")
	}

	err = d.inTx(ctx, "update tenant settings", func(tx Tx) error {
		t, _, err := authorizeTx(ctx, tx, tenantID, actingUser, tenancy.RoleAdmin, policy.ActionUpdate)
		if err != nil {
			return err
		}

		if t.Settings == nil {
			t.Settings = map[string]any{}
		}
		for k, v := range tenancy.CloneMap(patch) {
			if v == nil {
				delete(t.Settings, k)
				continue
			}
			t.Settings[k] = v
		}
		t.UpdatedAt = d.now()

		if err := tx.UpdateTenant(ctx, t); err != nil {
			return err
		}
		tenant = t
		return nil
	})
	if err != nil {
		d.logDenied(ctx, "update_settings", tenantID, actingUser, err)
		return nil, err
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d.record(ctx, audit.Entry{
		TenantID:    tenantID,
		ActorUserID: actingUser,
		Action:      audit.ActionTenantSettingsUpdate,
		EntityType:  "tenant",
		EntityID:    tenantID,
		Metadata:    map[string]any{"keys": keys},
	})
	return tenant, nil
}

// SubscriptionUpdate is a tier change pushed by the billing provider
type SubscriptionUpdate struct {
	EventID  string
	TenantID string
	Tier     tenancy.PlanTier
	// Limits overrides the plan catalog limits of Tier when set
	Limits *tenancy.Limits
}

// UpdateSubscription applies a tier and limits change. It is the only write
// path for subscription data and applies each EventID at most once; a
// replayed event returns the current tenant and applied=false.
func (d *Directory) UpdateSubscription(ctx context.Context, update SubscriptionUpdate) (tenant *tenancy.Tenant, applied bool, err error) {
	ctx, span := tracer.Start(ctx, "tenants.UpdateSubscription")
	defer func() {
		observability.EndSpan(span, err)
		d.cfg.Metrics.ObserveTenantMutation("update_subscription", err)
	}()

	if update.EventID == "" || update.TenantID == "" {
		return nil, false, tenancy.Invalidf("event id and tenant id are required")
	}
	if update.Tier == "" {
		return nil, false, tenancy.Invalidf("plan tier is required")
	}

	var limits tenancy.Limits
	switch {
	case update.Limits != nil:
		limits = *update.Limits
	case d.cfg.Plans != nil:
		l, ok := d.cfg.Plans.Limits(update.Tier)
		if !ok {
			return nil, false, tenancy.Invalidf("unknown plan tier %q", update.Tier)
		}
		limits = l
	default:
		return nil, false, tenancy.Invalidf("limits are required for plan tier %q", update.Tier)
	}
	if limits.MaxUsers < 0 || limits.MaxProjects < 0 {
		return nil, false, tenancy.Invalidf("limits must not be negative")
	}

	var previous tenancy.PlanTier
	err = d.inTx(ctx, "update subscription", func(tx Tx) error {
		t, err := tx.LockTenant(ctx, update.TenantID)
		if err != nil {
			return err
		}
		tenant = t

		first, err := tx.RecordSubscriptionEvent(ctx, update.EventID, update.TenantID)
		if err != nil || !first {
			return err
		}

		previous = t.Tier
		t.Tier = update.Tier
		t.Limits = limits
		t.UpdatedAt = d.now()
		applied = true
		return tx.UpdateTenant(ctx, t)
	})
	if err != nil {
		return nil, false, err
	}

	if applied {
		d.record(ctx, audit.Entry{
			TenantID:    tenant.ID,
			ActorUserID: SystemActor,
			Action:      audit.ActionSubscriptionUpdate,
			EntityType:  "tenant",
			EntityID:    tenant.ID,
			Metadata: map[string]any{
				"event_id":      update.EventID,
				"previous_tier": string(previous),
				"tier":          string(tenant.Tier),
				"max_users":     tenant.Limits.MaxUsers,
				"max_projects":  tenant.Limits.MaxProjects,
			},
		})
	}
	return tenant, applied, nil
}

// SetTenantStatus suspends or reactivates a tenant in response to a
// subscription status event. Like UpdateSubscription it is idempotent on eventID.
func (d *Directory) SetTenantStatus(ctx context.Context, eventID, tenantID string, status tenancy.TenantStatus) (tenant *tenancy.Tenant, applied bool, err error) {
	ctx, span := tracer.Start(ctx, "tenants.SetTenantStatus")
	defer func() {
		observability.EndSpan(span, err)
		d.cfg.Metrics.ObserveTenantMutation("set_status", err)
	}()

	if eventID == "" || tenantID == "" {
		return nil, false, tenancy.Invalidf("event id and tenant id are required")
	}
	if status != tenancy.TenantStatusActive && status != tenancy.TenantStatusSuspended {
		return nil, false, tenancy.Invalidf("unknown tenant status %q", status)
	}

	err = d.inTx(ctx, "set tenant status", func(tx Tx) error {
		t, err := tx.LockTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		tenant = t

		first, err := tx.RecordSubscriptionEvent(ctx, eventID, tenantID)
		if err != nil || !first || t.Status == status {
			return err
		}

		t.Status = status
		t.UpdatedAt = d.now()
		applied = true
		return tx.UpdateTenant(ctx, t)
	})
	if err != nil {
		return nil, false, err
	}

	if applied {
		action := audit.ActionTenantReactivate
		if status == tenancy.TenantStatusSuspended {
			action = audit.ActionTenantSuspend
		}
		d.record(ctx, audit.Entry{
			TenantID:    tenantID,
			ActorUserID: SystemActor,
			Action:      action,
			EntityType:  "tenant",
			EntityID:    tenantID,
			Metadata:    map[string]any{"event_id": eventID},
		})
		d.cfg.Logger.WithFields(map[string]interface{}{
			"tenant_id": tenantID,
			"status":    string(status),
		}).Info("Tenant status changed")
	}
	return tenant, applied, nil
}

// SuspendTenant soft-disables a tenant
func (d *Directory) SuspendTenant(ctx context.Context, eventID, tenantID string) (*tenancy.Tenant, error) {
	t, _, err := d.SetTenantStatus(ctx, eventID, tenantID, tenancy.TenantStatusSuspended)
	return t, err
}

// ReactivateTenant re-enables a suspended tenant
func (d *Directory) ReactivateTenant(ctx context.Context, eventID, tenantID string) (*tenancy.Tenant, error) {
	t, _, err := d.SetTenantStatus(ctx, eventID, tenantID, tenancy.TenantStatusActive)
	return t, err
}

func hasDefault(memberships []*tenancy.Membership) bool {
	for _, m := range memberships {
		if m.IsDefault {
			return true
		}
	}
	return false
}
