package tenants

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// Registry manages memberships of users in tenants
type Registry struct {
	base
}

// NewRegistry creates a membership registry over store
func NewRegistry(store Store, cfg Config) *Registry {
	return &Registry{base{store: store, cfg: cfg.withDefaults()}}
}

// AddMember adds userID to the tenant as an active member with role.
// invitedBy must be an active owner or admin, and only owners may add owners.
// Fails with a CapacityExceededError when active and invited members
// already fill the tenant's max_users limit.
func (r *Registry) AddMember(ctx context.Context, tenantID, userID string, role tenancy.Role, invitedBy string) (*tenancy.Membership, error) {
	return r.addMembership(ctx, "add", tenantID, userID, role, invitedBy, tenancy.MembershipActive)
}

// InviteMember creates a pending membership that the user activates with
// AcceptInvitation. Invitations take a seat.
func (r *Registry) InviteMember(ctx context.Context, tenantID, userID string, role tenancy.Role, invitedBy string) (*tenancy.Membership, error) {
	return r.addMembership(ctx, "invite", tenantID, userID, role, invitedBy, tenancy.MembershipInvited)
}

func (r *Registry) addMembership(ctx context.Context, op, tenantID, userID string, role tenancy.Role, invitedBy string, status tenancy.MembershipStatus) (m *tenancy.Membership, err error) {
	ctx, span := tracer.Start(ctx, "tenants."+op+"Member")
	defer func() {
		observability.EndSpan(span, err)
		r.cfg.Metrics.ObserveMembershipMutation(op, err)
	}()

	if tenantID == "" || userID == "" {
		return nil, tenancy.Invalidf("tenant id and user id are required")
	}
	if !role.Valid() {
		return nil, tenancy.Invalidf("unknown role %q", role)
	}

	err = r.inTx(ctx, op+" member", func(tx Tx) error {
		tenant, inviter, err := authorizeTx(ctx, tx, tenantID, invitedBy, tenancy.RoleAdmin, policy.ActionManage)
		if err != nil {
			return err
		}
		if role == tenancy.RoleOwner && inviter.Role != tenancy.RoleOwner {
			return tenancy.Forbidden(tenancy.ReasonInsufficientRole)
		}

		existing, err := optionalMembership(tx.GetMembership(ctx, tenantID, userID))
		if err != nil {
			return err
		}
		if existing != nil && existing.CountsTowardCapacity() {
			return tenancy.Invalidf("user %s is already a member of tenant %s", userID, tenantID)
		}

		members, err := tx.ListMembershipsByTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if err := checkCapacity(tenant, members); err != nil {
			return err
		}

		now := r.now()
		m = &tenancy.Membership{
			TenantID:  tenantID,
			UserID:    userID,
			Role:      role,
			Status:    status,
			InvitedBy: invitedBy,
			JoinedAt:  now,
			UpdatedAt: now,
		}
		return tx.SaveMembership(ctx, m)
	})
	if err != nil {
		r.logDenied(ctx, op+"_member", tenantID, invitedBy, err)
		return nil, err
	}

	action := audit.ActionMembershipAdd
	if status == tenancy.MembershipInvited {
		action = audit.ActionMembershipInvite
	}
	r.cfg.Cache.Invalidate(ctx, userID)
	r.record(ctx, audit.Entry{
		TenantID:    tenantID,
		ActorUserID: invitedBy,
		Action:      action,
		EntityType:  "membership",
		EntityID:    userID,
		Metadata:    map[string]any{"role": string(role)},
	})
	return m, nil
}

func checkCapacity(tenant *tenancy.Tenant, members []*tenancy.Membership) error {
	if tenant.Limits.MaxUsers <= 0 {
		return nil
	}
	seats := 0
	for _, m := range members {
		if m.CountsTowardCapacity() {
			seats++
		}
	}
	if seats >= tenant.Limits.MaxUsers {
		return &tenancy.CapacityExceededError{Resource: "users", Current: seats, Limit: tenant.Limits.MaxUsers}
	}
	return nil
}

// AcceptInvitation activates the user's pending membership
func (r *Registry) AcceptInvitation(ctx context.Context, tenantID, userID string) (m *tenancy.Membership, err error) {
	ctx, span := tracer.Start(ctx, "tenants.AcceptInvitation")
	defer func() {
		observability.EndSpan(span, err)
		r.cfg.Metrics.ObserveMembershipMutation("accept", err)
	}()

	err = r.inTx(ctx, "accept invitation", func(tx Tx) error {
		tenant, err := tx.LockTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		m, err = tx.GetMembership(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if m.Status != tenancy.MembershipInvited {
			return tenancy.NotFound("invitation", userID)
		}
		if tenant.Suspended() {
			return tenancy.Forbidden(tenancy.ReasonTenantSuspended)
		}

		now := r.now()
		m.Status = tenancy.MembershipActive
		m.JoinedAt = now
		m.UpdatedAt = now
		return tx.SaveMembership(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	r.cfg.Cache.Invalidate(ctx, userID)
	r.record(ctx, audit.Entry{
		TenantID:    tenantID,
		ActorUserID: userID,
		Action:      audit.ActionMembershipAccept,
		EntityType:  "membership",
		EntityID:    userID,
		Metadata:    map[string]any{"role": string(m.Role)},
	})
	return m, nil
}

// RemoveMember soft-removes userID from the tenant. Members may remove
// themselves; removing anyone else takes an owner or admin, and removing an
// owner takes an owner. Removing the last active owner fails with
// tenancy.ErrLastOwner. The check and the removal share one transaction.
func (r *Registry) RemoveMember(ctx context.Context, tenantID, userID, actingUser string) (err error) {
	ctx, span := tracer.Start(ctx, "tenants.RemoveMember")
	defer func() {
		observability.EndSpan(span, err)
		r.cfg.Metrics.ObserveMembershipMutation("remove", err)
	}()

	required := tenancy.RoleAdmin
	if actingUser == userID {
		required = ""
	}

	var removed *tenancy.Membership
	err = r.inTx(ctx, "remove member", func(tx Tx) error {
		_, actor, err := authorizeTx(ctx, tx, tenantID, actingUser, required, policy.ActionManage)
		if err != nil {
			return err
		}

		target, err := tx.GetMembership(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if !target.CountsTowardCapacity() {
			return tenancy.NotFound("membership", userID)
		}

		if target.Role == tenancy.RoleOwner && target.IsActive() {
			if actor.Role != tenancy.RoleOwner {
				return tenancy.Forbidden(tenancy.ReasonInsufficientRole)
			}
			members, err := tx.ListMembershipsByTenant(ctx, tenantID)
			if err != nil {
				return err
			}
			if activeOwners(members) <= 1 {
				return fmt.Errorf("%w: tenant %s", tenancy.ErrLastOwner, tenantID)
			}
		}

		target.Status = tenancy.MembershipRemoved
		target.IsDefault = false
		target.UpdatedAt = r.now()
		removed = target
		return tx.SaveMembership(ctx, target)
	})
	if err != nil {
		r.logDenied(ctx, "remove_member", tenantID, actingUser, err)
		return err
	}

	r.cfg.Cache.Invalidate(ctx, userID)
	r.record(ctx, audit.Entry{
		TenantID:    tenantID,
		ActorUserID: actingUser,
		Action:      audit.ActionMembershipRemove,
		EntityType:  "membership",
		EntityID:    userID,
		Metadata:    map[string]any{"role": string(removed.Role)},
	})
	return nil
}

// ChangeRole sets the role of an active membership. actingUser must be an
// owner or admin; granting or revoking the owner role takes an owner.
// Demoting the last active owner fails with tenancy.ErrLastOwner.
func (r *Registry) ChangeRole(ctx context.Context, tenantID, userID string, role tenancy.Role, actingUser string) (m *tenancy.Membership, err error) {
	ctx, span := tracer.Start(ctx, "tenants.ChangeRole")
	defer func() {
		observability.EndSpan(span, err)
		r.cfg.Metrics.ObserveMembershipMutation("change_role", err)
	}()

	if !role.Valid() {
		return nil, tenancy.Invalidf("unknown role %q", role)
	}

	var previous tenancy.Role
	err = r.inTx(ctx, "change role", func(tx Tx) error {
		_, actor, err := authorizeTx(ctx, tx, tenantID, actingUser, tenancy.RoleAdmin, policy.ActionManage)
		if err != nil {
			return err
		}

		m, err = tx.GetMembership(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if !m.IsActive() {
			return tenancy.NotFound("membership", userID)
		}
		previous = m.Role
		if previous == role {
			return nil
		}

		if (role == tenancy.RoleOwner || previous == tenancy.RoleOwner) && actor.Role != tenancy.RoleOwner {
			return tenancy.Forbidden(tenancy.ReasonInsufficientRole)
		}
		if previous == tenancy.RoleOwner {
			members, err := tx.ListMembershipsByTenant(ctx, tenantID)
			if err != nil {
				return err
			}
			if activeOwners(members) <= 1 {
				return fmt.Errorf("%w: tenant %s", tenancy.ErrLastOwner, tenantID)
			}
		}

		m.Role = role
		m.UpdatedAt = r.now()
		return tx.SaveMembership(ctx, m)
	})
	if err != nil {
		r.logDenied(ctx, "change_role", tenantID, actingUser, err)
		return nil, err
	}
	if previous == role {
		return m, nil
	}

	r.cfg.Cache.Invalidate(ctx, userID)
	r.record(ctx, audit.Entry{
		TenantID:    tenantID,
		ActorUserID: actingUser,
		Action:      audit.ActionMembershipRoleChange,
		EntityType:  "membership",
		EntityID:    userID,
		Metadata:    map[string]any{"previous_role": string(previous), "role": string(role)},
	})
	return m, nil
}

// SetDefaultTenant makes tenantID the user's default tenant. Other defaults
// of the user are cleared in the same transaction. Setting the current
// default again changes nothing.
func (r *Registry) SetDefaultTenant(ctx context.Context, userID, tenantID string) (err error) {
	ctx, span := tracer.Start(ctx, "tenants.SetDefaultTenant")
	defer func() {
		observability.EndSpan(span, err)
		r.cfg.Metrics.ObserveMembershipMutation("set_default", err)
	}()

	changed := false
	err = r.inTx(ctx, "set default tenant", func(tx Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		memberships, err := tx.ListMembershipsByUser(ctx, userID)
		if err != nil {
			return err
		}

		var target *tenancy.Membership
		defaults := 0
		for _, m := range memberships {
			if m.IsDefault {
				defaults++
			}
			if m.TenantID == tenantID && m.IsActive() {
				target = m
			}
		}
		if target == nil {
			return tenancy.Forbidden(tenancy.ReasonNoMembership)
		}
		if target.IsDefault && defaults == 1 {
			return nil
		}

		if err := tx.ClearDefault(ctx, userID); err != nil {
			return err
		}
		target.IsDefault = true
		target.UpdatedAt = r.now()
		changed = true
		return tx.SaveMembership(ctx, target)
	})
	if err != nil || !changed {
		return err
	}

	r.cfg.Cache.Invalidate(ctx, userID)
	r.record(ctx, audit.Entry{
		TenantID:    tenantID,
		ActorUserID: userID,
		Action:      audit.ActionMembershipDefaultSet,
		EntityType:  "membership",
		EntityID:    userID,
	})
	return nil
}

// GetMembership returns the membership of userID in tenantID in any status
func (r *Registry) GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error) {
	return read(ctx, &r.base, "get membership", func(ctx context.Context) (*tenancy.Membership, error) {
		return r.store.GetMembership(ctx, tenantID, userID)
	})
}

// ListMembers returns the active and invited members of a tenant.
// actingUser must be an active member.
func (r *Registry) ListMembers(ctx context.Context, tenantID, actingUser string) ([]*tenancy.Membership, error) {
	actor, err := read(ctx, &r.base, "get membership", func(ctx context.Context) (*tenancy.Membership, error) {
		return optionalMembership(r.store.GetMembership(ctx, tenantID, actingUser))
	})
	if err != nil {
		return nil, err
	}
	if !actor.IsActive() {
		return nil, tenancy.Forbidden(tenancy.ReasonNoMembership)
	}

	members, err := read(ctx, &r.base, "list members", func(ctx context.Context) ([]*tenancy.Membership, error) {
		return r.store.ListMembershipsByTenant(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}

	out := members[:0]
	for _, m := range members {
		if m.CountsTowardCapacity() {
			out = append(out, m)
		}
	}
	return out, nil
}

// ActiveMemberships returns the user's active memberships, default first and
// then in join order. Reads go through the membership cache when configured.
func (r *Registry) ActiveMemberships(ctx context.Context, userID string) ([]*tenancy.Membership, error) {
	var (
		memberships []*tenancy.Membership
		err         error
	)
	if r.cfg.Cache != nil {
		memberships, err = r.cfg.Cache.Get(ctx, userID)
	} else {
		memberships, err = r.LoadMemberships(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return orderForUser(memberships), nil
}

// LoadMemberships reads every membership of the user from the store,
// bypassing the membership cache
func (r *Registry) LoadMemberships(ctx context.Context, userID string) ([]*tenancy.Membership, error) {
	return read(ctx, &r.base, "list user memberships", func(ctx context.Context) ([]*tenancy.Membership, error) {
		return r.store.ListMembershipsByUser(ctx, userID)
	})
}

// ListTenantsForUser returns the tenants the user is an active member of,
// default tenant first and then in join order
func (r *Registry) ListTenantsForUser(ctx context.Context, userID string) ([]*tenancy.Tenant, error) {
	memberships, err := r.ActiveMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	tenants := make([]*tenancy.Tenant, 0, len(memberships))
	for _, m := range memberships {
		t, err := read(ctx, &r.base, "get tenant", func(ctx context.Context) (*tenancy.Tenant, error) {
			return r.store.GetTenant(ctx, m.TenantID)
		})
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

func orderForUser(memberships []*tenancy.Membership) []*tenancy.Membership {
	active := make([]*tenancy.Membership, 0, len(memberships))
	for _, m := range memberships {
		if m.IsActive() {
			active = append(active, m)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].IsDefault && !active[j].IsDefault
	})
	return active
}
