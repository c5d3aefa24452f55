package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

type fakeResource struct {
	tenantID  string
	createdBy string
}

type fakeMover struct {
	resources map[string]*fakeResource
}

func (f *fakeMover) Creator(ctx context.Context, entityType, id, tenantID string) (string, error) {
	r, ok := f.resources[entityType+"/"+id]
	if !ok || r.tenantID != tenantID {
		return "", tenancy.NotFound(entityType, id)
	}
	return r.createdBy, nil
}

func (f *fakeMover) MoveTenant(ctx context.Context, entityType, id, from, to, createdBy string) error {
	r, ok := f.resources[entityType+"/"+id]
	if !ok || r.tenantID != from {
		return tenancy.NotFound(entityType, id)
	}
	r.tenantID = to
	r.createdBy = createdBy
	return nil
}

type reassignFixture struct {
	src     *fakeSource
	mover   *fakeMover
	entries []audit.Entry
	admin   *Admin
}

func newReassignFixture() *reassignFixture {
	src := newFakeSource()
	src.addTenant("T1")
	src.addTenant("T2")
	src.addMember("T1", "ADMIN", tenancy.RoleOwner)
	src.addMember("T2", "ADMIN", tenancy.RoleOwner)
	src.addMember("T1", "CREATOR", tenancy.RoleMember)

	f := &reassignFixture{
		src: src,
		mover: &fakeMover{resources: map[string]*fakeResource{
			"project/p1": {tenantID: "T1", createdBy: "CREATOR"},
		}},
	}
	recorder := audit.RecorderFunc(func(ctx context.Context, e audit.Entry) { f.entries = append(f.entries, e) })
	f.admin = NewAdmin(NewEvaluator(src, EvaluatorConfig{Logger: quietLogger()}), f.mover, recorder)
	return f
}

func TestReassignRewritesOrphanedCreator(t *testing.T) {
	f := newReassignFixture()

	result, err := f.admin.ReassignResourceTenant(context.Background(), ReassignRequest{
		EntityType: "project", ResourceID: "p1", FromTenant: "T1", ToTenant: "T2", ActingAdmin: "ADMIN", Reason: "imported into wrong tenant",
	})
	require.NoError(t, err)

	assert.Equal(t, "CREATOR", result.PreviousCreatedBy)
	assert.Equal(t, "ADMIN", result.CreatedBy)
	assert.Equal(t, "T2", f.mover.resources["project/p1"].tenantID)
	assert.Equal(t, "ADMIN", f.mover.resources["project/p1"].createdBy)

	require.Len(t, f.entries, 2)
	assert.Equal(t, "T1", f.entries[0].TenantID)
	assert.Equal(t, "T2", f.entries[1].TenantID)
	for _, e := range f.entries {
		assert.Equal(t, ActionReassign, e.Action)
		assert.Equal(t, "ADMIN", e.ActorUserID)
		assert.Equal(t, "imported into wrong tenant", e.Metadata["reason"])
	}
}

func TestReassignKeepsCreatorWithMembership(t *testing.T) {
	f := newReassignFixture()
	f.src.addMember("T2", "CREATOR", tenancy.RoleMember)

	result, err := f.admin.ReassignResourceTenant(context.Background(), ReassignRequest{
		EntityType: "project", ResourceID: "p1", FromTenant: "T1", ToTenant: "T2", ActingAdmin: "ADMIN",
	})
	require.NoError(t, err)
	assert.Equal(t, "CREATOR", result.CreatedBy)
}

func TestReassignRequiresOwnerInBothTenants(t *testing.T) {
	f := newReassignFixture()
	f.src.memberships["T2/ADMIN"].Role = tenancy.RoleAdmin

	_, err := f.admin.ReassignResourceTenant(context.Background(), ReassignRequest{
		EntityType: "project", ResourceID: "p1", FromTenant: "T1", ToTenant: "T2", ActingAdmin: "ADMIN",
	})
	require.ErrorIs(t, err, tenancy.ErrForbidden)
	assert.Equal(t, "T1", f.mover.resources["project/p1"].tenantID)
	assert.Empty(t, f.entries)
}

func TestReassignValidation(t *testing.T) {
	f := newReassignFixture()
	ctx := context.Background()

	_, err := f.admin.ReassignResourceTenant(ctx, ReassignRequest{EntityType: "project", ResourceID: "p1", FromTenant: "T1", ToTenant: "T1", ActingAdmin: "ADMIN"})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)

	_, err = f.admin.ReassignResourceTenant(ctx, ReassignRequest{FromTenant: "T1", ToTenant: "T2", ActingAdmin: "ADMIN"})
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)

	_, err = f.admin.ReassignResourceTenant(ctx, ReassignRequest{EntityType: "project", ResourceID: "p1", FromTenant: "T2", ToTenant: "T1", ActingAdmin: "ADMIN"})
	assert.ErrorIs(t, err, tenancy.ErrNotFound)
}
