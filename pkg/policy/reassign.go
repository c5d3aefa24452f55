package policy

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// ActionReassign is the audit action emitted for tenant reassignment
const ActionReassign = "resource.reassign"

// ResourceMover is the storage surface needed to move a resource between tenants
type ResourceMover interface {
	// Creator returns the created_by of the resource, scoped to tenantID.
	// It returns an error matching tenancy.ErrNotFound when the resource is
	// not owned by tenantID.
	Creator(ctx context.Context, entityType, id, tenantID string) (string, error)
	// MoveTenant rewrites tenant_id and created_by of a resource owned by fromTenant
	MoveTenant(ctx context.Context, entityType, id, fromTenant, toTenant, createdBy string) error
}

// ReassignRequest describes a governed tenant reassignment
type ReassignRequest struct {
	EntityType  string
	ResourceID  string
	FromTenant  string
	ToTenant    string
	ActingAdmin string
	Reason      string
}

// ReassignResult describes a completed reassignment
type ReassignResult struct {
	EntityType        string `json:"entity_type"`
	ResourceID        string `json:"resource_id"`
	FromTenant        string `json:"from_tenant"`
	ToTenant          string `json:"to_tenant"`
	PreviousCreatedBy string `json:"previous_created_by"`
	CreatedBy         string `json:"created_by"`
}

// Admin exposes privileged repair operations guarded by the evaluator
type Admin struct {
	evaluator *Evaluator
	mover     ResourceMover
	recorder  audit.Recorder
}

// NewAdmin creates the admin surface
func NewAdmin(evaluator *Evaluator, mover ResourceMover, recorder audit.Recorder) *Admin {
	return &Admin{evaluator: evaluator, mover: mover, recorder: recorder}
}

// ReassignResourceTenant moves one resource from FromTenant to ToTenant.
// The acting user must be an active owner of both tenants. When the original
// creator holds no active membership in the target tenant, created_by is
// rewritten to the acting user so that no resource references a tenant its
// creator cannot act in. An audit entry is recorded in both tenants.
func (a *Admin) ReassignResourceTenant(ctx context.Context, req ReassignRequest) (*ReassignResult, error) {
	if req.EntityType == "" || req.ResourceID == "" {
		return nil, tenancy.Invalidf("entity type and resource id are required")
	}
	if req.FromTenant == "" || req.ToTenant == "" {
		return nil, tenancy.Invalidf("source and target tenants are required")
	}
	if req.FromTenant == req.ToTenant {
		return nil, tenancy.Invalidf("source and target tenants must differ")
	}

	for _, tenantID := range []string{req.FromTenant, req.ToTenant} {
		if _, err := a.evaluator.Authorize(ctx, Request{
			UserID:       req.ActingAdmin,
			TenantID:     tenantID,
			RequiredRole: tenancy.RoleOwner,
			Action:       ActionManage,
		}); err != nil {
			return nil, err
		}
	}

	creator, err := a.mover.Creator(ctx, req.EntityType, req.ResourceID, req.FromTenant)
	if err != nil {
		return nil, err
	}

	newCreator := creator
	m, err := a.evaluator.ActiveMembership(ctx, req.ToTenant, creator)
	if err != nil {
		return nil, err
	}
	if m == nil {
		newCreator = req.ActingAdmin
	}

	if err := a.mover.MoveTenant(ctx, req.EntityType, req.ResourceID, req.FromTenant, req.ToTenant, newCreator); err != nil {
		return nil, fmt.Errorf("failed to reassign %s %s: %w", req.EntityType, req.ResourceID, err)
	}

	result := &ReassignResult{
		EntityType:        req.EntityType,
		ResourceID:        req.ResourceID,
		FromTenant:        req.FromTenant,
		ToTenant:          req.ToTenant,
		PreviousCreatedBy: creator,
		CreatedBy:         newCreator,
	}

	metadata := map[string]any{
		"from_tenant":         req.FromTenant,
		"to_tenant":           req.ToTenant,
		"previous_created_by": creator,
		"created_by":          newCreator,
	}
	if req.Reason != "" {
		metadata["reason"] = req.Reason
	}
	for _, tenantID := range []string{req.FromTenant, req.ToTenant} {
		a.recorder.Record(ctx, audit.Entry{
			TenantID:    tenantID,
			ActorUserID: req.ActingAdmin,
			Action:      ActionReassign,
			EntityType:  req.EntityType,
			EntityID:    req.ResourceID,
			Metadata:    metadata,
		})
	}

	return result, nil
}
