package tenancy

import (
	"strings"
	"time"
)

// Role is a membership role within a tenant
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Rank returns the position of the role in the owner > admin > member ordering.
// Unknown roles rank below member.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r is equal to or above required.
// An empty required role is satisfied by any valid role.
func (r Role) AtLeast(required Role) bool {
	if !r.Valid() {
		return false
	}
	if required == "" {
		return true
	}
	return r.Rank() >= required.Rank()
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// ParseRole parses a role name case-insensitively
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", invalidf("unknown role %q", s)
	}
	return r, nil
}

// TenantStatus represents tenant lifecycle status
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// MembershipStatus represents membership lifecycle status
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipInvited MembershipStatus = "invited"
	MembershipRemoved MembershipStatus = "removed"
)

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// Limits are the subscription limits of a tenant. Zero means unlimited.
type Limits struct {
	MaxUsers    int `json:"max_users" yaml:"max_users"`
	MaxProjects int `json:"max_projects" yaml:"max_projects"`
}

// DefaultLimits returns the limits applied to a newly created tenant
func DefaultLimits() Limits {
	return Limits{MaxUsers: 5, MaxProjects: 10}
}

// Tenant is an isolated customer organization
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Status    TenantStatus   `json:"status"`
	Tier      PlanTier       `json:"tier"`
	Limits    Limits         `json:"limits"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Suspended reports whether the tenant is soft-disabled
func (t *Tenant) Suspended() bool {
	return t.Status == TenantStatusSuspended
}

// Clone returns a deep copy of the tenant
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	c := *t
	c.Settings = CloneMap(t.Settings)
	return &c
}

// Membership grants a user a role within a tenant
type Membership struct {
	TenantID  string           `json:"tenant_id"`
	UserID    string           `json:"user_id"`
	Role      Role             `json:"role"`
	IsDefault bool             `json:"is_default"`
	Status    MembershipStatus `json:"status"`
	InvitedBy string           `json:"invited_by,omitempty"`
	JoinedAt  time.Time        `json:"joined_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive reports whether the membership currently authorizes its user
func (m *Membership) IsActive() bool {
	return m != nil && m.Status == MembershipActive
}

// CountsTowardCapacity reports whether the membership consumes a user seat
func (m *Membership) CountsTowardCapacity() bool {
	return m.Status == MembershipActive || m.Status == MembershipInvited
}

// CloneMap deep copies nested maps and slices of a JSON-like value
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		s := make([]any, len(val))
		for i := range val {
			s[i] = cloneValue(val[i])
		}
		return s
	default:
		return val
	}
}
