package tenants

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// MemoryStore is an in-process Store. Transactions are serialized and work
// on a copy of the state that replaces the live state on commit.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	tenants     map[string]*tenancy.Tenant
	slugs       map[string]string
	memberships map[string]*tenancy.Membership
	events      map[string]string
	seq         int64
	joinSeq     map[string]int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		tenants:     make(map[string]*tenancy.Tenant),
		slugs:       make(map[string]string),
		memberships: make(map[string]*tenancy.Membership),
		events:      make(map[string]string),
		joinSeq:     make(map[string]int64),
	}}
}

func membershipKey(tenantID, userID string) string {
	return tenantID + "\x00" + userID
}

func (s *memState) clone() *memState {
	c := &memState{
		tenants:     make(map[string]*tenancy.Tenant, len(s.tenants)),
		slugs:       make(map[string]string, len(s.slugs)),
		memberships: make(map[string]*tenancy.Membership, len(s.memberships)),
		events:      make(map[string]string, len(s.events)),
		seq:         s.seq,
		joinSeq:     make(map[string]int64, len(s.joinSeq)),
	}
	for k, v := range s.tenants {
		c.tenants[k] = v.Clone()
	}
	for k, v := range s.slugs {
		c.slugs[k] = v
	}
	for k, v := range s.memberships {
		m := *v
		c.memberships[k] = &m
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.joinSeq {
		c.joinSeq[k] = v
	}
	return c
}

func (s *memState) getTenant(id string) (*tenancy.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return nil, tenancy.NotFound("tenant", id)
	}
	return t.Clone(), nil
}

func (s *memState) getTenantBySlug(slug string) (*tenancy.Tenant, error) {
	id, ok := s.slugs[slug]
	if !ok {
		return nil, tenancy.NotFound("tenant", slug)
	}
	return s.getTenant(id)
}

func (s *memState) getMembership(tenantID, userID string) (*tenancy.Membership, error) {
	m, ok := s.memberships[membershipKey(tenantID, userID)]
	if !ok {
		return nil, tenancy.NotFound("membership", userID)
	}
	c := *m
	return &c, nil
}

func (s *memState) list(match func(*tenancy.Membership) bool) []*tenancy.Membership {
	var out []*tenancy.Membership
	for _, m := range s.memberships {
		if match(m) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return s.joinSeq[membershipKey(out[i].TenantID, out[i].UserID)] <
			s.joinSeq[membershipKey(out[j].TenantID, out[j].UserID)]
	})
	return out
}

// GetTenant implements Reader
func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getTenant(tenantID)
}

// GetTenantBySlug implements Reader
func (s *MemoryStore) GetTenantBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getTenantBySlug(slug)
}

// GetMembership implements Reader
func (s *MemoryStore) GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getMembership(tenantID, userID)
}

// ListMembershipsByUser implements Reader
func (s *MemoryStore) ListMembershipsByUser(ctx context.Context, userID string) ([]*tenancy.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.list(func(m *tenancy.Membership) bool { return m.UserID == userID }), nil
}

// ListMembershipsByTenant implements Reader
func (s *MemoryStore) ListMembershipsByTenant(ctx context.Context, tenantID string) ([]*tenancy.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.list(func(m *tenancy.Membership) bool { return m.TenantID == tenantID }), nil
}

// InTx implements Store
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// memTx reads and writes a private copy of the store state
type memTx struct {
	state *memState
}

func (t *memTx) GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	return t.state.getTenant(tenantID)
}

func (t *memTx) GetTenantBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	return t.state.getTenantBySlug(slug)
}

func (t *memTx) GetMembership(ctx context.Context, tenantID, userID string) (*tenancy.Membership, error) {
	return t.state.getMembership(tenantID, userID)
}

func (t *memTx) ListMembershipsByUser(ctx context.Context, userID string) ([]*tenancy.Membership, error) {
	return t.state.list(func(m *tenancy.Membership) bool { return m.UserID == userID }), nil
}

func (t *memTx) ListMembershipsByTenant(ctx context.Context, tenantID string) ([]*tenancy.Membership, error) {
	return t.state.list(func(m *tenancy.Membership) bool { return m.TenantID == tenantID }), nil
}

// LockTenant needs no extra locking since memory transactions are serialized
func (t *memTx) LockTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error) {
	return t.state.getTenant(tenantID)
}

func (t *memTx) LockUser(ctx context.Context, userID string) error {
	return nil
}

func (t *memTx) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, ok := t.state.slugs[slug]
	return ok, nil
}

func (t *memTx) InsertTenant(ctx context.Context, tenant *tenancy.Tenant) error {
	if _, ok := t.state.slugs[tenant.Slug]; ok {
		return tenancy.ErrDuplicateSlug
	}
	if _, ok := t.state.tenants[tenant.ID]; ok {
		return tenancy.Invalidf("tenant %s already exists", tenant.ID)
	}
	t.state.tenants[tenant.ID] = tenant.Clone()
	t.state.slugs[tenant.Slug] = tenant.ID
	return nil
}

func (t *memTx) UpdateTenant(ctx context.Context, tenant *tenancy.Tenant) error {
	existing, ok := t.state.tenants[tenant.ID]
	if !ok {
		return tenancy.NotFound("tenant", tenant.ID)
	}
	if existing.Slug != tenant.Slug {
		if _, taken := t.state.slugs[tenant.Slug]; taken {
			return tenancy.ErrDuplicateSlug
		}
		delete(t.state.slugs, existing.Slug)
		t.state.slugs[tenant.Slug] = tenant.ID
	}
	t.state.tenants[tenant.ID] = tenant.Clone()
	return nil
}

func (t *memTx) SaveMembership(ctx context.Context, m *tenancy.Membership) error {
	key := membershipKey(m.TenantID, m.UserID)
	if _, ok := t.state.tenants[m.TenantID]; !ok {
		return tenancy.NotFound("tenant", m.TenantID)
	}
	if m.IsDefault {
		for k, other := range t.state.memberships {
			if k != key && other.UserID == m.UserID && other.IsDefault {
				return tenancy.Invalidf("user %s already has a default tenant", m.UserID)
			}
		}
	}
	if _, ok := t.state.memberships[key]; !ok {
		t.state.seq++
		t.state.joinSeq[key] = t.state.seq
	}
	c := *m
	t.state.memberships[key] = &c
	return nil
}

func (t *memTx) ClearDefault(ctx context.Context, userID string) error {
	for _, m := range t.state.memberships {
		if m.UserID == userID {
			m.IsDefault = false
		}
	}
	return nil
}

func (t *memTx) RecordSubscriptionEvent(ctx context.Context, eventID, tenantID string) (bool, error) {
	if _, seen := t.state.events[eventID]; seen {
		return false, nil
	}
	t.state.events[eventID] = tenantID
	return true, nil
}
