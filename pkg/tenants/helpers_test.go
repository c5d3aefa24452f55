package tenants

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (l *auditLog) Record(ctx context.Context, e audit.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *auditLog) actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Action
	}
	return out
}

type planTable map[tenancy.PlanTier]tenancy.Limits

func (p planTable) Limits(tier tenancy.PlanTier) (tenancy.Limits, bool) {
	l, ok := p[tier]
	return l, ok
}

type fixture struct {
	store     *MemoryStore
	audit     *auditLog
	directory *Directory
	registry  *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), audit: &auditLog{}}
	cfg := Config{
		Recorder: f.audit,
		Plans: planTable{
			tenancy.PlanFree:       {MaxUsers: 10, MaxProjects: 10},
			tenancy.PlanPro:        {MaxUsers: 50, MaxProjects: 100},
			tenancy.PlanEnterprise: {},
		},
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
	}
	f.directory = NewDirectory(f.store, cfg)
	f.registry = NewRegistry(f.store, cfg)
	return f
}

func (f *fixture) createTenant(t *testing.T, name, owner string) *tenancy.Tenant {
	t.Helper()
	tenant, err := f.directory.CreateTenant(context.Background(), name, owner)
	require.NoError(t, err)
	return tenant
}

func (f *fixture) addMember(t *testing.T, tenantID, userID string, role tenancy.Role, by string) {
	t.Helper()
	_, err := f.registry.AddMember(context.Background(), tenantID, userID, role, by)
	require.NoError(t, err)
}

func (f *fixture) defaults(t *testing.T, userID string) int {
	t.Helper()
	ms, err := f.store.ListMembershipsByUser(context.Background(), userID)
	require.NoError(t, err)
	n := 0
	for _, m := range ms {
		if m.IsDefault {
			n++
		}
	}
	return n
}

func (f *fixture) owners(t *testing.T, tenantID string) int {
	t.Helper()
	ms, err := f.store.ListMembershipsByTenant(context.Background(), tenantID)
	require.NoError(t, err)
	return activeOwners(ms)
}
