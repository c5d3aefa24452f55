package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/resources"
	"github.com/platinummonkey/tenantguard/pkg/tenantctx"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

const testSecret = "test-secret"

type testEnv struct {
	server *Server
	sink   *audit.MemorySink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, resources.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, resourceStore resources.Store) *testEnv {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	sink := audit.NewMemorySink()
	recorder := audit.RecorderFunc(func(ctx context.Context, e audit.Entry) {
		e.ID = uuid.NewString()
		e.Timestamp = time.Now()
		require.NoError(t, sink.Write(ctx, e))
	})

	tenantStore := tenants.NewMemoryStore()
	cfg := tenants.Config{Recorder: recorder, Logger: logger}
	directory := tenants.NewDirectory(tenantStore, cfg)
	registry := tenants.NewRegistry(tenantStore, cfg)
	evaluator := policy.NewEvaluator(tenantStore, policy.EvaluatorConfig{Logger: logger})

	repo := resources.NewRepository(resourceStore, resources.RepositoryConfig{
		Recorder: recorder,
		Limits:   directory,
		Logger:   logger,
	})

	server := NewServer(Dependencies{
		Directory: directory,
		Registry:  registry,
		Resolver:  tenantctx.NewResolver(registry, tenantctx.Config{Logger: logger}),
		Evaluator: evaluator,
		Admin:     policy.NewAdmin(evaluator, resourceStore, recorder),
		Resources: repo,
		Audit:     audit.NewStore(sink),
		Verifier:  middleware.NewHS256Verifier(testSecret, "", ""),
		Logger:    logger,
	})
	return &testEnv{server: server, sink: sink}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type call struct {
	method string
	path   string
	user   string
	tenant string
	body   interface{}
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, c.user))
	}
	if c.tenant != "" {
		req.Header.Set(middleware.TenantHeader, c.tenant)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func (e *testEnv) createTenant(t *testing.T, owner, name string) string {
	t.Helper()
	rec := e.do(t, call{method: "POST", path: "/v1/tenants", user: owner, body: map[string]string{"name": name}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tenant struct {
		ID string `json:"id"`
	}
	decode(t, rec, &tenant)
	return tenant.ID
}

func (e *testEnv) addMember(t *testing.T, admin, tenantID, user, role string) {
	t.Helper()
	rec := e.do(t, call{
		method: "POST", path: "/v1/current/members", user: admin, tenant: tenantID,
		body: map[string]interface{}{"user_id": user, "role": role},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAuthenticationRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/v1/me/tenants", "/v1/current", "/v1/current/resources/project"} {
		rec := env.do(t, call{method: "GET", path: path})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestCreateAndReadTenant(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTenant(t, "alice", "Acme Corp")

	rec := env.do(t, call{method: "GET", path: "/v1/current", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var tenant struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
		Tier string `json:"tier"`
	}
	decode(t, rec, &tenant)
	assert.Equal(t, id, tenant.ID)
	assert.Equal(t, "acme-corp", tenant.Slug)

	rec = env.do(t, call{method: "GET", path: "/v1/me/tenants", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tenants []struct {
			ID string `json:"id"`
		} `json:"tenants"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Tenants, 1)
	assert.Equal(t, id, list.Tenants[0].ID)

	rec = env.do(t, call{method: "GET", path: "/v1/current/context", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res tenantctx.Resolution
	decode(t, rec, &res)
	assert.Equal(t, tenantctx.StateResolved, res.State)
	assert.Equal(t, "owner", string(res.Role))
}

func TestCreateTenantValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing name", map[string]string{}},
		{"unknown field", map[string]string{"name": "Acme", "tenant_id": "forged"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, call{method: "POST", path: "/v1/tenants", user: "alice", body: tt.body})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUserWithoutTenant(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, call{method: "GET", path: "/v1/current", user: "nobody"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body httputil.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "not authorized", body.Error)
}

func TestAmbiguousTenantSelection(t *testing.T) {
	env := newTestEnv(t)
	acme := env.createTenant(t, "alice", "Acme")
	globex := env.createTenant(t, "gina", "Globex")
	env.addMember(t, "alice", acme, "bob", "member")
	env.addMember(t, "gina", globex, "bob", "member")

	rec := env.do(t, call{method: "GET", path: "/v1/current", user: "bob"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var body httputil.ErrorResponse
	decode(t, rec, &body)
	assert.ElementsMatch(t, []string{acme, globex}, body.Candidates)

	rec = env.do(t, call{method: "GET", path: "/v1/current", user: "bob", tenant: globex})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, call{method: "GET", path: "/v1/current", user: "bob", tenant: "not-a-member"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: "PUT", path: "/v1/me/default-tenant", user: "bob", body: map[string]string{"tenant_id": globex}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, call{method: "GET", path: "/v1/current/context", user: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res tenantctx.Resolution
	decode(t, rec, &res)
	assert.Equal(t, globex, res.TenantID)
	assert.False(t, res.Explicit)
}

func TestResourceIsolation(t *testing.T) {
	env := newTestEnv(t)
	acme := env.createTenant(t, "alice", "Acme")
	globex := env.createTenant(t, "gina", "Globex")

	rec := env.do(t, call{method: "POST", path: "/v1/current/resources/project", user: "alice", body: map[string]string{"name": "Launch"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var project map[string]interface{}
	decode(t, rec, &project)
	id := project["id"].(string)
	assert.Equal(t, acme, project["tenant_id"])
	assert.Equal(t, "alice", project["created_by"])

	rec = env.do(t, call{method: "GET", path: "/v1/current/resources/project/" + id, user: "alice"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another tenant sees the same response as for a missing row
	missing := env.do(t, call{method: "GET", path: "/v1/current/resources/project/does-not-exist", user: "gina"})
	foreign := env.do(t, call{method: "GET", path: "/v1/current/resources/project/" + id, user: "gina"})
	assert.Equal(t, http.StatusForbidden, foreign.Code)
	assert.Equal(t, missing.Code, foreign.Code)
	assert.Equal(t, missing.Body.String(), foreign.Body.String())

	rec = env.do(t, call{method: "GET", path: "/v1/current/resources/project", user: "gina"})
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []map[string]interface{} `json:"items"`
	}
	decode(t, rec, &list)
	assert.Empty(t, list.Items)

	rec = env.do(t, call{method: "PATCH", path: "/v1/current/resources/project/" + id, user: "gina", body: map[string]string{"name": "Stolen"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: "POST", path: "/v1/current/resources/project", user: "alice", body: map[string]string{"name": "Forged", "tenant_id": globex}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: "GET", path: "/v1/current/resources/unknown", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// misscopedStore answers lookups that find nothing in the requested tenant
// with the rows of another tenant
type misscopedStore struct {
	*resources.MemoryStore
	other string
}

func (s *misscopedStore) Find(ctx context.Context, entityType, tenantID string, filter resources.Filter) ([]resources.Record, error) {
	records, err := s.MemoryStore.Find(ctx, entityType, tenantID, filter)
	if err != nil || len(records) > 0 || s.other == "" {
		return records, err
	}
	return s.MemoryStore.Find(ctx, entityType, s.other, filter)
}

func TestResourceRoutesCheckStoredTenant(t *testing.T) {
	store := &misscopedStore{MemoryStore: resources.NewMemoryStore()}
	env := newTestEnvWithStore(t, store)
	env.createTenant(t, "alice", "Acme")
	globex := env.createTenant(t, "gina", "Globex")

	rec := env.do(t, call{method: "POST", path: "/v1/current/resources/project", user: "gina", body: map[string]string{"name": "Secret"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var project map[string]interface{}
	decode(t, rec, &project)
	path := "/v1/current/resources/project/" + project["id"].(string)

	store.other = globex

	for _, c := range []call{
		{method: "GET", path: path, user: "alice"},
		{method: "PATCH", path: path, user: "alice", body: map[string]string{"name": "Stolen"}},
		{method: "DELETE", path: path, user: "alice"},
	} {
		rec := env.do(t, c)
		assert.Equal(t, http.StatusForbidden, rec.Code, c.method)
		assert.NotContains(t, rec.Body.String(), "Secret", c.method)
	}

	store.other = ""
	rec = env.do(t, call{method: "GET", path: path, user: "gina"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &project)
	assert.Equal(t, "Secret", project["name"])
}

func TestResourceListFilter(t *testing.T) {
	env := newTestEnv(t)
	env.createTenant(t, "alice", "Acme")

	for _, body := range []map[string]string{
		{"title": "Write docs", "status": "open"},
		{"title": "Ship", "status": "done"},
	} {
		rec := env.do(t, call{method: "POST", path: "/v1/current/resources/task", user: "alice", body: body})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := env.do(t, call{method: "GET", path: "/v1/current/resources/task?status=open", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []map[string]interface{} `json:"items"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Write docs", list.Items[0]["title"])

	rec = env.do(t, call{method: "GET", path: "/v1/current/resources/task?secret_column=1", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResourceDeleteRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	acme := env.createTenant(t, "alice", "Acme")
	env.addMember(t, "alice", acme, "bob", "member")

	rec := env.do(t, call{method: "POST", path: "/v1/current/resources/vendor", user: "bob", body: map[string]string{"name": "Initech"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var vendor map[string]interface{}
	decode(t, rec, &vendor)
	path := "/v1/current/resources/vendor/" + vendor["id"].(string)

	rec = env.do(t, call{method: "DELETE", path: path, user: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: "DELETE", path: path, user: "alice"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, call{method: "GET", path: path, user: "alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemberManagement(t *testing.T) {
	env := newTestEnv(t)
	acme := env.createTenant(t, "alice", "Acme")
	env.addMember(t, "alice", acme, "bob", "member")

	rec := env.do(t, call{
		method: "POST", path: "/v1/current/members", user: "bob",
		body: map[string]interface{}{"user_id": "carol", "role": "member"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{
		method: "POST", path: "/v1/current/members", user: "alice",
		body: map[string]interface{}{"user_id": "carol", "role": "superuser"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, call{
		method: "POST", path: "/v1/current/members", user: "alice",
		body: map[string]interface{}{"user_id": "carol", "role": "member", "invite": true},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, call{method: "GET", path: "/v1/current", user: "carol"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: "POST", path: "/v1/invitations/" + acme + "/accept", user: "carol"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, call{method: "GET", path: "/v1/current/members", user: "carol"})
	require.Equal(t, http.StatusOK, rec.Code)
	var members struct {
		Members []struct {
			UserID string `json:"user_id"`
			Role   string `json:"role"`
		} `json:"members"`
	}
	decode(t, rec, &members)
	assert.Len(t, members.Members, 3)

	rec = env.do(t, call{method: "PATCH", path: "/v1/current/members/bob", user: "alice", body: map[string]string{"role": "admin"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, call{method: "DELETE", path: "/v1/current/members/alice", user: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, call{method: "DELETE", path: "/v1/current/members/carol", user: "carol"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	acme := env.createTenant(t, "alice", "Acme")
	env.addMember(t, "alice", acme, "bob", "member")

	rec := env.do(t, call{method: "PATCH", path: "/v1/current/settings", user: "bob", body: map[string]interface{}{"theme": "dark"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: "PATCH", path: "/v1/current/settings", user: "alice", body: map[string]interface{}{"theme": "dark"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tenant struct {
		Settings map[string]interface{} `json:"settings"`
	}
	decode(t, rec, &tenant)
	assert.Equal(t, "dark", tenant.Settings["theme"])
}

func TestAuditSearchAndExport(t *testing.T) {
	env := newTestEnv(t)
	acme := env.createTenant(t, "alice", "Acme")
	env.createTenant(t, "gina", "Globex")
	env.addMember(t, "alice", acme, "bob", "member")

	rec := env.do(t, call{method: "GET", path: "/v1/current/audit?action=membership.add", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Entries []audit.Entry `json:"entries"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, acme, page.Entries[0].TenantID)
	assert.Equal(t, "bob", page.Entries[0].EntityID)

	rec = env.do(t, call{method: "GET", path: "/v1/current/audit", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	for _, e := range page.Entries {
		assert.Equal(t, acme, e.TenantID)
	}

	rec = env.do(t, call{method: "GET", path: "/v1/current/audit", user: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: "GET", path: "/v1/current/audit/export?format=csv", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "membership.add")

	rec = env.do(t, call{method: "GET", path: "/v1/current/audit/export?format=xml", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, call{method: "GET", path: "/v1/current/audit?since=yesterday", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminReassign(t *testing.T) {
	env := newTestEnv(t)
	acme := env.createTenant(t, "alice", "Acme")
	globex := env.createTenant(t, "gina", "Globex")

	rec := env.do(t, call{method: "POST", path: "/v1/current/resources/document", user: "alice", body: map[string]string{"name": "Contract"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc map[string]interface{}
	decode(t, rec, &doc)
	id := doc["id"].(string)

	body := map[string]string{
		"entity_type": "document",
		"resource_id": id,
		"from_tenant": acme,
		"to_tenant":   globex,
		"reason":      "uploaded to the wrong tenant",
	}
	rec = env.do(t, call{method: "POST", path: "/v1/admin/reassign", user: "alice", body: body})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.addMember(t, "gina", globex, "alice", "owner")

	rec = env.do(t, call{method: "POST", path: "/v1/admin/reassign", user: "alice", body: body})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, call{method: "GET", path: "/v1/current/resources/document/" + id, user: "gina"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &doc)
	assert.Equal(t, globex, doc["tenant_id"])
}

func TestBillingRouteIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.server = NewServer(Dependencies{
		Verifier: middleware.NewHS256Verifier(testSecret, "", ""),
		Billing: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusAccepted)
		}),
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
	})

	rec := env.do(t, call{method: "POST", path: "/v1/billing/webhook"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, called)
}
