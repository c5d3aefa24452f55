package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{tenancy.Forbidden(tenancy.ReasonCrossTenant), http.StatusForbidden},
		{tenancy.NotFound("project", "p1"), http.StatusForbidden},
		{&tenancy.AmbiguousTenantError{Candidates: []string{"T1", "T2"}}, http.StatusConflict},
		{&tenancy.CapacityExceededError{Resource: "users", Current: 5, Limit: 5}, http.StatusPaymentRequired},
		{fmt.Errorf("%w: tenant T1", tenancy.ErrLastOwner), http.StatusConflict},
		{tenancy.ErrDuplicateSlug, http.StatusConflict},
		{tenancy.Invalidf("name is required"), http.StatusBadRequest},
		{tenancy.StorageError("get membership", tenancy.ErrStorageTimeout), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteErrorIsGeneric(t *testing.T) {
	for _, err := range []error{
		tenancy.Forbidden(tenancy.ReasonNoMembership),
		tenancy.Forbidden(tenancy.ReasonCrossTenant),
		tenancy.NotFound("tenant", "T9"),
	} {
		rec := httptest.NewRecorder()
		WriteError(rec, err)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "not authorized", body.Error)
		assert.NotContains(t, rec.Body.String(), "T9")
		assert.NotContains(t, rec.Body.String(), "membership")
	}
}

func TestWriteErrorAmbiguousListsCandidates(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &tenancy.AmbiguousTenantError{Candidates: []string{"T1", "T2"}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, []string{"T1", "T2"}, body.Candidates)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed for user admin"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeError(t, rec).Error)
}

type createTenantBody struct {
	Name string `json:"name" validate:"required,max=10"`
	Tier string `json:"tier" validate:"omitempty,oneof=free pro"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"Acme"}`, ""},
		{"missing name", `{}`, "name is required"},
		{"too long", `{"name":"a very long tenant name"}`, "name must be at most 10 characters"},
		{"bad tier", `{"name":"Acme","tier":"gold"}`, "tier must be one of free pro"},
		{"unknown field", `{"name":"Acme","tenant_id":"T2"}`, "invalid JSON"},
		{"malformed", `{"name":`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dest createTenantBody
			err := ParseJSON(httptest.NewRecorder(), req, &dest)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "Acme", dest.Name)
				return
			}
			require.ErrorIs(t, err, tenancy.ErrInvalidArgument)
			assert.Contains(t, tenancy.PublicMessage(err), tt.wantErr)
		})
	}
}

func TestParseJSONOrErrorWritesBadRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	var dest createTenantBody
	assert.False(t, ParseJSONOrError(rec, req, &dest))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name is required", decodeError(t, rec).Error)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x", nil)

	n, err := ParseQueryInt(req, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = ParseQueryInt(req, "offset", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = ParseQueryInt(req, "bad", 10)
	assert.ErrorIs(t, err, tenancy.ErrInvalidArgument)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestContentTypeMiddleware(t *testing.T) {
	h := ContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteNoContent(w)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
