package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// StatusFor maps the tenancy error taxonomy to an HTTP status code.
// NotFound maps to 403 like Forbidden so that a caller cannot tell a
// missing entity from one owned by another tenant.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, tenancy.ErrForbidden), errors.Is(err, tenancy.ErrNotFound):
		return http.StatusForbidden
	case errors.Is(err, tenancy.ErrAmbiguousTenant):
		return http.StatusConflict
	case errors.Is(err, tenancy.ErrCapacityExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, tenancy.ErrLastOwner), errors.Is(err, tenancy.ErrDuplicateSlug):
		return http.StatusConflict
	case errors.Is(err, tenancy.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, tenancy.ErrStorageTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
