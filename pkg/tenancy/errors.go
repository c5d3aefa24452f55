package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an entity is absent
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a membership or role check fails, including cross-tenant access
	ErrForbidden = errors.New("forbidden")

	// ErrAmbiguousTenant is returned when a user belongs to several tenants and none is default
	ErrAmbiguousTenant = errors.New("ambiguous tenant")

	// ErrCapacityExceeded is returned when a tenant limit is reached
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrLastOwner is returned when an operation would leave a tenant without an owner
	ErrLastOwner = errors.New("last owner")

	// ErrDuplicateSlug is returned when a tenant slug is already taken
	ErrDuplicateSlug = errors.New("duplicate slug")

	// ErrStorageTimeout is returned when the data store does not answer in time
	ErrStorageTimeout = errors.New("storage timeout")

	// ErrAuditWrite is returned when an audit entry could not be persisted
	ErrAuditWrite = errors.New("audit write failed")

	// ErrInvalidArgument is returned for malformed input
	ErrInvalidArgument = errors.New("invalid argument")
)

// Forbidden reasons
const (
	ReasonNoMembership     = "no membership"
	ReasonCrossTenant      = "cross-tenant access"
	ReasonInsufficientRole = "insufficient role"
	ReasonTenantSuspended  = "tenant suspended"
	ReasonNotAuthenticated = "not authenticated"
	ReasonUnscoped         = "storage call without tenant_id"
)

// ForbiddenError describes why an authorization check failed.
// The reason is for logs and audit only and must not reach end users.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// Is matches ErrForbidden
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// Forbidden creates a ForbiddenError with the given reason
func Forbidden(reason string) error {
	return &ForbiddenError{Reason: reason}
}

// ForbiddenReason returns the reason of a ForbiddenError in err's chain
func ForbiddenReason(err error) string {
	var fe *ForbiddenError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// CapacityExceededError represents a tenant limit being reached
type CapacityExceededError struct {
	Resource string
	Current  int
	Limit    int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded for %s: %d of %d", e.Resource, e.Current, e.Limit)
}

// Is matches ErrCapacityExceeded
func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// NotFoundError represents a missing entity
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is matches ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound creates a NotFoundError
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// AmbiguousTenantError lists the tenants a user may choose from
type AmbiguousTenantError struct {
	Candidates []string
}

func (e *AmbiguousTenantError) Error() string {
	return fmt.Sprintf("ambiguous tenant: %d candidates, explicit selection required", len(e.Candidates))
}

// Is matches ErrAmbiguousTenant
func (e *AmbiguousTenantError) Is(target error) bool {
	return target == ErrAmbiguousTenant
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Invalidf creates an ErrInvalidArgument error with a formatted message
func Invalidf(format string, args ...any) error {
	return invalidf(format, args...)
}

// StorageError wraps a data store error with the operation name and maps
// deadline expiry to ErrStorageTimeout. It returns nil for a nil err.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStorageTimeout) {
		return fmt.Errorf("failed to %s: %w: %w", op, ErrStorageTimeout, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// IsDomain reports whether err belongs to the tenancy error taxonomy other
// than storage failures. Domain errors are returned to callers unwrapped.
func IsDomain(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrForbidden, ErrAmbiguousTenant, ErrCapacityExceeded,
		ErrLastOwner, ErrDuplicateSlug, ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsStorageTimeout checks if an error is a storage timeout
func IsStorageTimeout(err error) bool {
	return errors.Is(err, ErrStorageTimeout)
}

// PublicMessage returns an error message that is safe to show to end users.
// Authorization failures and tenant-scoped lookups collapse to the same text
// so that responses never reveal whether an entity exists in another tenant.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return "not authorized"
	case errors.Is(err, ErrAmbiguousTenant):
		return "select a tenant to continue"
	case errors.Is(err, ErrCapacityExceeded):
		return "tenant plan limit reached"
	case errors.Is(err, ErrLastOwner):
		return "a tenant must keep at least one owner"
	case errors.Is(err, ErrDuplicateSlug):
		return "tenant slug already taken"
	case errors.Is(err, ErrStorageTimeout):
		return "service temporarily unavailable"
	case errors.Is(err, ErrInvalidArgument):
		msg := err.Error()
		if i := strings.Index(msg, ErrInvalidArgument.Error()+": "); i >= 0 {
			return msg[i+len(ErrInvalidArgument.Error())+2:]
		}
		return "invalid request"
	default:
		return "internal error"
	}
}
