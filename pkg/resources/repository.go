package resources

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/policy"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

var tracer = observability.Tracer("resources")

// LimitSource returns a tenant with its subscription limits
type LimitSource interface {
	GetTenant(ctx context.Context, tenantID string) (*tenancy.Tenant, error)
}

// RepositoryConfig configures a Repository
type RepositoryConfig struct {
	StoreTimeout time.Duration
	Recorder     audit.Recorder
	// Limits enables the project capacity check when set
	Limits  LimitSource
	Metrics *observability.Metrics
	Logger  *observability.Logger
	NewID   func() string
}

// Repository runs resource operations inside an authorized scope
type Repository struct {
	store Store
	cfg   RepositoryConfig
}

// NewRepository creates a repository over store
func NewRepository(store Store, cfg RepositoryConfig) *Repository {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.GetLogger(context.Background())
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Repository{store: store, cfg: cfg}
}

func checkScope(scope policy.Scope) error {
	if scope.TenantID == "" || scope.UserID == "" {
		return tenancy.Forbidden(tenancy.ReasonUnscoped)
	}
	return nil
}

func (r *Repository) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if err != nil && !tenancy.IsDomain(err) {
		err = tenancy.StorageError(op, err)
	}
	r.cfg.Metrics.ObserveStorage(op, time.Since(start), tenancy.IsStorageTimeout(err))
	return err
}

// Find lists the scope tenant's rows matching filter. A filter naming
// another tenant matches nothing.
func (r *Repository) Find(ctx context.Context, scope policy.Scope, entityType string, filter Filter) (records []Record, err error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	e, err := Lookup(entityType)
	if err != nil {
		return nil, err
	}
	if err := e.checkColumns(filter, e.filterable); err != nil {
		return nil, err
	}
	err = r.call(ctx, "resources_find", func(ctx context.Context) error {
		records, err = r.store.Find(ctx, entityType, scope.TenantID, filter)
		return err
	})
	return records, err
}

// Get returns one row of the scope tenant
func (r *Repository) Get(ctx context.Context, scope policy.Scope, entityType, id string) (Record, error) {
	records, err := r.Find(ctx, scope, entityType, Filter{ColumnID: id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, tenancy.NotFound(entityType, id)
	}
	return records[0], nil
}

// Create inserts a row owned by the scope tenant and created by the scope user
func (r *Repository) Create(ctx context.Context, scope policy.Scope, entityType string, fields Record) (record Record, err error) {
	ctx, span := tracer.Start(ctx, "Repository.Create")
	defer func() { observability.EndSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}
	e, err := Lookup(entityType)
	if err != nil {
		return nil, err
	}
	if v, ok := fields[ColumnTenantID]; ok && v != scope.TenantID {
		return nil, tenancy.Forbidden(tenancy.ReasonCrossTenant)
	}

	row := make(Record, len(fields)+3)
	for k, v := range fields {
		switch k {
		case ColumnTenantID:
		case ColumnID, ColumnCreatedBy, ColumnCreatedAt, ColumnUpdatedAt:
			return nil, tenancy.Invalidf("%s is set by the server", k)
		default:
			row[k] = v
		}
	}
	if err := e.checkColumns(row, e.writable); err != nil {
		return nil, err
	}
	if err := e.checkRequired(row); err != nil {
		return nil, err
	}
	if entityType == Project {
		if err := r.checkProjectCapacity(ctx, scope.TenantID); err != nil {
			return nil, err
		}
	}

	row[ColumnID] = r.cfg.NewID()
	row[ColumnTenantID] = scope.TenantID
	row[ColumnCreatedBy] = scope.UserID

	err = r.call(ctx, "resources_insert", func(ctx context.Context) error {
		record, err = r.store.Insert(ctx, entityType, row)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.cfg.Recorder.Record(ctx, audit.Entry{
		TenantID:    scope.TenantID,
		ActorUserID: scope.UserID,
		Action:      audit.ActionResourceCreate,
		EntityType:  entityType,
		EntityID:    record.ID(),
	})
	return record, nil
}

func (r *Repository) checkProjectCapacity(ctx context.Context, tenantID string) error {
	if r.cfg.Limits == nil {
		return nil
	}
	tenant, err := r.cfg.Limits.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	limit := tenant.Limits.MaxProjects
	if limit <= 0 {
		return nil
	}

	var n int
	err = r.call(ctx, "resources_count", func(ctx context.Context) error {
		var err error
		n, err = r.store.Count(ctx, Project, tenantID)
		return err
	})
	if err != nil {
		return err
	}
	if n >= limit {
		return &tenancy.CapacityExceededError{Resource: "projects", Current: n, Limit: limit}
	}
	return nil
}

// Update patches a row of the scope tenant. Moving a row to another tenant
// is forbidden; use policy.Admin.ReassignResourceTenant instead.
func (r *Repository) Update(ctx context.Context, scope policy.Scope, entityType, id string, patch Record) (record Record, err error) {
	ctx, span := tracer.Start(ctx, "Repository.Update")
	defer func() { observability.EndSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}
	if _, err := Lookup(entityType); err != nil {
		return nil, err
	}

	fields := make(Record, len(patch))
	for k, v := range patch {
		switch k {
		case ColumnTenantID:
			if v != scope.TenantID {
				r.cfg.Logger.WithFields(map[string]interface{}{
					"tenant_id":   scope.TenantID,
					"user_id":     scope.UserID,
					"entity_type": entityType,
					"entity_id":   id,
				}).Warn("rejected tenant_id change on update")
				return nil, tenancy.Forbidden(tenancy.ReasonCrossTenant)
			}
		case ColumnID, ColumnCreatedBy, ColumnCreatedAt, ColumnUpdatedAt:
			return nil, tenancy.Invalidf("%s cannot be changed", k)
		default:
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil, tenancy.Invalidf("update requires at least one field")
	}

	err = r.call(ctx, "resources_update", func(ctx context.Context) error {
		record, err = r.store.Update(ctx, entityType, scope.TenantID, id, fields)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.cfg.Recorder.Record(ctx, audit.Entry{
		TenantID:    scope.TenantID,
		ActorUserID: scope.UserID,
		Action:      audit.ActionResourceUpdate,
		EntityType:  entityType,
		EntityID:    id,
		Metadata:    map[string]any{"fields": fieldNames(fields)},
	})
	return record, nil
}

// Delete removes a row of the scope tenant
func (r *Repository) Delete(ctx context.Context, scope policy.Scope, entityType, id string) (err error) {
	ctx, span := tracer.Start(ctx, "Repository.Delete")
	defer func() { observability.EndSpan(span, err) }()

	if err := checkScope(scope); err != nil {
		return err
	}
	err = r.call(ctx, "resources_delete", func(ctx context.Context) error {
		return r.store.Delete(ctx, entityType, scope.TenantID, id)
	})
	if err != nil {
		return err
	}

	r.cfg.Recorder.Record(ctx, audit.Entry{
		TenantID:    scope.TenantID,
		ActorUserID: scope.UserID,
		Action:      audit.ActionResourceDelete,
		EntityType:  entityType,
		EntityID:    id,
	})
	return nil
}

func fieldNames(fields Record) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
