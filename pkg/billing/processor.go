package billing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

var tracer = observability.Tracer("billing")

// SubscriptionApplier is the tenant directory surface used by billing
type SubscriptionApplier interface {
	UpdateSubscription(ctx context.Context, update tenants.SubscriptionUpdate) (*tenancy.Tenant, bool, error)
	SetTenantStatus(ctx context.Context, eventID, tenantID string, status tenancy.TenantStatus) (*tenancy.Tenant, bool, error)
}

// Processor maps billing events to directory calls
type Processor struct {
	directory SubscriptionApplier
	logger    *observability.Logger
}

// NewProcessor creates a processor
func NewProcessor(directory SubscriptionApplier, logger *observability.Logger) *Processor {
	if logger == nil {
		logger = observability.GetLogger(context.Background())
	}
	return &Processor{directory: directory, logger: logger}
}

// Process applies one event
func (p *Processor) Process(ctx context.Context, event Event) (outcome Outcome, err error) {
	ctx, span := tracer.Start(ctx, "billing.Process")
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", string(event.Type)),
	)
	defer func() { observability.EndSpan(span, err) }()

	outcome = Outcome{EventID: event.ID, Type: string(event.Type), TenantID: event.Data.TenantID}
	if event.ID == "" {
		return outcome, tenancy.Invalidf("event id is required")
	}

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		_, outcome.Applied, err = p.directory.UpdateSubscription(ctx, tenants.SubscriptionUpdate{
			EventID:  event.ID,
			TenantID: event.Data.TenantID,
			Tier:     event.Data.Tier,
			Limits:   event.Data.Limits,
		})
	case EventSubscriptionDeleted:
		_, outcome.Applied, err = p.directory.UpdateSubscription(ctx, tenants.SubscriptionUpdate{
			EventID:  event.ID,
			TenantID: event.Data.TenantID,
			Tier:     tenancy.PlanFree,
		})
	case EventPaymentFailed:
		_, outcome.Applied, err = p.directory.SetTenantStatus(ctx, event.ID, event.Data.TenantID, tenancy.TenantStatusSuspended)
	case EventInvoicePaid:
		_, outcome.Applied, err = p.directory.SetTenantStatus(ctx, event.ID, event.Data.TenantID, tenancy.TenantStatusActive)
	default:
		outcome.Ignored = true
		p.logger.WithField("event_type", event.Type).Debug("ignoring billing event")
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}

	p.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"tenant_id":  event.Data.TenantID,
		"applied":    outcome.Applied,
	}).Info("billing event processed")
	return outcome, nil
}
