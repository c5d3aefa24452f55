package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the isolation metrics onto the OTLP meter provider
type OTelMetrics struct {
	authzDecisions metric.Int64Counter
	authzDuration  metric.Float64Histogram
	resolutions    metric.Int64Counter
	auditEntries   metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/tenantguard")

	m := &OTelMetrics{}
	var err error

	m.authzDecisions, err = meter.Int64Counter(
		"tenantguard.authz.decisions",
		metric.WithDescription("Authorization decisions by outcome and deny reason"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz decisions counter: %w", err)
	}

	m.authzDuration, err = meter.Float64Histogram(
		"tenantguard.authz.duration",
		metric.WithDescription("Authorization evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz duration histogram: %w", err)
	}

	m.resolutions, err = meter.Int64Counter(
		"tenantguard.tenant.resolutions",
		metric.WithDescription("Tenant context resolutions by state"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}

	m.auditEntries, err = meter.Int64Counter(
		"tenantguard.audit.entries",
		metric.WithDescription("Audit entries by final outcome"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit entries counter: %w", err)
	}

	return m, nil
}

func (o *OTelMetrics) recordDecision(ctx context.Context, decision, reason string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("decision", decision),
		attribute.String("reason", reason),
	)
	o.authzDecisions.Add(ctx, 1, attrs)
	o.authzDuration.Record(ctx, d.Seconds(), attrs)
}

func (o *OTelMetrics) recordResolution(ctx context.Context, state string) {
	o.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (o *OTelMetrics) recordAudit(ctx context.Context, outcome string) {
	o.auditEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
