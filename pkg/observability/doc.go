// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("member added")
//
// FromContext returns the request logger enriched with the request, user and
// tenant ids stored by the HTTP middleware.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveDecision(false, "cross-tenant access", elapsed)
//
// Every Observe helper is a no-op on a nil *Metrics so components can run
// without instrumentation in tests.
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//
//	ctx, span := observability.Tracer("policy").Start(ctx, "Authorize")
//	defer func() { observability.EndSpan(span, err) }()
package observability
