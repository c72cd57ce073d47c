// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health checks for the pricing engine.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("price_id", id).Debug("volume tier fallback")
//
// Request scoped loggers carry the request and subscription IDs:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	observability.FromContext(ctx).Info("preview planned")
//
// Metrics are registered on a caller-owned registry. A nil *Metrics records
// nothing, so components accept it as an optional dependency:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordCommit("change_quantity", "applied", false, elapsed)
//
// Tracing uses the global OpenTelemetry provider installed by InitOTel:
//
//	ctx, span := observability.StartSpan(ctx, "billing.Plan")
//	defer observability.EndSpan(span, err)
package observability
