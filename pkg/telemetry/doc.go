// Package telemetry provides logging, tracing and metrics for pcesched.
//
// Structured logging uses zerolog, tracing uses OpenTelemetry with OTLP or
// stdout exporters, and metrics are exposed in Prometheus format from a
// private registry.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    return err
//	}
//
// # Metrics
//
// All recorders are safe to call on a disabled or nil *Metrics, so callers
// never need to check whether metrics are enabled:
//
//	pcesched_checks_total{source,result}
//	pcesched_check_duration_seconds{source}
//	pcesched_last_check_timestamp_seconds
//	pcesched_record_outcomes_total{kind,outcome}
//	pcesched_toggles_total{target,enabled,result}
//	pcesched_pce_requests_total{method,status}
//	pcesched_pce_request_duration_seconds{method}
//	pcesched_errors_total{class}
//	pcesched_schedules{kind}
//	pcesched_policy_violations_total{policy,severity}
//	pcesched_active_checks
//
// # Tracing
//
// A reconciliation pass opens a "check" span with one "check.record" child
// per stored schedule:
//
//	ctx, span := tel.Tracer.StartCheckSpan(ctx, runID, "monitor")
//	defer span.End()
package telemetry
