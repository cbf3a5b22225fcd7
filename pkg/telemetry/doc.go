// Package telemetry provides observability instrumentation for Stratus.
//
// It combines structured logging (zerolog), Prometheus metrics and
// OpenTelemetry tracing behind a single Telemetry value that is built
// once at process start and injected into every component.
//
// Initialize at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stratus"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Component loggers carry domain fields:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger.WithOrderID(orderID).WithCsp("huaweicloud").Info("order dispatched")
//
// Key metrics exposed at /metrics:
//
//   - stratus_orders_submitted_total{kind,csp}
//   - stratus_orders_completed_total{kind,outcome}
//   - stratus_order_duration_seconds{kind,outcome}
//   - stratus_deployer_calls_total{deployer,operation}
//   - stratus_deployer_transport_errors_total{deployer,operation}
//   - stratus_credential_cache_hits_total / _misses_total / _evictions_total
//   - stratus_active_orders
//   - stratus_held_locks
package telemetry
