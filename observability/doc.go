// Package observability exports registrar and resolver telemetry with
// OpenTelemetry.
//
// Tracing and metrics providers:
//
//	id := observability.Identity{Service: "orders", Version: "1.4.0", Environment: "production"}
//	tp, err := observability.InitTracer(ctx, cfg, id)
//	defer tp.Shutdown(ctx)
//
//	mp, err := observability.InitMeter(ctx, cfg, id)
//	defer mp.Shutdown(ctx)
//
// Discovery instruments and spans:
//
//	metrics, err := observability.NewDiscoveryMetrics(observability.Meter("discoverykit"))
//	comp := discovery.NewComponent(cfg, providerCfg, log,
//	    discovery.WithMetrics(metrics),
//	    discovery.WithBackendWrapper(func(b discovery.Backend) discovery.Backend {
//	        return observability.TraceBackend(b, nil)
//	    }))
package observability
