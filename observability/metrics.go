package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kbukum/discoverykit/discovery"
)

// Result attribute values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// MetricResolveDuration is the resolve latency histogram.
const MetricResolveDuration = "discovery.resolve.duration"

// DiscoveryMetrics records registrar and resolver events as OpenTelemetry
// instruments.
type DiscoveryMetrics struct {
	registrations  metric.Int64Counter
	renewals       metric.Int64Counter
	refreshes      metric.Int64Counter
	resolveLatency metric.Float64Histogram
	leaseDown      metric.Int64ObservableGauge
	cacheSize      metric.Int64ObservableGauge

	mu        sync.Mutex
	down      map[string]bool
	cached    atomic.Int64
	callbacks metric.Registration
}

var _ discovery.Metrics = (*DiscoveryMetrics)(nil)

// NewDiscoveryMetrics creates the instruments on meter.
func NewDiscoveryMetrics(meter metric.Meter) (*DiscoveryMetrics, error) {
	m := &DiscoveryMetrics{down: make(map[string]bool)}
	var err error

	if m.registrations, err = meter.Int64Counter("discovery.registration.attempts",
		metric.WithDescription("Registration attempts by service and result"),
	); err != nil {
		return nil, fmt.Errorf("creating discovery.registration.attempts counter: %w", err)
	}
	if m.renewals, err = meter.Int64Counter("discovery.lease.renewals",
		metric.WithDescription("Lease renewals by service and result"),
	); err != nil {
		return nil, fmt.Errorf("creating discovery.lease.renewals counter: %w", err)
	}
	if m.refreshes, err = meter.Int64Counter("discovery.resolver.refreshes",
		metric.WithDescription("Resolver refreshes by target service and result"),
	); err != nil {
		return nil, fmt.Errorf("creating discovery.resolver.refreshes counter: %w", err)
	}
	if m.resolveLatency, err = meter.Float64Histogram(MetricResolveDuration,
		metric.WithDescription("Duration of resolve calls in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating discovery.resolve.duration histogram: %w", err)
	}
	if m.leaseDown, err = meter.Int64ObservableGauge("discovery.lease.down",
		metric.WithDescription("1 while the local lease is considered down"),
	); err != nil {
		return nil, fmt.Errorf("creating discovery.lease.down gauge: %w", err)
	}
	if m.cacheSize, err = meter.Int64ObservableGauge("discovery.resolver.cache.services",
		metric.WithDescription("Number of services held in the resolver cache"),
	); err != nil {
		return nil, fmt.Errorf("creating discovery.resolver.cache.services gauge: %w", err)
	}

	m.callbacks, err = meter.RegisterCallback(m.observe, m.leaseDown, m.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("registering discovery gauges: %w", err)
	}
	return m, nil
}

func (m *DiscoveryMetrics) observe(_ context.Context, o metric.Observer) error {
	m.mu.Lock()
	for service, down := range m.down {
		var v int64
		if down {
			v = 1
		}
		o.ObserveInt64(m.leaseDown, v, metric.WithAttributes(attribute.String("service", service)))
	}
	m.mu.Unlock()
	o.ObserveInt64(m.cacheSize, m.cached.Load())
	return nil
}

// Close unregisters the gauge callbacks.
func (m *DiscoveryMetrics) Close() error {
	return m.callbacks.Unregister()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// RegistrationAttempt counts one register call.
func (m *DiscoveryMetrics) RegistrationAttempt(ctx context.Context, service string, err error) {
	m.registrations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("result", result(err)),
	))
}

// Renewal counts one renew call.
func (m *DiscoveryMetrics) Renewal(ctx context.Context, service string, err error) {
	m.renewals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("result", result(err)),
	))
}

// LeaseDown records whether the lease of service is down.
func (m *DiscoveryMetrics) LeaseDown(service string, down bool) {
	m.mu.Lock()
	m.down[service] = down
	m.mu.Unlock()
}

// Refresh counts one resolver refresh.
func (m *DiscoveryMetrics) Refresh(ctx context.Context, service string, err error) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target_service", service),
		attribute.String("result", result(err)),
	))
}

// ResolveLatency records the duration of one Resolve call.
func (m *DiscoveryMetrics) ResolveLatency(ctx context.Context, service string, d time.Duration) {
	m.resolveLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("target_service", service),
	))
}

// CacheSize records the number of cached services.
func (m *DiscoveryMetrics) CacheSize(n int) {
	m.cached.Store(int64(n))
}
