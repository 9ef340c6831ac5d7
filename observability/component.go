package observability

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/logger"
)

// Component installs the OTLP trace and meter providers on Start and flushes
// them on Stop. When disabled the global no-op providers stay in place.
type Component struct {
	cfg         Config
	service     string
	version     string
	environment string
	log         *logger.Logger

	mu      sync.Mutex
	tp      *sdktrace.TracerProvider
	mp      *sdkmetric.MeterProvider
	metrics *DiscoveryMetrics
}

var _ component.Component = (*Component)(nil)

// NewComponent creates the observability component for service.
func NewComponent(cfg Config, service, version, environment string, log *logger.Logger) *Component {
	if log == nil {
		log = logger.Nop()
	}
	return &Component{
		cfg:         cfg,
		service:     service,
		version:     version,
		environment: environment,
		log:         log.WithComponent("observability"),
	}
}

// Name returns the component name.
func (c *Component) Name() string { return "observability" }

// Start installs the providers and creates the discovery instruments.
func (c *Component) Start(ctx context.Context) error {
	c.cfg.ApplyDefaults()
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Enabled {
		id := Identity{Service: c.service, Version: c.version, Environment: c.environment}
		tp, err := InitTracer(ctx, c.cfg, id)
		if err != nil {
			return err
		}
		mp, err := InitMeter(ctx, c.cfg, id)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return err
		}
		c.tp, c.mp = tp, mp
	}

	m, err := NewDiscoveryMetrics(Meter(defaultTracerName))
	if err != nil {
		return err
	}
	c.metrics = m
	return nil
}

// Metrics returns the discovery instruments, or nil before Start.
func (c *Component) Metrics() *DiscoveryMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Stop flushes and shuts down the providers.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.metrics != nil {
		errs = append(errs, c.metrics.Close())
	}
	if c.mp != nil {
		errs = append(errs, c.mp.Shutdown(ctx))
	}
	if c.tp != nil {
		errs = append(errs, c.tp.Shutdown(ctx))
	}
	c.tp, c.mp = nil, nil
	return stderrors.Join(errs...)
}

// Health reports whether the exporters are installed.
func (c *Component) Health(_ context.Context) component.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	if !c.cfg.Enabled {
		h.Message = "export disabled"
	}
	return h
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	details := "disabled"
	if c.cfg.Enabled {
		details = fmt.Sprintf("otlp=%s sample_rate=%v", c.cfg.Endpoint, c.cfg.SampleRate)
	}
	return component.Description{Name: "Observability", Type: "observability", Details: details}
}
