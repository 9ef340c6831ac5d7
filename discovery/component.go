package discovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
)

// BackendFactory creates a Backend from a Config.
// providerCfg holds provider-specific configuration (e.g., *consul.Config).
// Providers should type-assert providerCfg to their own config type.
type BackendFactory func(cfg Config, providerCfg any, log *logger.Logger) (Backend, error)

var (
	factoriesMu      sync.RWMutex
	backendFactories = make(map[string]BackendFactory)
)

// RegisterBackendFactory registers a registry backend factory for the given
// provider name. Implementation packages call this (typically in an init
// function) to make themselves available to the Component.
func RegisterBackendFactory(name string, f BackendFactory) {
	factoriesMu.Lock()
	backendFactories[name] = f
	factoriesMu.Unlock()
}

// Providers lists the registered provider names.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend builds the backend selected by cfg.Provider.
func NewBackend(cfg Config, providerCfg any, log *logger.Logger) (Backend, error) {
	factoriesMu.RLock()
	f, ok := backendFactories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.Configurationf("unsupported discovery provider %q (not registered)", cfg.Provider)
	}
	b, err := f(cfg, providerCfg, log)
	if err != nil {
		if errors.IsConfiguration(err) {
			return nil, err
		}
		return nil, errors.Configurationf("discovery provider %s: %v", cfg.Provider, err).WithCause(err)
	}
	return b, nil
}

// Component wires the configured Backend into a Registrar and a Resolver and
// implements component.Component for lifecycle management.
type Component struct {
	cfg         Config
	providerCfg any
	log         *logger.Logger
	metrics     Metrics
	metricsFn   func() Metrics
	store       SnapshotStore
	wrap        func(Backend) Backend

	backend   Backend
	registrar *Registrar
	resolver  *Resolver
}

// ComponentOption customizes a Component.
type ComponentOption func(*Component)

// WithMetrics sets the metrics sink of the registrar and resolver.
func WithMetrics(m Metrics) ComponentOption {
	return func(c *Component) { c.metrics = m }
}

// WithMetricsFunc defers the metrics lookup to Start, for sinks created by
// a component that starts earlier. A nil result keeps the current sink.
func WithMetricsFunc(fn func() Metrics) ComponentOption {
	return func(c *Component) { c.metricsFn = fn }
}

// WithStore sets the resolver snapshot store.
func WithStore(s SnapshotStore) ComponentOption {
	return func(c *Component) { c.store = s }
}

// WithBackendWrapper decorates the selected backend, e.g. with tracing.
func WithBackendWrapper(wrap func(Backend) Backend) ComponentOption {
	return func(c *Component) { c.wrap = wrap }
}

// NewComponent creates a discovery Component for use with the component registry.
// providerCfg holds provider-specific configuration (e.g., *consul.Config for Consul).
func NewComponent(cfg Config, providerCfg any, log *logger.Logger, opts ...ComponentOption) *Component {
	if log == nil {
		log = logger.Nop()
	}
	c := &Component{
		cfg:         cfg,
		providerCfg: providerCfg,
		log:         log.WithComponent("discovery"),
		metrics:     nopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensure Component satisfies component.Component.
var _ component.Component = (*Component)(nil)

// Name returns the component name.
func (c *Component) Name() string { return "discovery" }

// Backend returns the selected backend, or nil if not started.
func (c *Component) Backend() Backend { return c.backend }

// Registrar returns the registrar, or nil when registration is disabled.
func (c *Component) Registrar() *Registrar { return c.registrar }

// Resolver returns the resolver, or nil if not started.
func (c *Component) Resolver() *Resolver { return c.resolver }

// Start selects the backend and starts discovery and self-registration.
// Only configuration errors are returned; registry outages are retried in
// the background.
func (c *Component) Start(ctx context.Context) error {
	c.cfg.ApplyDefaults()
	if c.metricsFn != nil {
		if m := c.metricsFn(); m != nil {
			c.metrics = m
		}
	}

	if !c.cfg.Enabled {
		c.log.Info("discovery disabled, using static provider")
		c.cfg.Provider = "static"
		c.cfg.Registration.Enabled = false
	}
	if err := c.cfg.Validate(); err != nil {
		return errors.Configurationf("discovery config: %v", err)
	}

	backend, err := NewBackend(c.cfg, c.providerCfg, c.log)
	if err != nil {
		return err
	}
	if c.wrap != nil {
		backend = c.wrap(backend)
	}
	c.backend = backend

	resolverOpts := []ResolverOption{WithResolverLogger(c.log), WithResolverMetrics(c.metrics)}
	if c.store != nil {
		resolverOpts = append(resolverOpts, WithSnapshotStore(c.store))
	}
	c.resolver, err = NewResolver(backend, c.cfg.Resolver, resolverOpts...)
	if err != nil {
		return err
	}

	if c.cfg.Registration.Enabled {
		desc := c.cfg.Registration.Descriptor
		if desc.Host == "" {
			ip, err := getLocalIP()
			if err != nil {
				return errors.Configurationf("discovery: resolve local IP: %v", err)
			}
			desc.Host = ip
		}
		desc, err = NewRegistrationDescriptor(desc)
		if err != nil {
			return err
		}
		c.registrar, err = NewRegistrar(backend, desc, c.cfg.Registration.Registrar,
			WithRegistrarLogger(c.log), WithRegistrarMetrics(c.metrics))
		if err != nil {
			return err
		}
		if err := c.registrar.Start(ctx); err != nil {
			return err
		}
	}

	if err := c.resolver.Start(ctx); err != nil {
		return err
	}

	c.log.Info("discovery component started", logger.Fields(
		logger.FieldBackend, backend.Name(),
		"registration", c.registrar != nil,
	))
	return nil
}

// Deregister stops lease renewal and removes the local instance from the
// registry while the rest of the process keeps serving. Stop does not
// deregister again.
func (c *Component) Deregister(ctx context.Context) error {
	if c.registrar == nil {
		return nil
	}
	return c.registrar.Stop(ctx)
}

// Stop deregisters the local instance and stops background refreshes.
func (c *Component) Stop(ctx context.Context) error {
	c.log.Info("discovery component stopping")

	var errs []error
	if c.registrar != nil {
		errs = append(errs, c.registrar.Stop(ctx))
	}
	if c.resolver != nil {
		errs = append(errs, c.resolver.Stop(ctx))
	}
	return stderrors.Join(errs...)
}

// Health folds the registrar and resolver health.
func (c *Component) Health(ctx context.Context) component.Health {
	if c.resolver == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "discovery not initialized",
		}
	}

	if !c.cfg.Enabled {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusHealthy,
			Message: "disabled (static)",
		}
	}

	parts := []component.Health{c.resolver.Health(ctx)}
	if c.registrar != nil {
		parts = append(parts, c.registrar.Health(ctx))
	}
	h := component.Health{
		Name:    c.Name(),
		Status:  component.Overall(parts),
		Details: map[string]any{"backend": c.backend.Name()},
	}
	for _, p := range parts {
		h.Details[p.Name] = p
		if p.Status != component.StatusHealthy && h.Message == "" {
			h.Message = p.Message
		}
	}
	return h
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	desc := c.cfg.Registration.Descriptor
	details := fmt.Sprintf("provider=%s", c.cfg.Provider)
	if c.cfg.Registration.Enabled {
		details += " service=" + desc.ServiceName
	}
	return component.Description{
		Name:    "Discovery",
		Type:    "discovery",
		Details: details,
		Port:    desc.Port,
	}
}

func getLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
