package configsource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/resilience"
)

// Component fetches the remote configuration once on Start and exposes it
// through a Resolver.
type Component struct {
	cfg         Config
	providerCfg any
	defaults    map[string]any
	log         *logger.Logger

	mu       sync.RWMutex
	source   Source
	resolver *Resolver
	lastErr  error
}

var _ component.Component = (*Component)(nil)

// NewComponent creates the component. defaults are the local values
// consulted after every remote source.
func NewComponent(cfg Config, providerCfg any, defaults map[string]any, log *logger.Logger) *Component {
	if log == nil {
		log = logger.Nop()
	}
	return &Component{
		cfg:         cfg,
		providerCfg: providerCfg,
		defaults:    defaults,
		log:         log.WithComponent("configsource"),
		resolver:    NewResolver(nil, defaults),
	}
}

// Name returns the component name.
func (c *Component) Name() string { return "configsource" }

// Resolver returns the current resolver. Before Start, or when disabled, it
// holds only the local defaults.
func (c *Component) Resolver() *Resolver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver
}

// Start fetches the remote property sources. A second Start is a no-op so
// the component can be started before the application registry runs.
func (c *Component) Start(ctx context.Context) error {
	c.cfg.ApplyDefaults()
	if err := c.cfg.Validate(); err != nil {
		return errors.Configuration(err.Error())
	}
	if !c.cfg.Enabled {
		c.log.Info("config source disabled, using local configuration")
		return nil
	}
	c.mu.RLock()
	started := c.source != nil
	c.mu.RUnlock()
	if started {
		return nil
	}

	src, err := NewSource(c.cfg, c.providerCfg, c.log)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	sources, err := c.Fetch(ctx)
	if err != nil {
		c.mu.Lock()
		c.source = nil
		c.mu.Unlock()
		return err
	}
	c.mu.RLock()
	fetchErr := c.lastErr
	c.mu.RUnlock()
	if fetchErr != nil {
		// Fetch already logged the fallback to local configuration.
		return nil
	}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name)
	}
	c.log.Info("remote configuration loaded", logger.Fields(
		"source", src.Name(),
		"application", c.cfg.Application,
		"property_sources", strings.Join(names, ","),
	))
	return nil
}

// Fetch queries the source again and replaces the resolver. Failures keep
// the previous resolver unless FailFast is set.
func (c *Component) Fetch(ctx context.Context) ([]PropertySource, error) {
	c.mu.RLock()
	src := c.source
	c.mu.RUnlock()
	if src == nil {
		return nil, errors.Configuration("configsource: not started")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout())
	defer cancel()
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = c.cfg.RetryAttempts
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.log.Debug("retrying configuration fetch", logger.Fields(
			logger.FieldAttempt, attempt,
			logger.FieldError, err.Error(),
			"wait", wait.String(),
		))
	}
	sources, err := resilience.Retry(fetchCtx, retry, func() ([]PropertySource, error) {
		return src.Fetch(fetchCtx, c.cfg.Application, c.cfg.Profiles)
	})
	if err == nil && len(sources) == 0 && c.cfg.FailFast {
		err = errors.NotFound("configuration", c.cfg.Application)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		if c.cfg.FailFast {
			return nil, errors.Configurationf("configsource %s: fetch %s: %v", src.Name(), c.cfg.Application, err).WithCause(err)
		}
		c.log.Warn("remote configuration unavailable, using local configuration", logger.ErrorFields("fetch", err))
		return nil, nil
	}
	c.resolver = NewResolver(sources, c.defaults)
	return sources, nil
}

// Stop is a no-op; sources hold no background work.
func (c *Component) Stop(_ context.Context) error { return nil }

// Health reports degraded after a failed fetch.
func (c *Component) Health(_ context.Context) component.Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	switch {
	case !c.cfg.Enabled:
		h.Message = "disabled"
	case c.source == nil:
		h.Status = component.StatusUnhealthy
		h.Message = "not started"
	case c.lastErr != nil:
		h.Status = component.StatusDegraded
		h.Message = c.lastErr.Error()
	default:
		h.Details = map[string]any{"property_sources": len(c.resolver.sources)}
	}
	return h
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	details := "disabled"
	if c.cfg.Enabled {
		details = fmt.Sprintf("provider=%s application=%s profiles=%s",
			c.cfg.Provider, c.cfg.Application, strings.Join(c.cfg.Profiles, ","))
	}
	return component.Description{Name: "Config Source", Type: "configsource", Details: details}
}
