package server

import (
	"context"
	"fmt"

	"github.com/kbukum/discoverykit/component"
)

const componentName = "http-server"

var (
	_ component.Component   = (*ServerComponent)(nil)
	_ component.Describable = (*ServerComponent)(nil)
)

// ServerComponent wraps Server to implement component.Component.
type ServerComponent struct {
	server  *Server
	setup   []func(*Server)
	started bool
}

// ComponentOption configures a ServerComponent.
type ComponentOption func(*ServerComponent)

// WithSetup runs fn on the server right before it starts listening. Routes
// that read from other components are registered this way, after those
// components have started.
func WithSetup(fn func(*Server)) ComponentOption {
	return func(sc *ServerComponent) { sc.setup = append(sc.setup, fn) }
}

// NewComponent returns a component.Component backed by the given Server.
func NewComponent(s *Server, opts ...ComponentOption) *ServerComponent {
	sc := &ServerComponent{server: s}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Name returns the component name used for registration.
func (sc *ServerComponent) Name() string { return componentName }

// Server returns the wrapped server.
func (sc *ServerComponent) Server() *Server { return sc.server }

// Start starts the underlying HTTP server.
func (sc *ServerComponent) Start(ctx context.Context) error {
	for _, fn := range sc.setup {
		fn(sc.server)
	}
	sc.setup = nil
	if err := sc.server.Start(ctx); err != nil {
		return err
	}
	sc.started = true
	return nil
}

// Stop gracefully shuts down the underlying HTTP server.
func (sc *ServerComponent) Stop(ctx context.Context) error {
	if !sc.started {
		return nil
	}
	sc.started = false
	return sc.server.Stop(ctx)
}

// Health returns the health status of the server.
func (sc *ServerComponent) Health(_ context.Context) component.Health {
	if !sc.started {
		return component.Health{
			Name:    componentName,
			Status:  component.StatusUnhealthy,
			Message: "HTTP server not started",
		}
	}
	return component.Health{
		Name:    componentName,
		Status:  component.StatusHealthy,
		Details: map[string]any{"addr": sc.server.Addr()},
	}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (sc *ServerComponent) Describe() component.Description {
	cfg := sc.server.config
	return component.Description{
		Name:    "HTTP Server",
		Type:    "server",
		Details: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Port:    cfg.Port,
	}
}
