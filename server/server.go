package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/server/endpoint"
	"github.com/kbukum/discoverykit/server/middleware"
)

// Server serves the inspection API of a discoverykit process: health probes,
// resolved memberships, the local lease and the effective configuration.
// It is backed by Gin and accepts HTTP/2 cleartext.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *Config
	log        *logger.Logger

	mu          sync.Mutex
	middlewares []middleware.Middleware
	addr        string
}

// New creates a new Server. No middleware is applied yet; call
// ApplyMiddleware before Start.
func New(cfg *Config, log *logger.Logger) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine: gin.New(),
		config: cfg,
		log:    log.WithComponent("server"),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}
	return s
}

// GinEngine returns the underlying Gin engine for route registration.
func (s *Server) GinEngine() *gin.Engine {
	return s.engine
}

// Use appends middleware wrapped around the whole engine.
func (s *Server) Use(m ...middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, m...)
}

// Handler returns the engine wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return middleware.Chain(s.middlewares...)(s.engine)
}

// Start binds the port and begins serving. It returns once the listener is
// bound so the caller knows the port is ready; serving continues in a goroutine.
func (s *Server) Start(_ context.Context) error {
	s.log.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          time.Duration(s.config.IdleTimeout) * time.Second,
	}
	s.httpServer.Handler = h2c.NewHandler(s.Handler(), h2s)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	s.log.Info("HTTP server started", map[string]interface{}{
		"addr": s.Addr(),
	})
	return nil
}

// Stop gracefully shuts down the server with a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.log.Info("HTTP server shut down successfully")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	return s.httpServer.Addr
}

// ApplyMiddleware installs the standard stack: recovery, request id,
// optional tracing, CORS and request logging.
func (s *Server) ApplyMiddleware() {
	s.Use(middleware.Recovery(s.log), middleware.RequestID())
	if s.config.Tracing {
		s.Use(middleware.Tracing(nil))
	}
	s.Use(middleware.CORS(&s.config.CORS), middleware.RequestLogger(s.log))
}

// Endpoints carries what the inspection routes read from. Nil fields leave
// the matching routes unregistered, except Lease which answers 404.
type Endpoints struct {
	Info     endpoint.ServiceInfo
	Checker  endpoint.HealthChecker
	Resolver endpoint.InstanceResolver
	Lease    endpoint.LeaseReporter
	Config   func() endpoint.PropertyLookup
}

// RegisterDefaultEndpoints registers the probe, info, discovery and config
// routes.
func (s *Server) RegisterDefaultEndpoints(e Endpoints) {
	s.engine.GET("/health", endpoint.Health(e.Info.Name, e.Checker))
	s.engine.GET("/alive", endpoint.Liveness(e.Info.Name))
	s.engine.GET("/ready", endpoint.Readiness(e.Info.Name, e.Checker))

	var instanceID func() string
	if e.Lease != nil {
		lease := e.Lease
		instanceID = func() string { return lease.Lease().InstanceID }
	}
	s.engine.GET("/info", endpoint.Info(e.Info, instanceID))

	d := s.engine.Group("/discovery")
	if e.Resolver != nil {
		d.GET("/services", endpoint.Services(e.Resolver))
		d.GET("/services/:name", endpoint.Instances(e.Resolver))
		if w, ok := e.Resolver.(endpoint.MembershipWatcher); ok {
			d.GET("/watch/:name", endpoint.Watch(w, 0, s.log))
		}
	}
	d.GET("/lease", endpoint.Lease(e.Lease))

	if e.Config != nil {
		s.engine.GET("/config", endpoint.ConfigKeys(e.Config))
		s.engine.GET("/config/:key", endpoint.ConfigValue(e.Config))
	}
}
