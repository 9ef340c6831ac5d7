package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/logger"
)

// App runs a daemon built from components. Components start in registration
// order and stop in reverse; OnStop hooks run before any of them stops.
//
//	app, err := bootstrap.NewApp(cfg)
//	app.RegisterComponent(disc)
//	app.OnStop(disc.Deregister)
//	err = app.Run(ctx)
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger
	Summary    *Summary

	gracefulTimeout time.Duration

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// NewApp applies the config defaults, validates it and builds the logger
// and the component registry.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	base := cfg.GetServiceConfig()
	o := resolveOptions(opts)

	log := o.logger
	if log == nil {
		log = logger.Init(base.Logging, base.Name)
	}
	timeout := 15 * time.Second
	if o.gracefulTimeout != nil {
		timeout = *o.gracefulTimeout
	}

	registry := component.NewRegistry(log)
	registry.SetStopTimeout(timeout)
	summary := NewSummary(base.Name, base.Version)
	if o.summaryOut != nil {
		summary.SetOutput(o.summaryOut)
	}

	return &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		Components:      registry,
		Logger:          log,
		Summary:         summary,
		gracefulTimeout: timeout,
	}, nil
}

// RegisterComponent adds c after the components registered so far.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// ReadyCheck fails unless every component reports healthy. A degraded
// component counts as not ready.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var notReady []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		s := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			s += " (" + h.Message + ")"
		}
		notReady = append(notReady, s)
	}
	if len(notReady) > 0 {
		return fmt.Errorf("components not ready: %s", strings.Join(notReady, ", "))
	}
	return nil
}

// Run starts the app, blocks until ctx is done or SIGINT/SIGTERM arrives
// and shuts down.
func (a *App[C]) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.Logger.Info("ready, waiting for shutdown signal")
	<-sigCtx.Done()

	return a.shutdown()
}

// RunTask starts the app, runs task under a context that a signal cancels
// and shuts down. The task error is returned in preference to a shutdown
// error.
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	taskCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	taskErr := task(taskCtx)
	stop()

	stopErr := a.shutdown()
	if taskErr != nil {
		return taskErr
	}
	return stopErr
}

func (a *App[C]) start(ctx context.Context) error {
	began := time.Now()
	a.Logger.Info("starting", logger.Fields("name", a.Name, "version", a.Version))

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("starting components: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		return a.abort(fmt.Errorf("onStart hook failed: %w", err))
	}
	// A degraded resolver still serves stale membership.
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("ready check reported issues", logger.ErrorFields("ready_check", err))
	}
	if err := runHooks(ctx, a.onReady); err != nil {
		return a.abort(fmt.Errorf("onReady hook failed: %w", err))
	}

	a.Summary.SetStartupDuration(time.Since(began))
	a.Summary.DisplaySummary(a.Components, a.Logger)
	return nil
}

// abort stops the started components after a failed startup hook.
func (a *App[C]) abort(err error) error {
	if stopErr := a.shutdown(); stopErr != nil {
		return errors.Join(err, stopErr)
	}
	return err
}

// shutdown runs the OnStop hooks while every component is still up, then
// stops the components within the graceful timeout.
func (a *App[C]) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()
	a.Logger.Info("shutting down", logger.Fields("timeout", a.gracefulTimeout.String()))

	hookErr := runHooks(ctx, a.onStop)
	if hookErr != nil {
		a.Logger.Error("onStop hook failed", logger.ErrorFields("shutdown", hookErr))
	}
	stopErr := a.Components.StopAll(ctx)
	if stopErr != nil {
		a.Logger.Error("stopping components failed", logger.ErrorFields("shutdown", stopErr))
	}

	a.Logger.Info("shutdown complete")
	return errors.Join(hookErr, stopErr)
}
