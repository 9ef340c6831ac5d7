package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/resilience"
)

// TransitionFunc observes registrar state changes.
type TransitionFunc func(from, to State)

// Registrar drives the local instance through register, renew and
// deregister against one Backend.
//
// A failed registration is retried with backoff until Stop. A failed renewal
// only counts a miss; the instance is registered again only when the backend
// reports the instance as unknown.
type Registrar struct {
	backend   Backend
	desc      RegistrationDescriptor
	cfg       RegistrarConfig
	maxMisses int
	log       *logger.Logger
	metrics   Metrics
	now       func() time.Time

	mu           sync.Mutex
	state        State
	lease        LeaseState
	attempts     int
	failures     int
	deregistered bool
	observers    []TransitionFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// RegistrarOption customizes a Registrar.
type RegistrarOption func(*Registrar)

// WithRegistrarLogger sets the logger.
func WithRegistrarLogger(log *logger.Logger) RegistrarOption {
	return func(r *Registrar) { r.log = log }
}

// WithRegistrarMetrics sets the metrics sink.
func WithRegistrarMetrics(m Metrics) RegistrarOption {
	return func(r *Registrar) { r.metrics = m }
}

// NewRegistrar creates a Registrar for an already validated descriptor.
func NewRegistrar(backend Backend, desc RegistrationDescriptor, cfg RegistrarConfig, opts ...RegistrarOption) (*Registrar, error) {
	if backend == nil {
		return nil, errors.Configuration("registrar requires a backend")
	}
	if desc.InstanceID == "" || desc.ServiceName == "" {
		return nil, errors.Configuration("registrar requires a descriptor built by NewRegistrationDescriptor")
	}
	cfg.ApplyDefaults(desc.HealthCheck.TTL)
	if desc.HealthCheck.TTL > 0 && cfg.RenewInterval >= desc.HealthCheck.TTL {
		return nil, errors.Configurationf("renew interval %s must be shorter than ttl %s", cfg.RenewInterval, desc.HealthCheck.TTL)
	}

	r := &Registrar{
		backend:   backend,
		desc:      desc,
		cfg:       cfg,
		maxMisses: MaxMisses(desc.HealthCheck.TTL, cfg.RenewInterval),
		log:       logger.Nop(),
		metrics:   nopMetrics{},
		now:       time.Now,
		state:     StateUnregistered,
		lease:     LeaseState{InstanceID: desc.InstanceID, Status: LeasePending, State: StateUnregistered},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("registrar").WithFields(logger.Fields(
		logger.FieldBackend, backend.Name(),
		logger.FieldInstanceID, desc.InstanceID,
	))
	return r, nil
}

// OnTransition registers fn to be called after every state change.
func (r *Registrar) OnTransition(fn TransitionFunc) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Descriptor returns the registered descriptor.
func (r *Registrar) Descriptor() RegistrationDescriptor { return r.desc }

// MaxMisses returns the consecutive renewal failures tolerated before the
// lease is reported down.
func (r *Registrar) MaxMisses() int { return r.maxMisses }

// State returns the current state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Lease returns a copy of the lease bookkeeping.
func (r *Registrar) Lease() LeaseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lease
}

// Attempts returns the number of register calls made, failed or not.
func (r *Registrar) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Register makes one registration attempt. On failure the registrar is left
// FAILED; the background loop retries it.
func (r *Registrar) Register(ctx context.Context) error {
	switch r.State() {
	case StateRegistered, StateRenewing:
		return nil
	}
	r.transition(StateRegistering)

	callCtx, cancel := r.callContext(ctx, r.cfg.CallTimeout)
	token, err := r.backend.Register(callCtx, r.desc)
	err = classify(callCtx, "register", err)
	cancel()

	r.metrics.RegistrationAttempt(ctx, r.desc.ServiceName, err)

	r.mu.Lock()
	r.attempts++
	attempt := r.attempts
	if err != nil {
		r.failures++
		r.mu.Unlock()
		r.log.WithContext(ctx).Warn("registration failed", logger.Fields(
			logger.FieldAttempt, attempt,
			logger.FieldError, err.Error(),
		))
		r.transition(StateFailed)
		return err
	}
	r.failures = 0
	r.deregistered = false
	r.lease.Token = token
	r.lease.Sequence++
	r.lease.LastRenewal = r.now()
	r.lease.ConsecutiveMisses = 0
	wasDown := r.lease.Down
	r.lease.Down = false
	r.mu.Unlock()

	if wasDown {
		r.metrics.LeaseDown(r.desc.ServiceName, false)
	}
	r.log.WithContext(ctx).Info("instance registered", logger.Fields(logger.FieldAttempt, attempt))
	r.transition(StateRegistered)
	return nil
}

// Renew makes one renewal call. Failures count as misses; an unknown
// instance moves the registrar back to REGISTERING.
func (r *Registrar) Renew(ctx context.Context) error {
	switch r.State() {
	case StateRegistered, StateRenewing:
	default:
		return errors.Configurationf("renew called in state %s", r.State())
	}
	r.transition(StateRenewing)

	r.mu.Lock()
	token := r.lease.Token
	r.mu.Unlock()

	callCtx, cancel := r.callContext(ctx, r.cfg.CallTimeout)
	err := r.backend.Renew(callCtx, r.desc, token)
	err = classify(callCtx, "renew", err)
	cancel()

	r.metrics.Renewal(ctx, r.desc.ServiceName, err)
	log := r.log.WithContext(ctx)

	switch {
	case err == nil:
		r.mu.Lock()
		r.lease.LastRenewal = r.now()
		r.lease.ConsecutiveMisses = 0
		wasDown := r.lease.Down
		r.lease.Down = false
		r.mu.Unlock()
		if wasDown {
			r.metrics.LeaseDown(r.desc.ServiceName, false)
			log.Info("lease recovered")
		}
		r.transition(StateRegistered)
		return nil

	case errors.IsUnknownInstance(err):
		r.mu.Lock()
		r.lease.Token = ""
		r.lease.ConsecutiveMisses = 0
		r.mu.Unlock()
		log.Warn("registry no longer knows the instance, registering again", logger.ErrorFields("renew", err))
		r.transition(StateRegistering)
		return err

	default:
		r.mu.Lock()
		r.lease.ConsecutiveMisses++
		misses := r.lease.ConsecutiveMisses
		markDown := misses > r.maxMisses && !r.lease.Down
		if markDown {
			r.lease.Down = true
		}
		r.mu.Unlock()

		fields := logger.Fields(logger.FieldMisses, misses, logger.FieldError, err.Error())
		if markDown {
			r.metrics.LeaseDown(r.desc.ServiceName, true)
			log.Error("lease renewal missed past the ttl window, instance considered down", fields)
		} else {
			log.Warn("lease renewal failed", fields)
		}
		return err
	}
}

// Deregister removes the lease once. It is best-effort: failures are logged
// and never retried; the registry's own TTL reaps the entry.
func (r *Registrar) Deregister(ctx context.Context) error {
	switch r.State() {
	case StateRegistered, StateRenewing:
	default:
		return nil
	}
	r.transition(StateDeregistering)

	r.mu.Lock()
	token := r.lease.Token
	r.mu.Unlock()

	callCtx, cancel := r.callContext(ctx, r.cfg.DeregisterTimeout)
	err := r.backend.Deregister(callCtx, r.desc, token)
	err = classify(callCtx, "deregister", err)
	cancel()

	if err != nil {
		r.log.WithContext(ctx).Warn("deregistration failed", logger.ErrorFields("deregister", err))
	} else {
		r.log.WithContext(ctx).Info("instance deregistered")
	}

	r.mu.Lock()
	r.deregistered = true
	r.lease.Token = ""
	r.mu.Unlock()
	r.transition(StateUnregistered)
	return err
}

// step performs one iteration of the background loop and returns the delay
// before the next one.
func (r *Registrar) step(ctx context.Context) time.Duration {
	switch r.State() {
	case StateRegistered, StateRenewing:
		if err := r.Renew(ctx); errors.IsUnknownInstance(err) {
			return 0
		}
		return r.cfg.RenewInterval
	default:
		if err := r.Register(ctx); err != nil {
			r.mu.Lock()
			failures := r.failures
			r.mu.Unlock()
			wait := r.cfg.Backoff.Next(failures)
			r.log.Debug("registration retry scheduled", logger.Fields(
				logger.FieldAttempt, failures,
				logger.FieldBackoff, wait.String(),
			))
			return wait
		}
		return r.cfg.RenewInterval
	}
}

func (r *Registrar) run(ctx context.Context) {
	defer close(r.done)
	for {
		wait := r.step(ctx)
		if ctx.Err() != nil {
			return
		}
		if wait <= 0 {
			continue
		}
		if err := resilience.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// callContext keeps ctx values for tracing but detaches cancellation, so a
// call in flight at shutdown runs to completion or its own timeout.
func (r *Registrar) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (r *Registrar) transition(to State) {
	r.mu.Lock()
	from := r.state
	if from == to {
		r.mu.Unlock()
		return
	}
	r.state = to
	r.lease.State = to
	r.lease.Status = to.leaseStatus()
	if to == StateUnregistered && r.deregistered {
		r.lease.Status = LeaseDeregistered
	}
	observers := append([]TransitionFunc(nil), r.observers...)
	r.mu.Unlock()

	r.log.Debug("state changed", logger.Fields(logger.FieldFromState, string(from), logger.FieldState, string(to)))
	for _, fn := range observers {
		fn(from, to)
	}
}

// classify maps anything outside the error taxonomy to a transport error.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Timeout(op).WithCause(err)
	}
	return errors.Transport(op, err)
}

// --- component.Component ---

var _ component.Component = (*Registrar)(nil)

// Name returns the component name.
func (r *Registrar) Name() string { return "registrar" }

// Start launches the register/renew loop. Registration failures never fail
// Start; they are retried in the background.
func (r *Registrar) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.Configuration("registrar already started")
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(loopCtx)
	return nil
}

// Stop cancels the loop, waits for the call in flight and deregisters once.
func (r *Registrar) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	// Deregistration failures are already logged.
	_ = r.Deregister(ctx)
	return waitErr
}

// Health reports healthy only while registered and not down.
func (r *Registrar) Health(_ context.Context) component.Health {
	lease := r.Lease()
	h := component.Health{
		Name: r.Name(),
		Details: map[string]any{
			"state":              string(lease.State),
			"instance_id":        lease.InstanceID,
			"consecutive_misses": lease.ConsecutiveMisses,
			"sequence":           lease.Sequence,
		},
	}
	switch {
	case lease.State == StateRegistered && !lease.Down:
		h.Status = component.StatusHealthy
	case lease.State == StateUnregistered:
		h.Status = component.StatusUnhealthy
		h.Message = "not registered"
	case lease.Down:
		h.Status = component.StatusDegraded
		h.Message = "lease renewal missed past the ttl window"
	default:
		h.Status = component.StatusDegraded
		h.Message = "lease " + string(lease.Status)
	}
	return h
}

// Describe returns infrastructure summary info for the startup display.
func (r *Registrar) Describe() component.Description {
	return component.Description{
		Name:    "Registrar",
		Type:    "registrar",
		Details: r.backend.Name() + " " + r.desc.ServiceName + "/" + r.desc.InstanceID,
		Port:    r.desc.Port,
	}
}
