package discovery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/discovery"
	dtestutil "github.com/kbukum/discoverykit/discovery/testutil"
	"github.com/kbukum/discoverykit/errors"
)

func newDescriptor(t *testing.T, ttl time.Duration) discovery.RegistrationDescriptor {
	t.Helper()
	d, err := discovery.NewRegistrationDescriptor(discovery.RegistrationDescriptor{
		InstanceID:  "orders-1",
		ServiceName: "orders",
		Host:        "10.0.0.1",
		Port:        8080,
		HealthCheck: discovery.HealthCheck{TTL: ttl},
	})
	if err != nil {
		t.Fatalf("NewRegistrationDescriptor() failed: %v", err)
	}
	return d
}

type transitionLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *transitionLog) record(from, to discovery.State) {
	l.mu.Lock()
	l.steps = append(l.steps, string(from)+">"+string(to))
	l.mu.Unlock()
}

func (l *transitionLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

func newRegistrar(t *testing.T, b discovery.Backend) (*discovery.Registrar, *transitionLog) {
	t.Helper()
	r, err := discovery.NewRegistrar(b, newDescriptor(t, 30*time.Second), discovery.RegistrarConfig{
		RenewInterval: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewRegistrar() failed: %v", err)
	}
	log := &transitionLog{}
	r.OnTransition(log.record)
	return r, log
}

func TestMaxMisses(t *testing.T) {
	tests := []struct {
		ttl, interval time.Duration
		want          int
	}{
		{30 * time.Second, 10 * time.Second, 2},
		{60 * time.Second, 10 * time.Second, 5},
		{30 * time.Second, 15 * time.Second, 1},
		{30 * time.Second, 29 * time.Second, 1},
		{30 * time.Second, 0, 1},
	}
	for _, tt := range tests {
		if got := discovery.MaxMisses(tt.ttl, tt.interval); got != tt.want {
			t.Errorf("MaxMisses(%s, %s) = %d, want %d", tt.ttl, tt.interval, got, tt.want)
		}
	}
}

func TestNewRegistrar_Configuration(t *testing.T) {
	d := newDescriptor(t, 30*time.Second)
	if _, err := discovery.NewRegistrar(nil, d, discovery.RegistrarConfig{}); !errors.IsConfiguration(err) {
		t.Errorf("nil backend: err = %v, want configuration error", err)
	}
	b := dtestutil.NewBackend()
	if _, err := discovery.NewRegistrar(b, discovery.RegistrationDescriptor{}, discovery.RegistrarConfig{}); !errors.IsConfiguration(err) {
		t.Errorf("empty descriptor: err = %v, want configuration error", err)
	}
	if _, err := discovery.NewRegistrar(b, d, discovery.RegistrarConfig{RenewInterval: time.Minute}); !errors.IsConfiguration(err) {
		t.Errorf("renew >= ttl: err = %v, want configuration error", err)
	}

	r, err := discovery.NewRegistrar(b, d, discovery.RegistrarConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if r.MaxMisses() != 2 {
		t.Errorf("default renew interval should be ttl/3, MaxMisses() = %d", r.MaxMisses())
	}
}

func TestRegistrar_ThreeTimeoutsThenSuccess(t *testing.T) {
	b := dtestutil.NewBackend()
	b.Fail(dtestutil.OpRegister, errors.Timeout("register"), errors.Timeout("register"), errors.Timeout("register"))
	r, log := newRegistrar(t, b)
	ctx := context.Background()

	var waits []time.Duration
	for i := 0; i < 4; i++ {
		waits = append(waits, r.Step(ctx))
	}

	if r.State() != discovery.StateRegistered {
		t.Fatalf("State() = %s, want REGISTERED", r.State())
	}
	if got := r.Attempts(); got != 4 {
		t.Errorf("Attempts() = %d, want 4", got)
	}
	if got := b.Calls(dtestutil.OpDeregister); got != 0 {
		t.Errorf("deregister calls = %d, want 0", got)
	}
	lease := r.Lease()
	if lease.Status != discovery.LeaseRegistered || lease.Sequence != 1 || lease.Token == "" {
		t.Errorf("unexpected lease %+v", lease)
	}
	for i := 0; i < 3; i++ {
		if waits[i] <= 0 || waits[i] > 30*time.Second {
			t.Errorf("backoff %d = %s, want within (0, 30s]", i, waits[i])
		}
	}
	if waits[3] != 10*time.Second {
		t.Errorf("after success next step in %s, want the renew interval", waits[3])
	}

	steps := log.all()
	want := []string{
		"UNREGISTERED>REGISTERING", "REGISTERING>FAILED",
		"FAILED>REGISTERING", "REGISTERING>FAILED",
		"FAILED>REGISTERING", "REGISTERING>FAILED",
		"FAILED>REGISTERING", "REGISTERING>REGISTERED",
	}
	if !equalIDs(steps, want) {
		t.Errorf("transitions = %v, want %v", steps, want)
	}
}

func TestRegistrar_RenewMissesNeverReRegister(t *testing.T) {
	ctx := context.Background()
	for misses := 0; misses <= 4; misses++ {
		b := dtestutil.NewBackend()
		r, _ := newRegistrar(t, b)
		if err := r.Register(ctx); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < misses; i++ {
			b.Fail(dtestutil.OpRenew, errors.Transport("renew", nil))
			r.Step(ctx)
			if s := r.State(); s != discovery.StateRegistered && s != discovery.StateRenewing {
				t.Fatalf("misses=%d: State() = %s", misses, s)
			}
		}

		lease := r.Lease()
		if lease.ConsecutiveMisses != misses {
			t.Errorf("misses=%d: ConsecutiveMisses = %d", misses, lease.ConsecutiveMisses)
		}
		if wantDown := misses > r.MaxMisses(); lease.Down != wantDown {
			t.Errorf("misses=%d: Down = %v, want %v", misses, lease.Down, wantDown)
		}
		if got := b.Calls(dtestutil.OpRegister); got != 1 {
			t.Errorf("misses=%d: register calls = %d, want 1", misses, got)
		}

		r.Step(ctx)
		lease = r.Lease()
		if r.State() != discovery.StateRegistered || lease.ConsecutiveMisses != 0 || lease.Down {
			t.Errorf("misses=%d: after a good renew state=%s lease=%+v", misses, r.State(), lease)
		}
	}
}

func TestRegistrar_UnknownInstanceRegistersOnce(t *testing.T) {
	b := dtestutil.NewBackend()
	r, log := newRegistrar(t, b)
	ctx := context.Background()
	if err := r.Register(ctx); err != nil {
		t.Fatal(err)
	}

	b.Evict("orders-1")
	if wait := r.Step(ctx); wait != 0 {
		t.Errorf("unknown instance should re-register immediately, wait = %s", wait)
	}
	if r.State() != discovery.StateRegistering {
		t.Fatalf("State() = %s, want REGISTERING", r.State())
	}
	if got := b.Calls(dtestutil.OpRegister); got != 1 {
		t.Fatalf("register calls before step = %d, want 1", got)
	}

	r.Step(ctx)
	if got := b.Calls(dtestutil.OpRegister); got != 2 {
		t.Errorf("register calls = %d, want exactly one more", got)
	}
	if r.State() != discovery.StateRegistered || !b.Registered("orders-1") {
		t.Errorf("State() = %s, registered=%v", r.State(), b.Registered("orders-1"))
	}
	if r.Lease().Sequence != 2 {
		t.Errorf("Sequence = %d, want 2", r.Lease().Sequence)
	}

	steps := log.all()
	if !contains(steps, "RENEWING>REGISTERING") {
		t.Errorf("transitions %v missing RENEWING>REGISTERING", steps)
	}
}

func TestRegistrar_UnknownInstanceThenRegisterFails(t *testing.T) {
	b := dtestutil.NewBackend()
	r, _ := newRegistrar(t, b)
	ctx := context.Background()
	_ = r.Register(ctx)

	b.Evict("orders-1")
	b.Fail(dtestutil.OpRegister, errors.Timeout("register"))
	r.Step(ctx) // renew: unknown
	r.Step(ctx) // register: timeout
	if r.State() != discovery.StateFailed {
		t.Fatalf("State() = %s, want FAILED", r.State())
	}
	r.Step(ctx) // register: ok
	if r.State() != discovery.StateRegistered {
		t.Fatalf("State() = %s, want REGISTERED", r.State())
	}
	if got := b.Calls(dtestutil.OpRegister); got != 3 {
		t.Errorf("register calls = %d, want 3", got)
	}
}

func TestRegistrar_CallTimeout(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetCallDelay(200 * time.Millisecond)
	r, err := discovery.NewRegistrar(b, newDescriptor(t, 30*time.Second), discovery.RegistrarConfig{
		CallTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	err = r.Register(context.Background())
	if !errors.IsTransport(err) {
		t.Errorf("err = %v, want transport timeout", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("register was not bounded by the call timeout")
	}
	if r.State() != discovery.StateFailed {
		t.Errorf("State() = %s, want FAILED", r.State())
	}
}

func TestRegistrar_DeregisterBestEffort(t *testing.T) {
	b := dtestutil.NewBackend()
	r, _ := newRegistrar(t, b)
	ctx := context.Background()

	if err := r.Deregister(ctx); err != nil || b.Calls(dtestutil.OpDeregister) != 0 {
		t.Errorf("deregister before registration should be a no-op, err=%v", err)
	}

	_ = r.Register(ctx)
	b.Fail(dtestutil.OpDeregister, errors.Transport("deregister", nil))
	if err := r.Deregister(ctx); !errors.IsTransport(err) {
		t.Errorf("err = %v, want transport", err)
	}
	if got := b.Calls(dtestutil.OpDeregister); got != 1 {
		t.Errorf("deregister calls = %d, want 1", got)
	}
	lease := r.Lease()
	if r.State() != discovery.StateUnregistered || lease.Status != discovery.LeaseDeregistered {
		t.Errorf("state=%s lease=%+v", r.State(), lease)
	}
}

func TestRegistrar_Health(t *testing.T) {
	b := dtestutil.NewBackend()
	r, _ := newRegistrar(t, b)
	ctx := context.Background()

	if h := r.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("before register: %s", h.Status)
	}
	_ = r.Register(ctx)
	if h := r.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("registered: %s", h.Status)
	}
	for i := 0; i <= r.MaxMisses(); i++ {
		b.Fail(dtestutil.OpRenew, errors.Transport("renew", nil))
		r.Step(ctx)
	}
	h := r.Health(ctx)
	if h.Status != component.StatusDegraded || !r.Lease().Down {
		t.Errorf("down lease: status=%s down=%v", h.Status, r.Lease().Down)
	}
}

func TestRegistrar_StartStop(t *testing.T) {
	b := dtestutil.NewBackend()
	r, err := discovery.NewRegistrar(b, newDescriptor(t, 300*time.Millisecond), discovery.RegistrarConfig{
		RenewInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Calls(dtestutil.OpRenew) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Calls(dtestutil.OpRenew) < 2 {
		t.Fatal("renew loop did not run")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if b.Registered("orders-1") {
		t.Error("instance still registered after Stop")
	}
	if got := b.Calls(dtestutil.OpDeregister); got != 1 {
		t.Errorf("deregister calls = %d, want 1", got)
	}
	if got := b.Calls(dtestutil.OpRegister); got != 1 {
		t.Errorf("register calls = %d, want 1", got)
	}
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
