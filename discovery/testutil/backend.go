package testutil

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/testutil"
)

// Operations counted by Backend.Calls.
const (
	OpRegister   = "register"
	OpRenew      = "renew"
	OpDeregister = "deregister"
	OpQuery      = "query"
)

// Backend is an in-memory registry implementing discovery.Backend. Failures
// are scripted per operation: queued errors are returned by the next calls
// in order, then calls succeed again.
type Backend struct {
	mu        sync.Mutex
	started   bool
	blocking  bool
	services  map[string][]discovery.ServiceInstance
	index     map[string]uint64
	leases    map[string]discovery.RegistrationDescriptor
	failures  map[string][]error
	calls     map[string]int
	tokens    int
	changed   chan struct{}
	callDelay time.Duration
}

var _ component.Component = (*Backend)(nil)
var _ testutil.TestComponent = (*Backend)(nil)
var _ discovery.Backend = (*Backend)(nil)

func init() {
	discovery.RegisterBackendFactory("memory", func(_ discovery.Config, providerCfg any, _ *logger.Logger) (discovery.Backend, error) {
		if b, ok := providerCfg.(*Backend); ok {
			return b, nil
		}
		return NewBackend(), nil
	})
}

// NewBackend creates an empty in-memory registry.
func NewBackend() *Backend {
	b := &Backend{changed: make(chan struct{})}
	b.resetLocked()
	return b
}

func (b *Backend) resetLocked() {
	b.services = make(map[string][]discovery.ServiceInstance)
	b.index = make(map[string]uint64)
	b.leases = make(map[string]discovery.RegistrationDescriptor)
	b.failures = make(map[string][]error)
	b.calls = make(map[string]int)
}

// SetBlocking makes Query behave like a blocking registry.
func (b *Backend) SetBlocking(blocking bool) {
	b.mu.Lock()
	b.blocking = blocking
	b.mu.Unlock()
}

// SetCallDelay delays every call, honouring the call's context.
func (b *Backend) SetCallDelay(d time.Duration) {
	b.mu.Lock()
	b.callDelay = d
	b.mu.Unlock()
}

// AddInstance appends an instance to service and bumps its index.
func (b *Backend) AddInstance(service string, inst discovery.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst.ServiceName == "" {
		inst.ServiceName = service
	}
	b.services[service] = append(b.services[service], inst.Clone())
	b.bumpLocked(service)
}

// SetInstances replaces the instances of service and bumps its index.
func (b *Backend) SetInstances(service string, instances ...discovery.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := make([]discovery.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		list = append(list, inst.Clone())
	}
	b.services[service] = list
	b.bumpLocked(service)
}

// SetIndex forces the index reported for service.
func (b *Backend) SetIndex(service string, index uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index[service] = index
	b.notifyLocked()
}

// Fail queues errors returned by the next calls of op.
func (b *Backend) Fail(op string, errs ...error) {
	b.mu.Lock()
	b.failures[op] = append(b.failures[op], errs...)
	b.mu.Unlock()
}

// Evict forgets a lease as if the registry expired it.
func (b *Backend) Evict(instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.leases[instanceID]; ok {
		delete(b.leases, instanceID)
		b.removeLocked(d.ServiceName, instanceID)
	}
}

// Calls returns how many times op was invoked, failed calls included.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Registered reports whether instanceID holds a lease.
func (b *Backend) Registered(instanceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.leases[instanceID]
	return ok
}

// --- discovery.Backend ---

// Name returns the backend name.
func (b *Backend) Name() string { return "memory" }

// Register stores the lease and publishes the instance.
func (b *Backend) Register(ctx context.Context, d discovery.RegistrationDescriptor) (string, error) {
	if err := b.begin(ctx, OpRegister); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leases[d.InstanceID] = d
	b.removeLocked(d.ServiceName, d.InstanceID)
	b.services[d.ServiceName] = append(b.services[d.ServiceName], d.Instance())
	b.bumpLocked(d.ServiceName)
	b.tokens++
	return fmt.Sprintf("token-%d", b.tokens), nil
}

// Renew fails with an unknown-instance error for evicted leases.
func (b *Backend) Renew(ctx context.Context, d discovery.RegistrationDescriptor, _ string) error {
	if err := b.begin(ctx, OpRenew); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.leases[d.InstanceID]; !ok {
		return errors.UnknownInstance(d.ServiceName, d.InstanceID)
	}
	return nil
}

// Deregister removes the lease.
func (b *Backend) Deregister(ctx context.Context, d discovery.RegistrationDescriptor, _ string) error {
	if err := b.begin(ctx, OpDeregister); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.leases, d.InstanceID)
	b.removeLocked(d.ServiceName, d.InstanceID)
	return nil
}

// Query returns a copy of the instances of service. In blocking mode a query
// with the current index waits for a change, opts.WaitTime or ctx.
func (b *Backend) Query(ctx context.Context, service string, opts discovery.QueryOptions) (discovery.QueryResult, error) {
	if err := b.begin(ctx, OpQuery); err != nil {
		return discovery.QueryResult{}, err
	}

	b.mu.Lock()
	if b.blocking && opts.WaitIndex > 0 && opts.WaitIndex == b.index[service] {
		changed := b.changed
		b.mu.Unlock()

		wait := opts.WaitTime
		if wait <= 0 {
			wait = time.Minute
		}
		timer := time.NewTimer(wait)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return discovery.QueryResult{}, errors.Timeout(OpQuery)
		}
		timer.Stop()
		b.mu.Lock()
	}
	defer b.mu.Unlock()

	list := b.services[service]
	out := make([]discovery.ServiceInstance, len(list))
	for i, inst := range list {
		out[i] = inst.Clone()
	}
	return discovery.QueryResult{Instances: out, Index: b.index[service], Blocking: b.blocking}, nil
}

func (b *Backend) begin(ctx context.Context, op string) error {
	b.mu.Lock()
	b.calls[op]++
	var err error
	if q := b.failures[op]; len(q) > 0 {
		err = q[0]
		b.failures[op] = q[1:]
	}
	delay := b.callDelay
	b.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return errors.Timeout(op)
		}
	}
	return err
}

func (b *Backend) removeLocked(service, instanceID string) {
	list := b.services[service]
	out := make([]discovery.ServiceInstance, 0, len(list))
	for _, inst := range list {
		if inst.ID != instanceID {
			out = append(out, inst)
		}
	}
	if len(out) != len(list) {
		b.services[service] = out
		b.bumpLocked(service)
	}
}

func (b *Backend) bumpLocked(service string) {
	b.index[service]++
	b.notifyLocked()
}

func (b *Backend) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// --- component.Component ---

func (b *Backend) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("component already started")
	}
	b.started = true
	return nil
}

func (b *Backend) Stop(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	return nil
}

func (b *Backend) Health(_ context.Context) component.Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return component.Health{Name: b.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}
	return component.Health{Name: b.Name(), Status: component.StatusHealthy}
}

// --- testutil.TestComponent ---

func (b *Backend) Reset(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return fmt.Errorf("component not started")
	}
	b.resetLocked()
	b.notifyLocked()
	return nil
}

func (b *Backend) Snapshot(_ context.Context) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil, fmt.Errorf("component not started")
	}
	snap := &snapshot{
		services: make(map[string][]discovery.ServiceInstance, len(b.services)),
		index:    maps.Clone(b.index),
		leases:   maps.Clone(b.leases),
	}
	for k, v := range b.services {
		cp := make([]discovery.ServiceInstance, len(v))
		for i, inst := range v {
			cp[i] = inst.Clone()
		}
		snap.services[k] = cp
	}
	return snap, nil
}

func (b *Backend) Restore(_ context.Context, s interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return fmt.Errorf("component not started")
	}
	snap, ok := s.(*snapshot)
	if !ok {
		return fmt.Errorf("invalid snapshot type: expected *snapshot, got %T", s)
	}
	b.services = make(map[string][]discovery.ServiceInstance, len(snap.services))
	for k, v := range snap.services {
		b.services[k] = append([]discovery.ServiceInstance(nil), v...)
	}
	b.index = maps.Clone(snap.index)
	b.leases = maps.Clone(snap.leases)
	// Restored indexes must still move forward for blocking watchers.
	for service := range b.services {
		b.index[service]++
	}
	b.notifyLocked()
	return nil
}

type snapshot struct {
	services map[string][]discovery.ServiceInstance
	index    map[string]uint64
	leases   map[string]discovery.RegistrationDescriptor
}
