package consul

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/errors"
)

// fakeAgent is a minimal Consul agent: service registration, TTL checks and
// blocking health queries.
type fakeAgent struct {
	mu       sync.Mutex
	services map[string]*api.AgentServiceRegistration
	checks   map[string]string
	nodeMeta map[string]string
	index    uint64
	changed  chan struct{}
	fail     map[string]int
	calls    map[string]int
}

func newFakeAgent(t *testing.T) (*fakeAgent, *httptest.Server) {
	t.Helper()
	a := &fakeAgent{
		services: make(map[string]*api.AgentServiceRegistration),
		checks:   make(map[string]string),
		nodeMeta: map[string]string{"rack": "r1"},
		index:    1,
		changed:  make(chan struct{}),
		fail:     make(map[string]int),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/agent/service/register", a.guard("register", a.register))
	mux.HandleFunc("PUT /v1/agent/service/deregister/{id}", a.guard("deregister", a.deregister))
	mux.HandleFunc("PUT /v1/agent/check/update/{id}", a.guard("update", a.update))
	mux.HandleFunc("GET /v1/agent/service/{id}", a.guard("service", a.service))
	mux.HandleFunc("GET /v1/agent/services", a.guard("services", a.list))
	mux.HandleFunc("GET /v1/health/service/{name}", a.guard("health", a.health))
	mux.HandleFunc("GET /v1/status/leader", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode("10.0.0.1:8300")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return a, srv
}

func (a *fakeAgent) guard(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls[op]++
		fail := a.fail[op] > 0
		if fail {
			a.fail[op]--
		}
		a.mu.Unlock()
		if fail {
			http.Error(w, "agent unavailable", http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func (a *fakeAgent) bumpLocked() {
	a.index++
	close(a.changed)
	a.changed = make(chan struct{})
}

func (a *fakeAgent) register(w http.ResponseWriter, r *http.Request) {
	var reg api.AgentServiceRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services[reg.ID] = &reg
	if reg.Check != nil {
		a.checks[reg.Check.CheckID] = api.HealthCritical
	}
	a.bumpLocked()
}

func (a *fakeAgent) deregister(_ http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := r.PathValue("id")
	delete(a.services, id)
	delete(a.checks, CheckID(id))
	a.bumpLocked()
}

func (a *fakeAgent) update(w http.ResponseWriter, r *http.Request) {
	var body struct{ Status, Output string }
	_ = json.NewDecoder(r.Body).Decode(&body)
	a.mu.Lock()
	defer a.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := a.checks[id]; !ok {
		http.Error(w, "Unknown check ID", http.StatusNotFound)
		return
	}
	a.checks[id] = body.Status
	a.bumpLocked()
}

func (a *fakeAgent) service(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	reg, ok := a.services[r.PathValue("id")]
	a.mu.Unlock()
	if !ok {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(api.AgentService{ID: reg.ID, Service: reg.Name, Address: reg.Address, Port: reg.Port})
}

func (a *fakeAgent) list(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]api.AgentService, len(a.services))
	for id, reg := range a.services {
		out[id] = api.AgentService{ID: id, Service: reg.Name}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (a *fakeAgent) health(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if idx, _ := strconv.ParseUint(r.URL.Query().Get("index"), 10, 64); idx > 0 && idx == a.index {
		changed := a.changed
		a.mu.Unlock()
		wait, err := time.ParseDuration(r.URL.Query().Get("wait"))
		if err != nil || wait <= 0 {
			wait = time.Second
		}
		select {
		case <-changed:
		case <-time.After(wait):
		case <-r.Context().Done():
			return
		}
		a.mu.Lock()
	}
	defer a.mu.Unlock()

	entries := []*api.ServiceEntry{}
	for _, id := range sortedIDs(a.services) {
		reg := a.services[id]
		if reg.Name != r.PathValue("name") {
			continue
		}
		e := &api.ServiceEntry{
			Node:    &api.Node{Node: "node-1", Address: "10.0.0.99", Meta: a.nodeMeta},
			Service: &api.AgentService{ID: reg.ID, Service: reg.Name, Address: reg.Address, Port: reg.Port, Tags: reg.Tags, Meta: reg.Meta},
		}
		if status, ok := a.checks[CheckID(id)]; ok {
			e.Checks = api.HealthChecks{{CheckID: CheckID(id), Status: status}}
		}
		entries = append(entries, e)
	}
	w.Header().Set("X-Consul-Index", strconv.FormatUint(a.index, 10))
	w.Header().Set("X-Consul-KnownLeader", "true")
	w.Header().Set("X-Consul-LastContact", "0")
	_ = json.NewEncoder(w).Encode(entries)
}

func sortedIDs(m map[string]*api.AgentServiceRegistration) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func newTestBackend(t *testing.T, srv *httptest.Server) *Backend {
	t.Helper()
	b, err := New(Config{Address: srv.URL, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return b
}

func descriptor(t *testing.T, d discovery.RegistrationDescriptor) discovery.RegistrationDescriptor {
	t.Helper()
	if d.ServiceName == "" {
		d.ServiceName = "orders"
	}
	if d.Host == "" {
		d.Host = "10.0.0.1"
	}
	if d.Port == 0 {
		d.Port = 8080
	}
	out, err := discovery.NewRegistrationDescriptor(d)
	if err != nil {
		t.Fatalf("NewRegistrationDescriptor() failed: %v", err)
	}
	return out
}

func TestBackend_RegisterTTL(t *testing.T) {
	agent, srv := newFakeAgent(t)
	b := newTestBackend(t, srv)
	d := descriptor(t, discovery.RegistrationDescriptor{
		InstanceID: "orders-1",
		Zone:       "eu-1",
		Tags:       []string{"api"},
		Metadata:   map[string]string{"version": "1"},
		HealthCheck: discovery.HealthCheck{
			TTL:                     30 * time.Second,
			DeregisterCriticalAfter: time.Minute,
		},
	})

	token, err := b.Register(context.Background(), d)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if token != "service:orders-1" {
		t.Errorf("token = %q", token)
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()
	reg := agent.services["orders-1"]
	if reg == nil {
		t.Fatal("service not registered")
	}
	for _, tag := range []string{"api", "version=1", "zone=eu-1"} {
		if !slices.Contains(reg.Tags, tag) {
			t.Errorf("tags %v missing %q", reg.Tags, tag)
		}
	}
	if reg.Meta["zone"] != "eu-1" || reg.Meta["secure"] != "false" || reg.Meta["version"] != "1" {
		t.Errorf("meta = %v", reg.Meta)
	}
	if reg.Check.TTL != "30s" || reg.Check.CheckID != "service:orders-1" || reg.Check.DeregisterCriticalServiceAfter != "1m0s" {
		t.Errorf("check = %+v", reg.Check)
	}
	if agent.checks["service:orders-1"] != api.HealthPassing {
		t.Errorf("check status = %q, want passing after register", agent.checks["service:orders-1"])
	}
}

func TestBackend_RegisterHTTPCheck(t *testing.T) {
	agent, srv := newFakeAgent(t)
	b := newTestBackend(t, srv)
	d := descriptor(t, discovery.RegistrationDescriptor{
		InstanceID:  "orders-1",
		Port:        8443,
		Secure:      true,
		HealthCheck: discovery.HealthCheck{Kind: discovery.CheckHTTP},
	})

	if _, err := b.Register(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	agent.mu.Lock()
	check := agent.services["orders-1"].Check
	updates := agent.calls["update"]
	agent.mu.Unlock()
	if check.HTTP != "https://10.0.0.1:8443/health" || check.Interval != "10s" || check.Timeout != "5s" || check.TTL != "" {
		t.Errorf("check = %+v", check)
	}
	if updates != 0 {
		t.Errorf("HTTP-checked registration passed a TTL %d times", updates)
	}

	if err := b.Renew(context.Background(), d, ""); err != nil {
		t.Errorf("Renew() = %v", err)
	}
}

func TestBackend_Renew(t *testing.T) {
	agent, srv := newFakeAgent(t)
	b := newTestBackend(t, srv)
	d := descriptor(t, discovery.RegistrationDescriptor{InstanceID: "orders-1"})
	ctx := context.Background()

	token, err := b.Register(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Renew(ctx, d, token); err != nil {
		t.Fatalf("Renew() failed: %v", err)
	}

	agent.mu.Lock()
	agent.fail["update"] = 1
	agent.mu.Unlock()
	if err := b.Renew(ctx, d, token); !errors.IsTransport(err) {
		t.Errorf("Renew() on 500 = %v, want transport error", err)
	}

	agent.mu.Lock()
	delete(agent.services, "orders-1")
	delete(agent.checks, token)
	agent.mu.Unlock()
	if err := b.Renew(ctx, d, token); !errors.IsUnknownInstance(err) {
		t.Errorf("Renew() after eviction = %v, want unknown instance", err)
	}
}

func TestBackend_QueryAndDeregister(t *testing.T) {
	_, srv := newFakeAgent(t)
	b := newTestBackend(t, srv)
	ctx := context.Background()

	up := descriptor(t, discovery.RegistrationDescriptor{InstanceID: "a", Tags: []string{"env=prod"}})
	down := descriptor(t, discovery.RegistrationDescriptor{InstanceID: "b", Port: 8081})
	if _, err := b.Register(ctx, up); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Register(ctx, down); err != nil {
		t.Fatal(err)
	}
	if err := b.client.Agent().UpdateTTL(CheckID("b"), "", api.HealthCritical); err != nil {
		t.Fatal(err)
	}

	res, err := b.Query(ctx, "orders", discovery.QueryOptions{})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if !res.Blocking || res.Index == 0 || len(res.Instances) != 2 {
		t.Fatalf("Query() = %+v", res)
	}
	a, bInst := res.Instances[0], res.Instances[1]
	if a.ID != "a" || a.Status != discovery.StatusUp || a.Port != 8080 || a.ServiceName != "orders" {
		t.Errorf("a = %+v", a)
	}
	if a.Metadata["rack"] != "r1" || a.Metadata["env"] != "prod" || a.Metadata["secure"] != "false" {
		t.Errorf("a metadata = %v", a.Metadata)
	}
	if bInst.ID != "b" || bInst.Status != discovery.StatusDown {
		t.Errorf("b = %+v", bInst)
	}

	if err := b.Deregister(ctx, down, ""); err != nil {
		t.Fatalf("Deregister() failed: %v", err)
	}
	res, _ = b.Query(ctx, "orders", discovery.QueryOptions{})
	if len(res.Instances) != 1 || res.Instances[0].ID != "a" {
		t.Errorf("after deregister = %+v", res.Instances)
	}
}

func TestBackend_BlockingQuery(t *testing.T) {
	_, srv := newFakeAgent(t)
	b := newTestBackend(t, srv)
	ctx := context.Background()

	first, err := b.Query(ctx, "orders", discovery.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan discovery.QueryResult, 1)
	go func() {
		res, _ := b.Query(ctx, "orders", discovery.QueryOptions{WaitIndex: first.Index, WaitTime: 5 * time.Second})
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("blocking query returned before a change")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := b.Register(ctx, descriptor(t, discovery.RegistrationDescriptor{InstanceID: "a"})); err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-done:
		if res.Index <= first.Index || len(res.Instances) != 1 {
			t.Errorf("blocking result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocking query did not return after a change")
	}
}

func TestBackend_QueryUnreachable(t *testing.T) {
	b, err := New(Config{Address: "127.0.0.1:1", Timeout: 200 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.Query(ctx, "orders", discovery.QueryOptions{}); !errors.IsTransport(err) {
		t.Errorf("Query() = %v, want transport error", err)
	}
	if h := b.Health(ctx); h.Status == component.StatusHealthy {
		t.Errorf("Health() = %+v", h)
	}
}

func TestBackend_Health(t *testing.T) {
	_, srv := newFakeAgent(t)
	b := newTestBackend(t, srv)
	if h := b.Health(context.Background()); h.Status != component.StatusHealthy || h.Details["leader"] != "10.0.0.1:8300" {
		t.Errorf("Health() = %+v", h)
	}
}

func TestFactory(t *testing.T) {
	_, srv := newFakeAgent(t)
	backend, err := discovery.NewBackend(discovery.Config{Provider: "consul"}, &Config{Address: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewBackend() failed: %v", err)
	}
	if backend.Name() != "consul" {
		t.Errorf("Name() = %q", backend.Name())
	}

	_, err = discovery.NewBackend(discovery.Config{Provider: "consul"}, &Config{Scheme: "ftp"}, nil)
	if !errors.IsConfiguration(err) {
		t.Errorf("NewBackend(bad scheme) = %v, want configuration error", err)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks api.HealthChecks
		want   discovery.Status
	}{
		{"no checks", nil, discovery.StatusUnknown},
		{"all passing", api.HealthChecks{{Status: api.HealthPassing}, {Status: api.HealthPassing}}, discovery.StatusUp},
		{"warning", api.HealthChecks{{Status: api.HealthWarning}}, discovery.StatusUp},
		{"one critical", api.HealthChecks{{Status: api.HealthPassing}, {Status: api.HealthCritical}}, discovery.StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status(tt.checks); got != tt.want {
				t.Errorf("status() = %s, want %s", got, tt.want)
			}
		})
	}
}
