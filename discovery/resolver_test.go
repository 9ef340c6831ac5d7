package discovery_test

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/discovery"
	dtestutil "github.com/kbukum/discoverykit/discovery/testutil"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func up(id string, port int) discovery.ServiceInstance {
	return discovery.ServiceInstance{ID: id, Host: "10.0.0.1", Port: port, Status: discovery.StatusUp}
}

func newResolver(t *testing.T, b discovery.Backend, cfg discovery.ResolverConfig, opts ...discovery.ResolverOption) *discovery.Resolver {
	t.Helper()
	r, err := discovery.NewResolver(b, cfg, opts...)
	if err != nil {
		t.Fatalf("NewResolver() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
}

func TestResolver_HealthFilterScenario(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders",
		discovery.ServiceInstance{ID: "a", Host: "10.0.0.1", Port: 8080, Status: discovery.StatusUp},
		discovery.ServiceInstance{ID: "b", Host: "10.0.0.2", Port: 8081, Status: discovery.StatusDown},
	)
	r := newResolver(t, b, discovery.ResolverConfig{HealthyOnly: true})

	got := r.Resolve(context.Background(), "orders")
	if len(got) != 1 || got[0].ID != "a" || got[0].Port != 8080 {
		t.Fatalf("Resolve() = %+v, want only a", got)
	}
}

func TestResolver_FreshServedFromCache(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1))
	clock := newFakeClock()
	r := newResolver(t, b, discovery.ResolverConfig{StaleAfter: time.Minute})
	r.SetClock(clock.Now)
	ctx := context.Background()

	r.Resolve(ctx, "orders")
	clock.Advance(30 * time.Second)
	r.Resolve(ctx, "orders")
	if got := b.Calls(dtestutil.OpQuery); got != 1 {
		t.Errorf("query calls = %d, want 1 while fresh", got)
	}

	b.SetInstances("orders", up("a", 1), up("b", 2))
	clock.Advance(31 * time.Second)
	got := r.Resolve(ctx, "orders")
	if b.Calls(dtestutil.OpQuery) != 2 || len(got) != 2 {
		t.Errorf("stale entry: calls=%d instances=%v", b.Calls(dtestutil.OpQuery), ids(got))
	}
}

func TestResolver_ServeStale(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1), up("b", 2))
	clock := newFakeClock()
	r := newResolver(t, b, discovery.ResolverConfig{StaleAfter: time.Second})
	r.SetClock(clock.Now)
	ctx := context.Background()

	if got := r.Resolve(ctx, "orders"); len(got) != 2 {
		t.Fatalf("initial Resolve() = %v", ids(got))
	}

	for i := 0; i < 5; i++ {
		b.Fail(dtestutil.OpQuery, errors.Transport("query", nil), errors.Malformed("memory", nil))
		clock.Advance(2 * time.Second)
		got := r.Resolve(ctx, "orders")
		if !equalIDs(ids(got), []string{"a", "b"}) {
			t.Fatalf("round %d: Resolve() = %v, want last known [a b]", i, ids(got))
		}
	}

	snap, ok := r.Snapshot("orders")
	if !ok || snap.Freshness != discovery.Failed || len(snap.Instances) != 2 {
		t.Errorf("Snapshot() = %+v, %v", snap, ok)
	}
	if h := r.Health(ctx); h.Status != component.StatusDegraded {
		t.Errorf("Health() = %s, want degraded", h.Status)
	}
}

func TestResolver_NeverRefreshedIsEmpty(t *testing.T) {
	b := dtestutil.NewBackend()
	b.Fail(dtestutil.OpQuery, errors.Transport("query", nil))
	r := newResolver(t, b, discovery.ResolverConfig{})

	if got := r.Resolve(context.Background(), "orders"); len(got) != 0 {
		t.Errorf("Resolve() = %v, want empty", ids(got))
	}
	if _, err := r.ResolveOne(context.Background(), "orders", ""); !errors.IsNotFound(err) {
		t.Errorf("ResolveOne() err = %v, want not found", err)
	}
}

func TestResolver_SyncTimeoutFallsBack(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1))
	r := newResolver(t, b, discovery.ResolverConfig{SyncTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	r.Resolve(ctx, "orders")

	b.SetCallDelay(500 * time.Millisecond)
	r.Invalidate("orders")
	start := time.Now()
	got := r.Resolve(ctx, "orders")
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("Resolve() took %s, want bounded by the sync timeout", elapsed)
	}
	if !equalIDs(ids(got), []string{"a"}) {
		t.Errorf("Resolve() = %v, want stale [a]", ids(got))
	}
}

func TestResolver_SingleFlight(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1))
	b.SetCallDelay(200 * time.Millisecond)
	r := newResolver(t, b, discovery.ResolverConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := r.Resolve(context.Background(), "orders"); len(got) != 1 {
				t.Errorf("Resolve() = %v", ids(got))
			}
		}()
	}
	wg.Wait()
	if got := b.Calls(dtestutil.OpQuery); got != 1 {
		t.Errorf("query calls = %d, want 1", got)
	}
}

func TestResolver_AtomicReplace(t *testing.T) {
	b := dtestutil.NewBackend()
	generation := func(g int) []discovery.ServiceInstance {
		out := make([]discovery.ServiceInstance, 5)
		for i := range out {
			out[i] = up(fmt.Sprintf("g%d-%d", g, i), 8000+i)
		}
		return out
	}
	b.SetInstances("orders", generation(0)...)
	r := newResolver(t, b, discovery.ResolverConfig{})
	ctx := context.Background()
	r.Resolve(ctx, "orders")

	stop := make(chan struct{})
	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		for g := 1; ; g++ {
			select {
			case <-stop:
				return
			default:
			}
			b.SetInstances("orders", generation(g)...)
			r.Invalidate("orders")
			r.Resolve(ctx, "orders")
		}
	}()

	var readers sync.WaitGroup
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for n := 0; n < 500; n++ {
				got := r.Resolve(ctx, "orders")
				if len(got) != 5 {
					t.Errorf("partial snapshot of %d instances", len(got))
					return
				}
				prefix, _, _ := strings.Cut(got[0].ID, "-")
				for _, inst := range got {
					if !strings.HasPrefix(inst.ID, prefix+"-") {
						t.Errorf("mixed snapshot %v", ids(got))
						return
					}
				}
			}
		}()
	}
	readers.Wait()
	close(stop)
	writers.Wait()
}

func TestResolver_ResolveOneStrategies(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1), up("b", 2), up("c", 3))
	r := newResolver(t, b, discovery.ResolverConfig{})
	ctx := context.Background()

	var got []string
	for i := 0; i < 4; i++ {
		inst, err := r.ResolveOne(ctx, "orders", discovery.RoundRobin)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, inst.ID)
	}
	if !equalIDs(got, []string{"a", "b", "c", "a"}) {
		t.Errorf("round robin = %v", got)
	}

	for _, s := range []discovery.LoadBalancingStrategy{discovery.Random, discovery.Weighted, ""} {
		inst, err := r.ResolveOne(ctx, "orders", s)
		if err != nil || !contains([]string{"a", "b", "c"}, inst.ID) {
			t.Errorf("strategy %q: %+v, %v", s, inst, err)
		}
	}
}

func TestResolver_WeightedPrefersHeavy(t *testing.T) {
	b := dtestutil.NewBackend()
	heavy := up("heavy", 1)
	heavy.Metadata = map[string]string{"weight": "1000"}
	b.SetInstances("orders", heavy, up("light", 2))
	r := newResolver(t, b, discovery.ResolverConfig{})

	hits := 0
	for i := 0; i < 200; i++ {
		inst, _ := r.ResolveOne(context.Background(), "orders", discovery.Weighted)
		if inst.ID == "heavy" {
			hits++
		}
	}
	if hits < 180 {
		t.Errorf("heavy picked %d/200 times", hits)
	}
}

func waitFor(t *testing.T, ch <-chan []discovery.ServiceInstance, want int) []discovery.ServiceInstance {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			if len(got) == want {
				return got
			}
		case <-deadline:
			t.Fatalf("no snapshot with %d instances", want)
			return nil
		}
	}
}

func TestResolver_BlockingWatch(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetBlocking(true)
	b.SetInstances("orders", up("a", 1))
	r := newResolver(t, b, discovery.ResolverConfig{WaitTime: 5 * time.Second})

	ch, cancel := r.Subscribe("orders")
	defer cancel()
	r.Watch("orders")
	waitFor(t, ch, 1)

	// An unchanged index holds the long poll instead of polling again.
	time.Sleep(100 * time.Millisecond)
	if got := b.Calls(dtestutil.OpQuery); got > 2 {
		t.Errorf("query calls while idle = %d, want at most 2", got)
	}

	b.AddInstance("orders", up("b", 2))
	got := waitFor(t, ch, 2)
	if !equalIDs(ids(got), []string{"a", "b"}) {
		t.Errorf("after change = %v", ids(got))
	}
	snap, _ := r.Snapshot("orders")
	if snap.Freshness != discovery.Fresh || snap.Index == 0 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestResolver_BlockingIndexReset(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetBlocking(true)
	for i := 0; i < 10; i++ {
		b.SetInstances("orders", up("a", 1))
	}
	r := newResolver(t, b, discovery.ResolverConfig{WaitTime: 5 * time.Second})
	ch, cancel := r.Subscribe("orders")
	defer cancel()
	r.Watch("orders")
	waitFor(t, ch, 1)

	b.SetIndex("orders", 1)
	time.Sleep(50 * time.Millisecond)
	b.AddInstance("orders", up("b", 2))
	waitFor(t, ch, 2)
}

func TestResolver_PollingWatch(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1))
	r := newResolver(t, b, discovery.ResolverConfig{RefreshInterval: 10 * time.Millisecond})

	ch, cancel := r.Subscribe("orders")
	defer cancel()
	r.Watch("orders")
	waitFor(t, ch, 1)

	b.AddInstance("orders", up("b", 2))
	waitFor(t, ch, 2)
}

func TestResolver_WatchBacksOffAndRecovers(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1))
	r := newResolver(t, b, discovery.ResolverConfig{
		RefreshInterval: 10 * time.Millisecond,
		Backoff:         resilience.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2},
	})
	ch, cancel := r.Subscribe("orders")
	defer cancel()
	r.Watch("orders")
	waitFor(t, ch, 1)

	b.Fail(dtestutil.OpQuery, errors.Transport("query", nil), errors.Transport("query", nil), errors.Transport("query", nil))
	b.AddInstance("orders", up("b", 2))
	waitFor(t, ch, 2)
	if got := r.Resolve(context.Background(), "orders"); len(got) != 2 {
		t.Errorf("Resolve() after recovery = %v", ids(got))
	}
}

func TestResolver_AutoWatchAndStop(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("orders", up("a", 1))
	r, err := discovery.NewResolver(b, discovery.ResolverConfig{AutoWatch: true, RefreshInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ch, _ := r.Subscribe("orders")
	r.Resolve(context.Background(), "orders")

	deadline := time.Now().Add(2 * time.Second)
	for b.Calls(dtestutil.OpQuery) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Calls(dtestutil.OpQuery) < 3 {
		t.Error("auto watch did not poll")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	for range ch {
	}
}

type memoryStore struct {
	mu    sync.Mutex
	snaps map[string]discovery.Snapshot
	saves int
}

func (s *memoryStore) Load(_ context.Context, service string) (discovery.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[service]
	return snap, ok, nil
}

func (s *memoryStore) Save(_ context.Context, service string, snap discovery.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[service] = snap
	s.saves++
	return nil
}

func TestResolver_SnapshotStore(t *testing.T) {
	store := &memoryStore{snaps: map[string]discovery.Snapshot{
		"orders": {Instances: []discovery.ServiceInstance{up("persisted", 1)}, Freshness: discovery.Fresh},
	}}
	b := dtestutil.NewBackend()
	b.Fail(dtestutil.OpQuery, errors.Transport("query", nil))
	r := newResolver(t, b, discovery.ResolverConfig{}, discovery.WithSnapshotStore(store))
	ctx := context.Background()

	if got := r.Resolve(ctx, "orders"); !equalIDs(ids(got), []string{"persisted"}) {
		t.Fatalf("cold Resolve() = %v, want persisted snapshot", ids(got))
	}

	b.SetInstances("orders", up("live", 2))
	r.Invalidate("orders")
	if got := r.Resolve(ctx, "orders"); !equalIDs(ids(got), []string{"live"}) {
		t.Fatalf("Resolve() = %v, want live", ids(got))
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saves != 1 || store.snaps["orders"].Instances[0].ID != "live" {
		t.Errorf("store saves=%d snap=%+v", store.saves, store.snaps["orders"])
	}
}

func TestResolver_StartWatchesConfigured(t *testing.T) {
	b := dtestutil.NewBackend()
	b.SetInstances("billing", up("a", 1))
	r := newResolver(t, b, discovery.ResolverConfig{Watch: []string{"billing"}, RefreshInterval: time.Hour})
	ch, cancel := r.Subscribe("billing")
	defer cancel()

	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, 1)
	if got := r.Services(); !equalIDs(got, []string{"billing"}) {
		t.Errorf("Services() = %v", got)
	}
}

// heldBackend answers with the membership current when a query starts. A
// query started after hold waits for the returned channel to close.
type heldBackend struct {
	mu         sync.Mutex
	instances  []discovery.ServiceInstance
	index      uint64
	blocking   bool
	gate       chan struct{}
	calls      int
	inFlight   int
	maxFlight  int
	waitIndexs []uint64
}

func (b *heldBackend) Name() string { return "held" }

func (b *heldBackend) Register(context.Context, discovery.RegistrationDescriptor) (string, error) {
	return "", nil
}

func (b *heldBackend) Renew(context.Context, discovery.RegistrationDescriptor, string) error {
	return nil
}

func (b *heldBackend) Deregister(context.Context, discovery.RegistrationDescriptor, string) error {
	return nil
}

func (b *heldBackend) Query(ctx context.Context, _ string, opts discovery.QueryOptions) (discovery.QueryResult, error) {
	b.mu.Lock()
	b.calls++
	b.inFlight++
	b.maxFlight = max(b.maxFlight, b.inFlight)
	b.waitIndexs = append(b.waitIndexs, opts.WaitIndex)
	res := discovery.QueryResult{Instances: slices.Clone(b.instances), Index: b.index, Blocking: b.blocking}
	gate := b.gate
	b.gate = nil
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return discovery.QueryResult{}, errors.Timeout("query")
		}
	}
	return res, nil
}

func (b *heldBackend) set(instances ...discovery.ServiceInstance) {
	b.mu.Lock()
	b.instances = instances
	b.index++
	b.mu.Unlock()
}

func (b *heldBackend) hold() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
	return b.gate
}

func (b *heldBackend) stats() (calls, maxFlight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.maxFlight
}

func (b *heldBackend) waitCalls(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls, _ := b.stats(); calls >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("backend saw fewer than %d queries", n)
}

func TestResolver_WatcherJoinsSyncRefresh(t *testing.T) {
	b := &heldBackend{instances: []discovery.ServiceInstance{up("a", 1)}, index: 1}
	r := newResolver(t, b, discovery.ResolverConfig{RefreshInterval: 10 * time.Millisecond})
	ctx := context.Background()
	r.Resolve(ctx, "orders")

	// A sync refresh starts on the old membership and is held.
	gate := b.hold()
	r.Invalidate("orders")
	resolved := make(chan []discovery.ServiceInstance, 1)
	go func() { resolved <- r.Resolve(ctx, "orders") }()
	b.waitCalls(t, 2)

	ch, cancel := r.Subscribe("orders")
	defer cancel()
	b.set(up("a", 1), up("b", 2))
	r.Watch("orders")
	time.Sleep(30 * time.Millisecond)
	close(gate)

	select {
	case <-resolved:
	case <-time.After(2 * time.Second):
		t.Fatal("sync resolve did not return")
	}
	waitFor(t, ch, 2)

	// Let the watcher poll again: the newer membership must survive.
	time.Sleep(50 * time.Millisecond)
	if got := r.Resolve(ctx, "orders"); !equalIDs(ids(got), []string{"a", "b"}) {
		t.Errorf("Resolve() = %v, want [a b]", ids(got))
	}
	if _, maxFlight := b.stats(); maxFlight != 1 {
		t.Errorf("max concurrent queries = %d, want 1", maxFlight)
	}
}

func TestResolver_ZeroIndexIsNotPolledHot(t *testing.T) {
	b := &heldBackend{instances: []discovery.ServiceInstance{up("a", 1)}, blocking: true}
	r := newResolver(t, b, discovery.ResolverConfig{MinPollInterval: 20 * time.Millisecond})

	r.Watch("orders")
	time.Sleep(200 * time.Millisecond)
	r.Unwatch("orders")

	calls, _ := b.stats()
	if calls < 2 || calls > 15 {
		t.Errorf("queries in 200ms = %d, want a rate limited long poll", calls)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waitIndexs[0] != 0 || b.waitIndexs[1] != 1 {
		t.Errorf("wait indexes = %v, want 0 then at least 1", b.waitIndexs[:2])
	}
}

func TestResolver_MaxServices(t *testing.T) {
	b := dtestutil.NewBackend()
	for _, service := range []string{"billing", "orders", "shipping"} {
		b.SetInstances(service, up(service, 1))
	}
	r := newResolver(t, b, discovery.ResolverConfig{
		MaxServices: 1,
		Watch:       []string{"billing"},
		AutoWatch:   true,
	})
	ctx := context.Background()

	if got := r.Resolve(ctx, "orders"); len(got) != 1 {
		t.Fatalf("Resolve(orders) = %v", ids(got))
	}
	if r.Admits("shipping") {
		t.Error("Admits(shipping) = true beyond the limit")
	}
	if got := r.Resolve(ctx, "shipping"); got != nil {
		t.Errorf("Resolve(shipping) = %v, want nil beyond the limit", ids(got))
	}
	if _, err := r.ResolveOne(ctx, "shipping", ""); !errors.IsNotFound(err) {
		t.Errorf("ResolveOne(shipping) err = %v, want not found", err)
	}
	if !r.Admits("orders") || !r.Admits("billing") {
		t.Error("cached and watched services must stay admitted")
	}
	if got := r.Resolve(ctx, "billing"); len(got) != 1 {
		t.Errorf("Resolve(billing) = %v, watched services bypass the limit", ids(got))
	}
	if got := r.Services(); !equalIDs(got, []string{"billing", "orders"}) {
		t.Errorf("Services() = %v", got)
	}
}
