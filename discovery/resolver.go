package discovery

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/resilience"
)

// Freshness describes how much a cached snapshot can be trusted.
type Freshness string

const (
	Fresh  Freshness = "FRESH"
	Stale  Freshness = "STALE"
	Failed Freshness = "FAILED"
)

// Snapshot is the cached membership of one service. A published Snapshot and
// its Instances are never modified; refreshes publish a new one.
type Snapshot struct {
	Instances   []ServiceInstance `json:"instances"`
	RefreshedAt time.Time         `json:"refreshed_at"`
	Freshness   Freshness         `json:"freshness"`
	Index       uint64            `json:"index"`

	seq uint64
}

type cacheEntry struct {
	snap atomic.Pointer[Snapshot]
	// seq numbers the queries started for this entry. A snapshot carries the
	// number of the query that produced it.
	seq atomic.Uint64
	// live is set while a blocking watch holds an up to date index, which
	// keeps the entry fresh through long polls longer than StaleAfter.
	live atomic.Bool
}

// commit publishes the snapshot next derives from the current one unless a
// query started after seq has already published. next returns nil to leave
// the entry as it is.
func (e *cacheEntry) commit(seq uint64, next func(prev *Snapshot) *Snapshot) (*Snapshot, bool) {
	for {
		prev := e.snap.Load()
		if prev != nil && prev.seq > seq {
			return prev, false
		}
		cur := next(prev)
		if cur == nil {
			return prev, false
		}
		cur.seq = seq
		if e.snap.CompareAndSwap(prev, cur) {
			return prev, true
		}
	}
}

// Resolver answers "which instances of service X exist" from a cache that is
// refreshed on demand and in the background. It prefers a stale answer to no
// answer: once a service was resolved successfully it is never reported
// empty because of a registry failure.
type Resolver struct {
	backend  Backend
	cfg      ResolverConfig
	filters  []Filter
	store    SnapshotStore
	log      *logger.Logger
	metrics  Metrics
	now      func() time.Time
	group    singleflight.Group
	selector *selector

	mu       sync.Mutex
	entries  map[string]*cacheEntry
	pinned   map[string]bool
	watchers map[string]context.CancelFunc
	subs     map[string]map[int]chan []ServiceInstance
	nextSub  int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithFilters replaces the configured filter chain.
func WithFilters(filters ...Filter) ResolverOption {
	return func(r *Resolver) { r.filters = filters }
}

// WithSnapshotStore persists snapshots across restarts.
func WithSnapshotStore(s SnapshotStore) ResolverOption {
	return func(r *Resolver) { r.store = s }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(log *logger.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// WithResolverMetrics sets the metrics sink.
func WithResolverMetrics(m Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver over backend.
func NewResolver(backend Backend, cfg ResolverConfig, opts ...ResolverOption) (*Resolver, error) {
	if backend == nil {
		return nil, errors.Configuration("resolver requires a backend")
	}
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		backend:  backend,
		cfg:      cfg,
		filters:  cfg.Filters(),
		log:      logger.Nop(),
		metrics:  nopMetrics{},
		now:      time.Now,
		selector: newSelector(),
		entries:  make(map[string]*cacheEntry),
		pinned:   make(map[string]bool, len(cfg.Watch)),
		watchers: make(map[string]context.CancelFunc),
		subs:     make(map[string]map[int]chan []ServiceInstance),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, service := range cfg.Watch {
		r.pinned[service] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("resolver").WithFields(logger.Fields(logger.FieldBackend, backend.Name()))
	return r, nil
}

// Resolve returns the filtered instances of service. A fresh entry is served
// from cache; a stale or missing one is refreshed first, bounded by
// SyncTimeout, and the last known snapshot is served if that fails.
func (r *Resolver) Resolve(ctx context.Context, service string) []ServiceInstance {
	start := r.now()
	defer func() { r.metrics.ResolveLatency(ctx, service, r.now().Sub(start)) }()

	e, ok := r.entry(ctx, service)
	if !ok {
		r.log.WithContext(ctx).Debug("service limit reached, not resolving",
			logger.Fields(logger.FieldTarget, service, "max_services", r.cfg.MaxServices))
		return nil
	}
	snap := e.snap.Load()
	if snap == nil || r.needsSyncRefresh(service, e, snap) {
		syncCtx, cancel := context.WithTimeout(ctx, r.cfg.SyncTimeout)
		if _, err := r.poll(syncCtx, service, e, QueryOptions{}, r.cfg.CallTimeout); err != nil {
			r.log.WithContext(ctx).Debug("sync refresh failed, serving last known snapshot",
				logger.Fields(logger.FieldTarget, service, logger.FieldError, err.Error()))
		}
		cancel()
		snap = e.snap.Load()
	}
	if r.cfg.AutoWatch {
		r.Watch(service)
	}
	if snap == nil {
		return nil
	}
	return cloneInstances(applyFilters(snap.Instances, r.filters))
}

// ResolveOne picks one instance with strategy, or the configured default
// when strategy is empty.
func (r *Resolver) ResolveOne(ctx context.Context, service string, strategy LoadBalancingStrategy) (ServiceInstance, error) {
	instances := r.Resolve(ctx, service)
	if len(instances) == 0 {
		return ServiceInstance{}, errors.NotFound("instances of service", service)
	}
	if strategy == "" {
		strategy = r.cfg.Strategy
	}
	return r.selector.pick(service, strategy, instances), nil
}

// Snapshot returns the cached snapshot of service with its current
// freshness, without triggering a refresh.
func (r *Resolver) Snapshot(service string) (Snapshot, bool) {
	r.mu.Lock()
	e, ok := r.entries[service]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	snap := e.snap.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	out := *snap
	out.Freshness = r.freshness(e, snap)
	return out, true
}

// Admits reports whether service is cached or may still be. The cache holds
// at most MaxServices names next to the watched ones.
func (r *Resolver) Admits(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitsLocked(service)
}

func (r *Resolver) admitsLocked(service string) bool {
	if _, ok := r.entries[service]; ok || r.pinned[service] {
		return true
	}
	return len(r.entries) < r.cfg.MaxServices
}

// Services lists every service name resolved so far.
func (r *Resolver) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invalidate marks the cached snapshot of service stale so the next Resolve
// refreshes it. The instances stay available as a fallback.
func (r *Resolver) Invalidate(service string) {
	r.mu.Lock()
	e, ok := r.entries[service]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.live.Store(false)
	e.commit(e.seq.Load(), func(prev *Snapshot) *Snapshot {
		if prev == nil {
			return nil
		}
		cp := *prev
		cp.Freshness = Stale
		cp.RefreshedAt = time.Time{}
		return &cp
	})
}

// Subscribe returns a channel receiving the filtered instances every time
// the membership of service changes. Slow readers only see the latest one.
func (r *Resolver) Subscribe(service string) (<-chan []ServiceInstance, func()) {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	if r.subs[service] == nil {
		r.subs[service] = make(map[int]chan []ServiceInstance)
	}
	r.subs[service][id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			if _, ok := r.subs[service][id]; ok {
				delete(r.subs[service], id)
				close(ch)
			}
			r.mu.Unlock()
		})
	}
}

// Watch starts the background refresher of service if it is not running.
func (r *Resolver) Watch(service string) {
	r.mu.Lock()
	if _, ok := r.watchers[service]; ok || r.ctx.Err() != nil || !r.admitsLocked(service) {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.watchers[service] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.watch(ctx, service)
}

// Unwatch stops the background refresher of service.
func (r *Resolver) Unwatch(service string) {
	r.mu.Lock()
	cancel, ok := r.watchers[service]
	delete(r.watchers, service)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *Resolver) watch(ctx context.Context, service string) {
	defer r.wg.Done()
	e, ok := r.entry(ctx, service)
	if !ok {
		r.log.Warn("service limit reached, not watching", logger.Fields(logger.FieldTarget, service))
		r.mu.Lock()
		delete(r.watchers, service)
		r.mu.Unlock()
		return
	}
	defer e.live.Store(false)
	log := r.log.WithFields(logger.Fields(logger.FieldTarget, service))

	var (
		index      uint64
		haveResult bool
		failures   int
	)
	for {
		timeout := r.cfg.CallTimeout
		if index > 0 {
			timeout += r.cfg.WaitTime
		}
		started := time.Now()
		res, err := r.poll(ctx, service, e, QueryOptions{WaitIndex: index, WaitTime: r.cfg.WaitTime}, timeout)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			failures++
			e.live.Store(false)
			wait = r.cfg.Backoff.Next(failures)
			log.Warn("background refresh failed", logger.Fields(
				logger.FieldAttempt, failures,
				logger.FieldBackoff, wait.String(),
				logger.FieldError, err.Error(),
			))

		case !res.Blocking:
			failures = 0
			wait = r.cfg.RefreshInterval

		default:
			failures = 0
			e.live.Store(true)
			switch {
			case res.Index == 0:
				// A zero wait index asks for an immediate answer.
				index = 1
			case haveResult && res.Index < index:
				// The registry's index went backwards (e.g. a restored
				// snapshot); start over from zero.
				log.Debug("blocking index reset", logger.Fields(logger.FieldIndex, res.Index))
				index = 0
			default:
				index = res.Index
			}
			haveResult = true
			wait = r.cfg.MinPollInterval - time.Since(started)
		}

		if wait > 0 {
			if err := resilience.Sleep(ctx, wait); err != nil {
				return
			}
		}
	}
}

// poll runs one registry query for service and applies the answer to its
// entry. Sync refreshes and the watcher share one flight per service, so a
// service never has two queries in flight. The flight outlives a caller that
// stops waiting; it is bounded by timeout and canceled by Stop.
func (r *Resolver) poll(ctx context.Context, service string, e *cacheEntry, opts QueryOptions, timeout time.Duration) (QueryResult, error) {
	ch := r.group.DoChan(service, func() (any, error) {
		seq := e.seq.Add(1)
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		stop := context.AfterFunc(r.ctx, cancel)
		defer stop()

		res, err := r.query(callCtx, service, opts)
		if err != nil {
			r.markFailed(e, seq)
			return res, err
		}
		r.apply(callCtx, service, e, seq, res)
		return res, nil
	})
	select {
	case out := <-ch:
		res, _ := out.Val.(QueryResult)
		return res, out.Err
	case <-ctx.Done():
		return QueryResult{}, errors.Timeout("query")
	}
}

// apply publishes a successful answer. A blocking registry reporting the
// index already cached only renews the timestamp.
func (r *Resolver) apply(ctx context.Context, service string, e *cacheEntry, seq uint64, res QueryResult) {
	if prev := e.snap.Load(); res.Blocking && res.Index > 0 && prev != nil && prev.Index == res.Index {
		r.touch(e, seq)
		return
	}
	r.replace(ctx, service, e, seq, res)
}

func (r *Resolver) query(ctx context.Context, service string, opts QueryOptions) (QueryResult, error) {
	res, err := r.backend.Query(ctx, service, opts)
	err = classify(ctx, "query", err)
	r.metrics.Refresh(ctx, service, err)
	return res, err
}

// entry returns the cache entry of service, creating it while the service
// limit allows.
func (r *Resolver) entry(ctx context.Context, service string) (*cacheEntry, bool) {
	r.mu.Lock()
	e, ok := r.entries[service]
	if !ok {
		if !r.admitsLocked(service) {
			r.mu.Unlock()
			return nil, false
		}
		e = &cacheEntry{}
		r.entries[service] = e
	}
	size := len(r.entries)
	r.mu.Unlock()
	if ok {
		return e, true
	}

	r.metrics.CacheSize(size)
	if r.store != nil {
		r.seed(ctx, service, e)
	}
	return e, true
}

// seed loads a persisted snapshot into a new entry as stale.
func (r *Resolver) seed(ctx context.Context, service string, e *cacheEntry) {
	loadCtx, cancel := context.WithTimeout(ctx, r.cfg.SyncTimeout)
	defer cancel()
	snap, ok, err := r.store.Load(loadCtx, service)
	if err != nil {
		r.log.Warn("snapshot load failed", logger.Fields(logger.FieldTarget, service, logger.FieldError, err.Error()))
		return
	}
	if !ok {
		return
	}
	snap.Freshness = Stale
	snap.Instances = cloneInstances(snap.Instances)
	if e.snap.CompareAndSwap(nil, &snap) {
		r.log.Debug("seeded from snapshot store", logger.Fields(
			logger.FieldTarget, service,
			logger.FieldInstances, len(snap.Instances),
		))
	}
}

func (r *Resolver) replace(ctx context.Context, service string, e *cacheEntry, seq uint64, res QueryResult) {
	next := &Snapshot{
		Instances:   cloneInstances(res.Instances),
		RefreshedAt: r.now(),
		Freshness:   Fresh,
		Index:       res.Index,
	}
	if next.Instances == nil {
		next.Instances = []ServiceInstance{}
	}
	prev, ok := e.commit(seq, func(*Snapshot) *Snapshot { return next })
	if !ok {
		r.log.Debug("discarding out of date answer", logger.Fields(logger.FieldTarget, service, logger.FieldIndex, res.Index))
		return
	}

	if prev == nil || !slices.EqualFunc(prev.Instances, next.Instances, sameInstance) {
		r.log.Debug("membership changed", logger.Fields(
			logger.FieldTarget, service,
			logger.FieldInstances, len(next.Instances),
			logger.FieldIndex, next.Index,
		))
		r.publish(service, applyFilters(next.Instances, r.filters))
	}

	if r.store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
		defer cancel()
		if err := r.store.Save(saveCtx, service, *next); err != nil {
			r.log.Warn("snapshot save failed", logger.Fields(logger.FieldTarget, service, logger.FieldError, err.Error()))
		}
	}
}

func (r *Resolver) touch(e *cacheEntry, seq uint64) {
	e.commit(seq, func(prev *Snapshot) *Snapshot {
		if prev == nil {
			return nil
		}
		cp := *prev
		cp.RefreshedAt = r.now()
		cp.Freshness = Fresh
		return &cp
	})
}

func (r *Resolver) markFailed(e *cacheEntry, seq uint64) {
	e.commit(seq, func(prev *Snapshot) *Snapshot {
		if prev == nil {
			return &Snapshot{Freshness: Failed}
		}
		cp := *prev
		cp.Freshness = Failed
		return &cp
	})
}

func (r *Resolver) publish(service string, instances []ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[service] {
		select {
		case <-ch:
		default:
		}
		ch <- cloneInstances(instances)
	}
}

func (r *Resolver) freshness(e *cacheEntry, snap *Snapshot) Freshness {
	switch {
	case snap.Freshness != Fresh:
		return snap.Freshness
	case e.live.Load():
		return Fresh
	case r.now().After(snap.RefreshedAt.Add(r.cfg.StaleAfter)):
		return Stale
	}
	return Fresh
}

// needsSyncRefresh is true for stale entries and for failed entries nobody
// is retrying in the background.
func (r *Resolver) needsSyncRefresh(service string, e *cacheEntry, snap *Snapshot) bool {
	switch r.freshness(e, snap) {
	case Fresh:
		return false
	case Failed:
		r.mu.Lock()
		_, watched := r.watchers[service]
		r.mu.Unlock()
		return !watched
	}
	return true
}

func sameInstance(a, b ServiceInstance) bool {
	return a.ID == b.ID && a.Host == b.Host && a.Port == b.Port &&
		a.Status == b.Status && a.Zone == b.Zone && a.Secure == b.Secure &&
		maps.Equal(a.Metadata, b.Metadata)
}

// --- component.Component ---

var _ component.Component = (*Resolver)(nil)

// Name returns the component name.
func (r *Resolver) Name() string { return "resolver" }

// Start launches watchers for the configured services.
func (r *Resolver) Start(_ context.Context) error {
	for _, service := range r.cfg.Watch {
		r.Watch(service)
	}
	return nil
}

// Stop cancels all watchers and waits for queries in flight.
func (r *Resolver) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	for service, subs := range r.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(r.subs, service)
	}
	r.mu.Unlock()
	return nil
}

// Health is degraded while any cached service failed its last refresh.
func (r *Resolver) Health(_ context.Context) component.Health {
	details := make(map[string]any)
	status := component.StatusHealthy
	for _, service := range r.Services() {
		snap, ok := r.Snapshot(service)
		if !ok {
			continue
		}
		details[service] = string(snap.Freshness)
		if snap.Freshness == Failed {
			status = component.StatusDegraded
		}
	}
	h := component.Health{Name: r.Name(), Status: status, Details: details}
	if status != component.StatusHealthy {
		h.Message = "serving stale membership"
	}
	return h
}

// Describe returns infrastructure summary info for the startup display.
func (r *Resolver) Describe() component.Description {
	return component.Description{
		Name:    "Resolver",
		Type:    "resolver",
		Details: r.backend.Name() + " strategy=" + string(r.cfg.Strategy),
	}
}
