package consul

import (
	"context"
	stderrors "errors"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/httpclient"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/resilience"
)

// Metadata keys published with every registration.
const (
	MetaSecure = "secure"
	MetaZone   = "zone"
)

// Backend implements discovery.Backend on the Consul agent API. Query uses
// blocking health queries, so resolvers long-poll instead of polling.
type Backend struct {
	client *api.Client
	cfg    Config
	log    *logger.Logger
	cb     *resilience.CircuitBreaker
}

var _ discovery.Backend = (*Backend)(nil)

func init() {
	discovery.RegisterBackendFactory("consul", func(_ discovery.Config, providerCfg any, log *logger.Logger) (discovery.Backend, error) {
		var cfg Config
		switch c := providerCfg.(type) {
		case *Config:
			if c != nil {
				cfg = *c
			}
		case Config:
			cfg = c
		case nil:
		default:
			return nil, errors.Configurationf("consul: unexpected provider config %T", providerCfg)
		}
		return New(cfg, log)
	})
}

// NewClient builds a Consul API client whose HTTP transport comes from the
// shared registry transport (TLS, pooling).
func NewClient(cfg Config) (*api.Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Configurationf("consul: %v", err)
	}

	transport, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout, TLS: cfg.TLS})
	if err != nil {
		return nil, err
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	apiCfg.Scheme = cfg.Scheme
	apiCfg.Token = cfg.Token
	apiCfg.Namespace = cfg.Namespace
	apiCfg.Partition = cfg.Partition
	apiCfg.HttpClient = transport.StandardClient()
	if cfg.Datacenter != "" {
		apiCfg.Datacenter = cfg.Datacenter
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, errors.Configurationf("consul client: %v", err)
	}
	return client, nil
}

// New creates a Consul backend.
func New(cfg Config, log *logger.Logger) (*Backend, error) {
	cfg.ApplyDefaults()
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	b := &Backend{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("consul"),
	}
	if cfg.CircuitBreaker != nil {
		cbCfg := *cfg.CircuitBreaker
		if cbCfg.Name == "" {
			cbCfg.Name = "consul"
		}
		b.cb = resilience.NewCircuitBreaker(cbCfg)
	}
	return b, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return "consul" }

// Client exposes the underlying API client.
func (b *Backend) Client() *api.Client { return b.client }

// CheckID returns the TTL check id of an instance.
func CheckID(instanceID string) string { return "service:" + instanceID }

// Register registers the service with the local agent and, for TTL checks,
// marks the check passing right away. The returned token is the check id.
func (b *Backend) Register(ctx context.Context, d discovery.RegistrationDescriptor) (string, error) {
	reg := registration(d)
	err := b.call(ctx, "register", func() error {
		return b.client.Agent().ServiceRegisterOpts(reg, api.ServiceRegisterOpts{}.WithContext(ctx))
	})
	if err != nil {
		return "", err
	}

	checkID := CheckID(d.InstanceID)
	if d.HealthCheck.Kind == discovery.CheckTTL {
		if err := b.pass(ctx, checkID); err != nil {
			return "", err
		}
	}
	return checkID, nil
}

// Renew passes the TTL check. HTTP-checked instances are verified to still
// be known by the agent. A check or service the agent no longer knows is
// reported as an unknown instance.
func (b *Backend) Renew(ctx context.Context, d discovery.RegistrationDescriptor, token string) error {
	if token == "" {
		token = CheckID(d.InstanceID)
	}
	var err error
	if d.HealthCheck.Kind == discovery.CheckTTL {
		err = b.pass(ctx, token)
	}
	if err == nil && d.HealthCheck.Kind != discovery.CheckTTL {
		err = b.call(ctx, "renew", func() error {
			_, _, err := b.client.Agent().Service(d.InstanceID, b.queryOptions(ctx))
			return err
		})
	}
	if err == nil || errors.IsTransport(err) {
		return err
	}
	if errors.IsNotFound(err) || !b.serviceKnown(ctx, d.InstanceID) {
		return errors.UnknownInstance(d.ServiceName, d.InstanceID).WithCause(err)
	}
	return err
}

// Deregister removes the service, and its checks, from the agent.
func (b *Backend) Deregister(ctx context.Context, d discovery.RegistrationDescriptor, _ string) error {
	return b.call(ctx, "deregister", func() error {
		return b.client.Agent().ServiceDeregisterOpts(d.InstanceID, b.queryOptions(ctx))
	})
}

// Query runs a blocking health query for service.
func (b *Backend) Query(ctx context.Context, service string, opts discovery.QueryOptions) (discovery.QueryResult, error) {
	q := b.queryOptions(ctx)
	q.WaitIndex = opts.WaitIndex
	q.WaitTime = opts.WaitTime

	var (
		entries []*api.ServiceEntry
		meta    *api.QueryMeta
	)
	err := b.call(ctx, "query", func() error {
		var err error
		entries, meta, err = b.client.Health().Service(service, b.cfg.Tag, b.cfg.PassingOnly, q)
		return err
	})
	if err != nil {
		return discovery.QueryResult{}, err
	}

	res := discovery.QueryResult{Blocking: true, Instances: make([]discovery.ServiceInstance, 0, len(entries))}
	if meta != nil {
		res.Index = meta.LastIndex
	}
	for _, e := range entries {
		if e == nil || e.Service == nil {
			return discovery.QueryResult{}, errors.Malformed("consul health", nil).WithDetail("service", service)
		}
		res.Instances = append(res.Instances, instance(e))
	}
	return res, nil
}

// Health reports whether the cluster has a leader.
func (b *Backend) Health(ctx context.Context) component.Health {
	var leader string
	err := b.call(ctx, "leader", func() error {
		var err error
		leader, err = b.client.Status().LeaderWithQueryOptions(b.queryOptions(ctx))
		return err
	})
	switch {
	case err != nil:
		return component.Health{Name: b.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	case leader == "":
		return component.Health{Name: b.Name(), Status: component.StatusDegraded, Message: "no cluster leader"}
	}
	return component.Health{Name: b.Name(), Status: component.StatusHealthy, Details: map[string]any{"leader": leader}}
}

func (b *Backend) pass(ctx context.Context, checkID string) error {
	return b.call(ctx, "renew", func() error {
		return b.client.Agent().UpdateTTLOpts(checkID, "", api.HealthPassing, b.queryOptions(ctx))
	})
}

func (b *Backend) serviceKnown(ctx context.Context, instanceID string) bool {
	services, err := b.client.Agent().ServicesWithFilterOpts("", b.queryOptions(ctx))
	if err != nil {
		// Unknown state: let the caller keep its lease and retry.
		return true
	}
	_, ok := services[instanceID]
	return ok
}

func (b *Backend) queryOptions(ctx context.Context) *api.QueryOptions {
	q := &api.QueryOptions{Datacenter: b.cfg.Datacenter}
	return q.WithContext(ctx)
}

// call runs fn through the circuit breaker and classifies its error.
func (b *Backend) call(ctx context.Context, op string, fn func() error) error {
	var err error
	if b.cb != nil {
		err = b.cb.Execute(func() error { return ClassifyError(ctx, op, fn()) })
		if stderrors.Is(err, resilience.ErrCircuitOpen) {
			err = errors.Transport(op, err)
		}
	} else {
		err = ClassifyError(ctx, op, fn())
	}
	if err != nil {
		b.log.Debug("consul call failed", logger.ErrorFields(op, err))
	}
	return err
}

// ClassifyError maps a consul/api error onto the error taxonomy.
func ClassifyError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var statusErr api.StatusError
	if stderrors.As(err, &statusErr) {
		return errors.FromStatus(statusErr.Code, op, []byte(statusErr.Body)).WithCause(err)
	}
	if ctx.Err() != nil {
		return errors.Timeout(op).WithCause(err)
	}
	return errors.Transport(op, err)
}

func registration(d discovery.RegistrationDescriptor) *api.AgentServiceRegistration {
	meta := maps.Clone(d.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta[MetaSecure] = strconv.FormatBool(d.Secure)
	if d.Zone != "" {
		meta[MetaZone] = d.Zone
	}

	tags := append([]string(nil), d.Tags...)
	for _, k := range slices.Sorted(maps.Keys(d.Metadata)) {
		tags = append(tags, k+"="+d.Metadata[k])
	}
	if d.Zone != "" {
		tags = append(tags, MetaZone+"="+d.Zone)
	}

	hc := d.HealthCheck
	check := &api.AgentServiceCheck{CheckID: CheckID(d.InstanceID)}
	if hc.DeregisterCriticalAfter > 0 {
		check.DeregisterCriticalServiceAfter = hc.DeregisterCriticalAfter.String()
	}
	switch hc.Kind {
	case discovery.CheckHTTP:
		scheme := "http"
		if d.Secure {
			scheme = "https"
		}
		check.HTTP = scheme + "://" + discovery.ServiceInstance{Host: d.Host, Port: d.Port}.Address() + hc.Path
		check.Interval = hc.Interval.String()
		check.Timeout = hc.Timeout.String()
	default:
		check.TTL = hc.TTL.String()
	}

	return &api.AgentServiceRegistration{
		ID:      d.InstanceID,
		Name:    d.ServiceName,
		Address: d.Host,
		Port:    d.Port,
		Tags:    tags,
		Meta:    meta,
		Check:   check,
	}
}

// instance maps a health entry. Metadata merges node meta, k=v tags and
// service meta, later sources winning.
func instance(e *api.ServiceEntry) discovery.ServiceInstance {
	meta := make(map[string]string)
	if e.Node != nil {
		maps.Copy(meta, e.Node.Meta)
	}
	for _, tag := range e.Service.Tags {
		if k, v, ok := strings.Cut(tag, "="); ok && k != "" {
			meta[k] = v
		}
	}
	maps.Copy(meta, e.Service.Meta)

	host := e.Service.Address
	if host == "" && e.Node != nil {
		host = e.Node.Address
	}
	secure, _ := strconv.ParseBool(meta[MetaSecure])

	return discovery.ServiceInstance{
		ID:          e.Service.ID,
		ServiceName: e.Service.Service,
		Host:        host,
		Port:        e.Service.Port,
		Secure:      secure,
		Status:      status(e.Checks),
		Metadata:    meta,
		Zone:        meta[MetaZone],
	}
}

func status(checks api.HealthChecks) discovery.Status {
	if len(checks) == 0 {
		return discovery.StatusUnknown
	}
	for _, c := range checks {
		if c.Status == api.HealthCritical {
			return discovery.StatusDown
		}
	}
	return discovery.StatusUp
}

