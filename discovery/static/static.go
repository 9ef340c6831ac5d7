package static

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
)

// Endpoint is one configured instance.
type Endpoint struct {
	Service  string            `yaml:"service" mapstructure:"service"`
	ID       string            `yaml:"id" mapstructure:"id"`
	Host     string            `yaml:"host" mapstructure:"host"`
	Port     int               `yaml:"port" mapstructure:"port"`
	Secure   bool              `yaml:"secure" mapstructure:"secure"`
	Status   string            `yaml:"status" mapstructure:"status"`
	Zone     string            `yaml:"zone" mapstructure:"zone"`
	Metadata map[string]string `yaml:"metadata" mapstructure:"metadata"`
}

// Config lists the static endpoints.
type Config struct {
	Endpoints []Endpoint `yaml:"endpoints" mapstructure:"endpoints"`
}

// Backend implements discovery.Backend over a fixed, in-memory list of
// endpoints. Registrations are kept locally, which makes it usable for local
// development and tests.
type Backend struct {
	mu        sync.RWMutex
	instances map[string][]discovery.ServiceInstance // keyed by service name
}

var _ discovery.Backend = (*Backend)(nil)

func init() {
	discovery.RegisterBackendFactory("static", func(_ discovery.Config, providerCfg any, _ *logger.Logger) (discovery.Backend, error) {
		switch c := providerCfg.(type) {
		case *Config:
			if c == nil {
				return New(nil)
			}
			return New(c.Endpoints)
		case Config:
			return New(c.Endpoints)
		case nil:
			return New(nil)
		}
		return nil, errors.Configurationf("static: unexpected provider config %T", providerCfg)
	})
}

// New creates a Backend pre-populated from endpoints.
func New(endpoints []Endpoint) (*Backend, error) {
	b := &Backend{instances: make(map[string][]discovery.ServiceInstance)}
	for i, ep := range endpoints {
		if ep.Service == "" || ep.Host == "" || ep.Port <= 0 || ep.Port > 65535 {
			return nil, errors.Configurationf("static endpoint %d: service, host and a valid port are required", i)
		}
		status := discovery.StatusUp
		if ep.Status != "" {
			status = discovery.ParseStatus(ep.Status)
		}
		inst := discovery.ServiceInstance{
			ID:          ep.ID,
			ServiceName: ep.Service,
			Host:        ep.Host,
			Port:        ep.Port,
			Secure:      ep.Secure,
			Status:      status,
			Metadata:    ep.Metadata,
			Zone:        ep.Zone,
		}
		if inst.ID == "" {
			inst.ID = fmt.Sprintf("%s-%s-%d", ep.Service, ep.Host, ep.Port)
		}
		b.instances[ep.Service] = append(b.instances[ep.Service], inst.Clone())
	}
	return b, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return "static" }

// Register adds the instance, replacing a previous one with the same id.
func (b *Backend) Register(_ context.Context, d discovery.RegistrationDescriptor) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(d.ServiceName, d.InstanceID)
	b.instances[d.ServiceName] = append(b.instances[d.ServiceName], d.Instance())
	return d.InstanceID, nil
}

// Renew succeeds while the instance is listed.
func (b *Backend) Renew(_ context.Context, d discovery.RegistrationDescriptor, _ string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, inst := range b.instances[d.ServiceName] {
		if inst.ID == d.InstanceID {
			return nil
		}
	}
	return errors.UnknownInstance(d.ServiceName, d.InstanceID)
}

// Deregister removes the instance.
func (b *Backend) Deregister(_ context.Context, d discovery.RegistrationDescriptor, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(d.ServiceName, d.InstanceID)
	return nil
}

// Query returns the listed instances. An unknown service has none.
func (b *Backend) Query(_ context.Context, service string, _ discovery.QueryOptions) (discovery.QueryResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.instances[service]
	out := make([]discovery.ServiceInstance, len(list))
	for i, inst := range list {
		out[i] = inst.Clone()
	}
	return discovery.QueryResult{Instances: out}, nil
}

func (b *Backend) removeLocked(service, id string) {
	list := b.instances[service]
	out := make([]discovery.ServiceInstance, 0, len(list))
	for _, inst := range list {
		if inst.ID != id {
			out = append(out, inst)
		}
	}
	b.instances[service] = out
}
