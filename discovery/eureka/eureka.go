package eureka

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/httpclient"
	"github.com/kbukum/discoverykit/logger"
)

// Backend implements discovery.Backend on the Eureka REST API. Eureka has no
// blocking queries; resolvers poll it.
type Backend struct {
	client *httpclient.Client
	cfg    Config
	log    *logger.Logger
}

var _ discovery.Backend = (*Backend)(nil)

func init() {
	discovery.RegisterBackendFactory("eureka", func(_ discovery.Config, providerCfg any, log *logger.Logger) (discovery.Backend, error) {
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
			return nil, errors.Configurationf("eureka: unexpected provider config %T", providerCfg)
		}
		return New(cfg, log)
	})
}

// New creates a Eureka backend.
func New(cfg Config, log *logger.Logger) (*Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Configuration(err.Error())
	}
	if cfg.CircuitBreaker != nil && cfg.CircuitBreaker.Name == "" {
		cbCfg := *cfg.CircuitBreaker
		cbCfg.Name = "eureka"
		cfg.CircuitBreaker = &cbCfg
	}
	client, err := httpclient.New(httpclient.Config{
		BaseURL:        cfg.ServiceURL,
		Timeout:        cfg.Timeout,
		Auth:           cfg.Auth,
		TLS:            cfg.TLS,
		Headers:        map[string]string{"Accept": "application/json"},
		CircuitBreaker: cfg.CircuitBreaker,
	})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Backend{client: client, cfg: cfg, log: log.WithComponent("eureka")}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return "eureka" }

// Register posts the instance. The token is the instance id.
func (b *Backend) Register(ctx context.Context, d discovery.RegistrationDescriptor) (string, error) {
	_, err := b.client.Do(ctx, httpclient.Request{
		Method:    http.MethodPost,
		Path:      appPath(d.ServiceName),
		Body:      instanceEnvelope{Instance: b.toInstance(d)},
		Operation: "register",
	})
	if err != nil {
		return "", err
	}
	return d.InstanceID, nil
}

// Renew sends a heartbeat. Eureka answers 404 for an instance it evicted.
func (b *Backend) Renew(ctx context.Context, d discovery.RegistrationDescriptor, _ string) error {
	_, err := b.client.Do(ctx, httpclient.Request{
		Method:    http.MethodPut,
		Path:      appPath(d.ServiceName) + "/" + d.InstanceID,
		Operation: "renew",
	})
	if errors.IsNotFound(err) {
		return errors.UnknownInstance(d.ServiceName, d.InstanceID).WithCause(err)
	}
	return err
}

// Deregister cancels the lease. An instance the server already dropped is
// not an error.
func (b *Backend) Deregister(ctx context.Context, d discovery.RegistrationDescriptor, _ string) error {
	_, err := b.client.Do(ctx, httpclient.Request{
		Method:    http.MethodDelete,
		Path:      appPath(d.ServiceName) + "/" + d.InstanceID,
		Operation: "deregister",
	})
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}

// Query lists the instances of one application. An unknown application has
// no instances.
func (b *Backend) Query(ctx context.Context, service string, _ discovery.QueryOptions) (discovery.QueryResult, error) {
	resp, err := b.client.Do(ctx, httpclient.Request{
		Method:    http.MethodGet,
		Path:      appPath(service),
		Operation: "query",
	})
	if errors.IsNotFound(err) {
		return discovery.QueryResult{Instances: []discovery.ServiceInstance{}}, nil
	}
	if err != nil {
		return discovery.QueryResult{}, err
	}

	env, err := httpclient.DecodeJSON[applicationEnvelope](resp, "eureka application "+service)
	if err != nil {
		return discovery.QueryResult{}, err
	}
	out := make([]discovery.ServiceInstance, 0, len(env.Application.Instance))
	for _, inst := range env.Application.Instance {
		si, err := inst.toServiceInstance(service)
		if err != nil {
			return discovery.QueryResult{}, err
		}
		out = append(out, si)
	}
	return discovery.QueryResult{Instances: out}, nil
}

// Health is healthy while the server answers, reporting the number of known
// applications.
func (b *Backend) Health(ctx context.Context) component.Health {
	resp, err := b.client.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: "apps", Operation: "applications"})
	if err != nil {
		return component.Health{Name: b.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	env, err := httpclient.DecodeJSON[applicationsEnvelope](resp, "eureka applications")
	if err != nil {
		return component.Health{Name: b.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	names := make([]string, 0, len(env.Applications.Application))
	for _, app := range env.Applications.Application {
		names = append(names, app.Name)
	}
	return component.Health{
		Name:    b.Name(),
		Status:  component.StatusHealthy,
		Details: map[string]any{"applications": names},
	}
}

func appPath(service string) string {
	return "apps/" + strings.ToUpper(service)
}

func (b *Backend) toInstance(d discovery.RegistrationDescriptor) instance {
	port := portInfo{Port: d.Port, Enabled: strconv.FormatBool(!d.Secure)}
	secure := portInfo{Port: 443, Enabled: "false"}
	scheme := "http"
	if d.Secure {
		port = portInfo{Port: 80, Enabled: "false"}
		secure = portInfo{Port: d.Port, Enabled: "true"}
		scheme = "https"
	}
	base := scheme + "://" + discovery.ServiceInstance{Host: d.Host, Port: d.Port}.Address()

	meta := make(map[string]string, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	if d.Zone != "" {
		meta[discovery.MetadataZone] = d.Zone
	}

	hc := d.HealthCheck
	renew := int(hc.TTL / (3 * time.Second))
	if renew < 1 {
		renew = 1
	}
	inst := instance{
		InstanceID:     d.InstanceID,
		HostName:       d.Host,
		App:            strings.ToUpper(d.ServiceName),
		IPAddr:         d.Host,
		Status:         string(discovery.StatusUp),
		Port:           port,
		SecurePort:     secure,
		VipAddress:     d.ServiceName,
		SecureVip:      d.ServiceName,
		HomePageURL:    base + "/",
		StatusPageURL:  base + "/info",
		DataCenterInfo: dataCenterInfo{Class: "com.netflix.appinfo.InstanceInfo$DefaultDataCenterInfo", Name: b.cfg.DataCenter},
		LeaseInfo:      &leaseInfo{RenewalIntervalInSecs: renew, DurationInSecs: max(1, int(hc.TTL/time.Second))},
		Metadata:       meta,
	}
	if hc.Kind == discovery.CheckHTTP {
		inst.HealthCheckURL = base + hc.Path
	}
	return inst
}

type instanceEnvelope struct {
	Instance instance `json:"instance"`
}

type applicationEnvelope struct {
	Application application `json:"application"`
}

type applicationsEnvelope struct {
	Applications struct {
		Application []application `json:"application"`
	} `json:"applications"`
}

type application struct {
	Name     string    `json:"name"`
	Instance instances `json:"instance"`
}

// instances accepts both a list and a single object, which older servers
// send for one-instance applications.
type instances []instance

func (l *instances) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var one instance
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*l = instances{one}
		return nil
	}
	var many []instance
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type instance struct {
	InstanceID     string            `json:"instanceId"`
	HostName       string            `json:"hostName"`
	App            string            `json:"app"`
	IPAddr         string            `json:"ipAddr"`
	Status         string            `json:"status"`
	Port           portInfo          `json:"port"`
	SecurePort     portInfo          `json:"securePort"`
	VipAddress     string            `json:"vipAddress,omitempty"`
	SecureVip      string            `json:"secureVipAddress,omitempty"`
	HomePageURL    string            `json:"homePageUrl,omitempty"`
	StatusPageURL  string            `json:"statusPageUrl,omitempty"`
	HealthCheckURL string            `json:"healthCheckUrl,omitempty"`
	DataCenterInfo dataCenterInfo    `json:"dataCenterInfo"`
	LeaseInfo      *leaseInfo        `json:"leaseInfo,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type portInfo struct {
	Port    int    `json:"$"`
	Enabled string `json:"@enabled"`
}

// UnmarshalJSON accepts "$" as a number or a string.
func (p *portInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Port    json.Number `json:"$"`
		Enabled any         `json:"@enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Port != "" {
		n, err := strconv.Atoi(raw.Port.String())
		if err != nil {
			return err
		}
		p.Port = n
	}
	switch v := raw.Enabled.(type) {
	case string:
		p.Enabled = v
	case bool:
		p.Enabled = strconv.FormatBool(v)
	}
	return nil
}

func (p portInfo) enabled() bool {
	ok, _ := strconv.ParseBool(p.Enabled)
	return ok
}

type dataCenterInfo struct {
	Class string `json:"@class"`
	Name  string `json:"name"`
}

type leaseInfo struct {
	RenewalIntervalInSecs int `json:"renewalIntervalInSecs"`
	DurationInSecs        int `json:"durationInSecs"`
}

func (i instance) toServiceInstance(service string) (discovery.ServiceInstance, error) {
	host := i.IPAddr
	if host == "" {
		host = i.HostName
	}
	port, secure := i.Port.Port, false
	if i.SecurePort.enabled() && (!i.Port.enabled() || i.Port.Port == 0) {
		port, secure = i.SecurePort.Port, true
	}
	if i.InstanceID == "" || host == "" || port <= 0 {
		return discovery.ServiceInstance{}, errors.Malformed("eureka instance", nil).
			WithDetail("service", service).WithDetail("instance_id", i.InstanceID)
	}

	meta := make(map[string]string, len(i.Metadata))
	for k, v := range i.Metadata {
		meta[k] = v
	}
	name := strings.ToLower(i.App)
	if name == "" {
		name = service
	}
	return discovery.ServiceInstance{
		ID:          i.InstanceID,
		ServiceName: name,
		Host:        host,
		Port:        port,
		Secure:      secure,
		Status:      discovery.ParseStatus(i.Status),
		Metadata:    meta,
		Zone:        meta[discovery.MetadataZone],
	}, nil
}
