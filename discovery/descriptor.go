package discovery

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/validation"
)

// CheckKind selects how the registry learns that an instance is alive.
type CheckKind string

const (
	// CheckTTL means the client keeps the lease alive with heartbeats.
	CheckTTL CheckKind = "ttl"
	// CheckHTTP means the registry polls an HTTP endpoint on the instance.
	CheckHTTP CheckKind = "http"
)

const (
	defaultRenewInterval = 10 * time.Second
	ttlGrace             = 10 * time.Second
	defaultHealthPath    = "/health"
)

// DefaultTTL is the lease TTL used when none is configured: the renew
// interval plus a ten second grace. A zero interval means the default one.
func DefaultTTL(renewInterval time.Duration) time.Duration {
	if renewInterval <= 0 {
		renewInterval = defaultRenewInterval
	}
	return renewInterval + ttlGrace
}

// HealthCheck is the check shape chosen once at registration.
type HealthCheck struct {
	Kind CheckKind `mapstructure:"kind" validate:"omitempty,oneof=ttl http"`
	// TTL is the lease duration the registry waits between heartbeats.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
	// Interval is the registry polling interval for HTTP checks.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Path     string        `mapstructure:"path"`
	// DeregisterCriticalAfter lets the registry drop an instance that stayed
	// critical this long. Zero disables it.
	DeregisterCriticalAfter time.Duration `mapstructure:"deregister_critical_after" validate:"gte=0"`
}

// RegistrationDescriptor describes the local instance to register.
// Build it with NewRegistrationDescriptor; it is not modified afterwards.
type RegistrationDescriptor struct {
	InstanceID  string            `mapstructure:"instance_id"`
	ServiceName string            `mapstructure:"service_name" validate:"required,service_name"`
	Host        string            `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port        int               `mapstructure:"port" validate:"required,min=1,max=65535"`
	Secure      bool              `mapstructure:"secure"`
	Zone        string            `mapstructure:"zone"`
	Tags        []string          `mapstructure:"tags"`
	Metadata    map[string]string `mapstructure:"metadata"`
	HealthCheck HealthCheck       `mapstructure:"health_check"`
}

// NewRegistrationDescriptor validates d and returns a normalized copy. A
// missing instance id is generated as <service>-<uuid>.
func NewRegistrationDescriptor(d RegistrationDescriptor) (RegistrationDescriptor, error) {
	d.Tags = slices.Clone(d.Tags)
	d.Metadata = maps.Clone(d.Metadata)

	if d.HealthCheck.Kind == "" {
		d.HealthCheck.Kind = CheckTTL
	}
	if d.HealthCheck.TTL == 0 {
		d.HealthCheck.TTL = DefaultTTL(0)
	}
	if d.HealthCheck.Kind == CheckHTTP {
		if d.HealthCheck.Path == "" {
			d.HealthCheck.Path = defaultHealthPath
		}
		if d.HealthCheck.Interval == 0 {
			d.HealthCheck.Interval = 10 * time.Second
		}
		if d.HealthCheck.Timeout == 0 {
			d.HealthCheck.Timeout = 5 * time.Second
		}
	}

	if err := validation.Validate(d); err != nil {
		return RegistrationDescriptor{}, err
	}
	if d.HealthCheck.Path != "" && d.HealthCheck.Path[0] != '/' {
		return RegistrationDescriptor{}, errors.Configurationf("health_check.path must start with '/', got %q", d.HealthCheck.Path)
	}

	if d.InstanceID == "" {
		d.InstanceID = d.ServiceName + "-" + uuid.NewString()
	}
	return d, nil
}

// Instance returns the ServiceInstance peers would discover for d.
func (d RegistrationDescriptor) Instance() ServiceInstance {
	return ServiceInstance{
		ID:          d.InstanceID,
		ServiceName: d.ServiceName,
		Host:        d.Host,
		Port:        d.Port,
		Secure:      d.Secure,
		Status:      StatusUp,
		Metadata:    maps.Clone(d.Metadata),
		Zone:        d.Zone,
	}
}
