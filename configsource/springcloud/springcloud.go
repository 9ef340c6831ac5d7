// Package springcloud reads application configuration from a Spring Cloud
// Config server.
package springcloud

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kbukum/discoverykit/configsource"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/httpclient"
	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/resilience"
	"github.com/kbukum/discoverykit/security"
)

// Config points at a config server.
type Config struct {
	// URI of the config server (default http://localhost:8888).
	URI string `yaml:"uri" mapstructure:"uri"`
	// Label selects a branch or tag of the backing repository.
	Label    string `yaml:"label" mapstructure:"label"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	TLS            *security.TLSConfig              `yaml:"tls" mapstructure:"tls"`
	Timeout        time.Duration                    `yaml:"timeout" mapstructure:"timeout"`
	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.URI == "" {
		c.URI = "http://localhost:8888"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config server uri must be an absolute http(s) URL, got %q", c.URI)
	}
	return c.TLS.Validate()
}

// Source fetches the environment of an application.
type Source struct {
	cfg    Config
	client *httpclient.Client
	log    *logger.Logger
}

var _ configsource.Source = (*Source)(nil)

func init() {
	configsource.RegisterSourceFactory("springcloud", func(_ configsource.Config, providerCfg any, log *logger.Logger) (configsource.Source, error) {
		var cfg Config
		switch c := providerCfg.(type) {
		case *Config:
			cfg = *c
		case Config:
			cfg = c
		case nil:
		default:
			return nil, errors.Configurationf("springcloud: unexpected provider config %T", providerCfg)
		}
		return New(cfg, log)
	})
}

// New creates a config server source.
func New(cfg Config, log *logger.Logger) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Configuration(err.Error())
	}
	hc := httpclient.Config{
		BaseURL:        cfg.URI,
		Timeout:        cfg.Timeout,
		TLS:            cfg.TLS,
		CircuitBreaker: cfg.CircuitBreaker,
		Headers:        map[string]string{"Accept": "application/json"},
	}
	if cfg.Username != "" {
		hc.Auth = httpclient.BasicAuth(cfg.Username, cfg.Password)
	}
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Source{cfg: cfg, client: client, log: log.WithComponent("configsource.springcloud")}, nil
}

// Name returns the source name.
func (s *Source) Name() string { return "springcloud" }

type environment struct {
	Name            string   `json:"name"`
	Profiles        []string `json:"profiles"`
	Label           *string  `json:"label"`
	Version         *string  `json:"version"`
	PropertySources []struct {
		Name   string         `json:"name"`
		Source map[string]any `json:"source"`
	} `json:"propertySources"`
}

// Fetch requests /{application}/{profiles}[/{label}]. The server already
// orders property sources most specific first.
func (s *Source) Fetch(ctx context.Context, application string, profiles []string) ([]configsource.PropertySource, error) {
	if len(profiles) == 0 {
		profiles = []string{"default"}
	}
	escaped := make([]string, len(profiles))
	for i, p := range profiles {
		escaped[i] = url.PathEscape(p)
	}
	path := "/" + url.PathEscape(application) + "/" + strings.Join(escaped, ",")
	if s.cfg.Label != "" {
		// Spring encodes "/" in labels as "(_)".
		path += "/" + url.PathEscape(strings.ReplaceAll(s.cfg.Label, "/", "(_)"))
	}

	resp, err := s.client.Do(ctx, httpclient.Request{Method: "GET", Path: path, Operation: "config fetch"})
	if errors.IsNotFound(err) {
		s.log.Debug("no environment", logger.Fields("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	env, err := httpclient.DecodeJSON[environment](resp, "springcloud:"+path)
	if err != nil {
		return nil, err
	}

	out := make([]configsource.PropertySource, 0, len(env.PropertySources))
	for _, ps := range env.PropertySources {
		if len(ps.Source) == 0 {
			continue
		}
		out = append(out, configsource.PropertySource{Name: ps.Name, Properties: configsource.Flatten(ps.Source)})
	}
	if env.Version != nil {
		s.log.Debug("environment fetched", logger.Fields("path", path, "version", *env.Version, "sources", len(out)))
	}
	return out, nil
}
