// Package vault reads application configuration from a HashiCorp Vault KV
// secrets engine.
package vault

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kbukum/discoverykit/configsource"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/httpclient"
	"github.com/kbukum/discoverykit/logger"
)

const tokenHeader = "X-Vault-Token"

// Source fetches secrets over the Vault HTTP API.
type Source struct {
	cfg    Config
	client *httpclient.Client
	login  *jwtLogin
	log    *logger.Logger
}

var _ configsource.Source = (*Source)(nil)

func init() {
	configsource.RegisterSourceFactory("vault", func(_ configsource.Config, providerCfg any, log *logger.Logger) (configsource.Source, error) {
		var cfg Config
		switch c := providerCfg.(type) {
		case *Config:
			cfg = *c
		case Config:
			cfg = c
		case nil:
		default:
			return nil, errors.Configurationf("vault: unexpected provider config %T", providerCfg)
		}
		return New(cfg, log)
	})
}

// New creates a Vault source.
func New(cfg Config, log *logger.Logger) (*Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Configuration(err.Error())
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Source{cfg: cfg, log: log.WithComponent("configsource.vault")}
	hc := httpclient.Config{
		BaseURL:        cfg.Address,
		Timeout:        cfg.Timeout,
		TLS:            cfg.TLS,
		CircuitBreaker: cfg.CircuitBreaker,
	}
	if cfg.Namespace != "" {
		hc.Headers = map[string]string{"X-Vault-Namespace": cfg.Namespace}
	}
	if cfg.Auth.Method == AuthMethodToken {
		hc.Auth = httpclient.TokenAuth(tokenHeader, cfg.Auth.Token)
	} else {
		hc.Auth = httpclient.DynamicTokenAuth(tokenHeader, func(ctx context.Context) (string, error) {
			return s.login.Token(ctx)
		})
	}

	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}
	s.client = client
	if cfg.Auth.Method == AuthMethodJWT {
		if s.login, err = newJWTLogin(cfg.Auth, client); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name returns the source name.
func (s *Source) Name() string { return "vault" }

// Fetch reads every secret of application, most specific first. Missing and
// empty secrets are skipped.
func (s *Source) Fetch(ctx context.Context, application string, profiles []string) ([]configsource.PropertySource, error) {
	var out []configsource.PropertySource
	for _, name := range configsource.LookupNames(application, profiles, s.cfg.ProfileSeparator) {
		path := s.secretPath(name)
		props, err := s.read(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(props) == 0 {
			continue
		}
		out = append(out, configsource.PropertySource{Name: "vault:" + path, Properties: props})
	}
	return out, nil
}

// secretPath builds the API path of a secret for the configured KV version.
func (s *Source) secretPath(name string) string {
	parts := []string{"v1", s.cfg.Backend}
	if s.cfg.KVVersion == 2 {
		parts = append(parts, "data")
	}
	if s.cfg.PathPrefix != "" {
		parts = append(parts, s.cfg.PathPrefix)
	}
	return "/" + strings.Join(append(parts, name), "/")
}

type secretResponse struct {
	Data json.RawMessage `json:"data"`
}

func (s *Source) read(ctx context.Context, path string) (map[string]any, error) {
	resp, err := s.client.Do(ctx, httpclient.Request{Method: "GET", Path: path, Operation: "vault read"})
	if err != nil && errors.IsDenied(err) && s.login != nil {
		// The login token may have been revoked early.
		s.login.invalidate()
		resp, err = s.client.Do(ctx, httpclient.Request{Method: "GET", Path: path, Operation: "vault read"})
	}
	if errors.IsNotFound(err) {
		s.log.Debug("no secret", logger.Fields("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	outer, err := httpclient.DecodeJSON[secretResponse](resp, "vault:"+path)
	if err != nil {
		return nil, err
	}
	data := outer.Data
	if s.cfg.KVVersion == 2 && len(data) > 0 {
		var inner secretResponse
		if err := json.Unmarshal(outer.Data, &inner); err != nil {
			return nil, errors.Malformed("vault:"+path, err)
		}
		data = inner.Data
	}

	var secret map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &secret); err != nil {
			return nil, errors.Malformed("vault:"+path, err)
		}
	}
	return configsource.Flatten(secret), nil
}
