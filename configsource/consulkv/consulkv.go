// Package consulkv reads application configuration from the Consul KV store.
package consulkv

import (
	"context"
	"strings"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/discoverykit/configsource"
	"github.com/kbukum/discoverykit/discovery/consul"
	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
)

// FormatKeyValue stores one property per key under the document folder:
// config/orders/db/host holds db.host.
const FormatKeyValue configsource.Format = "key_value"

// Config locates configuration documents in the KV store.
type Config struct {
	Consul consul.Config `yaml:"consul" mapstructure:"consul"`
	// Prefix is prepended to every document name (default "config/").
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	// Format of each document: yaml, json, properties or key_value.
	Format string `yaml:"format" mapstructure:"format"`
	// ProfileSeparator joins application and profile (default ",").
	ProfileSeparator string `yaml:"profile_separator" mapstructure:"profile_separator"`
	// DataKey, when set, is appended to each document key ("config/orders/data").
	DataKey string `yaml:"data_key" mapstructure:"data_key"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "config/"
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	if c.Format == "" {
		c.Format = string(configsource.FormatYAML)
	}
	if c.ProfileSeparator == "" {
		c.ProfileSeparator = ","
	}
}

// Source fetches documents with the Consul KV API.
type Source struct {
	cfg    Config
	format configsource.Format
	kv     *api.KV
	log    *logger.Logger
}

var _ configsource.Source = (*Source)(nil)

func init() {
	configsource.RegisterSourceFactory("consul", func(_ configsource.Config, providerCfg any, log *logger.Logger) (configsource.Source, error) {
		var cfg Config
		switch c := providerCfg.(type) {
		case *Config:
			cfg = *c
		case Config:
			cfg = c
		case nil:
		default:
			return nil, errors.Configurationf("consulkv: unexpected provider config %T", providerCfg)
		}
		return New(cfg, log)
	})
}

// New creates a KV source.
func New(cfg Config, log *logger.Logger) (*Source, error) {
	cfg.ApplyDefaults()
	format := FormatKeyValue
	if cfg.Format != string(FormatKeyValue) {
		f, err := configsource.ParseFormat(cfg.Format)
		if err != nil {
			return nil, err
		}
		format = f
	}
	client, err := consul.NewClient(cfg.Consul)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Source{cfg: cfg, format: format, kv: client.KV(), log: log.WithComponent("configsource.consul")}, nil
}

// Name returns the source name.
func (s *Source) Name() string { return "consul" }

// Fetch reads every document of application, most specific first. Missing
// documents are skipped.
func (s *Source) Fetch(ctx context.Context, application string, profiles []string) ([]configsource.PropertySource, error) {
	var out []configsource.PropertySource
	for _, name := range configsource.LookupNames(application, profiles, s.cfg.ProfileSeparator) {
		key := s.cfg.Prefix + name
		var (
			props map[string]any
			err   error
		)
		if s.format == FormatKeyValue {
			props, err = s.folder(ctx, key+"/")
		} else {
			props, err = s.document(ctx, key)
		}
		if err != nil {
			return nil, err
		}
		if len(props) == 0 {
			continue
		}
		out = append(out, configsource.PropertySource{Name: "consul:" + key, Properties: props})
	}
	return out, nil
}

func (s *Source) document(ctx context.Context, key string) (map[string]any, error) {
	if s.cfg.DataKey != "" {
		key += "/" + s.cfg.DataKey
	}
	pair, _, err := s.kv.Get(key, s.queryOptions(ctx))
	if err != nil {
		return nil, consul.ClassifyError(ctx, "kv get", err)
	}
	if pair == nil {
		s.log.Debug("no configuration document", logger.Fields("key", key))
		return nil, nil
	}
	return configsource.Parse(s.format, pair.Value, "consul:"+key)
}

func (s *Source) folder(ctx context.Context, prefix string) (map[string]any, error) {
	pairs, _, err := s.kv.List(prefix, s.queryOptions(ctx))
	if err != nil {
		return nil, consul.ClassifyError(ctx, "kv list", err)
	}
	props := make(map[string]any, len(pairs))
	for _, p := range pairs {
		rel := strings.Trim(strings.TrimPrefix(p.Key, prefix), "/")
		if rel == "" || strings.HasSuffix(p.Key, "/") {
			continue
		}
		props[strings.ReplaceAll(rel, "/", ".")] = string(p.Value)
	}
	return props, nil
}

func (s *Source) queryOptions(ctx context.Context) *api.QueryOptions {
	q := &api.QueryOptions{}
	return q.WithContext(ctx)
}

