package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testConfig struct {
	ServiceConfig `mapstructure:",squash"`
	Discovery     struct {
		Provider      string        `mapstructure:"provider"`
		RenewInterval time.Duration `mapstructure:"renew_interval"`
		Tags          []string      `mapstructure:"tags"`
	} `mapstructure:"discovery"`
}

type fakeFS struct {
	files  map[string]bool
	loaded []string
}

func (f *fakeFS) Exists(path string) bool { return f.files[path] }
func (f *fakeFS) LoadEnv(path string) error {
	f.loaded = append(f.loaded, path)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", `
name: orders
environment: staging
discovery:
  provider: consul
  renew_interval: 10s
  tags: [a, b]
`)
	t.Setenv("ORDERS_DISCOVERY_PROVIDER", "eureka")

	var cfg testConfig
	v, err := Load("orders", &cfg, WithConfigFile(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "orders" || cfg.Environment != "staging" {
		t.Errorf("unexpected service config %+v", cfg.ServiceConfig)
	}
	if cfg.Discovery.Provider != "eureka" {
		t.Errorf("expected env override eureka, got %q", cfg.Discovery.Provider)
	}
	if cfg.Discovery.RenewInterval != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.Discovery.RenewInterval)
	}
	if len(cfg.Discovery.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", cfg.Discovery.Tags)
	}
	if v.GetString("discovery.provider") != "eureka" {
		t.Errorf("expected viper to expose env value, got %q", v.GetString("discovery.provider"))
	}
}

func TestLoad_DefaultsAndMissingFile(t *testing.T) {
	var cfg testConfig
	_, err := Load("orders", &cfg,
		WithFileSystem(&fakeFS{}),
		WithDefaults(map[string]any{"discovery.provider": "static", "name": "orders"}),
	)
	if err != nil {
		t.Fatalf("expected success without files, got %v", err)
	}
	if cfg.Discovery.Provider != "static" || cfg.Name != "orders" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", "name: [unterminated")
	var cfg testConfig
	if _, err := Load("orders", &cfg, WithConfigFile(path)); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_EnvFileDiscovered(t *testing.T) {
	fs := &fakeFS{files: map[string]bool{"./cmd/orders/.env": true}}
	var cfg testConfig
	if _, err := Load("orders", &cfg, WithFileSystem(fs)); err != nil {
		t.Fatal(err)
	}
	if len(fs.loaded) != 1 || fs.loaded[0] != "./cmd/orders/.env" {
		t.Errorf("expected .env to be loaded, got %v", fs.loaded)
	}
}

func TestFindConfigFile(t *testing.T) {
	fs := &fakeFS{files: map[string]bool{"./config/config.yml": true}}
	if got := findConfigFile(fs, "orders"); got != "./config/config.yml" {
		t.Errorf("expected ./config/config.yml, got %q", got)
	}
	fs.files["./cmd/orders/config.yml"] = true
	if got := findConfigFile(fs, "orders"); got != "./cmd/orders/config.yml" {
		t.Errorf("expected cmd path to win, got %q", got)
	}
}

func TestEnvKeyVariants(t *testing.T) {
	got := envKeyVariants("DISCOVERY_RENEW_INTERVAL")
	joined := strings.Join(got, ",")
	for _, want := range []string{"discovery.renew_interval", "discovery.renew.interval", "discovery_renew_interval"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected variant %q in %v", want, got)
		}
	}
	if single := envKeyVariants("NAME"); len(single) != 1 || single[0] != "name" {
		t.Errorf("unexpected single variant %v", single)
	}
}

func TestEnvPrefix(t *testing.T) {
	if got := envPrefix("orders-api.v2"); got != "ORDERS_API_V2" {
		t.Errorf("expected ORDERS_API_V2, got %q", got)
	}
}

func TestServiceConfig_DefaultsAndValidate(t *testing.T) {
	c := ServiceConfig{Name: "orders"}
	c.ApplyDefaults()
	if c.Environment != "development" || len(c.Profiles) != 1 || c.Profiles[0] != "development" {
		t.Errorf("unexpected defaults %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		cfg    ServiceConfig
		errMsg string
	}{
		{"missing name", ServiceConfig{Environment: "test"}, "name is required"},
		{"bad env", ServiceConfig{Name: "x", Environment: "qa"}, "environment must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logging.ApplyDefaults()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}
