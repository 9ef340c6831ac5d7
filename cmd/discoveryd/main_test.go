package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/logger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discoveryd.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const staticConfig = `
name: discoveryd
environment: test
version: 1.0.0
logging:
  level: error
discovery:
  enabled: true
  provider: static
  static:
    endpoints:
      - service: billing
        id: billing-1
        host: 10.0.0.7
        port: 9000
      - service: billing
        id: billing-2
        host: 10.0.0.8
        port: 9000
        status: DOWN
`

func TestRun_ResolveOnce(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), writeConfig(t, staticConfig), "billing", &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var got []discovery.ServiceInstance
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output %q: %v", out.String(), err)
	}
	if len(got) != 2 || got[0].ServiceName != "billing" {
		t.Fatalf("instances = %+v", got)
	}
}

func TestRun_ResolveUnknownService(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), writeConfig(t, staticConfig), "shipping", &out); err == nil {
		t.Fatal("want error for a service without instances")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "name: discoveryd\nenvironment: moon\n")
	if err := run(context.Background(), path, "billing", &bytes.Buffer{}); err == nil {
		t.Fatal("want validation error")
	}
}

func TestLoadConfig_MergesRemoteSources(t *testing.T) {
	var gotPath string
	cfgServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"discoveryd","propertySources":[
			{"name":"git:discoveryd-test.yml","source":{"version":"2.0.0","discovery.resolver.strategy":"random"}}
		]}`))
	}))
	t.Cleanup(cfgServer.Close)

	path := writeConfig(t, `
name: discoveryd
environment: test
version: 1.0.0
logging:
  level: error
configsource:
  enabled: true
  provider: springcloud
  springcloud:
    uri: `+cfgServer.URL+`
`)
	cfg, src, err := loadConfig(context.Background(), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if gotPath != "/discoveryd/test" {
		t.Errorf("request path = %q", gotPath)
	}
	if cfg.Version != "2.0.0" {
		t.Errorf("version = %q, want remote value", cfg.Version)
	}
	if cfg.Discovery.Resolver.Strategy != discovery.StrategyRandom {
		t.Errorf("strategy = %q", cfg.Discovery.Resolver.Strategy)
	}
	if cfg.Name != "discoveryd" {
		t.Errorf("name = %q, want local value", cfg.Name)
	}
	if origin, _ := src.Resolver().Origin("version"); origin != "git:discoveryd-test.yml" {
		t.Errorf("version origin = %q", origin)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := &Config{}
	cfg.Name = "orders"
	cfg.Discovery.Registration.Enabled = true
	cfg.ApplyDefaults()

	if cfg.ConfigSource.Application != "orders" {
		t.Errorf("configsource application = %q", cfg.ConfigSource.Application)
	}
	if got := cfg.Discovery.Registration.Descriptor.ServiceName; got != "orders" {
		t.Errorf("descriptor service = %q", got)
	}
	if got := cfg.Discovery.Registration.Descriptor.Metadata["version"]; got != cfg.Version || got == "" {
		t.Errorf("version metadata = %q, config version %q", got, cfg.Version)
	}
	if got := cfg.Discovery.Registration.Descriptor.Port; got != cfg.Server.Port {
		t.Errorf("descriptor port = %d, want server port %d", got, cfg.Server.Port)
	}
	if cfg.Discovery.backendConfig() != &cfg.Discovery.Static {
		t.Error("default provider should select the static section")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// shutdownRecorder notes whether the daemon's listener still accepted
// connections when the instance was deregistered.
type shutdownRecorder struct {
	addr string

	mu           sync.Mutex
	registered   bool
	deregistered bool
	listenerOpen bool
}

func (b *shutdownRecorder) Name() string { return "recorder" }

func (b *shutdownRecorder) Register(context.Context, discovery.RegistrationDescriptor) (string, error) {
	b.mu.Lock()
	b.registered = true
	b.mu.Unlock()
	return "lease", nil
}

func (b *shutdownRecorder) Renew(context.Context, discovery.RegistrationDescriptor, string) error {
	return nil
}

func (b *shutdownRecorder) Deregister(context.Context, discovery.RegistrationDescriptor, string) error {
	conn, err := net.DialTimeout("tcp", b.addr, time.Second)
	if err == nil {
		conn.Close()
	}
	b.mu.Lock()
	b.deregistered = true
	b.listenerOpen = err == nil
	b.mu.Unlock()
	return nil
}

func (b *shutdownRecorder) Query(context.Context, string, discovery.QueryOptions) (discovery.QueryResult, error) {
	return discovery.QueryResult{}, nil
}

func (b *shutdownRecorder) isRegistered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_DeregistersBeforeListenerCloses(t *testing.T) {
	port := freePort(t)
	b := &shutdownRecorder{addr: fmt.Sprintf("127.0.0.1:%d", port)}
	discovery.RegisterBackendFactory("recorder", func(discovery.Config, any, *logger.Logger) (discovery.Backend, error) {
		return b, nil
	})
	path := writeConfig(t, fmt.Sprintf(`
name: discoveryd
environment: test
version: 1.0.0
logging:
  level: error
discovery:
  enabled: true
  provider: recorder
  registration:
    enabled: true
    host: 127.0.0.1
    health_check:
      kind: http
server:
  enabled: true
  port: %d
`, port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, path, "", io.Discard) }()

	deadline := time.Now().Add(5 * time.Second)
	for !b.isRegistered() {
		if time.Now().After(deadline) {
			t.Fatal("instance was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.deregistered {
		t.Fatal("instance was not deregistered on shutdown")
	}
	if !b.listenerOpen {
		t.Error("HTTP listener closed before the instance was deregistered")
	}
}
