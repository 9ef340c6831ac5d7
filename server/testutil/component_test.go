package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/component"
	"github.com/kbukum/discoverykit/discovery"
	dtestutil "github.com/kbukum/discoverykit/discovery/testutil"
	"github.com/kbukum/discoverykit/server"
	"github.com/kbukum/discoverykit/testutil"
)

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestComponent_Interfaces(t *testing.T) {
	comp := NewComponent(server.Endpoints{})
	var _ component.Component = comp
	var _ testutil.TestComponent = comp
}

func TestComponent_Lifecycle(t *testing.T) {
	comp := NewComponent(server.Endpoints{})
	ctx := context.Background()

	if comp.BaseURL() != "" {
		t.Error("BaseURL() should be empty before Start")
	}
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := comp.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if comp.BaseURL() == "" {
		t.Error("BaseURL() should not be empty after Start")
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("Health = %q, want %q", h.Status, component.StatusHealthy)
	}
	if err := comp.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if h := comp.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("Health after Stop = %q, want %q", h.Status, component.StatusUnhealthy)
	}
}

func TestComponent_ServesResolvedMembership(t *testing.T) {
	backend := dtestutil.NewBackend()
	backend.AddInstance("orders", discovery.ServiceInstance{ID: "orders-1", Host: "10.0.0.1", Port: 8080, Status: discovery.StatusUp})
	resolver, err := discovery.NewResolver(backend, discovery.ResolverConfig{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resolver.Stop(context.Background()) })

	comp := NewComponent(server.Endpoints{Resolver: resolver})
	testutil.T(t).Setup(comp)

	status, body := get(t, comp.BaseURL()+"/discovery/services/orders")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var resp struct {
		Data struct {
			Service   string                      `json:"service"`
			Instances []discovery.ServiceInstance `json:"instances"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data.Instances) != 1 || resp.Data.Instances[0].ID != "orders-1" {
		t.Errorf("instances = %+v", resp.Data.Instances)
	}
}

func TestComponent_Reset(t *testing.T) {
	comp := NewComponent(server.Endpoints{})
	ctx := context.Background()

	comp.GinEngine().GET("/before", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer comp.Stop(ctx)

	if status, _ := get(t, comp.BaseURL()+"/before"); status != http.StatusOK {
		t.Errorf("before Reset: status = %d, want %d", status, http.StatusOK)
	}

	if err := comp.Reset(ctx); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}

	if status, _ := get(t, comp.BaseURL()+"/before"); status != http.StatusNotFound {
		t.Errorf("after Reset: status = %d, want %d", status, http.StatusNotFound)
	}
	if status, _ := get(t, comp.BaseURL()+"/health"); status != http.StatusOK {
		t.Errorf("default endpoints should survive Reset, /health = %d", status)
	}
}

func TestComponent_ResetBeforeStart(t *testing.T) {
	if err := NewComponent(server.Endpoints{}).Reset(context.Background()); err == nil {
		t.Error("Reset() before Start should fail")
	}
}
