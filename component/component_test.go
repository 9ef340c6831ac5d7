package component

import (
	"context"
	"errors"
	"testing"
)

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	health   Health
	events   *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	*m.events = append(*m.events, "start:"+m.name)
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	*m.events = append(*m.events, "stop:"+m.name)
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health { return m.health }

func newMocks(events *[]string, names ...string) []*mockComponent {
	out := make([]*mockComponent, 0, len(names))
	for _, n := range names {
		out = append(out, &mockComponent{name: n, events: events, health: Health{Name: n, Status: StatusHealthy}})
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegistry_StartStopOrder(t *testing.T) {
	var events []string
	r := NewRegistry(nil)
	for _, m := range newMocks(&events, "store", "resolver", "registrar") {
		if err := r.Register(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"start:store", "start:resolver", "start:registrar",
		"stop:registrar", "stop:resolver", "stop:store",
	}
	if !equal(events, want) {
		t.Errorf("expected %v, got %v", want, events)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	var events []string
	r := NewRegistry(nil)
	m := newMocks(&events, "a")[0]
	_ = r.Register(m)
	if err := r.Register(m); err == nil {
		t.Error("expected duplicate error")
	}
}

func TestRegistry_StartFailureRollsBack(t *testing.T) {
	var events []string
	r := NewRegistry(nil)
	mocks := newMocks(&events, "a", "b", "c")
	mocks[1].startErr = errors.New("bad descriptor")
	for _, m := range mocks {
		_ = r.Register(m)
	}
	err := r.StartAll(context.Background())
	if err == nil {
		t.Fatal("expected start error")
	}
	want := []string{"start:a", "start:b", "stop:a"}
	if !equal(events, want) {
		t.Errorf("expected %v, got %v", want, events)
	}
	events = events[:0]
	if err := r.StopAll(context.Background()); err != nil || len(events) != 0 {
		t.Errorf("expected nothing left to stop, got %v %v", events, err)
	}
}

func TestRegistry_StopErrorsJoined(t *testing.T) {
	var events []string
	r := NewRegistry(nil)
	mocks := newMocks(&events, "a", "b")
	mocks[0].stopErr = errors.New("a failed")
	mocks[1].stopErr = errors.New("b failed")
	for _, m := range mocks {
		_ = r.Register(m)
	}
	_ = r.StartAll(context.Background())
	err := r.StopAll(context.Background())
	if err == nil || !errors.Is(err, mocks[0].stopErr) || !errors.Is(err, mocks[1].stopErr) {
		t.Errorf("expected both stop errors, got %v", err)
	}
}

func TestRegistry_GetAllHealth(t *testing.T) {
	var events []string
	r := NewRegistry(nil)
	mocks := newMocks(&events, "a", "b")
	mocks[1].health.Status = StatusDegraded
	for _, m := range mocks {
		_ = r.Register(m)
	}
	if r.Get("b") != mocks[1] || r.Get("zzz") != nil {
		t.Error("unexpected Get result")
	}
	if len(r.All()) != 2 {
		t.Errorf("expected 2 components, got %d", len(r.All()))
	}
	healths := r.HealthAll(context.Background())
	if Overall(healths) != StatusDegraded {
		t.Errorf("expected degraded, got %s", Overall(healths))
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		in   []HealthStatus
		want HealthStatus
	}{
		{nil, StatusHealthy},
		{[]HealthStatus{StatusHealthy, StatusHealthy}, StatusHealthy},
		{[]HealthStatus{StatusHealthy, StatusDegraded}, StatusDegraded},
		{[]HealthStatus{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		hs := make([]Health, 0, len(tt.in))
		for _, s := range tt.in {
			hs = append(hs, Health{Status: s})
		}
		if got := Overall(hs); got != tt.want {
			t.Errorf("Overall(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
