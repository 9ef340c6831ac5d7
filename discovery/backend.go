package discovery

import (
	"context"
	"time"
)

// QueryOptions carries the blocking-query parameters of a registry that
// supports long polling. Registries without blocking queries ignore them.
type QueryOptions struct {
	// WaitIndex is the index of the last result seen; zero means "answer now".
	WaitIndex uint64
	// WaitTime bounds how long the registry may hold the request.
	WaitTime time.Duration
}

// QueryResult is one answer to a discovery query.
type QueryResult struct {
	Instances []ServiceInstance
	// Index is the registry's change index for the answer, if any.
	Index uint64
	// Blocking reports that the registry honours QueryOptions.WaitIndex.
	Blocking bool
}

// Backend is the capability set a registry adapter provides. Errors come from
// the errors package taxonomy: transport failures are retryable, an unknown
// instance on Renew means the lease is gone remotely.
type Backend interface {
	Name() string
	// Register creates the lease and returns a backend-specific token.
	Register(ctx context.Context, d RegistrationDescriptor) (string, error)
	Renew(ctx context.Context, d RegistrationDescriptor, token string) error
	Deregister(ctx context.Context, d RegistrationDescriptor, token string) error
	Query(ctx context.Context, service string, opts QueryOptions) (QueryResult, error)
}

// SnapshotStore persists resolver snapshots so a cold process can serve the
// last known membership before its first refresh succeeds.
type SnapshotStore interface {
	Load(ctx context.Context, service string) (Snapshot, bool, error)
	Save(ctx context.Context, service string, snap Snapshot) error
}

// Metrics receives registrar and resolver events. The observability package
// provides an OpenTelemetry implementation.
type Metrics interface {
	RegistrationAttempt(ctx context.Context, service string, err error)
	Renewal(ctx context.Context, service string, err error)
	LeaseDown(service string, down bool)
	Refresh(ctx context.Context, service string, err error)
	ResolveLatency(ctx context.Context, service string, d time.Duration)
	CacheSize(n int)
}

type nopMetrics struct{}

func (nopMetrics) RegistrationAttempt(context.Context, string, error)    {}
func (nopMetrics) Renewal(context.Context, string, error)                {}
func (nopMetrics) LeaseDown(string, bool)                                {}
func (nopMetrics) Refresh(context.Context, string, error)                {}
func (nopMetrics) ResolveLatency(context.Context, string, time.Duration) {}
func (nopMetrics) CacheSize(int)                                         {}
