// Package redisstore persists resolver snapshots in Redis so a restarted
// process can serve the last known membership before its first refresh.
package redisstore

import (
	"context"
	"time"

	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/redis"
)

// DefaultTTL bounds how old a persisted snapshot may get before Redis drops it.
const DefaultTTL = 24 * time.Hour

// Store implements discovery.SnapshotStore.
type Store struct {
	snapshots *redis.TypedStore[discovery.Snapshot]
}

var _ discovery.SnapshotStore = (*Store)(nil)

// New creates a Store writing keys "<prefix>:snapshot:<service>". A zero ttl
// uses DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{snapshots: redis.NewTypedStore[discovery.Snapshot](client, "snapshot", ttl)}
}

// Load returns the persisted snapshot of service.
func (s *Store) Load(ctx context.Context, service string) (discovery.Snapshot, bool, error) {
	return s.snapshots.Load(ctx, service)
}

// Save persists snap. Freshness is recomputed by the resolver on load.
func (s *Store) Save(ctx context.Context, service string, snap discovery.Snapshot) error {
	return s.snapshots.Save(ctx, service, snap)
}
