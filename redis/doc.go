// Package redis provides a Redis client component built on go-redis, used to
// persist resolver snapshots between restarts.
//
// TypedStore stores JSON values under a namespaced key:
//
//	store := redis.NewTypedStore[discovery.Snapshot](client, "snapshot", 24*time.Hour)
//	snap, ok, err := store.Load(ctx, "orders")
package redis
