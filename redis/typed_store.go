package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kbukum/discoverykit/errors"
)

// TypedStore stores JSON-encoded values of type C under a key namespace.
type TypedStore[C any] struct {
	client    *Client
	namespace string
	ttl       time.Duration
}

// NewTypedStore creates a TypedStore writing keys "<prefix>:<namespace>:<key>".
// A zero ttl keeps values forever.
func NewTypedStore[C any](client *Client, namespace string, ttl time.Duration) *TypedStore[C] {
	return &TypedStore[C]{client: client, namespace: namespace, ttl: ttl}
}

// Load decodes the value of key. The bool is false when the key is absent.
func (s *TypedStore[C]) Load(ctx context.Context, key string) (C, bool, error) {
	var val C
	raw, ok, err := s.client.Get(ctx, s.client.Key(s.namespace, key))
	if err != nil || !ok {
		return val, false, err
	}
	if err := json.Unmarshal(raw, &val); err != nil {
		return val, false, errors.Malformed("redis "+s.namespace, err)
	}
	return val, true, nil
}

// Save encodes val and stores it with the store's TTL.
func (s *TypedStore[C]) Save(ctx context.Context, key string, val C) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Internal(err)
	}
	return s.client.Set(ctx, s.client.Key(s.namespace, key), data, s.ttl)
}

// Delete removes the key.
func (s *TypedStore[C]) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.client.Key(s.namespace, key))
}
