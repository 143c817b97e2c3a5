// Package cache provides the TTL key-value store consumed at the proof
// service boundary. Two implementations are provided:
//   - Memory: in-process, for testing and single-instance deployments.
//   - Badger: durable, backed by an embedded badger database.
//
// The crypto core never touches the cache; it is consumed only by the
// orchestrating service.
package cache

import (
	"context"
	"time"
)

// DefaultProofTTL is how long hydrated proof views stay cached.
const DefaultProofTTL = 7 * 24 * time.Hour

// Cache is a TTL key-value store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}
