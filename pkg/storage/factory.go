// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New builds a Store for the named backend. An empty backend defaults
// to memory.
func New(ctx context.Context, backend, redisURL string, cleanupInterval time.Duration) (Store, error) {
	switch backend {
	case "", BackendMemory:
		opts := []MemoryStoreOption{}
		if cleanupInterval > 0 {
			opts = append(opts, WithCleanupInterval(cleanupInterval))
		}
		return NewMemoryStore(opts...), nil
	case BackendRedis:
		return NewRedisStore(ctx, RedisConfig{URL: redisURL})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
