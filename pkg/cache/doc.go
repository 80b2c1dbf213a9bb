// Package cache provides the in-memory image byte cache and an optional
// Redis-backed variant that can be shared between processes.
//
// Entries are keyed by the fully resolved, size-specific download URL, so
// one catalog image can occupy several entries (one per resolution). An
// entry is written once after a successful download, is treated as
// immutable, and is never evicted or expired.
//
// # Basic Usage
//
//	store := cache.NewMemoryStore()
//
//	key, err := cache.KeyFor(record, metadata.Thumbnail)
//	if err != nil {
//		return err // metadata.ErrMalformedURL
//	}
//
//	data, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// download, then store.Set(ctx, key, data)
//	}
//
// # Shared Cache
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient, cache.DefaultRedisPrefix)
//
// Redis keys are written without TTL. Configure the Redis server with a
// noeviction policy if entries must survive memory pressure.
//
// # Metrics
//
//   - picsum_cache_hits_total{layer} - Cache hits ("memory", "redis")
//   - picsum_cache_misses_total{layer} - Cache misses
//   - picsum_cache_entries{layer} - Entries written by this process
//   - picsum_cache_size_bytes{layer} - Bytes written by this process
//   - picsum_cache_errors_total{operation} - Store operation errors
package cache
