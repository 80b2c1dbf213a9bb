package cache

import (
	"github.com/Sternrassler/picsum-client/pkg/metadata"
)

// DefaultRedisPrefix namespaces image entries in a shared Redis database.
const DefaultRedisPrefix = "picsum:image:"

// Key identifies cached image bytes. It is the fully resolved size-specific
// download URL (baseURL/width/height) and doubles as the fetch address.
type Key string

// KeyFor derives the cache key for a record at a size class.
// It fails with metadata.ErrMalformedURL for unusable download URLs.
func KeyFor(r metadata.Record, size metadata.SizeClass) (Key, error) {
	k, err := r.CacheKey(size)
	if err != nil {
		return "", err
	}
	return Key(k), nil
}

// String returns the download URL.
func (k Key) String() string {
	return string(k)
}

// namespaced returns the key under a storage prefix.
//
// Example:
//
//	picsum:image:https://picsum.photos/id/1002/500/333
func (k Key) namespaced(prefix string) string {
	return prefix + string(k)
}
