// Package resolver serves size-specific images for catalog records from a
// cache, downloading misses through a worker pool.
//
// Concurrent requests for the same key share one download. The result is
// written to the cache once and delivered to every waiter. A waiter whose
// context ends is detached; when the last waiter detaches the download is
// cancelled.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/picsum-client/pkg/cache"
	"github.com/Sternrassler/picsum-client/pkg/imaging"
	"github.com/Sternrassler/picsum-client/pkg/metadata"
	"github.com/Sternrassler/picsum-client/pkg/worker"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picsum_resolve_total",
		Help: "Image resolutions by size class and result",
	}, []string{"size", "result"}) // result: "hit", "miss", "malformed", "downloaded", "failed", "abandoned"

	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picsum_inflight_coalesced_total",
		Help: "Resolutions that joined a download already in flight",
	})
)

// ErrDownload is returned by Fetch when the download failed or yielded a
// payload that is not an image.
var ErrDownload = errors.New("image download failed")

// storeTimeout bounds the cache write after a download.
const storeTimeout = 5 * time.Second

// Config holds resolver configuration.
type Config struct {
	// Validate checks a downloaded payload before it is cached. The default
	// requires the whole payload to decode as an image.
	Validate func(data []byte) error
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{Validate: validateImage}
}

func validateImage(data []byte) error {
	_, _, err := imaging.Decode(data)
	return err
}

type waiter struct {
	deliver func([]byte)
	fail    func(error)
	stop    func() bool
}

// flight is one in-progress download shared by its waiters.
type flight struct {
	key     cache.Key
	size    metadata.SizeClass
	job     *worker.Job
	waiters map[uint64]*waiter
}

// Resolver resolves records to image bytes.
type Resolver struct {
	store    cache.Store
	pool     *worker.Pool
	validate func([]byte) error
	logger   zerolog.Logger

	mu       sync.Mutex
	inflight map[cache.Key]*flight
	nextID   uint64
}

// New creates a resolver over store, downloading through pool.
func New(store cache.Store, pool *worker.Pool, config Config) *Resolver {
	if store == nil {
		panic("resolver: store cannot be nil")
	}
	if pool == nil {
		panic("resolver: pool cannot be nil")
	}
	if config.Validate == nil {
		config.Validate = validateImage
	}

	return &Resolver{
		store:    store,
		pool:     pool,
		validate: config.Validate,
		logger:   log.With().Str("component", "resolver").Logger(),
		inflight: make(map[cache.Key]*flight),
	}
}

// Pending returns the number of downloads in flight.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Resolve delivers the image for rec at size.
//
// A malformed download URL is returned as an error and deliver is never
// called. On a cache hit deliver runs before Resolve returns. On a miss
// deliver runs later on a worker goroutine, or never if the download fails
// or ctx ends first. Waiters of one download share the delivered slice, so
// it must be treated as read-only.
func (r *Resolver) Resolve(ctx context.Context, rec metadata.Record, size metadata.SizeClass, deliver func([]byte)) error {
	return r.resolve(ctx, rec, size, deliver, nil)
}

// Fetch blocks until the image for rec at size is available, the download
// fails with ErrDownload, or ctx ends. The returned bytes are read-only.
func (r *Resolver) Fetch(ctx context.Context, rec metadata.Record, size metadata.SizeClass) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)

	err := r.resolve(ctx, rec, size,
		func(data []byte) { ch <- result{data: data} },
		func(err error) { ch <- result{err: err} },
	)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve runs one lookup. Exactly one of deliver or fail is called per
// successful registration; fail may be nil.
func (r *Resolver) resolve(ctx context.Context, rec metadata.Record, size metadata.SizeClass, deliver func([]byte), fail func(error)) error {
	key, err := cache.KeyFor(rec, size)
	if err != nil {
		resolveTotal.WithLabelValues(size.String(), "malformed").Inc()
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if data, ok := r.lookup(ctx, key); ok {
		resolveTotal.WithLabelValues(size.String(), "hit").Inc()
		deliver(data)
		return nil
	}

	r.mu.Lock()
	f, joined := r.inflight[key]
	if !joined {
		// A download for key may have finished since the lookup above.
		if data, ok := r.lookup(ctx, key); ok {
			r.mu.Unlock()
			resolveTotal.WithLabelValues(size.String(), "hit").Inc()
			deliver(data)
			return nil
		}

		f = &flight{key: key, size: size, waiters: make(map[uint64]*waiter)}
		job, err := r.pool.Submit(key.String(), func(data []byte, ok bool) {
			r.complete(f, data, ok)
		})
		if err != nil {
			r.mu.Unlock()
			return err
		}
		f.job = job
		r.inflight[key] = f
	}

	r.nextID++
	id := r.nextID
	w := &waiter{deliver: deliver, fail: fail}
	w.stop = context.AfterFunc(ctx, func() { r.detach(f, id, ctx.Err()) })
	f.waiters[id] = w
	r.mu.Unlock()

	resolveTotal.WithLabelValues(size.String(), "miss").Inc()
	if joined {
		coalescedTotal.Inc()
		r.logger.Debug().Str("key", key.String()).Msg("Joined in-flight download")
	}
	return nil
}

// lookup reads key from the store. Store errors other than a miss are
// logged and treated as a miss.
func (r *Resolver) lookup(ctx context.Context, key cache.Key) ([]byte, bool) {
	data, err := r.store.Get(ctx, key)
	if err == nil {
		return data, true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed")
	}
	return nil, false
}

// complete handles the job result for f on a worker goroutine.
func (r *Resolver) complete(f *flight, data []byte, ok bool) {
	if ok {
		if err := r.validate(data); err != nil {
			r.logger.Warn().Err(err).Str("key", f.key.String()).Msg("Downloaded payload rejected")
			ok = false
		}
	}

	if ok {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.store.Set(ctx, f.key, data); err != nil {
			r.logger.Warn().Err(err).Str("key", f.key.String()).Msg("Cache write failed")
		}
		cancel()
	}

	r.mu.Lock()
	if r.inflight[f.key] == f {
		delete(r.inflight, f.key)
	}
	waiters := f.waiters
	f.waiters = nil
	r.mu.Unlock()

	if ok {
		resolveTotal.WithLabelValues(f.size.String(), "downloaded").Inc()
	} else {
		resolveTotal.WithLabelValues(f.size.String(), "failed").Inc()
		r.logger.Debug().
			Str("key", f.key.String()).
			Int("waiters", len(waiters)).
			Msg("Download failed, waiters dropped")
	}

	for _, w := range waiters {
		w.stop()
		switch {
		case ok:
			w.deliver(data)
		case w.fail != nil:
			w.fail(ErrDownload)
		}
	}
}

// detach removes waiter id from f after its context ended. The download is
// cancelled when no waiters remain.
func (r *Resolver) detach(f *flight, id uint64, cause error) {
	r.mu.Lock()
	w, ok := f.waiters[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(f.waiters, id)
	abandon := len(f.waiters) == 0
	if abandon && r.inflight[f.key] == f {
		delete(r.inflight, f.key)
	}
	r.mu.Unlock()

	if w.fail != nil {
		w.fail(cause)
	}

	if abandon {
		cancelled := f.job.Cancel()
		resolveTotal.WithLabelValues(f.size.String(), "abandoned").Inc()
		r.logger.Debug().
			Str("key", f.key.String()).
			Bool("job_cancelled", cancelled).
			Msg("Download abandoned")
	}
}
