package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gatedFetcher blocks every fetch until release is closed and records the
// peak number of concurrent fetches.
type gatedFetcher struct {
	release chan struct{}
	started chan string

	mu      sync.Mutex
	active  int
	peak    int
	fetched []string
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		release: make(chan struct{}),
		started: make(chan string, 128),
	}
}

func (f *gatedFetcher) GetBytes(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()

	f.started <- url

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	select {
	case <-f.release:
		return []byte("data:" + url), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitStarted(t *testing.T, f *gatedFetcher, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d fetches started", i, n)
		}
	}
}

func TestPool_RunsJobs(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return []byte(url), nil
	})
	pool := New(fetcher, Config{Workers: 3})
	defer pool.Close()

	var wg sync.WaitGroup
	var okCount atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		url := "http://example/" + string(rune('a'+i))
		if _, err := pool.Submit(url, func(data []byte, ok bool) {
			defer wg.Done()
			if ok && string(data) == url {
				okCount.Add(1)
			}
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	wg.Wait()
	if got := okCount.Load(); got != 20 {
		t.Errorf("successful callbacks = %d, want 20", got)
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	fetcher := newGatedFetcher()
	pool := New(fetcher, Config{Workers: 2})
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		if _, err := pool.Submit("u", func([]byte, bool) { wg.Done() }); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	waitStarted(t, fetcher, 2)
	if got := pool.QueueLen(); got != 4 {
		t.Errorf("QueueLen() = %d, want 4", got)
	}

	close(fetcher.release)
	wg.Wait()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if fetcher.peak != 2 {
		t.Errorf("peak concurrency = %d, want 2", fetcher.peak)
	}
}

func TestPool_FailureReportsNotOK(t *testing.T) {
	tests := []struct {
		name  string
		fetch FetcherFunc
	}{
		{
			name: "fetch error",
			fetch: func(ctx context.Context, url string) ([]byte, error) {
				return nil, errors.New("boom")
			},
		},
		{
			name: "empty payload",
			fetch: func(ctx context.Context, url string) ([]byte, error) {
				return []byte{}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := New(tt.fetch, Config{Workers: 1})
			defer pool.Close()

			done := make(chan bool, 1)
			pool.Submit("u", func(data []byte, ok bool) {
				if data != nil {
					t.Errorf("data = %v, want nil", data)
				}
				done <- ok
			})

			select {
			case ok := <-done:
				if ok {
					t.Error("ok = true, want false")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("callback not invoked")
			}
		})
	}
}

func TestJob_CancelQueued(t *testing.T) {
	fetcher := newGatedFetcher()
	pool := New(fetcher, Config{Workers: 1})
	defer pool.Close()

	var fired atomic.Int32
	blocker, _ := pool.Submit("blocker", func([]byte, bool) { fired.Add(1) })
	waitStarted(t, fetcher, 1)

	queued, _ := pool.Submit("queued", func([]byte, bool) {
		t.Error("cancelled queued job must not call back")
	})

	if !queued.Cancel() {
		t.Fatal("Cancel() on queued job returned false")
	}
	if queued.Cancel() {
		t.Error("second Cancel() returned true")
	}
	if got := pool.QueueLen(); got != 0 {
		t.Errorf("QueueLen() = %d after cancel, want 0", got)
	}

	done := make(chan struct{})
	pool.Submit("after", func([]byte, bool) { close(done) })
	close(fetcher.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job after cancelled one did not run")
	}

	fetcher.mu.Lock()
	for _, u := range fetcher.fetched {
		if u == "queued" {
			t.Error("cancelled job was fetched")
		}
	}
	fetcher.mu.Unlock()

	if fired.Load() != 1 {
		t.Errorf("blocker callbacks = %d, want 1", fired.Load())
	}
	if blocker.Cancel() {
		t.Error("Cancel() on completed job returned true")
	}
}

func TestJob_CancelRunningSuppressesCallback(t *testing.T) {
	fetcher := newGatedFetcher()
	pool := New(fetcher, Config{Workers: 1})
	defer pool.Close()

	job, _ := pool.Submit("running", func([]byte, bool) {
		t.Error("cancelled running job must not call back")
	})
	waitStarted(t, fetcher, 1)

	if !job.Cancel() {
		t.Fatal("Cancel() on running job returned false")
	}

	// The worker must become free again.
	done := make(chan struct{})
	pool.Submit("next", func([]byte, bool) { close(done) })
	waitStarted(t, fetcher, 1)
	close(fetcher.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not pick up the next job")
	}
}

func TestPool_JobTimeout(t *testing.T) {
	fetcher := newGatedFetcher()
	pool := New(fetcher, Config{Workers: 1, JobTimeout: 20 * time.Millisecond})
	defer pool.Close()

	done := make(chan bool, 1)
	pool.Submit("slow", func(_ []byte, ok bool) { done <- ok })

	select {
	case ok := <-done:
		if ok {
			t.Error("timed out job reported ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out job never called back")
	}
}

func TestPool_Close(t *testing.T) {
	fetcher := newGatedFetcher()
	pool := New(fetcher, Config{Workers: 1})

	pool.Submit("running", func([]byte, bool) { t.Error("callback after Close") })
	waitStarted(t, fetcher, 1)
	pool.Submit("queued", func([]byte, bool) { t.Error("callback after Close") })

	pool.Close()
	pool.Close()

	if _, err := pool.Submit("late", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close error = %v, want ErrClosed", err)
	}
	if got := pool.QueueLen(); got != 0 {
		t.Errorf("QueueLen() = %d after Close", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	pool := New(FetcherFunc(func(context.Context, string) ([]byte, error) { return nil, nil }), Config{})
	defer pool.Close()

	if pool.Workers() != DefaultConfig().Workers {
		t.Errorf("Workers() = %d, want %d", pool.Workers(), DefaultConfig().Workers)
	}
}

func TestNew_NilFetcherPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New should panic with nil fetcher")
		}
	}()
	New(nil, DefaultConfig())
}
