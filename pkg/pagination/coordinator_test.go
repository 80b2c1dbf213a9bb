package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/picsum-client/internal/testutil"
	"github.com/Sternrassler/picsum-client/pkg/client"
	"github.com/Sternrassler/picsum-client/pkg/metadata"
)

// fakeFetcher serves synthetic pages. When gate is set, every fetch blocks
// until the gate closes or its context ends.
type fakeFetcher struct {
	gate chan struct{}
	fail map[int]error

	mu          sync.Mutex
	calls       []Page
	inFlight    int32
	maxInFlight int32
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page, limit int) ([]metadata.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Page{Number: page, Limit: limit})
	f.mu.Unlock()

	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		time.Sleep(time.Millisecond)
	}

	if err := f.fail[page]; err != nil {
		return nil, err
	}

	records := make([]metadata.Record, limit)
	for i := range records {
		records[i] = metadata.Record{ID: fmt.Sprintf("%d-%d", page, i)}
	}
	return records, nil
}

func (f *fakeFetcher) Calls() []Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Page, len(f.calls))
	copy(out, f.calls)
	return out
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPlanPages(t *testing.T) {
	tests := []struct {
		count int
		want  []int // limits
	}{
		{count: -5, want: nil},
		{count: 0, want: nil},
		{count: 1, want: []int{1}},
		{count: 99, want: []int{99}},
		{count: 100, want: []int{100}},
		{count: 101, want: []int{100, 1}},
		{count: 250, want: []int{100, 100, 50}},
		{count: 300, want: []int{100, 100, 100}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("count=%d", tt.count), func(t *testing.T) {
			pages := PlanPages(tt.count, MaxPageSize)
			if len(pages) != len(tt.want) {
				t.Fatalf("PlanPages() = %v, want limits %v", pages, tt.want)
			}
			for i, p := range pages {
				if p.Number != i+1 {
					t.Errorf("page %d Number = %d", i, p.Number)
				}
				if p.Limit != tt.want[i] {
					t.Errorf("page %d Limit = %d, want %d", i, p.Limit, tt.want[i])
				}
			}
		})
	}
}

func TestPlanPages_Properties(t *testing.T) {
	for count := 1; count <= 1000; count += 37 {
		pages := PlanPages(count, MaxPageSize)

		wantPages := (count + MaxPageSize - 1) / MaxPageSize
		if len(pages) != wantPages {
			t.Errorf("count=%d: %d pages, want %d", count, len(pages), wantPages)
		}

		sum := 0
		for _, p := range pages {
			sum += p.Limit
		}
		if sum != count {
			t.Errorf("count=%d: limits sum to %d", count, sum)
		}
	}
}

func TestPlanPages_InvalidPageSize(t *testing.T) {
	if pages := PlanPages(250, 0); len(pages) != 3 {
		t.Errorf("PlanPages(250, 0) = %v, want default page size", pages)
	}
	if pages := PlanPages(250, 500); len(pages) != 3 {
		t.Errorf("PlanPages(250, 500) = %v, want capped page size", pages)
	}
	if pages := PlanPages(250, 50); len(pages) != 5 {
		t.Errorf("PlanPages(250, 50) = %v, want 5 pages", pages)
	}
}

func TestFetchList_NonPositiveCount(t *testing.T) {
	for _, count := range []int{0, -1} {
		t.Run(fmt.Sprintf("count=%d", count), func(t *testing.T) {
			fetcher := &fakeFetcher{}
			var callbacks int32
			cfg := DefaultConfig()
			cfg.OnComplete = func(*Session) { atomic.AddInt32(&callbacks, 1) }
			coord := NewCoordinator(fetcher, cfg)

			session := coord.FetchList(context.Background(), count)

			select {
			case <-session.Done():
			default:
				t.Fatal("session should be complete immediately")
			}

			records, err := session.Wait(waitCtx(t))
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
			if len(records) != 0 {
				t.Errorf("got %d records, want 0", len(records))
			}
			if calls := fetcher.Calls(); len(calls) != 0 {
				t.Errorf("issued %d requests, want 0", len(calls))
			}
			if n := atomic.LoadInt32(&callbacks); n != 1 {
				t.Errorf("OnComplete fired %d times, want 1", n)
			}
		})
	}
}

func TestFetchList_MockCatalog(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	defer c.Close()

	coord := NewCoordinator(c, DefaultConfig())
	records, err := coord.FetchList(context.Background(), 250).Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(records) != 250 {
		t.Errorf("got %d records, want 250", len(records))
	}

	requests := mock.ListRequests()
	if len(requests) != 3 {
		t.Fatalf("got %d page requests, want 3", len(requests))
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].Page < requests[j].Page })
	wantLimits := []int{100, 100, 50}
	for i, req := range requests {
		if req.Page != i+1 || req.Limit != wantLimits[i] {
			t.Errorf("request %d = %+v, want page %d limit %d", i, req, i+1, wantLimits[i])
		}
	}
}

func TestFetchList_JoinFiresOnce(t *testing.T) {
	fetcher := &fakeFetcher{}
	var callbacks int32
	var seen int
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 16
	cfg.OnComplete = func(s *Session) {
		records, _ := s.Result()
		seen = len(records)
		atomic.AddInt32(&callbacks, 1)
	}
	coord := NewCoordinator(fetcher, cfg)

	session := coord.FetchList(context.Background(), 1234)
	records, err := session.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if len(records) != 1234 {
		t.Errorf("got %d records, want 1234", len(records))
	}
	if session.Remaining() != 0 {
		t.Errorf("Remaining() = %d after completion", session.Remaining())
	}

	// OnComplete runs after Done closes.
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&callbacks) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := atomic.LoadInt32(&callbacks); n != 1 {
		t.Errorf("OnComplete fired %d times, want 1", n)
	}
	if seen != 1234 {
		t.Errorf("OnComplete saw %d records, want 1234", seen)
	}

	ids := make(map[string]bool, len(records))
	for _, r := range records {
		if ids[r.ID] {
			t.Fatalf("duplicate record %s", r.ID)
		}
		ids[r.ID] = true
	}
}

func TestFetchList_ConcurrencyBound(t *testing.T) {
	fetcher := &fakeFetcher{}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	coord := NewCoordinator(fetcher, cfg)

	if _, err := coord.FetchList(context.Background(), 1000).Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if peak := atomic.LoadInt32(&fetcher.maxInFlight); peak > 2 {
		t.Errorf("max in-flight pages = %d, want <= 2", peak)
	}
	if calls := fetcher.Calls(); len(calls) != 10 {
		t.Errorf("got %d requests, want 10", len(calls))
	}
}

func TestFetchList_PageFailure(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetPageStatus(2, http.StatusInternalServerError)

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}

	coord := NewCoordinator(c, DefaultConfig())
	records, err := coord.FetchList(context.Background(), 250).Wait(waitCtx(t))

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Wait() error = %v, want *FetchError", err)
	}
	if len(fetchErr.Failed) != 1 || fetchErr.Failed[0].Page.Number != 2 {
		t.Errorf("Failed = %+v, want page 2 only", fetchErr.Failed)
	}
	if !errors.Is(err, client.ErrHTTPStatus) {
		t.Errorf("error should wrap client.ErrHTTPStatus: %v", err)
	}
	if len(records) != 150 {
		t.Errorf("got %d records, want 150 from the surviving pages", len(records))
	}
}

func TestFetchList_Stall(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	defer close(fetcher.gate)

	cfg := DefaultConfig()
	cfg.PageTimeout = 0
	cfg.JoinTimeout = 50 * time.Millisecond
	coord := NewCoordinator(fetcher, cfg)

	session := coord.FetchList(context.Background(), 250)
	_, err := session.Wait(waitCtx(t))
	if !errors.Is(err, ErrStall) {
		t.Fatalf("Wait() error = %v, want ErrStall", err)
	}
}

func TestFetchList_PageTimeout(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	defer close(fetcher.gate)

	cfg := DefaultConfig()
	cfg.PageTimeout = 20 * time.Millisecond
	coord := NewCoordinator(fetcher, cfg)

	_, err := coord.FetchList(context.Background(), 150).Wait(waitCtx(t))
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Wait() error = %v, want *FetchError", err)
	}
	if len(fetchErr.Failed) != 2 {
		t.Errorf("got %d failed pages, want 2", len(fetchErr.Failed))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should wrap context.DeadlineExceeded: %v", err)
	}
}

func TestFetchList_Supersede(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{gate: gate}

	var mu sync.Mutex
	completed := map[uint64]int{}
	cfg := DefaultConfig()
	cfg.OnComplete = func(s *Session) {
		mu.Lock()
		completed[s.ID()]++
		mu.Unlock()
	}
	coord := NewCoordinator(fetcher, cfg)

	first := coord.FetchList(context.Background(), 200)
	second := coord.FetchList(context.Background(), 300)

	if coord.Current() != second {
		t.Fatal("Current() should be the newest session")
	}

	records, err := first.Wait(waitCtx(t))
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first Wait() error = %v, want ErrSuperseded", err)
	}
	if len(records) != 0 {
		t.Errorf("first session got %d records", len(records))
	}

	close(gate)

	records, err = second.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if len(records) != 300 {
		t.Errorf("second session got %d records, want 300", len(records))
	}

	// Late completions of the first session never reach it.
	if records, _ := first.Result(); len(records) != 0 {
		t.Errorf("first session mutated after supersede: %d records", len(records))
	}

	mu.Lock()
	defer mu.Unlock()
	if completed[first.ID()] != 1 || completed[second.ID()] != 1 {
		t.Errorf("OnComplete counts = %v, want 1 per session", completed)
	}
}

func TestFetchList_ParentCancelled(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	defer close(fetcher.gate)

	ctx, cancel := context.WithCancel(context.Background())
	coord := NewCoordinator(fetcher, DefaultConfig())
	session := coord.FetchList(ctx, 500)

	cancel()

	_, err := session.Wait(waitCtx(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || len(fetchErr.Failed) != 5 {
		t.Errorf("want all 5 pages reported failed, got %v", err)
	}
}

func TestSession_WaitContext(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	defer close(fetcher.gate)

	coord := NewCoordinator(fetcher, DefaultConfig())
	session := coord.FetchList(context.Background(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := session.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
	if session.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", session.Remaining())
	}
}

func TestNewCoordinator_Defaults(t *testing.T) {
	coord := NewCoordinator(&fakeFetcher{}, Config{})
	if coord.config.PageSize != MaxPageSize {
		t.Errorf("PageSize = %d, want %d", coord.config.PageSize, MaxPageSize)
	}
	if coord.config.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", coord.config.MaxConcurrency)
	}
}

func TestNewCoordinator_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewCoordinator should panic with nil fetcher")
		}
	}()
	NewCoordinator(nil, DefaultConfig())
}
