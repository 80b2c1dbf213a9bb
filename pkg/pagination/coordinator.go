package pagination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/picsum-client/pkg/metadata"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picsum_fetch_sessions_total",
		Help: "Listing fetch sessions by outcome",
	}, []string{"outcome"}) // "complete", "partial", "stalled", "superseded", "failed"

	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picsum_pages_total",
		Help: "Listing page requests by outcome",
	}, []string{"outcome"}) // "ok", "failed"
)

var (
	// ErrStall is returned when pages are still outstanding after JoinTimeout.
	ErrStall = errors.New("listing fetch stalled")

	// ErrSuperseded is returned by a session replaced by a newer FetchList.
	ErrSuperseded = errors.New("listing fetch superseded")
)

// PageError records one failed page.
type PageError struct {
	Page Page
	Err  error
}

func (e PageError) Error() string {
	return fmt.Sprintf("page %d (limit %d): %v", e.Page.Number, e.Page.Limit, e.Err)
}

// FetchError is returned when some pages failed. The session still carries
// the records of every page that succeeded.
type FetchError struct {
	Failed []PageError
}

func (e *FetchError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d page(s) failed: %s", len(e.Failed), strings.Join(parts, "; "))
}

// Unwrap exposes the page causes to errors.Is and errors.As.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// PageFetcher fetches one listing page. *client.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, limit int) ([]metadata.Record, error)
}

// Config holds coordinator configuration.
type Config struct {
	// PageSize is the record limit per page, 1..MaxPageSize.
	PageSize int

	// MaxConcurrency is the number of pages in flight at once.
	MaxConcurrency int

	// PageTimeout bounds a single page request. Zero disables it.
	PageTimeout time.Duration

	// JoinTimeout bounds the whole session. Zero disables it.
	JoinTimeout time.Duration

	// OnComplete, if set, is called exactly once per session after it
	// completes, from the goroutine that completed it.
	OnComplete func(*Session)
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:       MaxPageSize,
		MaxConcurrency: 4,
		PageTimeout:    15 * time.Second,
		JoinTimeout:    2 * time.Minute,
	}
}

// Coordinator runs listing fetch sessions. At most one session is current;
// starting a new one supersedes the previous.
type Coordinator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
	nextID  atomic.Uint64

	mu      sync.Mutex
	current *Session
}

// NewCoordinator creates a coordinator.
func NewCoordinator(fetcher PageFetcher, config Config) *Coordinator {
	if fetcher == nil {
		panic("pagination: fetcher cannot be nil")
	}
	if config.PageSize <= 0 || config.PageSize > MaxPageSize {
		config.PageSize = MaxPageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}

	return &Coordinator{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// Current returns the most recently started session, or nil.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// FetchList starts a session for count records and returns without
// blocking. A count <= 0 returns an already completed, empty session and
// issues no requests.
func (c *Coordinator) FetchList(ctx context.Context, count int) *Session {
	plan := PlanPages(count, c.config.PageSize)

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:         c.nextID.Add(1),
		count:      max(count, 0),
		pages:      len(plan),
		remaining:  len(plan),
		started:    time.Now(),
		done:       make(chan struct{}),
		cancel:     cancel,
		onComplete: c.config.OnComplete,
	}
	s.logger = c.logger.With().Uint64("session", s.id).Logger()

	c.mu.Lock()
	previous := c.current
	c.current = s
	c.mu.Unlock()

	if previous != nil {
		previous.finish(ErrSuperseded)
	}

	if len(plan) == 0 {
		s.finish(nil)
		return s
	}

	s.logger.Info().
		Int("count", count).
		Int("pages", len(plan)).
		Msg("Starting listing fetch")

	if c.config.JoinTimeout > 0 {
		s.mu.Lock()
		s.timer = time.AfterFunc(c.config.JoinTimeout, func() { s.finish(ErrStall) })
		s.mu.Unlock()
	}

	go c.run(sessionCtx, s, plan)
	return s
}

// run dispatches every page of the plan. Each page reports into its own
// session only.
func (c *Coordinator) run(ctx context.Context, s *Session, plan []Page) {
	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrency)

	for _, page := range plan {
		g.Go(func() error {
			c.fetchPage(ctx, s, page)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) fetchPage(ctx context.Context, s *Session, page Page) {
	if err := ctx.Err(); err != nil {
		s.complete(page, nil, err)
		return
	}

	pageCtx := ctx
	if c.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, c.config.PageTimeout)
		defer cancel()
	}

	start := time.Now()
	records, err := c.fetcher.FetchPage(pageCtx, page.Number, page.Limit)
	if err != nil {
		pagesTotal.WithLabelValues("failed").Inc()
		s.logger.Warn().
			Err(err).
			Int("page", page.Number).
			Int("limit", page.Limit).
			Msg("Page fetch failed")
	} else {
		pagesTotal.WithLabelValues("ok").Inc()
		s.logger.Debug().
			Int("page", page.Number).
			Int("records", len(records)).
			Dur("duration", time.Since(start)).
			Msg("Page fetched")
	}

	s.complete(page, records, err)
}

// Session is one listing fetch. It is safe for concurrent use.
type Session struct {
	id         uint64
	count      int
	pages      int
	started    time.Time
	logger     zerolog.Logger
	cancel     context.CancelFunc
	onComplete func(*Session)

	mu        sync.Mutex
	remaining int
	records   []metadata.Record
	failures  []PageError
	finished  bool
	err       error
	timer     *time.Timer

	once sync.Once
	done chan struct{}
}

// ID returns the session sequence number, unique per Coordinator.
func (s *Session) ID() uint64 { return s.id }

// Count returns the number of records requested.
func (s *Session) Count() int { return s.count }

// Pages returns the number of page requests in the plan.
func (s *Session) Pages() int { return s.pages }

// Done is closed when the session completes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session completes or ctx ends. The records returned
// on completion are those of every successful page, also when err is non-nil.
func (s *Session) Wait(ctx context.Context) ([]metadata.Record, error) {
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns a snapshot of the aggregated records and the session error.
// Before completion the error is nil and the records may be partial.
func (s *Session) Result() ([]metadata.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]metadata.Record, len(s.records))
	copy(out, s.records)
	return out, s.err
}

// Remaining returns the number of outstanding pages.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// complete appends then decrements under one lock. Completions that arrive
// after the session finished are dropped.
func (s *Session) complete(page Page, records []metadata.Record, err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.failures = append(s.failures, PageError{Page: page, Err: err})
	} else {
		s.records = append(s.records, records...)
	}
	s.remaining--
	last := s.remaining == 0
	s.mu.Unlock()

	if last {
		s.finish(nil)
	}
}

// finish completes the session once. cause overrides page failures.
func (s *Session) finish(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.finished = true
		switch {
		case cause != nil && errors.Is(cause, ErrStall):
			s.err = fmt.Errorf("%w: %d of %d page(s) outstanding", ErrStall, s.remaining, s.pages)
		case cause != nil:
			s.err = cause
		case len(s.failures) > 0:
			failed := make([]PageError, len(s.failures))
			copy(failed, s.failures)
			s.err = &FetchError{Failed: failed}
		}
		if s.timer != nil {
			s.timer.Stop()
		}
		records, err := len(s.records), s.err
		s.mu.Unlock()

		s.cancel()

		outcome := sessionOutcome(err)
		sessionsTotal.WithLabelValues(outcome).Inc()

		event := s.logger.Info()
		if err != nil {
			event = s.logger.Warn().Err(err)
		}
		event.
			Str("outcome", outcome).
			Int("records", records).
			Int("pages", s.pages).
			Dur("duration", time.Since(s.started)).
			Msg("Listing fetch complete")

		close(s.done)

		if s.onComplete != nil {
			s.onComplete(s)
		}
	})
}

func sessionOutcome(err error) string {
	var fetchErr *FetchError
	switch {
	case err == nil:
		return "complete"
	case errors.As(err, &fetchErr):
		return "partial"
	case errors.Is(err, ErrStall):
		return "stalled"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	default:
		return "failed"
	}
}
