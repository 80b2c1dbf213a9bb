// Package worker provides a bounded-concurrency pool for download jobs.
//
// Jobs are queued without limit and executed by a fixed number of workers.
// A queued job can be cancelled, which removes it from the queue. A running
// job that is cancelled has its context cancelled and its callback
// suppressed; a cancelled job never invokes its callback.
package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "picsum_download_queue_depth",
		Help: "Number of download jobs waiting for a worker",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picsum_download_jobs_total",
		Help: "Download jobs by outcome",
	}, []string{"outcome"}) // "ok", "failed", "cancelled", "discarded"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Fetcher performs the blocking byte fetch for a job.
type Fetcher interface {
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// GetBytes calls f.
func (f FetcherFunc) GetBytes(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// CompletionFunc receives the fetched bytes. ok is false on any fetch error
// or empty payload, in which case data is nil.
type CompletionFunc func(data []byte, ok bool)

// Config holds pool configuration.
type Config struct {
	// Workers is the number of concurrent fetches.
	Workers int

	// JobTimeout bounds a single fetch. Zero means no per-job timeout.
	JobTimeout time.Duration
}

// DefaultConfig returns a pool sized for interactive thumbnail loading.
func DefaultConfig() Config {
	return Config{
		Workers:    8,
		JobTimeout: 30 * time.Second,
	}
}

type jobState int

const (
	stateQueued jobState = iota
	stateRunning
	stateDone
	stateCancelled
)

// Job is a submitted fetch. It is safe for concurrent use.
type Job struct {
	URL string

	pool       *Pool
	onComplete CompletionFunc
	elem       *list.Element
	state      jobState
	cancel     context.CancelFunc
}

// Cancel cancels the job. It returns false when the job already completed
// or was cancelled before. A queued job is removed from the queue; a running
// job's fetch is interrupted and its callback suppressed.
func (j *Job) Cancel() bool {
	p := j.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	switch j.state {
	case stateQueued:
		p.queue.Remove(j.elem)
		j.elem = nil
		queueDepth.Dec()
	case stateRunning:
		j.cancel()
	default:
		return false
	}

	j.state = stateCancelled
	jobsTotal.WithLabelValues("cancelled").Inc()
	return true
}

// Pool runs download jobs on a fixed set of workers.
type Pool struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool and starts its workers.
func New(fetcher Fetcher, config Config) *Pool {
	if fetcher == nil {
		panic("worker: fetcher cannot be nil")
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.JobTimeout < 0 {
		config.JobTimeout = 0
	}

	ctx, stop := context.WithCancel(context.Background())
	p := &Pool{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "download-pool").Logger(),
		ctx:     ctx,
		stop:    stop,
		queue:   list.New(),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int {
	return p.config.Workers
}

// Submit enqueues a fetch of url. onComplete runs on a worker goroutine.
func (p *Pool) Submit(url string, onComplete CompletionFunc) (*Job, error) {
	job := &Job{URL: url, pool: p, onComplete: onComplete}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	job.elem = p.queue.PushBack(job)
	queueDepth.Inc()
	p.cond.Signal()

	p.logger.Debug().Str("url", url).Int("queued", p.queue.Len()).Msg("Job enqueued")
	return job, nil
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Close stops accepting jobs, discards queued jobs without callbacks,
// interrupts running fetches and waits for the workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	discarded := p.queue.Len()
	for e := p.queue.Front(); e != nil; e = e.Next() {
		job := e.Value.(*Job)
		job.state = stateCancelled
		job.elem = nil
	}
	p.queue.Init()
	queueDepth.Sub(float64(discarded))
	jobsTotal.WithLabelValues("discarded").Add(float64(discarded))

	p.cond.Broadcast()
	p.mu.Unlock()

	p.stop()
	p.wg.Wait()

	p.logger.Debug().Int("discarded", discarded).Msg("Pool closed")
}

// next blocks until a job is available or the pool is closed.
func (p *Pool) next() (*Job, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, nil, false
	}

	job := p.queue.Remove(p.queue.Front()).(*Job)
	job.elem = nil
	queueDepth.Dec()

	var jobCtx context.Context
	if p.config.JobTimeout > 0 {
		jobCtx, job.cancel = context.WithTimeout(p.ctx, p.config.JobTimeout)
	} else {
		jobCtx, job.cancel = context.WithCancel(p.ctx)
	}
	job.state = stateRunning

	return job, jobCtx, true
}

// worker processes jobs from the queue.
func (p *Pool) worker(workerID int) {
	defer p.wg.Done()
	jobsProcessed := 0

	for {
		job, jobCtx, ok := p.next()
		if !ok {
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("jobs_processed", jobsProcessed).
				Msg("Worker stopping")
			return
		}

		data, err := p.fetcher.GetBytes(jobCtx, job.URL)
		job.cancel()
		jobsProcessed++

		fetched := err == nil && len(data) > 0

		p.mu.Lock()
		if job.state == stateCancelled {
			p.mu.Unlock()
			p.logger.Debug().Int("worker_id", workerID).Str("url", job.URL).Msg("Job cancelled during fetch")
			continue
		}
		if p.closed {
			job.state = stateCancelled
			p.mu.Unlock()
			jobsTotal.WithLabelValues("discarded").Inc()
			continue
		}
		job.state = stateDone
		p.mu.Unlock()

		if fetched {
			jobsTotal.WithLabelValues("ok").Inc()
		} else {
			jobsTotal.WithLabelValues("failed").Inc()
			p.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("url", job.URL).
				Msg("Download job failed")
			data = nil
		}

		if job.onComplete != nil {
			job.onComplete(data, fetched)
		}
	}
}
