// Package supervisor runs the crawl control loop: admission gating, domain
// scheduling, dispatch to the browser pool, and result accounting.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/crawler"
	"github.com/rendercrawl/rendercrawl/internal/metrics"
	"github.com/rendercrawl/rendercrawl/internal/scheduler"
)

// ErrNeverStarted prefixes the Result error text of a task that was canceled
// before it ever reached a browser instance.
var ErrNeverStarted = errors.New("task never started")

// Config controls the supervisor loop.
type Config struct {
	// PageTimeout bounds each navigation.
	PageTimeout time.Duration
	// AdmitRetryInterval is how long dispatch pauses after the resource
	// gate denies admission before asking again.
	AdmitRetryInterval time.Duration
}

// Pool is the slice of the browser pool the supervisor needs.
type Pool interface {
	Acquire(ctx context.Context) (*browser.Lease, error)
	Release(lease *browser.Lease, result crawler.Result)
	Healthy() int
}

// Snapshot is a point-in-time view of crawl progress for the ops endpoint.
type Snapshot struct {
	Pending      int `json:"pending"`
	InFlight     int `json:"in_flight"`
	Completed    int `json:"completed"`
	Succeeded    int `json:"succeeded"`
	TimedOut     int `json:"timed_out"`
	Failed       int `json:"failed"`
	HealthySlots int `json:"healthy_slots"`
}

// Supervisor owns the crawl lifecycle. It is the single writer of scheduler
// state: dispatch decisions and completion accounting all run on its loop
// goroutine, while each dispatched task executes independently and reports
// back over the results channel.
type Supervisor struct {
	cfg    Config
	sched  *scheduler.Scheduler
	gate   crawler.Gate
	pool   Pool
	sink   crawler.Sink
	logger *zap.Logger

	results chan outcome

	mu        sync.Mutex
	completed int
	succeeded int
	timedOut  int
	failed    int

	// OnResult, when set, is called after each terminal result is
	// recorded (progress bars, tests). Called from the loop goroutine.
	OnResult func(crawler.Result)
}

type outcome struct {
	task   crawler.Task
	result crawler.Result
	fatal  error
}

// New builds a Supervisor.
func New(cfg Config, sched *scheduler.Scheduler, gate crawler.Gate, pool Pool, sink crawler.Sink, logger *zap.Logger) *Supervisor {
	if cfg.AdmitRetryInterval <= 0 {
		cfg.AdmitRetryInterval = 5 * time.Second
	}
	return &Supervisor{
		cfg:     cfg,
		sched:   sched,
		gate:    gate,
		pool:    pool,
		sink:    sink,
		logger:  logger,
		results: make(chan outcome),
	}
}

// Run submits tasks and drives the crawl to completion. It returns nil once
// every task has a terminal result, including after an interrupt (partial
// data is flushed, never discarded); it returns an error only for
// supervisor-level failures such as total pool exhaustion. In every case the
// sink is flushed before returning.
func (s *Supervisor) Run(ctx context.Context, tasks []crawler.Task) error {
	for _, t := range tasks {
		s.sched.Submit(t)
	}
	s.logger.Info("crawl starting",
		zap.Int("tasks", len(tasks)),
		zap.Duration("page_timeout", s.cfg.PageTimeout),
	)

	var fatalErr error
	inFlight := 0
	stopDispatch := false
	doneCh := ctx.Done()

	for {
		if inFlight == 0 && (stopDispatch || !s.sched.HasPending()) {
			break
		}

		var wake <-chan time.Time
		if !stopDispatch {
			dispatched, timer := s.tryDispatch(ctx, &inFlight)
			if dispatched {
				continue
			}
			wake = timer
		}

		select {
		case out := <-s.results:
			inFlight--
			metrics.DecInFlight()
			s.sched.Complete(out.task.Domain)
			if out.fatal != nil {
				if fatalErr == nil {
					fatalErr = out.fatal
					stopDispatch = true
					s.logger.Error("supervisor-level failure, draining in-flight tasks", zap.Error(out.fatal))
				}
				continue
			}
			s.record(out.result)
		case <-wake:
		case <-doneCh:
			doneCh = nil
			stopDispatch = true
			s.logger.Warn("crawl interrupted, draining in-flight tasks",
				zap.Int("in_flight", inFlight),
				zap.Int("pending", s.sched.Pending()),
			)
		}
	}

	if err := s.sink.Flush(); err != nil {
		s.logger.Error("flush results", zap.Error(err))
		if fatalErr == nil {
			fatalErr = err
		}
	}
	snap := s.Stats()
	s.logger.Info("crawl finished",
		zap.Int("completed", snap.Completed),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("timed_out", snap.TimedOut),
		zap.Int("failed", snap.Failed),
		zap.Int("unserved", s.sched.Pending()),
	)
	return fatalErr
}

// tryDispatch attempts to start one task. It returns (true, nil) when a task
// was dispatched, or (false, timer) with an optional wake-up timer when the
// loop should block.
func (s *Supervisor) tryDispatch(ctx context.Context, inFlight *int) (bool, <-chan time.Time) {
	if ctx.Err() != nil {
		return false, nil
	}
	if !s.gate.Admit() {
		metrics.IncAdmissionDenied()
		return false, time.After(s.cfg.AdmitRetryInterval)
	}
	task, ok := s.sched.NextReady()
	if !ok {
		if wait, queued := s.sched.NextWake(); queued {
			metrics.IncCooldownWait()
			return false, time.After(wait)
		}
		// Every remaining task belongs to an in-flight domain; wait for
		// a completion instead.
		return false, nil
	}

	*inFlight++
	metrics.IncInFlight()
	go s.execute(ctx, task)
	return true, nil
}

// execute runs one task against the pool. It always sends exactly one
// outcome, so the loop's in-flight accounting stays exact.
func (s *Supervisor) execute(ctx context.Context, task crawler.Task) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		switch {
		case errors.Is(err, browser.ErrNoCapacity), errors.Is(err, browser.ErrPoolClosed):
			s.results <- outcome{task: task, fatal: err}
		default:
			// Canceled while waiting for an instance; the task never
			// started, record it as failed rather than losing it. The
			// error text carries a fixed prefix so reporting can tell
			// never-started tasks apart from genuine page failures.
			s.results <- outcome{task: task, result: crawler.Result{
				URL:    task.URL,
				Status: crawler.StatusFailed,
				Error:  fmt.Sprintf("%s: %v", ErrNeverStarted, err),
			}}
		}
		return
	}

	result := lease.Page().Navigate(ctx, task.URL, s.cfg.PageTimeout)
	s.pool.Release(lease, result)
	s.results <- outcome{task: task, result: result}
}

// record accounts a terminal result and hands it to the sink in completion
// order.
func (s *Supervisor) record(result crawler.Result) {
	s.sink.Record(result)
	metrics.RecordPage(string(result.Status), result.InitialBytes, result.RenderedBytes,
		time.Duration(result.ElapsedSec*float64(time.Second)))

	s.mu.Lock()
	s.completed++
	switch result.Status {
	case crawler.StatusSuccess:
		s.succeeded++
	case crawler.StatusTimeout:
		s.timedOut++
	case crawler.StatusFailed:
		s.failed++
	}
	s.mu.Unlock()

	s.logger.Debug("task completed",
		zap.String("url", result.URL),
		zap.String("status", string(result.Status)),
		zap.Int64("initial_bytes", result.InitialBytes),
		zap.Int64("rendered_bytes", result.RenderedBytes),
		zap.Float64("elapsed_sec", result.ElapsedSec),
	)
	if s.OnResult != nil {
		s.OnResult(result)
	}
}

// Stats returns completion counters for the ops endpoint.
func (s *Supervisor) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Pending:      s.sched.Pending(),
		InFlight:     s.sched.InFlight(),
		Completed:    s.completed,
		Succeeded:    s.succeeded,
		TimedOut:     s.timedOut,
		Failed:       s.failed,
		HealthySlots: s.pool.Healthy(),
	}
}
