package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/browser"
	"github.com/rendercrawl/rendercrawl/internal/crawler"
	"github.com/rendercrawl/rendercrawl/internal/scheduler"
)

// stubDriver produces instances whose pages fail when the URL contains
// "fail" and otherwise succeed after navDelay.
type stubDriver struct {
	navDelay time.Duration

	mu          sync.Mutex
	launches    int
	maxLaunches int // launches beyond this fail; 0 = unlimited
}

func (d *stubDriver) Launch(_ context.Context) (crawler.Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.maxLaunches > 0 && d.launches >= d.maxLaunches {
		return nil, errors.New("spawn browser: binary vanished")
	}
	d.launches++
	return &stubInstance{navDelay: d.navDelay}, nil
}

type stubInstance struct {
	navDelay time.Duration
}

func (i *stubInstance) ID() string { return "stub" }

func (i *stubInstance) NewPageContext(_ context.Context) (crawler.PageContext, error) {
	return &stubPage{navDelay: i.navDelay}, nil
}

func (i *stubInstance) Terminate() {}

type stubPage struct {
	navDelay time.Duration
}

func (p *stubPage) Navigate(_ context.Context, url string, _ time.Duration) crawler.Result {
	if p.navDelay > 0 {
		time.Sleep(p.navDelay)
	}
	if strings.Contains(url, "fail") {
		return crawler.Result{URL: url, Status: crawler.StatusFailed, Error: "stub failure"}
	}
	return crawler.Result{
		URL:           url,
		Status:        crawler.StatusSuccess,
		InitialBytes:  1024,
		RenderedBytes: 4096,
		ElapsedSec:    p.navDelay.Seconds(),
	}
}

func (p *stubPage) Close() {}

type stubGate struct {
	mu      sync.Mutex
	denials int
	calls   int
}

func (g *stubGate) Admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.calls > g.denials
}

type memorySink struct {
	mu      sync.Mutex
	results []crawler.Result
	flushed bool
}

func (s *memorySink) Record(result crawler.Result) {
	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()
}

func (s *memorySink) Flush() error {
	s.mu.Lock()
	s.flushed = true
	s.mu.Unlock()
	return nil
}

func (s *memorySink) snapshot() []crawler.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Result(nil), s.results...)
}

func newTestSupervisor(t *testing.T, driver crawler.Driver, poolSize int, maxFailures int, delay time.Duration, gate crawler.Gate) (*Supervisor, *memorySink) {
	t.Helper()
	pool, err := browser.NewPool(context.Background(), driver, browser.PoolConfig{
		Size:                   poolSize,
		MaxConsecutiveFailures: maxFailures,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	sched := scheduler.New(delay, crawler.SystemClock{})
	snk := &memorySink{}
	sup := New(Config{
		PageTimeout:        time.Second,
		AdmitRetryInterval: 5 * time.Millisecond,
	}, sched, gate, pool, snk, zap.NewNop())
	return sup, snk
}

func tasksFor(urls ...string) []crawler.Task {
	tasks := make([]crawler.Task, 0, len(urls))
	for _, u := range urls {
		domain, _ := crawler.DomainOf(u)
		tasks = append(tasks, crawler.Task{URL: u, Domain: domain})
	}
	return tasks
}

func TestRunCompletesAllTasks(t *testing.T) {
	sup, snk := newTestSupervisor(t, &stubDriver{}, 2, 3, time.Millisecond, &stubGate{})

	tasks := tasksFor(
		"https://a.test/1",
		"https://a.test/2",
		"https://b.test/1",
		"https://c.test/1",
		"https://c.test/fail",
	)
	err := sup.Run(context.Background(), tasks)
	require.NoError(t, err)

	results := snk.snapshot()
	require.Len(t, results, len(tasks))
	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.URL] = true
	}
	for _, task := range tasks {
		require.True(t, seen[task.URL], "missing result for %s", task.URL)
	}

	snap := sup.Stats()
	require.Equal(t, 5, snap.Completed)
	require.Equal(t, 4, snap.Succeeded)
	require.Equal(t, 1, snap.Failed)
	require.Equal(t, 0, snap.Pending)
	require.True(t, snk.flushed)
}

func TestGateDenialPausesDispatch(t *testing.T) {
	gate := &stubGate{denials: 3}
	sup, snk := newTestSupervisor(t, &stubDriver{}, 1, 3, 0, gate)

	err := sup.Run(context.Background(), tasksFor("https://a.test/1", "https://b.test/1"))
	require.NoError(t, err)
	require.Len(t, snk.snapshot(), 2)
	require.Greater(t, gate.calls, 3, "dispatch must keep retrying after denials")
}

func TestDomainCooldownSerializesRequests(t *testing.T) {
	const cooldown = 60 * time.Millisecond
	sup, snk := newTestSupervisor(t, &stubDriver{}, 2, 3, cooldown, &stubGate{})

	tasks := tasksFor("https://a.test/1", "https://a.test/2", "https://a.test/3")
	start := time.Now()
	err := sup.Run(context.Background(), tasks)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 2*cooldown,
		"three same-domain tasks must wait out two cooldowns")

	results := snk.snapshot()
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, tasks[i].URL, r.URL, "same-domain tasks complete in submission order")
	}
}

func TestInterruptDrainsInFlightWork(t *testing.T) {
	sup, snk := newTestSupervisor(t, &stubDriver{navDelay: 150 * time.Millisecond}, 1, 3, 0, &stubGate{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	tasks := tasksFor("https://a.test/1", "https://b.test/1", "https://c.test/1")
	err := sup.Run(ctx, tasks)
	require.NoError(t, err, "an interrupt is a clean shutdown, not a failure")

	// Every dispatched task still produces exactly one result: the one
	// holding the browser finishes, the ones waiting for an instance are
	// recorded as failed instead of vanishing.
	results := snk.snapshot()
	require.Len(t, results, 3)
	succeeded := 0
	for _, r := range results {
		require.Contains(t, []crawler.Status{crawler.StatusSuccess, crawler.StatusFailed}, r.Status)
		if r.Succeeded() {
			succeeded++
		} else {
			require.Contains(t, r.Error, ErrNeverStarted.Error(),
				"tasks canceled before dispatch must be distinguishable from page failures")
		}
	}
	require.GreaterOrEqual(t, succeeded, 1, "the in-flight page must be allowed to finish")
	require.True(t, snk.flushed, "partial results must be flushed on interrupt")
}

func TestPoolExhaustionAbortsRun(t *testing.T) {
	driver := &stubDriver{maxLaunches: 1}
	sup, snk := newTestSupervisor(t, driver, 1, 1, 0, &stubGate{})

	tasks := tasksFor("https://a.test/fail", "https://b.test/1", "https://c.test/1")
	err := sup.Run(context.Background(), tasks)
	require.ErrorIs(t, err, browser.ErrNoCapacity)

	// The first task failed, killed the only instance, and its relaunch
	// failed; the rest could not be served but the run still flushed.
	results := snk.snapshot()
	require.Len(t, results, 1)
	require.Equal(t, crawler.StatusFailed, results[0].Status)
	require.True(t, snk.flushed)
}

func TestOnResultHookObservesCompletions(t *testing.T) {
	sup, _ := newTestSupervisor(t, &stubDriver{}, 1, 3, 0, &stubGate{})

	var mu sync.Mutex
	var seen []string
	sup.OnResult = func(r crawler.Result) {
		mu.Lock()
		seen = append(seen, r.URL)
		mu.Unlock()
	}

	err := sup.Run(context.Background(), tasksFor("https://a.test/1", "https://b.test/1"))
	require.NoError(t, err)
	require.Len(t, seen, 2)
}
