package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
	"github.com/rendercrawl/rendercrawl/internal/metrics"
)

// ErrNoCapacity is returned once every pool slot has died. It is the only
// pool condition that terminates a crawl.
var ErrNoCapacity = errors.New("browser pool has no usable instances")

// ErrPoolClosed is returned from Acquire after Close.
var ErrPoolClosed = errors.New("browser pool is closed")

// SlotStatus is the lifecycle state of one pool slot.
type SlotStatus string

// Slot states. A restart always produces an instance with a new identity;
// Dead is terminal for the slot.
const (
	SlotHealthy    SlotStatus = "healthy"
	SlotRestarting SlotStatus = "restarting"
	SlotDead       SlotStatus = "dead"
)

// PoolConfig sizes the pool and sets the consecutive-failure restart
// threshold.
type PoolConfig struct {
	Size                   int
	MaxConsecutiveFailures int
}

type slot struct {
	idx      int
	status   SlotStatus
	busy     bool
	inst     crawler.Instance
	failures int
}

// Pool owns a fixed set of browser instances. Acquire hands out exclusive
// leases (one page context per instance at a time, so pool size caps crawl
// concurrency); Release applies the consecutive-failure restart policy.
type Pool struct {
	driver crawler.Driver
	cfg    PoolConfig
	logger *zap.Logger

	mu     sync.Mutex
	slots  []*slot
	dead   int
	rr     int
	closed bool
	// waitCh is closed and replaced whenever slot availability changes so
	// blocked Acquire calls can rescan.
	waitCh chan struct{}
}

// Lease is an exclusive claim on one instance plus a fresh page context.
type Lease struct {
	page crawler.PageContext
	inst crawler.Instance
	s    *slot
}

// Page returns the isolated page context for this lease.
func (l *Lease) Page() crawler.PageContext { return l.page }

// InstanceID identifies the instance serving this lease.
func (l *Lease) InstanceID() string { return l.inst.ID() }

// NewPool launches cfg.Size instances up front. A launch failure at startup
// is fatal: better to fail fast than begin a long crawl at reduced capacity.
func NewPool(ctx context.Context, driver crawler.Driver, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be > 0, got %d", cfg.Size)
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	p := &Pool{
		driver: driver,
		cfg:    cfg,
		logger: logger,
		waitCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Size; i++ {
		inst, err := driver.Launch(ctx)
		if err != nil {
			p.terminateAll()
			return nil, fmt.Errorf("launch instance %d/%d: %w", i+1, cfg.Size, err)
		}
		p.slots = append(p.slots, &slot{idx: i, status: SlotHealthy, inst: inst})
	}
	logger.Info("browser pool ready", zap.Int("size", cfg.Size))
	return p, nil
}

// Acquire claims an idle Healthy instance (round-robin) and opens a fresh
// page context on it. It blocks while every slot is busy or mid-restart,
// honoring ctx, and returns ErrNoCapacity once all slots are Dead.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	for {
		s, wait, err := p.claimSlot()
		if err != nil {
			return nil, err
		}
		if s == nil {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("acquire browser instance: %w", ctx.Err())
			case <-wait:
				continue
			}
		}

		page, err := s.inst.NewPageContext(ctx)
		if err != nil {
			// The instance may have crashed between tasks. Count it
			// against the slot and rescan.
			p.logger.Warn("open page context failed",
				zap.String("instance_id", s.inst.ID()),
				zap.Error(err),
			)
			p.recordFailure(s)
			continue
		}
		return &Lease{page: page, inst: s.inst, s: s}, nil
	}
}

// claimSlot returns an idle Healthy slot marked busy, or (nil, waitCh) when
// the caller should block, or an error when the pool is unusable.
func (p *Pool) claimSlot() (*slot, <-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrPoolClosed
	}
	if p.dead == len(p.slots) {
		return nil, nil, ErrNoCapacity
	}
	n := len(p.slots)
	for i := 0; i < n; i++ {
		s := p.slots[(p.rr+i)%n]
		if s.status == SlotHealthy && !s.busy {
			s.busy = true
			p.rr = (s.idx + 1) % n
			return s, nil, nil
		}
	}
	return nil, p.waitCh, nil
}

// Release destroys the page context unconditionally, then updates the
// instance's failure accounting: any SUCCESS resets the counter, TIMEOUT and
// FAILED increment it, and crossing the threshold retires the instance in
// favor of a freshly launched one with a new identity.
func (p *Pool) Release(lease *Lease, result crawler.Result) {
	lease.page.Close()

	if result.Succeeded() {
		p.mu.Lock()
		lease.s.failures = 0
		lease.s.busy = false
		p.notifyLocked()
		p.mu.Unlock()
		return
	}
	p.recordFailure(lease.s)
}

func (p *Pool) recordFailure(s *slot) {
	p.mu.Lock()
	if p.closed || s.status != SlotHealthy {
		s.busy = false
		p.notifyLocked()
		p.mu.Unlock()
		return
	}
	s.failures++
	if s.failures < p.cfg.MaxConsecutiveFailures {
		s.busy = false
		p.notifyLocked()
		p.mu.Unlock()
		return
	}

	old := s.inst
	s.status = SlotRestarting
	s.busy = true
	p.mu.Unlock()

	p.logger.Warn("instance hit failure threshold, restarting",
		zap.String("instance_id", old.ID()),
		zap.Int("consecutive_failures", s.failures),
	)
	go p.restartSlot(s, old)
}

// restartSlot tears down the old instance and swaps in a fresh one. The slot
// is held exclusively (busy) for the whole swap so no task can observe a
// half-restarted instance.
func (p *Pool) restartSlot(s *slot, old crawler.Instance) {
	old.Terminate()
	metrics.IncInstanceRestart()

	inst, err := p.driver.Launch(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if err == nil {
			inst.Terminate()
		}
		return
	}
	if err != nil {
		s.status = SlotDead
		s.inst = nil
		p.dead++
		metrics.IncInstanceDead()
		p.logger.Error("instance relaunch failed, slot is dead",
			zap.Int("slot", s.idx),
			zap.Int("dead_slots", p.dead),
			zap.Int("pool_size", len(p.slots)),
			zap.Error(err),
		)
	} else {
		s.status = SlotHealthy
		s.inst = inst
		s.failures = 0
		s.busy = false
		p.logger.Info("instance replaced",
			zap.Int("slot", s.idx),
			zap.String("instance_id", inst.ID()),
		)
	}
	p.notifyLocked()
}

// Healthy returns the number of slots currently able to serve tasks
// (Healthy or mid-restart; Dead slots are permanently lost).
func (p *Pool) Healthy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - p.dead
}

// Close terminates every instance. In-flight leases are abandoned; their
// Release becomes a no-op against a closed pool.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.notifyLocked()
	p.mu.Unlock()

	p.terminateAll()
	p.logger.Info("browser pool closed")
}

func (p *Pool) terminateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.inst != nil {
			s.inst.Terminate()
			s.inst = nil
			s.status = SlotDead
		}
	}
	p.dead = len(p.slots)
}

func (p *Pool) notifyLocked() {
	close(p.waitCh)
	p.waitCh = make(chan struct{})
}
