// Package monitor gates new work admission on host CPU and memory headroom.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
)

// Sampler reads host utilization. The production sampler queries the OS via
// gopsutil; tests substitute a fake.
type Sampler interface {
	Sample() (crawler.ResourceSnapshot, error)
}

// Config holds the admission thresholds. All three must pass for Admit to
// return true.
type Config struct {
	CPUThreshold   float64
	MemThreshold   float64
	MinMemAvailMB  float64
	SampleInterval time.Duration
}

// Monitor implements crawler.Gate by sampling system utilization. Samples
// are throttled: calls within SampleInterval reuse the cached snapshot so
// Admit stays cheap under a hot dispatch loop. A failed sample denies
// admission (fail closed) rather than risking overload.
type Monitor struct {
	cfg     Config
	sampler Sampler
	logger  *zap.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	last    crawler.ResourceSnapshot
	lastErr error
	sampled bool
}

// New builds a Monitor with the OS sampler.
func New(cfg Config, logger *zap.Logger) *Monitor {
	return NewWithSampler(cfg, gopsutilSampler{}, logger)
}

// NewWithSampler builds a Monitor with a caller-supplied sampler.
func NewWithSampler(cfg Config, sampler Sampler, logger *zap.Logger) *Monitor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	return &Monitor{
		cfg:     cfg,
		sampler: sampler,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(cfg.SampleInterval), 1),
	}
}

// Admit reports whether it is safe to start one more unit of work.
func (m *Monitor) Admit() bool {
	snap, err := m.snapshot()
	if err != nil {
		m.logger.Warn("resource sample failed, denying admission", zap.Error(err))
		return false
	}

	cpuOK := snap.CPUPercent <= m.cfg.CPUThreshold
	memOK := snap.MemPercent <= m.cfg.MemThreshold
	availOK := snap.MemAvailMB >= m.cfg.MinMemAvailMB
	if cpuOK && memOK && availOK {
		return true
	}

	m.logger.Debug("admission denied",
		zap.Float64("cpu_pct", snap.CPUPercent),
		zap.Float64("mem_pct", snap.MemPercent),
		zap.Float64("mem_avail_mb", snap.MemAvailMB),
		zap.Bool("cpu_ok", cpuOK),
		zap.Bool("mem_ok", memOK),
		zap.Bool("avail_ok", availOK),
	)
	return false
}

// Snapshot returns the most recent sample, refreshing it if the throttle
// window has elapsed.
func (m *Monitor) Snapshot() (crawler.ResourceSnapshot, error) {
	return m.snapshot()
}

func (m *Monitor) snapshot() (crawler.ResourceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Spend a token on every call so the very first sample starts the
	// throttle window; callers inside the window get the cached snapshot.
	if !m.limiter.Allow() && m.sampled {
		return m.last, m.lastErr
	}

	snap, err := m.sampler.Sample()
	m.sampled = true
	m.last, m.lastErr = snap, err
	return snap, err
}

// gopsutilSampler queries the OS. The CPU percentage is measured over a
// short fixed window so a call never blocks the dispatch loop for long.
type gopsutilSampler struct{}

const cpuSampleWindow = 100 * time.Millisecond

func (gopsutilSampler) Sample() (crawler.ResourceSnapshot, error) {
	percentages, err := cpu.Percent(cpuSampleWindow, false)
	if err != nil {
		return crawler.ResourceSnapshot{}, fmt.Errorf("sample cpu: %w", err)
	}
	if len(percentages) == 0 {
		return crawler.ResourceSnapshot{}, fmt.Errorf("sample cpu: empty reading")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return crawler.ResourceSnapshot{}, fmt.Errorf("sample memory: %w", err)
	}
	return crawler.ResourceSnapshot{
		CPUPercent: percentages[0],
		MemPercent: vm.UsedPercent,
		MemAvailMB: float64(vm.Available) / (1024 * 1024),
		SampledAt:  time.Now(),
	}, nil
}
