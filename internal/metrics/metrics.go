// Package metrics exposes Prometheus collectors for the crawl orchestrator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal        *prometheus.CounterVec
	crawlBytesTotal        *prometheus.CounterVec
	crawlPageSeconds       *prometheus.HistogramVec
	crawlInFlight          prometheus.Gauge
	admissionDeniedTotal   prometheus.Counter
	instanceRestartsTotal  prometheus.Counter
	instanceDeathsTotal    prometheus.Counter
	domainCooldownWaits    prometheus.Counter

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Total pages crawled, labeled by terminal status.",
			},
			[]string{"status"},
		)
		crawlBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_bytes_total",
				Help: "Total HTML bytes observed, labeled by kind (initial or rendered).",
			},
			[]string{"kind"},
		)
		crawlPageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_page_duration_seconds",
				Help:    "Histogram of per-page wall-clock time, labeled by status.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
			},
			[]string{"status"},
		)
		crawlInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_in_flight_tasks",
			Help: "Number of tasks currently dispatched to a browser instance.",
		})
		admissionDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawl_admission_denied_total",
			Help: "Times the resource gate paused new dispatch.",
		})
		instanceRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawl_instance_restarts_total",
			Help: "Browser instances retired after consecutive failures.",
		})
		instanceDeathsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawl_instance_deaths_total",
			Help: "Pool slots lost to unrecoverable launch failures.",
		})
		domainCooldownWaits = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawl_cooldown_waits_total",
			Help: "Times the dispatch loop slept waiting for a domain cooldown.",
		})
	})
}

// RecordPage accounts a terminal task outcome.
func RecordPage(status string, initialBytes, renderedBytes int64, elapsed time.Duration) {
	if crawlPagesTotal == nil {
		return
	}
	crawlPagesTotal.WithLabelValues(status).Inc()
	crawlBytesTotal.WithLabelValues("initial").Add(float64(initialBytes))
	crawlBytesTotal.WithLabelValues("rendered").Add(float64(renderedBytes))
	crawlPageSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

// IncInFlight marks one more task dispatched.
func IncInFlight() {
	if crawlInFlight != nil {
		crawlInFlight.Inc()
	}
}

// DecInFlight marks one task completed.
func DecInFlight() {
	if crawlInFlight != nil {
		crawlInFlight.Dec()
	}
}

// IncAdmissionDenied counts a resource-gate pause.
func IncAdmissionDenied() {
	if admissionDeniedTotal != nil {
		admissionDeniedTotal.Inc()
	}
}

// IncInstanceRestart counts a consecutive-failure restart.
func IncInstanceRestart() {
	if instanceRestartsTotal != nil {
		instanceRestartsTotal.Inc()
	}
}

// IncInstanceDead counts a pool slot lost to a failed relaunch.
func IncInstanceDead() {
	if instanceDeathsTotal != nil {
		instanceDeathsTotal.Inc()
	}
}

// IncCooldownWait counts a dispatch-loop sleep on domain cooldowns.
func IncCooldownWait() {
	if domainCooldownWaits != nil {
		domainCooldownWaits.Inc()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
