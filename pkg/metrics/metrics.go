// Package metrics holds the prometheus collectors of the service wrapper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "service_wrapper"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	downloads        *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	runawayOutcomes  *prometheus.CounterVec
	lifecycle        *prometheus.CounterVec
	processRunning   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download entries processed, by outcome",
		}, []string{"outcome"}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Time spent transferring a download entry",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		runawayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runaway_process_checks_total",
			Help:      "Runaway process checks, by outcome",
		}, []string{"outcome"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Wrapper lifecycle transitions, by phase",
		}, []string{"phase"}),
		processRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wrapped_process_running",
			Help:      "1 while the wrapped executable is running",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.downloads, m.downloadDuration, m.runawayOutcomes, m.lifecycle, m.processRunning} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) ObserveDownload(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(outcome).Inc()
	m.downloadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) ObserveRunawayCheck(outcome string) {
	if m == nil {
		return
	}
	m.runawayOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLifecycle(phase string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(phase).Inc()
}

func (m *Metrics) SetProcessRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.processRunning.Set(1)
	} else {
		m.processRunning.Set(0)
	}
}
