package gather

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records synchronizer outcomes. A nil *Metrics records nothing.
type Metrics struct {
	symbols     *prometheus.CounterVec
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	maxDate     *prometheus.GaugeVec
}

// NewMetrics registers the synchronizer metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		symbols: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitboard_sync_symbols_total",
				Help: "Symbols processed by sync, by result",
			},
			[]string{"market", "result"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limitboard_provider_requests_total",
				Help: "Provider requests issued by sync",
			},
			[]string{"market", "mode", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "limitboard_sync_duration_seconds",
				Help:    "Duration of a full market sync",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"market"},
		),
		lastSuccess: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "limitboard_sync_last_success_timestamp_seconds",
				Help: "Unix time of the last completed sync",
			},
			[]string{"market"},
		),
		maxDate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "limitboard_sync_max_date_timestamp_seconds",
				Help: "Latest stored bar date after the last sync",
			},
			[]string{"market"},
		),
	}
}

func (m *Metrics) request(market, mode, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(market, mode, outcome).Inc()
}

func (m *Metrics) observe(s Summary, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.symbols.WithLabelValues(s.Market, "success").Add(float64(s.Success))
	m.symbols.WithLabelValues(s.Market, "failed").Add(float64(s.Failed))
	m.symbols.WithLabelValues(s.Market, "skipped_permanent").Add(float64(s.SkippedPermanent))
	m.symbols.WithLabelValues(s.Market, "newly_skipped").Add(float64(s.NewlySkipped))
	m.duration.WithLabelValues(s.Market).Observe(elapsed.Seconds())
	m.lastSuccess.WithLabelValues(s.Market).SetToCurrentTime()
	if t, err := time.Parse("2006-01-02", s.MaxDate); err == nil {
		m.maxDate.WithLabelValues(s.Market).Set(float64(t.Unix()))
	}
}
