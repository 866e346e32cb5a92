package observability

import (
	"strconv"
	"time"

	"github.com/danmuck/amprelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amprelay"

// StatsSource reports relay counters for collection.
type StatsSource interface {
	Stats() relay.Stats
}

// Metrics owns the collectors of one core on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics registers relay counter collectors for core on a fresh registry.
func NewMetrics(core string, src StatsSource) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"core": core}

	m := &Metrics{
		Registry: reg,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total admin HTTP requests.",
			},
			[]string{"core", "method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Admin HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"core", "method", "path", "status"},
		),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "relay",
			Name:        "messages_sent_total",
			Help:        "Messages accepted by send.",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Sent) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "relay",
			Name:        "messages_delivered_total",
			Help:        "Inbound messages acknowledged by deliver.",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Delivered) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "relay",
			Name:        "delivered_bytes_total",
			Help:        "Inbound bytes acknowledged by deliver.",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().DeliveredBytes) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "relay",
			Name:        "initialized",
			Help:        "1 once the relay is initialized.",
			ConstLabels: labels,
		}, func() float64 {
			if src.Stats().Initialized {
				return 1
			}
			return 0
		}),
	)
	return m
}

func (m *Metrics) RecordHTTPRequest(core, method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(core, method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(core, method, path, statusLabel).Observe(duration.Seconds())
}
