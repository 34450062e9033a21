package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	frames        *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	connections   prometheus.Gauge
	subscriptions prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphr",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Sync frames received, by operation.",
		}, []string{"op"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphr",
			Subsystem: "relay",
			Name:      "rejected_writes_total",
			Help:      "Writes refused by the relay, by operation.",
		}, []string{"op"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyphr",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open sync connections.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyphr",
			Subsystem: "relay",
			Name:      "subscriptions",
			Help:      "Live prefix subscriptions held for sync connections.",
		}),
	}
	m.registry.MustRegister(m.frames, m.rejected, m.connections, m.subscriptions)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
