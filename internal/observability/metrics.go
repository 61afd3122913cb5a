package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RelayMetrics are the relay's counters, registered on their own registry
// so several relays can run in one process.
type RelayMetrics struct {
	reg *prometheus.Registry

	Packets   *prometheus.CounterVec
	Transfers *prometheus.CounterVec
	Commands  *prometheus.CounterVec
	Events    *prometheus.CounterVec
	Logins    *prometheus.CounterVec
	Peers     prometheus.Gauge
}

func NewRelayMetrics() *RelayMetrics {
	m := &RelayMetrics{
		reg: prometheus.NewRegistry(),
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caravan",
			Subsystem: "relay",
			Name:      "packets_total",
			Help:      "Packets received from peers by type.",
		}, []string{"type"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caravan",
			Subsystem: "relay",
			Name:      "transfers_total",
			Help:      "Transfer manifests routed by step and outcome.",
		}, []string{"step", "outcome"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caravan",
			Subsystem: "relay",
			Name:      "commands_total",
			Help:      "Administrative commands pushed to peers.",
		}, []string{"command"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caravan",
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "World events routed by kind and outcome.",
		}, []string{"event", "outcome"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caravan",
			Subsystem: "relay",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "caravan",
			Subsystem: "relay",
			Name:      "peers",
			Help:      "Logged-in peers.",
		}),
	}
	m.reg.MustRegister(m.Packets, m.Transfers, m.Commands, m.Events, m.Logins, m.Peers)
	return m
}

func (m *RelayMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *RelayMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
