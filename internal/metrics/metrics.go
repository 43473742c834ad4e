// Package metrics exposes the node's packet and routing counters as
// Prometheus metrics, in addition to the mandated log lines. This is
// pure observability: nothing in the protocol reads these back, so a
// node with metrics disabled behaves identically to one with them on.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters/gauges a node publishes. A nil
// *Registry may be passed everywhere one is accepted and disables
// metrics; each component checks for nil before recording.
type Registry struct {
	reg *prometheus.Registry

	DatagramsSent       *prometheus.CounterVec
	DatagramsReceived   *prometheus.CounterVec
	DatagramsMalformed  prometheus.Counter
	PacketsSent         *prometheus.CounterVec
	PacketsAcked        *prometheus.CounterVec
	PacketsDropped      *prometheus.CounterVec
	Retransmissions     *prometheus.CounterVec
	LinkLossRate        *prometheus.GaugeVec
	RoutingTableEntries prometheus.Gauge
}

// New builds a fresh registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		DatagramsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_datagrams_sent_total",
			Help: "UDP datagrams sent by this node.",
		}, []string{"local_port"}),
		DatagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_datagrams_received_total",
			Help: "UDP datagrams received by this node.",
		}, []string{"local_port"}),
		DatagramsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_datagrams_malformed_total",
			Help: "Datagrams dropped for failing to parse as JSON.",
		}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_gbn_packets_sent_total",
			Help: "Go-Back-N data packets sent, by peer.",
		}, []string{"peer_port"}),
		PacketsAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_gbn_packets_acked_total",
			Help: "Go-Back-N data packets acknowledged, by peer.",
		}, []string{"peer_port"}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_gbn_packets_dropped_total",
			Help: "Go-Back-N packets dropped by injected loss, by peer.",
		}, []string{"peer_port"}),
		Retransmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overlay_gbn_retransmissions_total",
			Help: "Go-Back-N window retransmissions triggered by timeout.",
		}, []string{"peer_port"}),
		LinkLossRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "overlay_link_loss_rate",
			Help: "Most recently measured loss rate for a probed link.",
		}, []string{"peer_port"}),
		RoutingTableEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_routing_table_entries",
			Help: "Number of destinations known to this node's routing table.",
		}),
	}
	reg.MustRegister(
		r.DatagramsSent, r.DatagramsReceived, r.DatagramsMalformed,
		r.PacketsSent, r.PacketsAcked, r.PacketsDropped, r.Retransmissions,
		r.LinkLossRate, r.RoutingTableEntries,
	)
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
