package netservice

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds all lightnet coordinator Prometheus metrics, on an isolated
// registry so they never collide with a host process's default registry.
// Each Service gets its own instance.
type metrics struct {
	registry *prometheus.Registry

	connectionsTotal   *prometheus.CounterVec
	connectedPeers     *prometheus.GaugeVec
	gossipOpenTotal    *prometheus.CounterVec
	slotsAssigned      *prometheus.GaugeVec
	banTotal           *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	discoveryFoundTotal prometheus.Counter
	fanoutBlockedTotal  prometheus.Counter
	fanoutDroppedTotal  prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &metrics{
		registry: reg,

		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightnet_connections_total",
				Help: "Total number of connection admission attempts by outcome.",
			},
			[]string{"outcome"},
		),
		connectedPeers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lightnet_connected_peers",
				Help: "Number of peers with an open gossip substream, per chain.",
			},
			[]string{"chain"},
		),
		gossipOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightnet_gossip_open_total",
				Help: "Total number of gossip substream open attempts by outcome.",
			},
			[]string{"chain", "outcome"},
		),
		slotsAssigned: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lightnet_slots_assigned",
				Help: "Number of outbound gossip slots currently assigned, per chain.",
			},
			[]string{"chain"},
		),
		banTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightnet_peer_ban_total",
				Help: "Total number of peer bans issued by reason.",
			},
			[]string{"reason"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightnet_requests_total",
				Help: "Total number of outbound protocol requests by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lightnet_request_duration_seconds",
				Help:    "Duration of outbound protocol requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		discoveryFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightnet_discovery_peers_found_total",
			Help: "Total number of peers learned through find-node discovery rounds.",
		}),
		fanoutBlockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightnet_fanout_blocked_total",
			Help: "Total number of event sends that had to wait for a full subscriber buffer to free up.",
		}),
		fanoutDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightnet_fanout_dropped_total",
			Help: "Total number of events abandoned mid-send because the service shut down while waiting for a full subscriber buffer.",
		}),
	}

	reg.MustRegister(
		m.connectionsTotal,
		m.connectedPeers,
		m.gossipOpenTotal,
		m.slotsAssigned,
		m.banTotal,
		m.requestsTotal,
		m.requestDuration,
		m.discoveryFoundTotal,
		m.fanoutBlockedTotal,
		m.fanoutDroppedTotal,
	)

	return m
}

// Handler serves the Prometheus metrics endpoint for this Service's
// isolated registry.
func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
