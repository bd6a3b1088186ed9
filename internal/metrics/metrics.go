// Package metrics exposes Prometheus counters and gauges for the
// endpoint/net fan-out path, in the same promauto style as the
// reference server's connection/message metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/watermesh/fabric/pkg/fabric"
)

// Metrics groups every collector fabricd registers. All fields are
// safe for concurrent use, since every prometheus collector is, and
// endpoint registry access is its own mutex.
type Metrics struct {
	endpointsActive      prometheus.Gauge
	endpointsTotal       prometheus.Counter
	endpointsClosedTotal prometheus.Counter
	endpointsWithPending prometheus.Gauge
	sleepers             prometheus.Gauge

	messagesSent prometheus.Counter
	messagesRecv prometheus.Counter

	bridgeReceived  prometheus.Counter
	bridgeForwarded prometheus.Counter
	bridgeErrors    prometheus.Counter

	startTime time.Time

	epMu sync.Mutex
	eps  map[uintptr]fabric.Endpoint
}

// New registers and returns a fresh Metrics. Must be called at most
// once per process (promauto panics on duplicate registration).
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),
		eps:       make(map[uintptr]fabric.Endpoint),

		endpointsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fabric_endpoints_active",
			Help: "Number of endpoints currently registered on the net, sampled by Run's ticker via Net.EndpointCount.",
		}),
		endpointsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fabric_endpoints_created_total",
			Help: "Total number of endpoints ever created.",
		}),
		endpointsClosedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fabric_endpoints_closed_total",
			Help: "Total number of endpoints ever closed.",
		}),
		endpointsWithPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fabric_endpoints_with_pending",
			Help: "Number of tracked endpoints for which Endpoint.HasMessages was true at the last poll.",
		}),
		sleepers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fabric_sleepers",
			Help: "Sum of Endpoint.SleeperCount across tracked endpoints at the last poll.",
		}),

		messagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fabric_messages_sent_total",
			Help: "Total number of messages handed to Net.Send/SendAs.",
		}),
		messagesRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fabric_messages_received_total",
			Help: "Total number of messages successfully dequeued by a receiver.",
		}),

		bridgeReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fabric_bridge_received_total",
			Help: "Total number of NATS messages injected into the net by Bridge.Attach.",
		}),
		bridgeForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fabric_bridge_forwarded_total",
			Help: "Total number of raw messages forwarded outbound across the NATS bridge by Bridge.Forward.",
		}),
		bridgeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fabric_bridge_errors_total",
			Help: "Total number of bridge forward/receive errors.",
		}),
	}
}

// EndpointCreated records ep's creation and tracks it for Run's poll.
func (m *Metrics) EndpointCreated(ep fabric.Endpoint) {
	m.endpointsTotal.Inc()
	m.epMu.Lock()
	m.eps[ep.ID()] = ep
	m.epMu.Unlock()
}

// EndpointClosed records ep's closure and stops tracking it.
func (m *Metrics) EndpointClosed(ep fabric.Endpoint) {
	m.endpointsClosedTotal.Inc()
	m.epMu.Lock()
	delete(m.eps, ep.ID())
	m.epMu.Unlock()
}

func (m *Metrics) MessageSent()            { m.messagesSent.Inc() }
func (m *Metrics) MessageReceived(cap int) { m.messagesRecv.Inc() }

func (m *Metrics) BridgeReceived()  { m.bridgeReceived.Inc() }
func (m *Metrics) BridgeForwarded() { m.bridgeForwarded.Inc() }
func (m *Metrics) BridgeError()     { m.bridgeErrors.Inc() }

// Run polls the net and every tracked endpoint on interval, the same
// ticker-driven shape as internal/diagnostics.Sampler.Run, until stop
// fires. Intended to be launched as its own goroutine from cmd/fabricd.
func (m *Metrics) Run(net fabric.Net, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.poll(net)
		case <-stop:
			return
		}
	}
}

// poll samples the gauges this package cannot feed from individual
// call-site events: endpoint count and per-endpoint queue/sleeper
// state are only visible through the public probes Net.EndpointCount,
// Endpoint.HasMessages and Endpoint.SleeperCount expose.
func (m *Metrics) poll(net fabric.Net) {
	m.endpointsActive.Set(float64(net.EndpointCount()))

	m.epMu.Lock()
	eps := make([]fabric.Endpoint, 0, len(m.eps))
	for _, ep := range m.eps {
		eps = append(eps, ep)
	}
	m.epMu.Unlock()

	var pending int
	var sleeping int64
	for _, ep := range eps {
		if ep.HasMessages() {
			pending++
		}
		sleeping += ep.SleeperCount()
	}
	m.endpointsWithPending.Set(float64(pending))
	m.sleepers.Set(float64(sleeping))
}

// Uptime reports how long this Metrics instance has been alive.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
