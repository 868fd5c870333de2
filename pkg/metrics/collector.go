// Package metrics exposes the dispatcher's live counters as Prometheus
// collectors, served over the configured metrics address.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace  = "grdt"
	subsystemSession  = "session"
	subsystemTransfer = "transfer"
)

// Collector tracks server-wide counters across every session the dispatcher
// has handled. A single Collector is shared by all session workers.
type Collector struct {
	registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionsFailed   prometheus.Counter
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	retransmissions  prometheus.Counter
	timeouts         prometheus.Counter
	protocolViolated prometheus.Counter
}

// NewCollector builds a Collector registered under namespace (falling back
// to "grdt" when blank); its Prometheus registry is available via Registry.
func NewCollector(namespace string) *Collector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystemSession, Name: "active",
			Help: "Number of sessions past the handshake whose transfer has not yet ended.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemSession, Name: "total",
			Help: "Sessions accepted since startup.",
		}),
		sessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemSession, Name: "failed_total",
			Help: "Sessions that ended in an error instead of a clean teardown.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemTransfer, Name: "bytes_sent_total",
			Help: "Payload bytes sent across all transfers.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemTransfer, Name: "bytes_received_total",
			Help: "Payload bytes received across all transfers.",
		}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemTransfer, Name: "retransmissions_total",
			Help: "DATA packets retransmitted after an RTO expiry.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemTransfer, Name: "timeouts_total",
			Help: "Receive timeouts observed while waiting for a peer.",
		}),
		protocolViolated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystemTransfer, Name: "protocol_violations_total",
			Help: "Sessions aborted after an unexpected packet type.",
		}),
	}

	reg.MustRegister(
		c.activeSessions,
		c.sessionsTotal,
		c.sessionsFailed,
		c.bytesSent,
		c.bytesReceived,
		c.retransmissions,
		c.timeouts,
		c.protocolViolated,
	)
	return c
}

// Registry returns the Prometheus registry backing this Collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) SessionOpened() {
	c.sessionsTotal.Inc()
	c.activeSessions.Inc()
}

func (c *Collector) SessionClosed(failed bool) {
	c.activeSessions.Dec()
	if failed {
		c.sessionsFailed.Inc()
	}
}

func (c *Collector) BytesSent(n int) {
	if n > 0 {
		c.bytesSent.Add(float64(n))
	}
}

func (c *Collector) BytesReceived(n int) {
	if n > 0 {
		c.bytesReceived.Add(float64(n))
	}
}

func (c *Collector) Retransmission() { c.retransmissions.Inc() }
func (c *Collector) Timeout()        { c.timeouts.Inc() }
func (c *Collector) ProtocolViolation() { c.protocolViolated.Inc() }
