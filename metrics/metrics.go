/*
Package metrics exposes Prometheus instrumentation for a supervised
HTSP connection, grounded on the retrieved C360Studio-semstreams
input/udp package's nil-registerer pattern: New(nil) is a valid
"metrics disabled" input, and callers never need to nil-check the
returned *Metrics before use.
*/
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter/gauge/histogram this module emits.
type Metrics struct {
	FramesSent          prometheus.Counter
	FramesReceived      prometheus.Counter
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	Reconnects          prometheus.Counter
	ConnectionState     prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
	RequestLatency      prometheus.Histogram
}

// New constructs Metrics and, if reg is non-nil, registers them.
// Registration errors (e.g. duplicate registration against a shared
// registry) are ignored the same way the retrieved udp.newMetrics
// does — instrumentation must never be able to fail connection setup.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "htsp", Name: "frames_sent_total", Help: "HTSP frames written to the wire.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "htsp", Name: "frames_received_total", Help: "HTSP frames read from the wire.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "htsp", Name: "bytes_sent_total", Help: "Bytes written to the wire.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "htsp", Name: "bytes_received_total", Help: "Bytes read from the wire.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "htsp", Name: "reconnects_total", Help: "Supervisor reconnect attempts.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "htsp", Name: "connection_state", Help: "Last-known connection state (0=CLOSED,1=CONNECTING,2=CONNECTED,3=CLOSING,4=FAILED).",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "htsp", Name: "active_subscriptions", Help: "Currently subscribed subscriber tasks.",
		}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "htsp", Name: "request_latency_seconds", Help: "send_await_reply round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.FramesSent, m.FramesReceived, m.BytesSent, m.BytesReceived,
		m.Reconnects, m.ConnectionState, m.ActiveSubscriptions, m.RequestLatency,
	} {
		_ = reg.Register(c)
	}
	return m
}

// NoOp returns Metrics backed by collectors that are never registered
// anywhere, for components that want an always-safe-to-call *Metrics
// without opting into Prometheus at all.
func NoOp() *Metrics {
	return New(nil)
}
