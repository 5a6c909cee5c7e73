package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	requestsInFlight prometheus.Gauge
	requests         *prometheus.CounterVec
	requestErrors    *prometheus.CounterVec
	framesSent       prometheus.Counter
	framesReceived   prometheus.Counter
	framesDropped    *prometheus.CounterVec
	connectionOpen   prometheus.Gauge
	connections      prometheus.Counter
	bridgeRequests   prometheus.Counter
	bridgeErrors     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// registers with the prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics := &Metrics{
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "link_requests_in_flight",
			Help: "The number of requests awaiting results",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_requests_total",
			Help: "The total number of operations started",
		}, []string{"type"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_request_errors_total",
			Help: "The total number of errors delivered to callers",
		}, []string{"reason"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_frames_sent_total",
			Help: "The total number of frames written to the connection",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_frames_received_total",
			Help: "The total number of frames read from the connection",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_frames_dropped_total",
			Help: "The total number of inbound frames that could not be routed",
		}, []string{"reason"}),
		connectionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "link_connection_open",
			Help: "Whether the connection is currently open",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_connections_total",
			Help: "The total number of connections established",
		}),
		bridgeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_bridge_requests_total",
			Help: "The total number of NATS requests relayed",
		}),
		bridgeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_bridge_errors_total",
			Help: "The total number of NATS requests that failed",
		}, []string{"reason"}),
	}
	metrics.register(reg)
	return metrics
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.requestsInFlight)
	reg.MustRegister(m.requests)
	reg.MustRegister(m.requestErrors)
	reg.MustRegister(m.framesSent)
	reg.MustRegister(m.framesReceived)
	reg.MustRegister(m.framesDropped)
	reg.MustRegister(m.connectionOpen)
	reg.MustRegister(m.connections)
	reg.MustRegister(m.bridgeRequests)
	reg.MustRegister(m.bridgeErrors)
}

func (m *Metrics) IncrementRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

func (m *Metrics) DecrementRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
}

func (m *Metrics) IncrementRequests(operationType string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operationType).Inc()
}

func (m *Metrics) IncrementRequestErrors(reason string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementFramesSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) IncrementFramesReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) IncrementFramesDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetConnectionOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.connectionOpen.Set(1)
		m.connections.Inc()
		return
	}
	m.connectionOpen.Set(0)
}

func (m *Metrics) IncrementBridgeRequests() {
	if m == nil {
		return
	}
	m.bridgeRequests.Inc()
}

func (m *Metrics) IncrementBridgeErrors(reason string) {
	if m == nil {
		return
	}
	m.bridgeErrors.WithLabelValues(reason).Inc()
}
