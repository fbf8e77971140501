// Package telemetry exposes Prometheus counters for the protocol engine.
//
// Every method is safe on a nil *Telemetry, so entities built without
// telemetry need no checks.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/protocol"
)

const namespace = "sparkplug"

type Telemetry struct {
	registry *prometheus.Registry

	published     *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	received      *prometheus.CounterVec
	inboundErrors *prometheus.CounterVec
	sessions      prometheus.Counter
	connected     prometheus.Gauge
	sequenceGaps  prometheus.Counter
	rebirths      prometheus.Counter
}

// New creates the engine collectors on a fresh registry, which also carries
// the Go runtime and process collectors.
func New() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages handed to the transport, by message type.",
		}, []string{"type"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Publishes that failed, by message type.",
		}, []string{"type"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages dispatched, by message type.",
		}, []string{"type"}),
		inboundErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_errors_total",
			Help:      "Inbound failures, by error kind.",
		}, []string{"kind"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions begun after a transport connection.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the entity has a live session.",
		}),
		sequenceGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_gaps_total",
			Help:      "Out of order sequence numbers seen from edge nodes.",
		}),
		rebirths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebirths_total",
			Help:      "Rebirths performed or requested.",
		}),
	}

	t.registry.MustRegister(
		t.published,
		t.publishErrors,
		t.received,
		t.inboundErrors,
		t.sessions,
		t.connected,
		t.sequenceGaps,
		t.rebirths,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return t
}

// Gatherer returns the registry to serve on a metrics endpoint.
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	if t == nil {
		return prometheus.NewRegistry()
	}

	return t.registry
}

func (t *Telemetry) Published(mt protocol.MessageType) {
	if t == nil {
		return
	}

	t.published.WithLabelValues(string(mt)).Inc()
}

func (t *Telemetry) PublishFailed(mt protocol.MessageType) {
	if t == nil {
		return
	}

	t.publishErrors.WithLabelValues(string(mt)).Inc()
}

func (t *Telemetry) Received(mt protocol.MessageType) {
	if t == nil {
		return
	}

	t.received.WithLabelValues(string(mt)).Inc()
}

// InboundError counts err under its error kind.
func (t *Telemetry) InboundError(err error) {
	if t == nil || err == nil {
		return
	}

	t.inboundErrors.WithLabelValues(pkgerrors.KindOf(err).String()).Inc()
}

func (t *Telemetry) SessionStarted() {
	if t == nil {
		return
	}

	t.sessions.Inc()
	t.connected.Set(1)
}

func (t *Telemetry) SessionEnded() {
	if t == nil {
		return
	}

	t.connected.Set(0)
}

func (t *Telemetry) SequenceGap() {
	if t == nil {
		return
	}

	t.sequenceGaps.Inc()
}

func (t *Telemetry) Rebirth() {
	if t == nil {
		return
	}

	t.rebirths.Inc()
}
