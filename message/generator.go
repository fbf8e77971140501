// Package message builds the topic and encoded payload of every message a
// Sparkplug entity publishes.
//
// The generator holds no session state. Callers pass the session and
// sequence numbers they drew from their session.State while holding their
// publish lock, so a Generator can be shared freely.
package message

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/payload"
	"github.com/luma/sparkplug/protocol"
)

var ErrReservedMetric = errors.New("metric name is reserved")

// StateQoS is used for host application STATE messages, which are retained.
const StateQoS byte = 1

// Message is a ready to publish Sparkplug message.
type Message struct {
	Topic   protocol.Topic
	Payload []byte
	QoS     byte
	Retain  bool
	// Seq is the sequence number embedded in the payload, if any
	Seq *uint64
	// Metrics as encoded, after filtering
	Metrics []metric.Metric
}

type Generator struct {
	namespace protocol.Namespace
	version   protocol.SpecificationVersion
	codec     payload.Codec
	qos       byte
	now       func() time.Time
}

type Option func(*Generator)

// WithClock replaces time.Now as the source of payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithQoS sets the QoS of lifecycle, data and command messages. It defaults
// to 0.
func WithQoS(qos byte) Option {
	return func(g *Generator) {
		g.qos = qos
	}
}

func NewGenerator(ns protocol.Namespace, version protocol.SpecificationVersion, opts ...Option) (*Generator, error) {
	codec, err := payload.ForNamespace(ns)
	if err != nil {
		return nil, err
	}

	if version != protocol.Version22 && version != protocol.Version30 {
		return nil, pkgerrors.Configuration("message.NewGenerator",
			fmt.Errorf("%d: %w", version, protocol.ErrUnknownSpecificationVersion))
	}

	g := &Generator{
		namespace: ns,
		version:   version,
		codec:     codec,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *Generator) Namespace() protocol.Namespace {
	return g.namespace
}

func (g *Generator) Version() protocol.SpecificationVersion {
	return g.version
}

func (g *Generator) Codec() payload.Codec {
	return g.codec
}

// NodeBirth builds the NBIRTH of a session. It always carries the whole
// known set, with values from current replacing the declared ones, plus the
// session number as bdSeq. The sequence number of a birth is always 0.
func (g *Generator) NodeBirth(id Identity, known *metric.Registry, sessionNumber int64, current []metric.Metric) (*Message, error) {
	if err := id.Node().Validate(); err != nil {
		return nil, err
	}

	now := g.now()

	metrics := append(birthSet(known, current), metric.New(protocol.MetricBdSeq, metric.Int64, sessionNumber))
	if g.namespace == protocol.NamespaceB {
		metrics = append(metrics, metric.New(protocol.MetricNodeRebirth, metric.Boolean, false))
	}

	return g.build(id.Node(), protocol.NBIRTH, now, seqOf(0), metrics)
}

// NodeData builds an NDATA carrying the known metrics of batch.
func (g *Generator) NodeData(id Identity, known *metric.Registry, batch []metric.Metric, seq uint8) (*Message, error) {
	if err := id.Node().Validate(); err != nil {
		return nil, err
	}

	return g.build(id.Node(), protocol.NDATA, g.now(), seqOf(seq), known.FilterOutgoing(batch))
}

// NodeDeath builds the NDEATH of a session. It carries only bdSeq and is
// registered as the MQTT will when the session starts.
func (g *Generator) NodeDeath(id Identity, sessionNumber int64) (*Message, error) {
	if err := id.Node().Validate(); err != nil {
		return nil, err
	}

	metrics := []metric.Metric{metric.New(protocol.MetricBdSeq, metric.Int64, sessionNumber)}

	return g.build(id.Node(), protocol.NDEATH, g.now(), nil, metrics)
}

// DeviceBirth builds a DBIRTH. Devices share the sequence of their node.
func (g *Generator) DeviceBirth(id Identity, known *metric.Registry, seq uint8, current []metric.Metric) (*Message, error) {
	if err := g.validateDevice(id); err != nil {
		return nil, err
	}

	metrics := birthSet(known, current)
	if g.namespace == protocol.NamespaceB {
		metrics = append(metrics, metric.New(protocol.MetricDeviceRebirth, metric.Boolean, false))
	}

	return g.build(id, protocol.DBIRTH, g.now(), seqOf(seq), metrics)
}

func (g *Generator) DeviceData(id Identity, known *metric.Registry, batch []metric.Metric, seq uint8) (*Message, error) {
	if err := g.validateDevice(id); err != nil {
		return nil, err
	}

	return g.build(id, protocol.DDATA, g.now(), seqOf(seq), known.FilterOutgoing(batch))
}

func (g *Generator) DeviceDeath(id Identity, seq uint8) (*Message, error) {
	if err := g.validateDevice(id); err != nil {
		return nil, err
	}

	return g.build(id, protocol.DDEATH, g.now(), seqOf(seq), nil)
}

// NodeCommand builds an NCMD for the node addressed by target. Commands
// write metrics of the remote node, so they are not filtered.
func (g *Generator) NodeCommand(target Identity, metrics []metric.Metric, seq uint8) (*Message, error) {
	if err := target.Node().Validate(); err != nil {
		return nil, err
	}

	return g.build(target.Node(), protocol.NCMD, g.now(), seqOf(seq), metrics)
}

func (g *Generator) DeviceCommand(target Identity, metrics []metric.Metric, seq uint8) (*Message, error) {
	if err := g.validateDevice(target); err != nil {
		return nil, err
	}

	return g.build(target, protocol.DCMD, g.now(), seqOf(seq), metrics)
}

// State builds the retained STATE message of a host application.
func (g *Generator) State(hostID string, online bool) (*Message, error) {
	if err := protocol.ValidateID(hostID); err != nil {
		return nil, pkgerrors.Configuration("message.Generator.State", err)
	}

	data, err := protocol.EncodeState(g.version, protocol.HostState{
		Online:    online,
		Timestamp: g.now(),
	})
	if err != nil {
		return nil, err
	}

	return &Message{
		Topic:   protocol.HostStateTopic(g.version, g.namespace, hostID),
		Payload: data,
		QoS:     StateQoS,
		Retain:  true,
	}, nil
}

// ValidateKnown rejects known metrics named like the metrics the generator
// adds to births itself, which would otherwise appear twice in one message.
func (g *Generator) ValidateKnown(known []metric.Metric) error {
	reserved := []string{protocol.MetricBdSeq, protocol.MetricNodeRebirth, protocol.MetricDeviceRebirth}
	if g.namespace == protocol.NamespaceA {
		reserved = append(reserved, protocol.MetricSeq)
	}

	var err error
	for _, m := range known {
		for _, name := range reserved {
			if m.Name == name {
				err = multierr.Append(err, fmt.Errorf("%q: %w", m.Name, ErrReservedMetric))
			}
		}
	}

	if err != nil {
		return pkgerrors.Configuration("message.ValidateKnown", err)
	}

	return nil
}

func (g *Generator) validateDevice(id Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}

	if !id.IsDevice() {
		return pkgerrors.Configuration("message.Generator", ErrMissingDeviceID)
	}

	return nil
}

func (g *Generator) build(id Identity, mt protocol.MessageType, now time.Time, seq *uint64, metrics []metric.Metric) (*Message, error) {
	stamped := make([]metric.Metric, len(metrics))
	for i, m := range metrics {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		stamped[i] = m
	}

	data, err := g.codec.Encode(&payload.Payload{
		Timestamp: now,
		Seq:       seq,
		Metrics:   stamped,
	})
	if err != nil {
		return nil, err
	}

	return &Message{
		Topic:   id.topic(g.namespace, mt),
		Payload: data,
		QoS:     g.qos,
		Seq:     seq,
		Metrics: stamped,
	}, nil
}

// birthSet returns the known definitions with the value and timestamp of
// the matching current metric, if any.
func birthSet(known *metric.Registry, current []metric.Metric) []metric.Metric {
	latest := make(map[string]metric.Metric, len(current))
	for _, m := range current {
		latest[m.Name] = m
	}

	defs := known.Values()
	out := make([]metric.Metric, 0, len(defs)+2)

	for _, def := range defs {
		if cur, ok := latest[def.Name]; ok {
			def = def.WithValue(cur.Value).WithTimestamp(cur.Timestamp)
		}
		out = append(out, def)
	}

	return out
}

func seqOf(seq uint8) *uint64 {
	v := uint64(seq)
	return &v
}
