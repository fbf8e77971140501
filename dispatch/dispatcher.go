// Package dispatch routes inbound Sparkplug messages to the handlers an
// entity registered.
//
// Dispatch never panics and never returns an error for a dropped message
// other than through the return value and the OnError callback. A handler
// is invoked at most once per message, on the caller's goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/payload"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/telemetry"
)

var (
	ErrHandlerPanic   = errors.New("handler panicked")
	ErrWrongNamespace = errors.New("message namespace does not match the codec")
)

// Message is a decoded inbound message.
type Message struct {
	Topic     protocol.Topic
	Timestamp time.Time
	Seq       *uint64
	UUID      string
	Body      []byte
	Metrics   []metric.Metric
}

// DeviceID is empty for node scoped messages.
func (m *Message) DeviceID() string {
	return m.Topic.DeviceID
}

type HandlerFunc func(ctx context.Context, msg *Message) error

type StateHandlerFunc func(ctx context.Context, hostID string, state protocol.HostState) error

// ErrorFunc receives every inbound failure: topic, codec and per metric
// conversion errors, and handler errors.
type ErrorFunc func(topic string, err error)

type Options struct {
	Log       *zap.Logger
	Telemetry *telemetry.Telemetry
	OnError   ErrorFunc
}

type Dispatcher struct {
	codec payload.Codec

	mu       sync.RWMutex
	handlers map[protocol.MessageType]HandlerFunc
	state    StateHandlerFunc

	log       *zap.Logger
	telemetry *telemetry.Telemetry
	onError   ErrorFunc
}

func New(codec payload.Codec, options Options) *Dispatcher {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		codec:     codec,
		handlers:  make(map[protocol.MessageType]HandlerFunc),
		log:       log,
		telemetry: options.Telemetry,
		onError:   options.OnError,
	}
}

// Handle registers h for one message type, replacing any previous handler.
// A nil h removes it.
func (d *Dispatcher) Handle(mt protocol.MessageType, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h == nil {
		delete(d.handlers, mt)
		return
	}

	d.handlers[mt] = h
}

func (d *Dispatcher) HandleNodeCommand(h HandlerFunc) {
	d.Handle(protocol.NCMD, h)
}

func (d *Dispatcher) HandleDeviceCommand(h HandlerFunc) {
	d.Handle(protocol.DCMD, h)
}

// HandleState registers the handler of host application STATE messages.
// They carry no Sparkplug payload, so the handler gets the parsed state.
func (d *Dispatcher) HandleState(h StateHandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = h
}

// Dispatch parses, decodes and routes one inbound message. The returned
// error is the reason the message was dropped, or the handler's error. Per
// metric conversion failures are only reported through OnError, the
// remaining metrics are still delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, rawTopic string, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %v: %w", rawTopic, r, ErrHandlerPanic)
			d.report(rawTopic, err)
		}
	}()

	topic, err := protocol.ParseTopic(rawTopic)
	if errors.Is(err, protocol.ErrUnknownMessageType) {
		// forward compatible no-op
		d.log.Debug("Ignoring unknown message type", zap.String("topic", rawTopic))
		return nil
	}

	if err != nil {
		d.report(rawTopic, err)
		return err
	}

	d.telemetry.Received(topic.MessageType)

	if topic.MessageType == protocol.STATE {
		return d.dispatchState(ctx, rawTopic, topic, raw)
	}

	h := d.handler(topic.MessageType)
	if h == nil {
		return nil
	}

	if topic.Namespace != d.codec.Namespace() {
		err = pkgerrors.Codec("dispatch.Dispatch", fmt.Errorf("%s: %w", topic.Namespace, ErrWrongNamespace))
		d.report(rawTopic, err)
		return err
	}

	decoded, err := d.codec.Decode(raw)
	if err != nil {
		d.report(rawTopic, err)
		return err
	}

	for _, c := range decoded.Failed() {
		d.report(rawTopic, c.Err)
	}

	msg := &Message{
		Topic:     topic,
		Timestamp: decoded.Timestamp,
		Seq:       decoded.Seq,
		UUID:      decoded.UUID,
		Body:      decoded.Body,
		Metrics:   decoded.Metrics(),
	}

	if err = h(ctx, msg); err != nil {
		d.report(rawTopic, err)
		return err
	}

	return nil
}

func (d *Dispatcher) dispatchState(ctx context.Context, rawTopic string, topic protocol.Topic, raw []byte) error {
	d.mu.RLock()
	h := d.state
	d.mu.RUnlock()

	if h == nil {
		return nil
	}

	st, err := protocol.DecodeState(raw)
	if err != nil {
		err = pkgerrors.Codec("dispatch.Dispatch", err)
		d.report(rawTopic, err)
		return err
	}

	if err = h(ctx, topic.EdgeNodeID, st); err != nil {
		d.report(rawTopic, err)
		return err
	}

	return nil
}

func (d *Dispatcher) handler(mt protocol.MessageType) HandlerFunc {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.handlers[mt]
}

func (d *Dispatcher) report(topic string, err error) {
	d.telemetry.InboundError(err)

	d.log.Warn("Failed to dispatch message",
		zap.String("topic", topic),
		zap.Stringer("kind", pkgerrors.KindOf(err)),
		zap.Error(err))

	if d.onError != nil {
		d.onError(topic, err)
	}
}
