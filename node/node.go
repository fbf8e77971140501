// Package node is a Sparkplug edge node: it owns one session, births itself
// and its devices on every connection, publishes data through the known
// metric filter and answers node and device commands.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/dispatch"
	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/session"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

var (
	ErrNoTransport      = errors.New("no transport configured")
	ErrNotConnected     = errors.New("node is not connected")
	ErrAlreadyConnected = errors.New("node is already connected")
	ErrUnknownDevice    = errors.New("unknown device")
	ErrDuplicateDevice  = errors.New("device already exists")
)

// CommandHandler receives NCMD and DCMD messages. Rebirth requests are
// handled by the node before the handler is called.
type CommandHandler = dispatch.HandlerFunc

type Node struct {
	id         message.Identity
	known      *metric.Registry
	state      *session.State
	generator  *message.Generator
	dispatcher *dispatch.Dispatcher
	transport  transport.Transport
	store      storage.Store
	strict     bool

	log       *zap.Logger
	telemetry *telemetry.Telemetry

	// publishMu serialises drawing a sequence number with publishing the
	// message that carries it, and session changes with both.
	publishMu sync.Mutex

	devicesMu sync.RWMutex
	devices   map[string]*device
	order     []string

	handlersMu      sync.RWMutex
	onNodeCommand   CommandHandler
	onDeviceCommand CommandHandler
}

type device struct {
	id    message.Identity
	known *metric.Registry
}

// New validates the options and builds a disconnected node. Configuration
// errors are reported here, before any transport interaction.
func New(options Options) (*Node, error) {
	const op = "node.New"

	options = options.withDefaults()

	id := message.Identity{GroupID: options.GroupID, EdgeNodeID: options.EdgeNodeID}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	if options.Transport == nil {
		return nil, pkgerrors.Configuration(op, ErrNoTransport)
	}

	generator, err := message.NewGenerator(options.Namespace, options.SpecificationVersion,
		message.WithClock(options.Clock),
		message.WithQoS(options.QoS))
	if err != nil {
		return nil, err
	}

	if err = generator.ValidateKnown(options.KnownMetrics); err != nil {
		return nil, err
	}

	known, err := metric.NewRegistry(options.KnownMetrics...)
	if err != nil {
		return nil, err
	}

	log := options.Log.Named("node").With(zap.Stringer("node", id))

	n := &Node{
		id:        id,
		known:     known,
		state:     session.New(options.Namespace),
		generator: generator,
		transport: options.Transport,
		store:     options.Store,
		strict:    options.StrictMetrics,
		log:       log,
		telemetry: options.Telemetry,
		devices:   make(map[string]*device),
	}

	n.dispatcher = dispatch.New(generator.Codec(), dispatch.Options{
		Log:       log.Named("dispatch"),
		Telemetry: options.Telemetry,
		OnError:   options.OnError,
	})
	n.dispatcher.HandleNodeCommand(n.handleNodeCommand)
	n.dispatcher.HandleDeviceCommand(n.handleDeviceCommand)

	n.transport.OnMessage(func(topic string, payload []byte) {
		// errors are reported through OnError and the log
		_ = n.dispatcher.Dispatch(context.Background(), topic, payload)
	})
	n.transport.OnConnectionLost(n.connectionLost)

	return n, nil
}

// OnNodeCommand registers the NCMD handler.
func (n *Node) OnNodeCommand(h CommandHandler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()

	n.onNodeCommand = h
}

// OnDeviceCommand registers the DCMD handler. The device id is on the
// message.
func (n *Node) OnDeviceCommand(h CommandHandler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()

	n.onDeviceCommand = h
}

// Connect connects the transport with the death certificate of the new
// session as will, begins the session, subscribes to commands and publishes
// the node birth followed by every device birth.
func (n *Node) Connect(ctx context.Context) error {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	if n.state.IsConnected() {
		return pkgerrors.Transport("node.Connect", ErrAlreadyConnected)
	}

	// a session that ended on a failed publish can leave the transport up
	if n.transport.IsConnected() {
		if err := n.transport.Disconnect(ctx); err != nil {
			return err
		}
	}

	n.state.Connecting()

	next := n.state.PeekSessionNumber()
	death, err := n.generator.NodeDeath(n.id, next)
	if err != nil {
		n.state.EndSession()
		return err
	}

	n.log.Info("Connecting", zap.Int64("bdSeq", next))

	err = n.transport.Connect(ctx, transport.ConnectOptions{Will: &transport.Will{
		Topic:   death.Topic.String(),
		Payload: death.Payload,
		QoS:     death.QoS,
		Retain:  death.Retain,
	}})
	if err != nil {
		n.state.EndSession()
		return err
	}

	previous := n.state.SessionNumber()
	sessionNumber := n.state.BeginSession()
	if sessionNumber < previous {
		n.log.Warn("Session number wrapped around", zap.Int64("previous", previous))
	}
	n.telemetry.SessionStarted()

	for _, filter := range []string{
		protocol.NodeCommandFilter(n.generator.Namespace(), n.id.GroupID, n.id.EdgeNodeID),
		protocol.DeviceCommandFilter(n.generator.Namespace(), n.id.GroupID, n.id.EdgeNodeID),
	} {
		if err = n.transport.Subscribe(ctx, filter, 1); err != nil {
			return n.abort(ctx, err)
		}
	}

	if err = n.birth(ctx); err != nil {
		return n.abort(ctx, err)
	}

	n.state.SetRunning(true)
	n.log.Info("Connected", zap.Int64("bdSeq", sessionNumber))

	return nil
}

// abort drops a half established session.
func (n *Node) abort(ctx context.Context, cause error) error {
	n.endSession()

	return multierr.Append(cause, n.transport.Disconnect(ctx))
}

// Disconnect publishes the death certificate and disconnects cleanly. The
// transport is disconnected even when no session is open.
func (n *Node) Disconnect(ctx context.Context) (err error) {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	if !n.state.IsConnected() {
		return n.transport.Disconnect(ctx)
	}

	n.log.Info("Disconnecting")

	// a clean disconnect suppresses the will
	death, derr := n.generator.NodeDeath(n.id, n.state.SessionNumber())
	if derr == nil {
		derr = n.publish(ctx, death)
	}
	err = multierr.Append(err, derr)

	n.endSession()

	return multierr.Append(err, n.transport.Disconnect(ctx))
}

// PublishMetrics publishes an NDATA with the known metrics of batch and
// returns the sequence number it carries. A batch that does not encode
// leaves the sequence untouched. A failed send uses up the number and ends
// the session; the node has to Connect again before publishing.
func (n *Node) PublishMetrics(ctx context.Context, batch []metric.Metric) (uint8, error) {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	if err := n.checkPublish(n.known, batch); err != nil {
		return 0, err
	}

	var seq uint8
	msg, err := n.next(func(next uint8) (*message.Message, error) {
		seq = next
		return n.generator.NodeData(n.id, n.known, batch, seq)
	})
	if err != nil {
		return 0, err
	}

	if err = n.publish(ctx, msg); err != nil {
		return seq, err
	}

	n.remember(ctx, storage.Scope(n.id.GroupID, n.id.EdgeNodeID), msg.Metrics)
	return seq, nil
}

// Rebirth publishes the node and device births again with the sequence
// restarted. The session number is unchanged.
func (n *Node) Rebirth(ctx context.Context) error {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	if !n.state.IsConnected() {
		return pkgerrors.Transport("node.Rebirth", ErrNotConnected)
	}

	n.log.Info("Rebirth")
	n.telemetry.Rebirth()
	n.state.ResetSequence()

	return n.birth(ctx)
}

// birth publishes the NBIRTH and every DBIRTH. publishMu must be held.
func (n *Node) birth(ctx context.Context) error {
	msg, err := n.next(func(seq uint8) (*message.Message, error) {
		if seq != 0 {
			return nil, fmt.Errorf("birth drew sequence %d", seq)
		}

		return n.generator.NodeBirth(n.id, n.known, n.state.SessionNumber(),
			n.current(ctx, storage.Scope(n.id.GroupID, n.id.EdgeNodeID)))
	})
	if err != nil {
		return err
	}

	if err = n.publish(ctx, msg); err != nil {
		return err
	}

	for _, d := range n.deviceList() {
		if err = n.deviceBirth(ctx, d); err != nil {
			return err
		}
	}

	return nil
}

func (n *Node) deviceBirth(ctx context.Context, d *device) error {
	msg, err := n.next(func(seq uint8) (*message.Message, error) {
		return n.generator.DeviceBirth(d.id, d.known, seq, n.current(ctx, deviceScope(d)))
	})
	if err != nil {
		return err
	}

	return n.publish(ctx, msg)
}

// next builds a message with the next sequence number and draws the number
// only when the message was built. publishMu must be held.
func (n *Node) next(build func(seq uint8) (*message.Message, error)) (*message.Message, error) {
	msg, err := build(n.state.PeekSequence())
	if err != nil {
		return nil, err
	}

	n.state.NextSequence()
	return msg, nil
}

func (n *Node) checkPublish(known *metric.Registry, batch []metric.Metric) error {
	if !n.state.IsConnected() {
		return pkgerrors.Transport("node.Publish", ErrNotConnected)
	}

	if n.strict {
		if err := known.Check(batch); err != nil {
			return pkgerrors.Configuration("node.Publish", err)
		}
	}

	return nil
}

// publish sends msg. A failed send ends the session: the host can no longer
// trust the sequence, so nothing else is published before a new birth.
func (n *Node) publish(ctx context.Context, msg *message.Message) error {
	err := n.transport.Publish(ctx, msg.Topic.String(), msg.Payload, msg.QoS, msg.Retain)
	if err != nil {
		n.telemetry.PublishFailed(msg.Topic.MessageType)
		n.log.Warn("Failed to publish, session ended",
			zap.Stringer("topic", msg.Topic),
			zap.Error(err))
		n.endSession()
		return err
	}

	n.telemetry.Published(msg.Topic.MessageType)

	if ce := n.log.Check(zap.DebugLevel, "Published"); ce != nil {
		fields := []zap.Field{zap.Stringer("topic", msg.Topic), zap.Int("metrics", len(msg.Metrics))}
		if msg.Seq != nil {
			fields = append(fields, zap.Uint64("seq", *msg.Seq))
		}
		ce.Write(fields...)
	}

	return nil
}

// current returns the stored values used in births.
func (n *Node) current(ctx context.Context, scope string) []metric.Metric {
	if n.store == nil {
		return nil
	}

	values, err := n.store.Values(ctx, scope)
	if err != nil {
		n.log.Warn("Failed to read stored values", zap.String("scope", scope), zap.Error(err))
		return nil
	}

	return values
}

func (n *Node) remember(ctx context.Context, scope string, metrics []metric.Metric) {
	if n.store == nil || len(metrics) == 0 {
		return
	}

	if err := n.store.Set(ctx, scope, metrics...); err != nil {
		n.log.Warn("Failed to store values", zap.String("scope", scope), zap.Error(err))
	}
}

func (n *Node) connectionLost(err error) {
	n.log.Warn("Connection lost, session ended", zap.Error(err))

	n.endSession()
}

func (n *Node) endSession() {
	if n.state.EndSession() {
		n.telemetry.SessionEnded()
	}
	n.state.SetRunning(false)
}

func (n *Node) IsConnected() bool {
	return n.state.IsConnected()
}

func (n *Node) IsRunning() bool {
	return n.state.IsRunning()
}

// KnownMetrics returns the known metric definitions in declaration order.
func (n *Node) KnownMetrics() []metric.Metric {
	return n.known.Values()
}

func (n *Node) Identity() message.Identity {
	return n.id
}

func (n *Node) Snapshot() session.Snapshot {
	return n.state.Snapshot()
}

func (n *Node) Store() storage.Store {
	return n.store
}
