// Package application is a Sparkplug host application. It announces itself
// with a retained STATE message, follows the sessions of every edge node in
// its namespace, detects lost messages from the sequence numbers, keeps the
// latest metric values and sends node and device commands.
package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/dispatch"
	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/session"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

var (
	ErrNoTransport      = errors.New("no transport configured")
	ErrNotConnected     = errors.New("application is not connected")
	ErrAlreadyConnected = errors.New("application is already connected")
)

type Application struct {
	hostID     string
	groups     []string
	state      *session.State
	generator  *message.Generator
	dispatcher *dispatch.Dispatcher
	transport  transport.Transport
	store      storage.Store
	tracker    *tracker
	rebirth    bool
	now        func() time.Time

	log       *zap.Logger
	telemetry *telemetry.Telemetry

	// publishMu serialises command sequence numbers with their publish
	publishMu sync.Mutex

	hooksMu sync.RWMutex
	onBirth dispatch.HandlerFunc
	onData  dispatch.HandlerFunc
	onDeath dispatch.HandlerFunc
	onState dispatch.StateHandlerFunc
}

func New(options Options) (*Application, error) {
	const op = "application.New"

	options = options.withDefaults()

	if err := protocol.ValidateID(options.HostID); err != nil {
		return nil, pkgerrors.Configuration(op, err)
	}

	for _, group := range options.Groups {
		if err := protocol.ValidateID(group); err != nil {
			return nil, pkgerrors.Configuration(op, err)
		}
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

	log := options.Log.Named("application").With(zap.String("host", options.HostID))

	a := &Application{
		hostID:    options.HostID,
		groups:    options.Groups,
		state:     session.New(options.Namespace),
		generator: generator,
		transport: options.Transport,
		store:     options.Store,
		tracker:   newTracker(),
		rebirth:   options.AutoRebirth,
		now:       options.Clock,
		log:       log,
		telemetry: options.Telemetry,
	}

	a.dispatcher = dispatch.New(generator.Codec(), dispatch.Options{
		Log:       log.Named("dispatch"),
		Telemetry: options.Telemetry,
		OnError:   options.OnError,
	})
	a.dispatcher.Handle(protocol.NBIRTH, a.handleNodeBirth)
	a.dispatcher.Handle(protocol.DBIRTH, a.handleDeviceBirth)
	a.dispatcher.Handle(protocol.NDATA, a.handleData)
	a.dispatcher.Handle(protocol.DDATA, a.handleData)
	a.dispatcher.Handle(protocol.NDEATH, a.handleNodeDeath)
	a.dispatcher.Handle(protocol.DDEATH, a.handleDeviceDeath)
	a.dispatcher.HandleState(a.handleState)

	a.transport.OnMessage(func(topic string, payload []byte) {
		_ = a.dispatcher.Dispatch(context.Background(), topic, payload)
	})
	a.transport.OnConnectionLost(a.connectionLost)

	return a, nil
}

func (a *Application) OnBirth(h dispatch.HandlerFunc) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()

	a.onBirth = h
}

func (a *Application) OnData(h dispatch.HandlerFunc) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()

	a.onData = h
}

// OnDeath is called for node deaths of the current session and for device
// deaths. Stale node death certificates are dropped first.
func (a *Application) OnDeath(h dispatch.HandlerFunc) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()

	a.onDeath = h
}

// OnState receives the STATE messages of every host, this one included.
func (a *Application) OnState(h dispatch.StateHandlerFunc) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()

	a.onState = h
}

// Connect registers the OFFLINE state as will, subscribes to the namespace
// and announces the host ONLINE.
func (a *Application) Connect(ctx context.Context) error {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	if a.state.IsConnected() {
		return pkgerrors.Transport("application.Connect", ErrAlreadyConnected)
	}

	// a session that ended on a failed publish can leave the transport up
	if a.transport.IsConnected() {
		if err := a.transport.Disconnect(ctx); err != nil {
			return err
		}
	}

	a.state.Connecting()

	offline, err := a.generator.State(a.hostID, false)
	if err != nil {
		a.state.EndSession()
		return err
	}

	a.log.Info("Connecting")

	err = a.transport.Connect(ctx, transport.ConnectOptions{Will: &transport.Will{
		Topic:   offline.Topic.String(),
		Payload: offline.Payload,
		QoS:     offline.QoS,
		Retain:  offline.Retain,
	}})
	if err != nil {
		a.state.EndSession()
		return err
	}

	a.state.BeginSession()
	a.telemetry.SessionStarted()

	for _, filter := range a.filters() {
		if err = a.transport.Subscribe(ctx, filter, 1); err != nil {
			return a.abort(ctx, err)
		}
	}

	online, err := a.generator.State(a.hostID, true)
	if err != nil {
		return a.abort(ctx, err)
	}

	if err = a.publish(ctx, online); err != nil {
		return a.abort(ctx, err)
	}

	a.state.SetRunning(true)
	a.log.Info("Connected")

	return nil
}

func (a *Application) filters() []string {
	ns := a.generator.Namespace()
	state := protocol.HostStateTopic(a.generator.Version(), ns, a.hostID)

	if len(a.groups) == 0 {
		filters := []string{protocol.NamespaceFilter(ns)}
		if state.Namespace == 0 {
			// 2.2 STATE topics live outside the namespace
			filters = append(filters, state.String())
		}
		return filters
	}

	filters := make([]string, 0, len(a.groups)+1)
	for _, group := range a.groups {
		filters = append(filters, protocol.GroupFilter(ns, group))
	}

	return append(filters, state.String())
}

func (a *Application) abort(ctx context.Context, cause error) error {
	a.endSession()

	return multierr.Append(cause, a.transport.Disconnect(ctx))
}

// Disconnect announces the host OFFLINE and disconnects. The transport is
// disconnected even when no session is open.
func (a *Application) Disconnect(ctx context.Context) (err error) {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	if !a.state.IsConnected() {
		return a.transport.Disconnect(ctx)
	}

	a.log.Info("Disconnecting")

	offline, serr := a.generator.State(a.hostID, false)
	if serr == nil {
		serr = a.publish(ctx, offline)
	}
	err = multierr.Append(err, serr)

	a.endSession()

	return multierr.Append(err, a.transport.Disconnect(ctx))
}

// publish sends msg. A failed send ends the session until the next Connect.
func (a *Application) publish(ctx context.Context, msg *message.Message) error {
	err := a.transport.Publish(ctx, msg.Topic.String(), msg.Payload, msg.QoS, msg.Retain)
	if err != nil {
		a.telemetry.PublishFailed(msg.Topic.MessageType)
		a.log.Warn("Failed to publish, session ended", zap.Stringer("topic", msg.Topic), zap.Error(err))
		a.endSession()
		return err
	}

	a.telemetry.Published(msg.Topic.MessageType)
	return nil
}

func (a *Application) connectionLost(err error) {
	a.log.Warn("Connection lost", zap.Error(err))

	a.endSession()
}

func (a *Application) endSession() {
	if a.state.EndSession() {
		a.telemetry.SessionEnded()
	}
	a.state.SetRunning(false)
}

func (a *Application) IsConnected() bool {
	return a.state.IsConnected()
}

func (a *Application) IsRunning() bool {
	return a.state.IsRunning()
}

func (a *Application) HostID() string {
	return a.hostID
}

// Nodes returns the status of every edge node seen, ordered by identity.
func (a *Application) Nodes() []NodeStatus {
	return a.tracker.all()
}

// Node returns the status of one edge node.
func (a *Application) Node(id message.Identity) (NodeStatus, bool) {
	return a.tracker.status(id)
}

func (a *Application) Snapshot() session.Snapshot {
	return a.state.Snapshot()
}

func (a *Application) Store() storage.Store {
	return a.store
}
