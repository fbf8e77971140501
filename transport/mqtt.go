package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	pkgerrors "github.com/luma/sparkplug/errors"
)

// disconnectQuiesce is how long paho may take to flush in-flight work on a
// clean disconnect, in milliseconds.
const disconnectQuiesce = 250

// MQTT is a Transport on the paho client. A fresh paho client is built on
// every Connect, because the will is fixed per connection and changes with
// every Sparkplug session.
type MQTT struct {
	options Options
	log     *zap.Logger

	mu               sync.Mutex
	client           mqtt.Client
	onMessage        MessageHandler
	onConnectionLost ConnectionLostHandler
}

var _ Transport = (*MQTT)(nil)

func NewMQTT(options Options) *MQTT {
	options = options.withDefaults()

	return &MQTT{
		options: options,
		log:     options.Log,
	}
}

func (t *MQTT) OnMessage(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onMessage = h
}

func (t *MQTT) OnConnectionLost(h ConnectionLostHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onConnectionLost = h
}

func (t *MQTT) Connect(ctx context.Context, options ConnectOptions) error {
	const op = "transport.MQTT.Connect"

	if len(t.options.Brokers) == 0 {
		return pkgerrors.Configuration(op, ErrNoBrokers)
	}

	t.mu.Lock()
	if t.client != nil && t.client.IsConnectionOpen() {
		t.mu.Unlock()
		return pkgerrors.Transport(op, ErrAlreadyConnected)
	}

	client := mqtt.NewClient(t.clientOptions(options))
	t.client = client
	t.mu.Unlock()

	t.log.Info("Connecting",
		zap.Strings("brokers", t.options.Brokers),
		zap.String("clientID", t.options.ClientID))

	if err := wait(ctx, client.Connect(), t.options.ConnectTimeout); err != nil {
		// the attempt may still complete in the background
		client.Disconnect(0)

		t.mu.Lock()
		if t.client == client {
			t.client = nil
		}
		t.mu.Unlock()

		return pkgerrors.Transport(op, err)
	}

	return nil
}

func (t *MQTT) clientOptions(options ConnectOptions) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()

	for _, broker := range t.options.Brokers {
		opts.AddBroker(broker)
	}

	opts.SetClientID(t.options.ClientID)
	opts.SetUsername(t.options.Username)
	opts.SetPassword(t.options.Password)
	opts.SetKeepAlive(t.options.KeepAlive)
	opts.SetConnectTimeout(t.options.ConnectTimeout)
	opts.SetWriteTimeout(t.options.WriteTimeout)
	opts.SetCleanSession(t.options.CleanSession)

	// A reconnect has to begin a new Sparkplug session, so it is left to
	// the entity.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)

	if will := options.Will; will != nil {
		opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retain)
	}

	opts.SetDefaultPublishHandler(t.handleMessage)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.log.Warn("Connection lost", zap.Error(err))

		t.mu.Lock()
		h := t.onConnectionLost
		t.mu.Unlock()

		if h != nil {
			h(pkgerrors.Transport("transport.MQTT", err))
		}
	})

	return opts
}

func (t *MQTT) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	t.mu.Lock()
	h := t.onMessage
	t.mu.Unlock()

	if h == nil {
		t.log.Debug("Dropping message, no handler", zap.String("topic", msg.Topic()))
		return
	}

	h(msg.Topic(), msg.Payload())
}

func (t *MQTT) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	t.log.Info("Disconnecting")
	client.Disconnect(disconnectQuiesce)

	return nil
}

func (t *MQTT) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	const op = "transport.MQTT.Publish"

	client, err := t.connected()
	if err != nil {
		return pkgerrors.Transport(op, err)
	}

	if err := wait(ctx, client.Publish(topic, qos, retain, payload), t.options.WriteTimeout); err != nil {
		return pkgerrors.Transport(op, fmt.Errorf("'%s': %w", topic, err))
	}

	return nil
}

func (t *MQTT) Subscribe(ctx context.Context, filter string, qos byte) error {
	const op = "transport.MQTT.Subscribe"

	client, err := t.connected()
	if err != nil {
		return pkgerrors.Transport(op, err)
	}

	if err := wait(ctx, client.Subscribe(filter, qos, t.handleMessage), t.options.WriteTimeout); err != nil {
		return pkgerrors.Transport(op, fmt.Errorf("'%s': %w", filter, err))
	}

	return nil
}

func (t *MQTT) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.client != nil && t.client.IsConnectionOpen()
}

func (t *MQTT) connected() (mqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil, ErrNotConnected
	}

	return t.client, nil
}

// wait blocks until the token completes, the context is done or the timeout
// passes, whichever is first.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
