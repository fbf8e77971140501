// Package transport is the publish/subscribe collaborator of the protocol
// engine: an MQTT client on paho, and an in-memory broker for tests and
// local demos.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected     = errors.New("transport is not connected")
	ErrAlreadyConnected = errors.New("transport is already connected")
	ErrTimeout          = errors.New("transport operation timed out")
	ErrNoBrokers        = errors.New("no brokers configured")
)

// Will is the message the broker publishes when the connection drops
// without a clean disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type ConnectOptions struct {
	Will *Will
}

type MessageHandler func(topic string, payload []byte)

type ConnectionLostHandler func(err error)

// Transport delivers inbound messages to the OnMessage handler one at a time
// in the order they arrive. Handlers must be registered before Connect.
type Transport interface {
	Connect(ctx context.Context, options ConnectOptions) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	Subscribe(ctx context.Context, filter string, qos byte) error
	OnMessage(h MessageHandler)
	OnConnectionLost(h ConnectionLostHandler)
	IsConnected() bool
}
