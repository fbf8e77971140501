package transport

import (
	"context"
	"errors"
	"sync"

	pkgerrors "github.com/luma/sparkplug/errors"
)

var ErrConnectionDropped = errors.New("connection dropped")

// Published is a message as the Broker saw it.
type Published struct {
	ClientID string
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
}

// Broker is an in-memory MQTT broker. It routes publishes to every
// connected Loopback with a matching subscription, keeps retained messages
// and fires wills. It records every publish for inspection.
type Broker struct {
	mu        sync.Mutex
	clients   map[string]*Loopback
	retained  map[string]Published
	published []Published
}

func NewBroker() *Broker {
	return &Broker{
		clients:  make(map[string]*Loopback),
		retained: make(map[string]Published),
	}
}

// NewClient creates a Loopback transport on this broker.
func (b *Broker) NewClient(clientID string) *Loopback {
	return &Loopback{
		broker:   b,
		clientID: clientID,
	}
}

// Published returns every message published so far, wills included, in
// publish order.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Retained returns the retained message of a topic.
func (b *Broker) Retained(topic string) (Published, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.retained[topic]
	return p, ok
}

// Drop cuts a client off as if its network connection failed: its will is
// published and its connection lost handler is called.
func (b *Broker) Drop(clientID string) {
	b.mu.Lock()
	c, ok := b.clients[clientID]
	b.mu.Unlock()

	if !ok {
		return
	}

	will := c.detach()
	if will != nil {
		b.publish(Published{
			ClientID: clientID,
			Topic:    will.Topic,
			Payload:  will.Payload,
			QoS:      will.QoS,
			Retain:   will.Retain,
		})
	}

	c.connectionLost(pkgerrors.Transport("transport.Broker.Drop", ErrConnectionDropped))
}

func (b *Broker) attach(c *Loopback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[c.clientID]; ok {
		return ErrAlreadyConnected
	}

	b.clients[c.clientID] = c
	return nil
}

func (b *Broker) remove(c *Loopback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clients[c.clientID] == c {
		delete(b.clients, c.clientID)
	}
}

func (b *Broker) publish(p Published) {
	b.mu.Lock()
	b.published = append(b.published, p)

	if p.Retain {
		if len(p.Payload) == 0 {
			delete(b.retained, p.Topic)
		} else {
			b.retained[p.Topic] = p
		}
	}

	targets := make([]*Loopback, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if c.subscribed(p.Topic) {
			c.enqueue(p.Topic, p.Payload)
		}
	}
}

func (b *Broker) sendRetained(c *Loopback, filter string) {
	b.mu.Lock()
	var matches []Published
	for topic, p := range b.retained {
		if MatchFilter(filter, topic) {
			matches = append(matches, p)
		}
	}
	b.mu.Unlock()

	for _, p := range matches {
		c.enqueue(p.Topic, p.Payload)
	}
}

type delivery struct {
	topic   string
	payload []byte
}

// Loopback is a Transport on a Broker. Inbound messages are delivered in
// order on a goroutine owned by the connection, like the paho client does,
// so a handler may publish without deadlocking its own publisher.
type Loopback struct {
	broker   *Broker
	clientID string

	mu               sync.Mutex
	connected        bool
	will             *Will
	filters          []string
	queue            []delivery
	wake             chan struct{}
	done             chan struct{}
	loop             sync.WaitGroup
	onMessage        MessageHandler
	onConnectionLost ConnectionLostHandler
}

var _ Transport = (*Loopback)(nil)

func (c *Loopback) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onMessage = h
}

func (c *Loopback) OnConnectionLost(h ConnectionLostHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onConnectionLost = h
}

func (c *Loopback) Connect(ctx context.Context, options ConnectOptions) error {
	const op = "transport.Loopback.Connect"

	if err := ctx.Err(); err != nil {
		return pkgerrors.Transport(op, err)
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return pkgerrors.Transport(op, ErrAlreadyConnected)
	}

	c.connected = true
	c.will = options.Will
	c.filters = nil
	c.queue = nil
	c.wake = make(chan struct{}, 1)
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.broker.attach(c); err != nil {
		c.detach()
		return pkgerrors.Transport(op, err)
	}

	c.loop.Add(1)
	go c.deliver(c.wake, c.done)

	return nil
}

func (c *Loopback) Disconnect(ctx context.Context) error {
	c.detach()
	return nil
}

func (c *Loopback) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	const op = "transport.Loopback.Publish"

	if err := ctx.Err(); err != nil {
		return pkgerrors.Transport(op, err)
	}

	if !c.IsConnected() {
		return pkgerrors.Transport(op, ErrNotConnected)
	}

	c.broker.publish(Published{
		ClientID: c.clientID,
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retain:   retain,
	})

	return nil
}

func (c *Loopback) Subscribe(ctx context.Context, filter string, qos byte) error {
	const op = "transport.Loopback.Subscribe"

	if err := ctx.Err(); err != nil {
		return pkgerrors.Transport(op, err)
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return pkgerrors.Transport(op, ErrNotConnected)
	}
	c.filters = append(c.filters, filter)
	c.mu.Unlock()

	c.broker.sendRetained(c, filter)

	return nil
}

func (c *Loopback) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *Loopback) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false
	}

	for _, f := range c.filters {
		if MatchFilter(f, topic) {
			return true
		}
	}

	return false
}

func (c *Loopback) enqueue(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}

	c.queue = append(c.queue, delivery{topic: topic, payload: payload})

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Loopback) deliver(wake, done chan struct{}) {
	defer c.loop.Done()

	for {
		select {
		case <-done:
			return
		case <-wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 || !c.connected {
				c.mu.Unlock()
				break
			}

			next := c.queue[0]
			c.queue = c.queue[1:]
			h := c.onMessage
			c.mu.Unlock()

			if h != nil {
				h(next.topic, next.payload)
			}
		}
	}
}

// detach disconnects without a will and returns the will that was set. It
// does not wait for the delivery goroutine, so handlers may call it. Use
// Wait for that.
func (c *Loopback) detach() *Will {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}

	c.connected = false
	will := c.will
	c.will = nil
	c.queue = nil
	close(c.done)
	c.mu.Unlock()

	c.broker.remove(c)

	return will
}

// Wait blocks until the delivery goroutine of the last connection exited.
func (c *Loopback) Wait() {
	c.loop.Wait()
}

func (c *Loopback) connectionLost(err error) {
	c.mu.Lock()
	h := c.onConnectionLost
	c.mu.Unlock()

	if h != nil {
		h(err)
	}
}
