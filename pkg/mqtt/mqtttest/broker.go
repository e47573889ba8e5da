// Package mqtttest provides an in-process broker and a scripted vehicle
// gateway for exercising control flows without a network. Clients created
// from the broker satisfy mqtt.Client and keep its delivery contract:
// per-client dispatch runs on a single goroutine in arrival order.
package mqtttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drclink-io/drclink/pkg/mqtt"
)

// Broker is an in-process message bus with MQTT topic semantics.
// Published messages fan out to every matching subscription on every
// connected client, including the publisher's own.
type Broker struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[*Client]struct{})}
}

// Client creates a new connection handle. It joins the broker on Start.
func (b *Broker) Client() *Client {
	return &Client{
		broker: b,
		subs:   make(map[string]mqtt.MessageHandler),
		queue:  make(chan message, 256),
		done:   make(chan struct{}),
	}
}

func (b *Broker) attach(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *Broker) detach(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

func (b *Broker) route(topic string, payload []byte) {
	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.enqueue(topic, payload)
	}
}

type message struct {
	topic   string
	payload []byte
}

// Client is an in-process mqtt.Client. It is one-shot: once disconnected
// it cannot rejoin the broker.
type Client struct {
	broker *Broker

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler

	connected atomic.Bool

	queue     chan message
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	dispatch  sync.WaitGroup
}

// Start joins the broker and launches the dispatch goroutine.
func (c *Client) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.connected.Store(true)
		c.broker.attach(c)
		c.dispatch.Add(1)
		go c.dispatchLoop()
	})
	return nil
}

// Disconnect leaves the broker and waits for dispatch to drain.
func (c *Client) Disconnect(ctx context.Context) {
	c.stopOnce.Do(func() {
		c.connected.Store(false)
		c.broker.detach(c)
		close(c.done)
	})
	c.dispatch.Wait()
}

// Publish fans the message out through the broker.
func (c *Client) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if !c.connected.Load() {
		return fmt.Errorf("mqtttest: publish %s: not connected", topic)
	}

	// Copy so the caller may reuse its buffer.
	buf := append([]byte(nil), payload...)
	c.broker.route(topic, buf)
	return nil
}

// Subscribe registers a handler for a topic filter.
func (c *Client) Subscribe(ctx context.Context, topicFilter string, qos int, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topicFilter] = handler
	return nil
}

// Unsubscribe removes the handler for a topic filter.
func (c *Client) Unsubscribe(ctx context.Context, topicFilter string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topicFilter)
	return nil
}

// AwaitConnection reports immediately; the in-process link is up as soon
// as Start ran.
func (c *Client) AwaitConnection(ctx context.Context) error {
	if !c.connected.Load() {
		return fmt.Errorf("mqtttest: not connected")
	}
	return nil
}

// IsConnected reports whether the client is attached to the broker.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) enqueue(topic string, payload []byte) {
	select {
	case c.queue <- message{topic: topic, payload: payload}:
	case <-c.done:
	}
}

func (c *Client) dispatchLoop() {
	defer c.dispatch.Done()
	for {
		select {
		case <-c.done:
			return
		case m := <-c.queue:
			c.deliver(m)
		}
	}
}

func (c *Client) deliver(m message) {
	c.mu.Lock()
	handlers := make([]mqtt.MessageHandler, 0, 1)
	for filter, h := range c.subs {
		if mqtt.MatchTopic(filter, m.topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(context.Background(), m.topic, m.payload)
	}
}
