// Package hub keeps live subscriber sets keyed by task id and fans
// notifications out to them. Delivery is best effort and at most once:
// nothing is queued for subscribers that join later, and a connection whose
// send fails is dropped from every set during the same publish.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

// Conn is the transport side of one live connection.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Client is a connection registered with the hub. Writes to its Conn are
// serialized.
type Client struct {
	id     uint64
	conn   Conn
	sendMu sync.Mutex

	// guarded by Hub.mu
	topics map[string]struct{}
}

// ID returns the hub-assigned connection id.
func (c *Client) ID() uint64 { return c.id }

func (c *Client) send(ctx context.Context, timeout time.Duration, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.conn.Send(ctx, data)
}

// Hub is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	nextID      atomic.Uint64
	sendTimeout time.Duration
	log         logger.Logger
}

var _ domain.Publisher = (*Hub)(nil)

// New creates a hub. sendTimeout bounds every individual send; zero means
// five seconds.
func New(sendTimeout time.Duration, log logger.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Hub{
		clients:     make(map[*Client]struct{}),
		topics:      make(map[string]map[*Client]struct{}),
		sendTimeout: sendTimeout,
		log:         log.With("component", "hub"),
	}
}

// Connect registers conn and returns its client handle.
func (h *Hub) Connect(conn Conn) *Client {
	c := &Client{
		id:     h.nextID.Add(1),
		conn:   conn,
		topics: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.HubConnections.Set(float64(n))
	h.log.Debug("client connected", "client_id", c.id, "connections", n)
	return c
}

// Disconnect removes c from every subscription set and closes its
// connection. Calling it more than once is harmless.
func (h *Hub) Disconnect(c *Client) {
	if !h.remove(c) {
		return
	}
	if err := c.conn.Close(); err != nil {
		h.log.Debug("close connection", "client_id", c.id, "error", err)
	}
}

func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c)
	for topic := range c.topics {
		h.dropLocked(topic, c)
	}
	c.topics = make(map[string]struct{})
	n := len(h.clients)
	h.mu.Unlock()

	metrics.HubConnections.Set(float64(n))
	h.log.Debug("client disconnected", "client_id", c.id, "connections", n)
	return true
}

// dropLocked removes c from a topic set, deleting the set once empty.
func (h *Hub) dropLocked(topic string, c *Client) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribe adds c to the subscribers of taskID. Unknown clients are ignored.
func (h *Hub) Subscribe(c *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.topics[taskID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[taskID] = subs
	}
	subs[c] = struct{}{}
	c.topics[taskID] = struct{}{}
}

// Unsubscribe removes c from the subscribers of taskID.
func (h *Hub) Unsubscribe(c *Client, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.topics, taskID)
	h.dropLocked(taskID, c)
}

// Publish delivers n to every current subscriber of taskID. Sends run
// concurrently and each is bounded by the hub's send timeout; Publish
// returns once all of them have finished.
func (h *Hub) Publish(ctx context.Context, taskID string, n domain.Notification) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.topics[taskID]))
	for c := range h.topics[taskID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	h.deliver(ctx, subs, n)
}

// Broadcast delivers n to every connection regardless of subscriptions.
func (h *Hub) Broadcast(ctx context.Context, n domain.Notification) {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	if len(all) == 0 {
		return
	}
	h.deliver(ctx, all, n)
}

// Send delivers n to a single client, dropping it on failure.
func (h *Hub) Send(ctx context.Context, c *Client, n domain.Notification) error {
	data, err := domain.EncodeNotification(n)
	if err != nil {
		return err
	}
	if err := c.send(ctx, h.sendTimeout, data); err != nil {
		metrics.HubSends.WithLabelValues("failed").Inc()
		h.Disconnect(c)
		return err
	}
	metrics.HubSends.WithLabelValues("ok").Inc()
	return nil
}

func (h *Hub) deliver(ctx context.Context, targets []*Client, n domain.Notification) {
	data, err := domain.EncodeNotification(n)
	if err != nil {
		h.log.Error("encode notification", "type", n.Type(), "error", err)
		return
	}

	failed := make([]bool, len(targets))
	if len(targets) == 1 {
		failed[0] = targets[0].send(ctx, h.sendTimeout, data) != nil
	} else {
		var wg sync.WaitGroup
		for i, c := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				failed[i] = c.send(ctx, h.sendTimeout, data) != nil
			}()
		}
		wg.Wait()
	}

	for i, c := range targets {
		if failed[i] {
			metrics.HubSends.WithLabelValues("failed").Inc()
			h.log.Debug("dropping client after failed send", "client_id", c.id, "type", n.Type(), "task_id", n.Task())
			h.Disconnect(c)
			continue
		}
		metrics.HubSends.WithLabelValues("ok").Inc()
	}
}

// SubscriberCount returns the number of subscribers of taskID.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[taskID])
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns the number of task ids with at least one subscriber.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}
