package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/realstake/realstake-backend/internal/metrics"
	"github.com/realstake/realstake-backend/internal/store"
	"go.uber.org/zap"
)

const (
	topicOrderbookPrefix = "orderbook:"
	TopicOrderbookAll    = "orderbook:*"

	clientBuffer  = 256
	readLimit     = 512
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	writeWait     = 10 * time.Second
	inactiveAfter = 60 * time.Second
)

// Subscriber opens pub/sub subscriptions, typically a *store.Cache.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns ...string) store.Subscription
}

type Hub struct {
	clients    map[*Client]bool
	unregister chan *Client
	ready      chan struct{}
	done       chan struct{}
	closed     bool
	subscriber Subscriber
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	topics     map[string]bool
	topicsMu   sync.RWMutex
	lastActive atomic.Int64
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type WSSubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

func NewHub(subscriber Subscriber, allowedOrigins []string, logger *zap.SugaredLogger, metrics *metrics.Metrics) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		subscriber: subscriber,
		logger:     logger,
		metrics:    metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker allows configured origins and same-origin requests.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || origin == a {
				return true
			}
		}
		return false
	}
}

// TopicForChannel maps an order book pub/sub channel to its client topic.
func TopicForChannel(channel string) (string, bool) {
	id, ok := store.MarketIDFromChannel(channel)
	if !ok {
		return "", false
	}
	return topicOrderbookPrefix + id, true
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	sub := h.subscriber.Subscribe(ctx, store.ChannelOrderbookAll)
	defer sub.Close()
	close(h.ready)

	go h.startClientCleanup(ctx)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				h.removeLocked(ctx, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(ctx, client)
			h.mu.Unlock()

		case msg, ok := <-messages:
			if !ok {
				h.logger.Warnw("Order book subscription closed")
				messages = nil
				continue
			}
			h.handlePubSubMessage(ctx, msg)
		}
	}
}

// removeLocked drops a client and closes its send channel. Callers hold h.mu.
func (h *Hub) removeLocked(ctx context.Context, client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.DecrementConnections(ctx)
	h.logger.Debugw("Client unregistered")
}

func (h *Hub) handlePubSubMessage(ctx context.Context, msg *store.Message) {
	topic, ok := TopicForChannel(msg.Channel)
	if !ok {
		h.logger.Debugw("Ignoring message on unknown channel", "channel", msg.Channel)
		return
	}

	wsMessage := Message{
		Type:      "update",
		Topic:     topic,
		Data:      json.RawMessage(msg.Payload),
		Timestamp: time.Now().Unix(),
	}
	messageBytes, err := json.Marshal(wsMessage)
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "topic", topic, "error", err)
		return
	}

	h.broadcastToClients(ctx, messageBytes, topic)
}

func (h *Hub) broadcastToClients(ctx context.Context, message []byte, topic string) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(topic) {
			continue
		}
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		h.removeLocked(ctx, client)
	}
	h.mu.Unlock()
	h.logger.Debugw("Dropped slow clients", "count", len(slow), "topic", topic)
}

// enqueue sends a message to one client unless it has been removed.
func (h *Hub) enqueue(client *Client, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- message:
	default:
	}
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients(ctx, time.Now())
		}
	}
}

func (h *Hub) cleanupInactiveClients(ctx context.Context, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-inactiveAfter).UnixNano()
	for client := range h.clients {
		if client.lastActive.Load() < cutoff {
			h.removeLocked(ctx, client)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		topics: make(map[string]bool),
	}
	client.touch()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = true
	h.mu.Unlock()
	h.metrics.IncrementConnections(r.Context())
	h.logger.Debugw("Client registered", "remote", conn.RemoteAddr().String())

	go client.writePump()
	go client.readPump()
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Queued messages share the frame, newline separated
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub WSSubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	topics := make([]string, 0, len(sub.Topics))
	for _, topic := range sub.Topics {
		if validTopic(topic) {
			topics = append(topics, topic)
		}
	}

	c.topicsMu.Lock()
	switch sub.Type {
	case "subscribe":
		for _, topic := range topics {
			c.topics[topic] = true
		}
	case "unsubscribe":
		for _, topic := range topics {
			delete(c.topics, topic)
		}
	default:
		c.topicsMu.Unlock()
		c.hub.logger.Warnw("Unknown subscription message type", "type", sub.Type)
		return
	}
	c.topicsMu.Unlock()

	c.hub.logger.Debugw("Client subscription changed", "type", sub.Type, "topics", topics)

	data, _ := json.Marshal(topics)
	ack, err := json.Marshal(Message{
		Type:      sub.Type + "d",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err == nil {
		c.hub.enqueue(c, ack)
	}
}

func validTopic(topic string) bool {
	if topic == TopicOrderbookAll {
		return true
	}
	id, ok := strings.CutPrefix(topic, topicOrderbookPrefix)
	if !ok || id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *Client) isSubscribed(topic string) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()

	if c.topics[topic] {
		return true
	}
	return c.topics[TopicOrderbookAll] && strings.HasPrefix(topic, topicOrderbookPrefix)
}
