package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neuroguard/neuroguard/pkg/eventbus"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/record"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32
	streamBusBuffer         = 256
)

// ErrConnectionLimit is returned when the stream is full.
var ErrConnectionLimit = errors.New("websocket connection limit reached")

// StreamConfig configures the record stream.
type StreamConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
}

// ClientGauge observes the number of connected stream clients.
type ClientGauge interface {
	SetWebSocketClients(n int)
}

// controlMessage is a client request to narrow or widen its kinds.
type controlMessage struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	kinds     map[record.Kind]struct{}
	mu        sync.RWMutex
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, kinds []record.Kind) *wsClient {
	c := &wsClient{
		conn:  conn,
		send:  make(chan []byte, defaultSendBuffer),
		kinds: make(map[record.Kind]struct{}),
	}
	for _, k := range kinds {
		c.kinds[k] = struct{}{}
	}
	return c
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *wsClient) subscribe(kind record.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[kind] = struct{}{}
}

func (c *wsClient) unsubscribe(kind record.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kinds, kind)
}

// wants reports whether the client receives records of kind. A client
// without subscriptions receives every kind.
func (c *wsClient) wants(kind record.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.kinds) == 0 {
		return true
	}
	_, ok := c.kinds[kind]
	return ok
}

// ConnectionManager tracks connected stream clients.
type ConnectionManager struct {
	mu             sync.RWMutex
	clients        map[*wsClient]struct{}
	maxConnections int
	gauge          ClientGauge
}

// NewConnectionManager creates a manager with a connection limit.
func NewConnectionManager(maxConnections int, gauge ClientGauge) *ConnectionManager {
	if maxConnections <= 0 {
		maxConnections = defaultWSMaxConnections
	}
	return &ConnectionManager{
		clients:        make(map[*wsClient]struct{}),
		maxConnections: maxConnections,
		gauge:          gauge,
	}
}

func (m *ConnectionManager) register(client *wsClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) >= m.maxConnections {
		return ErrConnectionLimit
	}
	m.clients[client] = struct{}{}
	m.observe()
	return nil
}

func (m *ConnectionManager) unregister(client *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client]; !ok {
		return
	}
	delete(m.clients, client)
	client.close()
	m.observe()
}

// observe must be called with mu held.
func (m *ConnectionManager) observe() {
	if m.gauge != nil {
		m.gauge.SetWebSocketClients(len(m.clients))
	}
}

// Count returns the number of connected clients.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) canAccept() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients) < m.maxConnections
}

// broadcast queues payload for every client that wants kind. Clients whose
// buffers are full are dropped. Sends happen under the read lock since
// send channels are only closed under the write lock.
func (m *ConnectionManager) broadcast(kind record.Kind, payload []byte) {
	var slow []*wsClient
	m.mu.RLock()
	for client := range m.clients {
		if !client.wants(kind) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range slow {
		m.unregister(client)
	}
}

func (m *ConnectionManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
	}
	m.observe()
}

// StreamHandler serves /ws/records: every appended record, as its event
// envelope, optionally filtered by kind.
type StreamHandler struct {
	log          logger.Logger
	manager      *ConnectionManager
	upgrader     websocket.Upgrader
	consumer     *eventbus.EnvelopeConsumer
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewStreamHandler creates a record stream handler.
func NewStreamHandler(log logger.Logger, cfg StreamConfig, gauge ClientGauge) *StreamHandler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	h := &StreamHandler{
		log:          log,
		manager:      NewConnectionManager(cfg.MaxConnections, gauge),
		consumer:     eventbus.NewEnvelopeConsumer(0),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: cfg.WriteTimeout,
	}

	allowedOrigins := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return isWebSocketOriginAllowed(r, allowedOrigins)
		},
	}
	return h
}

// Start subscribes to record events on bus and forwards them to connected
// clients until ctx is done or the bus closes the subscription. The
// subscription is in place when Start returns.
func (h *StreamHandler) Start(ctx context.Context, bus eventbus.Bus) error {
	sub, err := bus.Subscribe(ctx, eventbus.AllRecordsSubject(), streamBusBuffer)
	if err != nil {
		return err
	}
	go h.forward(ctx, sub)
	return nil
}

func (h *StreamHandler) forward(ctx context.Context, sub *eventbus.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			env, dup, err := h.consumer.Decode(msg.Payload)
			if err != nil {
				h.log.Warn("dropping malformed record event", "subject", msg.Subject, "error", err)
				continue
			}
			if dup {
				continue
			}
			h.manager.broadcast(env.Record.Kind, msg.Payload)
		}
	}
}

// Clients returns the number of connected clients.
func (h *StreamHandler) Clients() int {
	return h.manager.Count()
}

// ServeHTTP upgrades the connection. ?kind= may be repeated to filter
// from the start; clients may also send {"type":"subscribe","kind":...}.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	var kinds []record.Kind
	for _, raw := range r.URL.Query()["kind"] {
		kind, err := record.ParseKind(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kinds = append(kinds, kind)
	}

	if !h.manager.canAccept() {
		http.Error(w, ErrConnectionLimit.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn, kinds)
	if err := h.manager.register(client); err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(h.writeTimeout),
		)
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

func (h *StreamHandler) readPump(client *wsClient) {
	defer h.manager.unregister(client)

	readDeadline := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(4 << 10)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}
		h.handleControl(client, data)
	}
}

func (h *StreamHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.manager.unregister(client)
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) handleControl(client *wsClient, raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	kind, err := record.ParseKind(msg.Kind)
	if err != nil {
		return
	}
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "subscribe":
		client.subscribe(kind)
	case "unsubscribe":
		client.unsubscribe(kind)
	}
}

// Close disconnects every client.
func (h *StreamHandler) Close() {
	h.manager.closeAll()
}

func isWebSocketOriginAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}
