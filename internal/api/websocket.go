package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/infrastructure/logging"
	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
)

// Clients send "subscribe" (payload {"channels": [...]}) and "ping". The
// server answers with "response", "pong" or "error" and pushes "event"
// messages for subscribed channels.
const (
	WSTypeSubscribe = "subscribe"
	WSTypePing      = "ping"
	WSTypePong      = "pong"
	WSTypeEvent     = "event"
	WSTypeResponse  = "response"
	WSTypeError     = "error"

	wsSendBufferSize = 64
	wsDefaultPing    = 30 * time.Second
)

// Event channels, one per relayed bridge topic.
const (
	ChannelLockState   = "lock.state_changed"
	ChannelLockRemoved = "lock.removed"
	ChannelBuzz        = "lock.buzz"
	ChannelHealth      = "bridge.health"
)

var knownChannels = map[string]bool{
	ChannelLockState:   true,
	ChannelLockRemoved: true,
	ChannelBuzz:        true,
	ChannelHealth:      true,
}

// WSMessage is one WebSocket frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of a subscribe message.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

func encodeWS(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// eventHub fans bridge events out to the WebSocket clients subscribed to
// them. Lock order is hub, then client.
type eventHub struct {
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newEventHub(logger *logging.Logger) *eventHub {
	return &eventHub{logger: logger, clients: make(map[*wsClient]struct{})}
}

// Run disconnects every client once ctx is done.
func (h *eventHub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *eventHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

func (h *eventHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *eventHub) broadcast(channel string, payload any) {
	data, err := encodeWS(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.subscribed(channel) {
			c.queue(data)
		}
	}
}

// subscribeBridgeEvents relays the bridge's MQTT state, buzz and health
// messages to WebSocket clients.
func (s *Server) subscribeBridgeEvents() error {
	if s.mqtt == nil {
		return nil
	}
	topics := mqtt.Topics{}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.BridgeStates(bridge.Protocol), s.relayState},
		{topics.BridgeEvent(bridge.Protocol, bridge.EventBuzz), s.relay(ChannelBuzz)},
		{topics.BridgeHealth(bridge.Protocol), s.relay(ChannelHealth)},
	}
	for _, sub := range subs {
		s.logger.Info("subscribing for WebSocket relay", "topic", sub.topic)
		if err := s.mqtt.Subscribe(sub.topic, 1, sub.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.topic, err)
		}
	}
	return nil
}

// relayState broadcasts a door state. An empty retained payload clears the
// topic and means the door was removed.
func (s *Server) relayState(topic string, payload []byte) error {
	if len(payload) == 0 {
		entityID := topic[strings.LastIndex(topic, "/")+1:]
		s.hub.broadcast(ChannelLockRemoved, map[string]string{"device_id": entityID})
		return nil
	}
	return s.relay(ChannelLockState)(topic, payload)
}

func (s *Server) relay(channel string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		var msg map[string]any
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("failed to parse bridge message for WebSocket", "topic", topic, "error", err)
			return nil
		}
		s.hub.broadcast(channel, msg)
		return nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Tickets are single-use and need a bearer token to obtain.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades a connection that presents a valid ticket from
// POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn:     conn,
		subject:  entry.subject,
		logger:   s.logger,
		send:     make(chan []byte, wsSendBufferSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	s.hub.add(c)

	ping := time.Duration(s.wsCfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = wsDefaultPing
	}
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = ping / 3 //nolint:mnd // a third of the ping interval
	}

	go c.writePump(ping, pongWait)
	go c.readPump(s.hub, int64(s.wsCfg.MaxMessageSize), ping+pongWait)
}

// wsClient is one connected WebSocket. writePump owns the connection and
// closes it once done is closed.
type wsClient struct {
	conn    *websocket.Conn
	subject string
	logger  *logging.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// queue hands data to writePump, dropping it for a slow or closed client.
func (c *wsClient) queue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Debug("websocket send buffer full, dropping message", "subject", c.subject)
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *wsClient) readPump(hub *eventHub, maxSize int64, idle time.Duration) {
	defer hub.remove(c)

	c.conn.SetReadLimit(maxSize)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	_ = extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any message keeps the
		// connection alive.
		_ = extend() //nolint:errcheck // see above
		c.handle(data)
	}
}

func (c *wsClient) writePump(ping, writeWait time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			//nolint:errcheck // best-effort close frame
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		c.subscribe(msg.ID, msg.Payload)
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *wsClient) subscribe(id string, raw json.RawMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || len(sub.Channels) == 0 {
		c.replyError(id, "payload.channels is required")
		return
	}
	for _, ch := range sub.Channels {
		if !knownChannels[ch] {
			c.replyError(id, "unknown channel: "+ch)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.channels[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"subscribed": sub.Channels})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := encodeWS(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.queue(data)
}

func (c *wsClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
