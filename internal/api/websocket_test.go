package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
)

func issueTicket(t *testing.T, env *testEnv) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("ws-ticket status = %d", w.Code)
	}
	ticket, _ := decode[map[string]any](t, w)["ticket"].(string)
	if len(ticket) != 2*ticketBytes {
		t.Fatalf("ticket = %q", ticket)
	}
	return ticket
}

func dialWS(t *testing.T, ts *httptest.Server, ticket string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func subscribeWS(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", msg)
	}
}

func TestTicketStore(t *testing.T) {
	ts := newTicketStore()
	now := time.Now()

	ticket := ts.issue("admin", now)
	entry, ok := ts.consume(ticket, now.Add(time.Second))
	if !ok || entry.subject != "admin" {
		t.Fatalf("consume() = %+v, %v", entry, ok)
	}
	if _, ok := ts.consume(ticket, now); ok {
		t.Error("ticket should be single-use")
	}

	expired := ts.issue("admin", now)
	if _, ok := ts.consume(expired, now.Add(ticketTTL+time.Second)); ok {
		t.Error("expired ticket accepted")
	}

	stale := ts.issue("admin", now)
	ts.clean(now.Add(2 * ticketTTL))
	if _, ok := ts.consume(stale, now); ok {
		t.Error("clean() should drop expired tickets")
	}
}

func TestWebSocket_RequiresTicket(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/ws", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("no ticket = %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/ws?ticket=deadbeef", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("unknown ticket = %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("ticket without token = %d, want 401", w.Code)
	}
}

func TestWebSocket_RelaysBridgeMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.srv.hub.Run(ctx)

	if err := env.srv.subscribeBridgeEvents(); err != nil {
		t.Fatalf("subscribeBridgeEvents() error = %v", err)
	}

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	ticket := issueTicket(t, env)
	conn := dialWS(t, ts, ticket)
	subscribeWS(t, conn, ChannelLockState, ChannelLockRemoved, ChannelBuzz)

	// A ticket opens one connection only.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("reused ticket should be rejected")
	} else if resp != nil {
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("reused ticket status = %d", resp.StatusCode)
		}
	}

	topics := mqtt.Topics{}
	states := topics.BridgeStates(bridge.Protocol)

	env.mqtt.deliver(t, states, topics.BridgeState(bridge.Protocol, "aptus_lock_12"),
		[]byte(`{"device_id":"aptus_lock_12","state":{"locked":false}}`))
	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelLockState {
		t.Fatalf("event = %+v", msg)
	}
	if p, _ := msg.Payload.(map[string]any); p["device_id"] != "aptus_lock_12" {
		t.Errorf("payload = %v", msg.Payload)
	}

	env.mqtt.deliver(t, topics.BridgeEvent(bridge.Protocol, bridge.EventBuzz),
		topics.BridgeEvent(bridge.Protocol, bridge.EventBuzz), []byte(`{"entry_id":"e1"}`))
	if msg := readWS(t, conn); msg.EventType != ChannelBuzz {
		t.Errorf("event type = %q, want %q", msg.EventType, ChannelBuzz)
	}

	// Health is not subscribed; the next message is the removal.
	env.mqtt.deliver(t, topics.BridgeHealth(bridge.Protocol), topics.BridgeHealth(bridge.Protocol), []byte(`{"status":"online"}`))
	env.mqtt.deliver(t, states, topics.BridgeState(bridge.Protocol, "aptus_lock_7"), nil)
	msg = readWS(t, conn)
	if msg.EventType != ChannelLockRemoved {
		t.Fatalf("event type = %q, want %q", msg.EventType, ChannelLockRemoved)
	}
	raw, _ := json.Marshal(msg.Payload)
	if string(raw) != `{"device_id":"aptus_lock_7"}` {
		t.Errorf("payload = %s", raw)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, issueTicket(t, env))
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("reply = %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError {
		t.Errorf("reply = %+v, want error", msg)
	}
}

func TestWebSocket_SubscribeValidation(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)
	conn := dialWS(t, ts, issueTicket(t, env))

	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"no payload", nil, "payload.channels is required"},
		{"empty channels", WSSubscribePayload{}, "payload.channels is required"},
		{"unknown channel", WSSubscribePayload{Channels: []string{ChannelBuzz, "device.state_changed"}}, "unknown channel: device.state_changed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "s", Payload: tt.payload}); err != nil {
				t.Fatalf("WriteJSON() error = %v", err)
			}
			msg := readWS(t, conn)
			p, _ := msg.Payload.(map[string]any)
			if msg.Type != WSTypeError || msg.ID != "s" || p["message"] != tt.want {
				t.Errorf("reply = %+v, want error %q", msg, tt.want)
			}
		})
	}

	if err := conn.WriteJSON(WSMessage{Type: "unsubscribe", ID: "u"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeError || msg.ID != "u" {
		t.Errorf("reply = %+v, want error", msg)
	}
}

func TestWebSocket_ShutdownClosesClients(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)
	conn := dialWS(t, ts, issueTicket(t, env))
	subscribeWS(t, conn, ChannelHealth)
	if n := env.srv.hub.count(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}
	if n := env.srv.hub.count(); n != 0 {
		t.Errorf("clients after shutdown = %d, want 0", n)
	}
}
