package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/aptus-home/internal/infrastructure/config"
)

// These tests exercise the client without a broker. Broker round trips live
// in integration_test.go behind the integration build tag.

func disconnectedClient() *Client {
	return &Client{
		cfg:           config.MQTTConfig{QoS: 1},
		subscriptions: make(map[string]subscription),
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "aptushome/test", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "aptushome/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "aptushome/test", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishRetained_NotConnected(t *testing.T) {
	c := disconnectedClient()
	if err := c.PublishRetained("aptushome/state/aptus/x", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishRetained() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: error = %v", err)
	}
	if err := c.Subscribe("a/b", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if c.HasSubscription("a/b") {
		t.Error("HasSubscription() = true for rejected subscription")
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: error = %v", err)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestCloseNeverConnected(t *testing.T) {
	if err := disconnectedClient().Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWrapHandler_LogsErrorsAndRecoversPanics(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	failing := c.wrapHandler(func(string, []byte) error { return errors.New("boom") })
	failing(nil, fakeMessage{topic: "aptushome/command/aptus/x"})

	panicking := c.wrapHandler(func(string, []byte) error { panic("bad payload") })
	panicking(nil, fakeMessage{topic: "aptushome/command/aptus/x"})

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want 1 entry", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want 1 entry", logger.errors)
	}
}

func TestWrapHandler_PassesTopicAndPayload(t *testing.T) {
	c := disconnectedClient()
	var gotTopic, gotPayload string

	h := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	h(nil, fakeMessage{topic: "t/1", payload: []byte(`{"a":1}`)})

	if gotTopic != "t/1" || gotPayload != `{"a":1}` {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
}

func TestHandleDisconnect_InvokesCallback(t *testing.T) {
	c := disconnectedClient()
	c.setConnected(true)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })
	c.handleDisconnect(errors.New("link down"))

	if got == nil || got.Error() != "link down" {
		t.Errorf("callback error = %v", got)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "bridge-1"},
		Auth:   config.MQTTAuthConfig{Username: "u", Password: "p"},
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 2,
			MaxDelay:     30,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want ssl://broker.local:8883", opts.Servers)
	}
	if opts.ClientID != "bridge-1" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for TLS broker")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestBrokerURL_Plain(t *testing.T) {
	got := brokerURL(config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883})
	if got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{"online", buildOnlinePayload("bridge-1"), "online", ""},
		{"offline", buildOfflinePayload("bridge-1"), "offline", "graceful_shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p statusPayload
			if err := json.Unmarshal([]byte(tt.payload), &p); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if p.Status != tt.wantStatus || p.Reason != tt.wantReason || p.ClientID != "bridge-1" {
				t.Errorf("payload = %+v", p)
			}
			if p.Timestamp == "" {
				t.Error("timestamp missing")
			}
		})
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got  string
		want string
	}{
		{topics.BridgeState("aptus", "aptus_lock_3"), "aptushome/state/aptus/aptus_lock_3"},
		{topics.BridgeCommand("aptus", "aptus_lock_3"), "aptushome/command/aptus/aptus_lock_3"},
		{topics.BridgeAck("aptus", "aptus_lock_3"), "aptushome/ack/aptus/aptus_lock_3"},
		{topics.BridgeRequest("aptus", "req-1"), "aptushome/request/aptus/req-1"},
		{topics.BridgeResponse("aptus", "req-1"), "aptushome/response/aptus/req-1"},
		{topics.BridgeHealth("aptus"), "aptushome/health/aptus"},
		{topics.BridgeDiscovery("aptus"), "aptushome/discovery/aptus"},
		{topics.BridgeEvent("aptus", "buzz"), "aptushome/event/aptus/buzz"},
		{topics.BridgeCommands("aptus"), "aptushome/command/aptus/+"},
		{topics.BridgeRequests("aptus"), "aptushome/request/aptus/+"},
		{topics.BridgeStates("aptus"), "aptushome/state/aptus/+"},
		{topics.SystemStatus(), "aptushome/system/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
		if strings.Contains(tt.got, "//") {
			t.Errorf("topic %q has an empty level", tt.got)
		}
	}
}
