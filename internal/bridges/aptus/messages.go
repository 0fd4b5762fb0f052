package aptus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/aptus-home/internal/doorlock"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "aptus"

// CommandMessage asks the bridge to operate a door.
// Topic: aptushome/command/aptus/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the entity id, e.g. aptus_lock_12. Doorman commands accept
	// any id and pick the entry from Parameters["entry_id"] when present.
	DeviceID string `json:"device_id"`

	// Command is one of unlock, lock, doorman_unlock, doorman_lock.
	Command string `json:"command"`

	// Parameters carries command values, e.g. {"code": "1234"} for
	// doorman_unlock.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source is where the command originated: api, mqtt, automation.
	Source string `json:"source"`

	UserID string `json:"user_id,omitempty"`
}

// Commands.
const (
	CommandUnlock        = "unlock"
	CommandLock          = "lock"
	CommandDoormanUnlock = "doorman_unlock"
	CommandDoormanLock   = "doorman_lock"
)

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the portal accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout means the portal did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: aptushome/ack/aptus/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	EntryID   string    `json:"entry_id,omitempty"`

	// Result is the portal's reply, passed through unchanged.
	Result map[string]any `json:"result,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError explains a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage carries the state of one door. Published retained.
// Topic: aptushome/state/aptus/{entity_id}
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     doorlock.State `json:"state"`
	Protocol  string         `json:"protocol"`
}

// HealthStatus is the overall bridge health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge health. Published retained.
// Topic: aptushome/health/aptus
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Portals        []PortalStatus    `json:"portals,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// PortalStatus is the session state of one configured portal.
type PortalStatus struct {
	EntryID  string `json:"entry_id"`
	LoggedIn bool   `json:"logged_in"`
}

// BridgeStatistics are cumulative counters since start.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	BuzzEvents       uint64 `json:"buzz_events"`
	PortalErrors     uint64 `json:"portal_errors"`
}

// RequestMessage asks the bridge for information.
// Topic: aptushome/request/aptus/{request_id}
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Request actions.
const (
	ActionReadState     = "read_state"
	ActionReadAll       = "read_all"
	ActionDiscover      = "discover"
	ActionDoormanStatus = "doorman_status"
)

// ResponseMessage answers a request.
// Topic: aptushome/response/aptus/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError explains a failed request.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DiscoveryMessage lists every door the bridge manages. Published retained.
// Topic: aptushome/discovery/aptus
type DiscoveryMessage struct {
	Timestamp time.Time        `json:"timestamp"`
	Bridge    string           `json:"bridge"`
	Devices   []DiscoveredLock `json:"devices"`
}

// DiscoveredLock describes one door.
type DiscoveredLock struct {
	ID           string   `json:"id"`
	Protocol     string   `json:"protocol"`
	EntryID      string   `json:"entry_id"`
	LockID       int      `json:"lock_id"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Available    bool     `json:"available"`
	Capabilities []string `json:"capabilities"`
}

// EventMessage reports a transient event such as a call from the entrance
// panel. Not retained.
// Topic: aptushome/event/aptus/{type}
type EventMessage struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	EntryID   string         `json:"entry_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventBuzz is the event type of an entrance panel call.
const EventBuzz = "buzz"

// UnmarshalJSON accepts a missing timestamp and requires RFC 3339 otherwise.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage acknowledges cmd as accepted.
func NewAckMessage(cmd CommandMessage, entryID string, result map[string]any) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckAccepted,
		Protocol:  Protocol,
		EntryID:   entryID,
		Result:    result,
	}
}

// NewAckError reports cmd as failed, or timed out for ErrCodeTimeout.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage wraps an entity snapshot.
func NewStateMessage(state doorlock.State) StateMessage {
	return StateMessage{
		DeviceID:  state.ID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
	}
}

// NewLWTMessage is the payload the broker publishes if the bridge dies.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

func newResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func newErrorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

func discoveredLock(s doorlock.State) DiscoveredLock {
	return DiscoveredLock{
		ID:           s.ID,
		Protocol:     Protocol,
		EntryID:      s.EntryID,
		LockID:       s.LockID,
		Type:         "door_lock",
		Name:         s.Name,
		Available:    s.Available,
		Capabilities: []string{CommandUnlock},
	}
}
