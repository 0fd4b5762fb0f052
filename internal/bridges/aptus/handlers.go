package aptus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
)

func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid topic format: %s", topic)
	}

	switch parts[1] {
	case "command":
		return b.handleCommand(payload)
	case "request":
		return b.handleRequest(payload)
	default:
		return fmt.Errorf("unknown message type: %s", parts[1])
	}
}

func (b *Bridge) handleCommand(payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if cmd.Source == "" {
		cmd.Source = SourceMQTT
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	origin := Origin{Source: cmd.Source, UserID: cmd.UserID}

	var (
		result  map[string]any
		entryID string
		err     error
	)
	switch cmd.Command {
	case CommandUnlock:
		result, err = b.Unlock(ctx, cmd.DeviceID, origin)
		if st, stErr := b.LockState(cmd.DeviceID); stErr == nil {
			entryID = st.EntryID
		}
	case CommandLock:
		err = b.Lock(ctx, cmd.DeviceID, origin)
	case CommandDoormanLock:
		entryID = b.commandEntry(cmd)
		result, err = b.LockDoorman(ctx, entryID, origin)
	case CommandDoormanUnlock:
		entryID = b.commandEntry(cmd)
		code, _ := cmd.Parameters["code"].(string)
		result, err = b.UnlockDoorman(ctx, entryID, code, origin)
	default:
		b.commandsReceived.Add(1)
		b.commandsFailed.Add(1)
		b.publishAckError(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unknown command: %s", cmd.Command))
		return nil
	}

	if err != nil {
		b.publishAckError(cmd, ErrorCode(err), err.Error())
		return nil
	}
	if id, _, err := b.resolvePortal(entryID); err == nil {
		entryID = id
	}
	b.publishAck(cmd, entryID, result)
	return nil
}

// commandEntry picks the entry of a doorman command: the entry_id parameter,
// else the entry owning device_id, else empty for the only portal.
func (b *Bridge) commandEntry(cmd CommandMessage) string {
	if id, ok := cmd.Parameters["entry_id"].(string); ok && id != "" {
		return id
	}
	if st, err := b.LockState(cmd.DeviceID); err == nil {
		return st.EntryID
	}
	return ""
}

func (b *Bridge) publishAck(cmd CommandMessage, entryID string, result map[string]any) {
	payload, err := json.Marshal(NewAckMessage(cmd, entryID, result))
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	b.publish(mqtt.Topics{}.BridgeAck(Protocol, ackDevice(cmd)), payload, false)
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	payload, err := json.Marshal(NewAckError(cmd, code, message))
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}
	b.publish(mqtt.Topics{}.BridgeAck(Protocol, ackDevice(cmd)), payload, false)
}

func ackDevice(cmd CommandMessage) string {
	if cmd.DeviceID == "" {
		return "unknown"
	}
	return cmd.DeviceID
}

func (b *Bridge) handleRequest(payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	if req.RequestID == "" {
		return fmt.Errorf("request without request_id")
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionReadAll:
		locks := b.Locks()
		resp = newResponse(req, map[string]any{"locks": locks, "count": len(locks)})
	case ActionDiscover:
		resp = b.handleDiscover(ctx, req)
	case ActionDoormanStatus:
		entryID, _ := req.Parameters["entry_id"].(string)
		result, err := b.DoormanStatus(ctx, entryID)
		if err != nil {
			resp = newErrorResponse(req, ErrorCode(err), err.Error())
		} else {
			resp = newResponse(req, result)
		}
	default:
		resp = newErrorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	b.publish(mqtt.Topics{}.BridgeResponse(Protocol, req.RequestID), respPayload, false)
	return nil
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return newErrorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	state, err := b.LockState(req.DeviceID)
	if err != nil {
		return newErrorResponse(req, ErrorCode(err), err.Error())
	}
	return newResponse(req, map[string]any{"state": state})
}

func (b *Bridge) handleDiscover(ctx context.Context, req RequestMessage) ResponseMessage {
	entryID, _ := req.Parameters["entry_id"].(string)
	res, err := b.Discover(ctx, entryID)
	if err != nil {
		return newErrorResponse(req, ErrorCode(err), err.Error())
	}
	return newResponse(req, map[string]any{
		"added":       res.Added,
		"renamed":     res.Renamed,
		"restored":    res.Restored,
		"unavailable": res.Unavailable,
		"count":       b.registry.Count(),
	})
}
