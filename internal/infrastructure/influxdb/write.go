package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the bridge.
const (
	MeasurementLockEvents = "lock_events"
	MeasurementBuzzEvents = "buzz_events"
)

// LockEvent describes one lock command sent to the portal.
type LockEvent struct {
	EntityID string
	EntryID  string
	Command  string // unlock, lock, doorman_unlock, doorman_lock
	Source   string // api, mqtt
	Success  bool
	Latency  time.Duration
	Time     time.Time
}

// WriteLockEvent records a lock command outcome. Tags stay low cardinality:
// entity, command, source and outcome.
func (c *Client) WriteLockEvent(ev LockEvent) {
	if !c.IsConnected() {
		return
	}

	outcome := "success"
	if !ev.Success {
		outcome = "failure"
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"entity_id": ev.EntityID,
		"command":   ev.Command,
		"source":    ev.Source,
		"outcome":   outcome,
	}
	if ev.EntryID != "" {
		tags["entry_id"] = ev.EntryID
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementLockEvents,
		tags,
		map[string]any{
			"success":    ev.Success,
			"latency_ms": float64(ev.Latency) / float64(time.Millisecond),
		},
		ts,
	))
}

// WriteBuzzEvent records a call from an entrance panel.
func (c *Client) WriteBuzzEvent(entryID string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementBuzzEvents,
		map[string]string{"entry_id": entryID},
		map[string]any{"count": 1},
		at,
	))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
