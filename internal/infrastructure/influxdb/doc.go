// Package influxdb records lock telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//   - lock_events: one point per lock command, tagged with entity, command,
//     source and outcome, with the portal latency as a field
//   - buzz_events: one point per call from an entrance panel
//
// The integration is optional. Connect returns ErrDisabled when
// influxdb.enabled is false, and every write method is a no-op on a nil or
// closed client, so callers need no extra checks.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLockEvent(influxdb.LockEvent{EntityID: "aptus_lock_12", Command: "unlock", Success: true})
package influxdb
