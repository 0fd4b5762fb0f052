// Package mqtt provides MQTT client connectivity for the Aptus Home bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The broker is the bus between the bridge and whatever home-automation
// runtime drives the doors:
//
//	runtime ↔ MQTT broker ↔ Aptus bridge ↔ Aptus portal
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside a trusted LAN: commands unlock doors
//   - Restrict the command topics with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("aptus"), 1, handler)
package mqtt
