package mqtt

import "fmt"

// Topic prefixes.
//
// Bridge topics use the flat scheme aptushome/{category}/{protocol}/{id}.
const (
	TopicPrefixBridge = "aptushome"
	TopicPrefixSystem = "aptushome/system"
)

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("aptus", "aptus_lock_12")
//	// aptushome/state/aptus/aptus_lock_12
type Topics struct{}

// BridgeState returns the retained state topic of one entity.
func (Topics) BridgeState(protocol, entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, entityID)
}

// BridgeCommand returns the command topic of one entity.
func (Topics) BridgeCommand(protocol, entityID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, entityID)
}

// BridgeAck returns the acknowledgement topic of one entity.
func (Topics) BridgeAck(protocol, entityID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, entityID)
}

// BridgeRequest returns the request topic for a request id.
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeResponse returns the response topic for a request id.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeHealth returns the retained health topic of a bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeDiscovery returns the retained entity list of a bridge.
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefixBridge, protocol)
}

// BridgeEvent returns the topic for transient events such as door buzzes.
//
// Example: aptushome/event/aptus/buzz
func (Topics) BridgeEvent(protocol, eventType string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefixBridge, protocol, eventType)
}

// BridgeCommands matches every command addressed to one bridge.
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// BridgeRequests matches every request addressed to one bridge.
func (Topics) BridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefixBridge, protocol)
}

// SystemStatus returns the retained online/offline topic.
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// BridgeStates matches the state topics of every entity of one bridge.
func (Topics) BridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixBridge, protocol)
}
