package mqttbus

import "strings"

// Topic layout is server-owned (§1 Non-goals) and bit-exact per §6.1.
const (
	SubDeviceAck    = "home/+/device/+/ack"
	SubDeviceState  = "home/+/device/+/state"
	SubDeviceStatus = "home/+/device/+/status"
	SubHubStatus    = "home/hub/+/status"
	SubZBState      = "home/zb/+/state"
	SubZBEvent      = "home/zb/+/event"
	SubZBCmdResult  = "home/zb/+/cmd_result"
	SubZBDiscovered = "home/hub/+/zigbee/discovered"
	SubHubCmdResult = "home/hub/+/cmd_result"
)

// QoS table (§4.B): commands at >=1, retained state/status at >=1.
const (
	QoSCommand = 1
	QoSAck     = 1
	QoSState   = 1
	QoSStatus  = 1
	QoSEvent   = 1
)

func DeviceSetTopic(homeID, deviceID string) string    { return "home/" + homeID + "/device/" + deviceID + "/set" }
func DeviceAckTopic(homeID, deviceID string) string    { return "home/" + homeID + "/device/" + deviceID + "/ack" }
func DeviceStateTopic(homeID, deviceID string) string  { return "home/" + homeID + "/device/" + deviceID + "/state" }
func DeviceStatusTopic(homeID, deviceID string) string { return "home/" + homeID + "/device/" + deviceID + "/status" }
func HubStatusTopic(hubID string) string               { return "home/hub/" + hubID + "/status" }

// HubSetTopic/HubCmdResultTopic extend the bit-exact device/zigbee
// command pair to the hub itself: the Rollout Engine and Automation
// Deployment Controller both address commands (firmware install,
// rules_sync) at a Hub rather than a Device, which the published wire
// table does not give a shape for. Modeled after the device/zigbee
// set+cmd_result pair rather than introducing a third shape.
func HubSetTopic(hubID string) string       { return "home/hub/" + hubID + "/set" }
func HubCmdResultTopic(hubID string) string { return "home/hub/" + hubID + "/cmd_result" }
func ZBSetTopic(ieee string) string                     { return "home/zb/" + ieee + "/set" }
func ZBStateTopic(ieee string) string                   { return "home/zb/" + ieee + "/state" }
func ZBEventTopic(ieee string) string                   { return "home/zb/" + ieee + "/event" }
func ZBCmdResultTopic(ieee string) string               { return "home/zb/" + ieee + "/cmd_result" }
func ZBDiscoveredTopic(hubID string) string             { return "home/hub/" + hubID + "/zigbee/discovered" }

// Channel is the semantic channel a parsed inbound topic maps to,
// decoupling the Telemetry Ingestor/Presence Tracker/Command
// Orchestrator from raw MQTT topic strings.
type Channel string

const (
	ChanDeviceAck    Channel = "device-ack"
	ChanDeviceState  Channel = "device-state"
	ChanDeviceStatus Channel = "device-status"
	ChanHubStatus    Channel = "hub-status"
	ChanZBState      Channel = "zb-state"
	ChanZBEvent      Channel = "zb-event"
	ChanZBCmdResult  Channel = "zb-cmd-result"
	ChanZBDiscovered Channel = "zb-discovered"
	ChanHubCmdResult Channel = "hub-cmd-result"
	ChanUnknown      Channel = "unknown"
)

// ParsedTopic is the result of classifying an inbound MQTT topic.
type ParsedTopic struct {
	Channel  Channel
	HomeID   string // device-plane only
	DeviceID string // device-plane only
	HubID    string // hub-status / hub-cmd-result / zb-discovered only
	IEEE     string // zigbee-plane only
}

// ParseTopic classifies a raw inbound topic into a semantic channel,
// extracting the address segments the Telemetry Ingestor/Presence
// Tracker need. Unknown shapes return ChanUnknown and are logged and
// dropped by the caller — never block the channel (§4.D).
func ParseTopic(topic string) ParsedTopic {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) == 5 && parts[0] == "home" && parts[2] == "device":
		pt := ParsedTopic{HomeID: parts[1], DeviceID: parts[3]}
		switch parts[4] {
		case "ack":
			pt.Channel = ChanDeviceAck
		case "state":
			pt.Channel = ChanDeviceState
		case "status":
			pt.Channel = ChanDeviceStatus
		default:
			pt.Channel = ChanUnknown
		}
		return pt
	case len(parts) == 4 && parts[0] == "home" && parts[1] == "hub" && parts[3] == "status":
		return ParsedTopic{Channel: ChanHubStatus, HubID: parts[2]}
	case len(parts) == 4 && parts[0] == "home" && parts[1] == "hub" && parts[3] == "cmd_result":
		return ParsedTopic{Channel: ChanHubCmdResult, HubID: parts[2]}
	case len(parts) == 5 && parts[0] == "home" && parts[1] == "hub" && parts[3] == "zigbee" && parts[4] == "discovered":
		return ParsedTopic{Channel: ChanZBDiscovered, HubID: parts[2]}
	case len(parts) == 4 && parts[0] == "home" && parts[1] == "zb":
		pt := ParsedTopic{IEEE: parts[2]}
		switch parts[3] {
		case "state":
			pt.Channel = ChanZBState
		case "event":
			pt.Channel = ChanZBEvent
		case "cmd_result":
			pt.Channel = ChanZBCmdResult
		default:
			pt.Channel = ChanUnknown
		}
		return pt
	default:
		return ParsedTopic{Channel: ChanUnknown}
	}
}
