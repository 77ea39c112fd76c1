package mqtt

import "fmt"

// Shelly Gen2+ devices publish under their own identifier as topic prefix
// (e.g. "shellyplus1-aabbcc") and take JSON-RPC requests on "<id>/rpc".
// Replies are sent to the "<src>/rpc" topic named in the request.
//
//	topics := mqtt.Topics{}
//	topics.DeviceStatus("shellyplus1-aabbcc", "switch:0")
//	// Returns: "shellyplus1-aabbcc/status/switch:0"
type Topics struct{}

// DeviceRPC returns the request topic of a device.
//
// Example: shellyplus1-aabbcc/rpc
func (Topics) DeviceRPC(deviceID string) string {
	return deviceID + "/rpc"
}

// ClientRPC returns the topic replies to clientID are published on. It has
// the same shape as DeviceRPC; the name documents intent.
//
// Example: shellylink_5f0c.../rpc
func (Topics) ClientRPC(clientID string) string {
	return clientID + "/rpc"
}

// DeviceOnline returns the retained availability topic of a device. The
// payload is "true" or "false".
//
// Example: shellyplus1-aabbcc/online
func (Topics) DeviceOnline(deviceID string) string {
	return deviceID + "/online"
}

// DeviceStatus returns the status topic of one device component.
//
// Example: shellyplus1-aabbcc/status/switch:0
func (Topics) DeviceStatus(deviceID, channel string) string {
	return fmt.Sprintf("%s/status/%s", deviceID, channel)
}

// DeviceEvents returns the event topic of one device, usually "rpc".
//
// Example: shellyplus1-aabbcc/events/rpc
func (Topics) DeviceEvents(deviceID, channel string) string {
	return fmt.Sprintf("%s/events/%s", deviceID, channel)
}

// AllOnline subscribes to availability of every device.
func (Topics) AllOnline() string {
	return "+/online"
}

// AllStatus subscribes to component status of every device.
func (Topics) AllStatus() string {
	return "+/status/+"
}

// AllEvents subscribes to event notifications of every device.
func (Topics) AllEvents() string {
	return "+/events/+"
}

// SessionFilters returns the filters a session with the given identity
// subscribes to: its reply topic followed by the discovery wildcards.
func (t Topics) SessionFilters(clientID string) []string {
	return []string{
		t.ClientRPC(clientID),
		t.AllOnline(),
		t.AllStatus(),
		t.AllEvents(),
	}
}
