// Package protocol defines the wire contract between gate controllers
// and the occupancy authority: the topic table, request/response
// envelopes, and the billing and status records broadcast to external
// monitors.
package protocol

import "fmt"

// Role selects which credential reader/actuator pairing and which topic
// set a gate controller uses.
type Role string

// Gate roles
const (
	RoleEntry Role = "entry"
	RoleExit  Role = "exit"
)

// Valid reports whether the role is one of the two supported gate roles.
func (r Role) Valid() bool {
	return r == RoleEntry || r == RoleExit
}

// Broadcast topics consumed only by external monitors.
const (
	TopicBilling = "billing.transactions"
	TopicStatus  = "system.status"
)

// Remote distance sensing topics. The exit gate's clearing check reads
// the entry controller's rear sensor over the channel.
const (
	TopicExitDistanceRequest  = "sensors.exit.distance.request"
	TopicExitDistanceResponse = "sensors.exit.distance.response"
)

// TopicSet holds the request/response topic pairs and gate command
// topics for one gate role.
type TopicSet struct {
	PermissionRequest  string
	PermissionResponse string
	ConfirmRequest     string
	ConfirmResponse    string
	GateOpen           string
	GateClose          string
}

// Topics returns the topic set for a gate role. The pairing mirrors the
// deployed broker layout: entry gates speak the entry permission and
// confirmation pairs, exit gates the exit pairs.
func Topics(role Role) TopicSet {
	switch role {
	case RoleExit:
		return TopicSet{
			PermissionRequest:  "vehicle.exit.permission.request",
			PermissionResponse: "vehicle.exit.permission.response",
			ConfirmRequest:     "vehicle.exit.confirm.request",
			ConfirmResponse:    "vehicle.exit.confirm.response",
			GateOpen:           "gate.exit.open",
			GateClose:          "gate.exit.close",
		}
	default:
		return TopicSet{
			PermissionRequest:  "vehicle.entry.permission.request",
			PermissionResponse: "vehicle.entry.permission.response",
			ConfirmRequest:     "vehicle.entry.confirm.request",
			ConfirmResponse:    "vehicle.entry.confirm.response",
			GateOpen:           "gate.entry.open",
			GateClose:          "gate.entry.close",
		}
	}
}

// PresenceTopic returns the retained per-process presence topic. The
// channel publishes "online" on connect and guarantees "offline" on both
// clean shutdown and broker-observed abrupt disconnect.
func PresenceTopic(process string) string {
	return fmt.Sprintf("status.%s", process)
}

// Presence payloads and gate command payloads. Plain UTF-8 tokens.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOpen    = "open"
	PayloadClose   = "close"
)
