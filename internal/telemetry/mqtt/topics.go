package mqtt

import (
	"fmt"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
)

// Topic prefixes for the gateway's flat MQTT scheme:
// knxgw/{category}/{main}/{middle}/{sub}.
const (
	topicPrefix      = "knxgw"
	topicStatus      = "knxgw/system/status"
	topicCommandWild = "knxgw/command/+/+/+"
)

// Topics builds knxgw MQTT topic strings for a group address.
type Topics struct{}

// State returns the retained state topic for a group address.
//
// Example: knxgw/state/1/2/3
func (Topics) State(ga address.Group) string {
	return fmt.Sprintf("%s/state/%d/%d/%d", topicPrefix, ga.Main, ga.Middle, ga.Sub)
}

// Command returns the write-command topic for a group address.
//
// Example: knxgw/command/1/2/3
func (Topics) Command(ga address.Group) string {
	return fmt.Sprintf("%s/command/%d/%d/%d", topicPrefix, ga.Main, ga.Middle, ga.Sub)
}

// AllCommands returns the wildcard pattern matching every command topic.
func (Topics) AllCommands() string {
	return topicCommandWild
}

// SystemStatus returns the gateway's online/offline status topic.
func (Topics) SystemStatus() string {
	return topicStatus
}
