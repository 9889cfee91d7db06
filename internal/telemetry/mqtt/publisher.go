package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
)

// stateMessage is the JSON body published to a com-object's state topic.
type stateMessage struct {
	GA    string `json:"ga"`
	DPT   string `json:"dpt"`
	Value uint   `json:"value,omitempty"`
	Long  []byte `json:"long_value,omitempty"`
}

// PublishState publishes a com-object's current value as a retained
// message on its state topic.
func (c *Client) PublishState(ga address.Group, dptID string, value uint, long []byte) error {
	msg := stateMessage{GA: ga.String(), DPT: dptID, Value: value, Long: long}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqtt: marshalling state message: %w", err)
	}
	return c.PublishRetained(Topics{}.State(ga), payload)
}

// WriteCommand is a parsed write request received on a command topic.
type WriteCommand struct {
	GA    address.Group
	Value uint
	Long  []byte
}

// SubscribeCommands subscribes to every command topic and invokes
// handler with each parsed write request. Malformed payloads are
// dropped rather than propagated, matching the at-most-best-effort
// contract of the underlying broker subscription.
func (c *Client) SubscribeCommands(handler func(WriteCommand)) error {
	return c.Subscribe(Topics{}.AllCommands(), 1, func(_ string, payload []byte) error {
		var body struct {
			GA    string `json:"ga"`
			Value uint   `json:"value"`
			Long  []byte `json:"long_value"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("mqtt: parsing command payload: %w", err)
		}
		ga, err := address.ParseGroup(body.GA)
		if err != nil {
			return fmt.Errorf("mqtt: parsing command group address: %w", err)
		}
		handler(WriteCommand{GA: ga, Value: body.Value, Long: body.Long})
		return nil
	})
}
