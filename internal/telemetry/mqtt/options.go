package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/knx-tpuart-gateway/internal/config"
)

// Connection constants.
const (
	defaultConnectTimeout      = 10 * time.Second
	defaultPublishTimeout      = 5 * time.Second
	defaultDisconnectQuiesceMs = 1000
	defaultReconnectInterval   = 2 * time.Second
	defaultMaxReconnectWait    = 30 * time.Second
	maxQoS                     = 2
)

// buildClientOptions creates paho options from the gateway's flat MQTT
// configuration.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(defaultReconnectInterval)
	opts.SetMaxReconnectInterval(defaultMaxReconnectWait)
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := time.Duration(cfg.KeepAlive) * time.Second
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	return opts
}

// configureLWT sets up the Last Will and Testament message published
// by the broker if the gateway disconnects unexpectedly.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(Topics{}.SystemStatus(), string(buildStatusPayload(clientID, "offline")), 1, true)
}

func buildStatusPayload(clientID, status string) []byte {
	return []byte(fmt.Sprintf(
		`{"status":%q,"client_id":%q,"timestamp":%q}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339),
	))
}
