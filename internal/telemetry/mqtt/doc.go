// Package mqtt publishes communication-object state updates to an MQTT
// broker and accepts write commands from it.
//
// State updates for a com-object publish as a retained JSON message to
// knxgw/state/{main}/{middle}/{sub}. Write commands are accepted on
// knxgw/command/{main}/{middle}/{sub} and translated into device.Write
// calls by the caller (see internal/device). This package is
// diagnostic/control telemetry about the link; the com-object table
// itself remains the single source of truth for current values.
package mqtt
