package mqtt

import (
	"testing"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
)

func TestTopicsStateAndCommand(t *testing.T) {
	ga := address.Group{Main: 1, Middle: 2, Sub: 3}
	if got, want := (Topics{}).State(ga), "knxgw/state/1/2/3"; got != want {
		t.Errorf("State() = %q, want %q", got, want)
	}
	if got, want := (Topics{}).Command(ga), "knxgw/command/1/2/3"; got != want {
		t.Errorf("Command() = %q, want %q", got, want)
	}
}

func TestTopicsSystemStatus(t *testing.T) {
	if got, want := (Topics{}).SystemStatus(), "knxgw/system/status"; got != want {
		t.Errorf("SystemStatus() = %q, want %q", got, want)
	}
}
