package hostui

import (
	"testing"

	"github.com/gdamore/tcell/v2"

	"ricohsync/internal/coordinator"
)

func TestStateColorLabels(t *testing.T) {
	cases := []struct {
		name string
		st   coordinator.DeviceState
		want string
	}{
		{"disconnected", coordinator.DeviceState{}, "Disconnected"},
		{"unreachable", coordinator.DeviceState{Kind: coordinator.StateUnreachable}, "Unreachable"},
		{"recoverable error", coordinator.DeviceState{Kind: coordinator.StateError, IsRecoverable: true}, "Error (recoverable)"},
		{"fatal error", coordinator.DeviceState{Kind: coordinator.StateError, IsRecoverable: false}, "Error"},
		{"syncing", coordinator.DeviceState{Kind: coordinator.StateSyncing}, "Syncing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, label := stateColor(tc.st)
			if label != tc.want {
				t.Errorf("stateColor(%+v) label = %q, want %q", tc.st, label, tc.want)
			}
		})
	}
}

func TestStateColorFatalErrorIsRed(t *testing.T) {
	color, _ := stateColor(coordinator.DeviceState{Kind: coordinator.StateError, IsRecoverable: false})
	if color != tcell.ColorRed {
		t.Errorf("fatal error color = %v, want red", color)
	}
}

func TestNotifierLabelFallsBackToMAC(t *testing.T) {
	n := NewNotifier(nil, func() []Device {
		return []Device{{MAC: "AA:BB:CC:DD:EE:FF", Name: "My Camera"}}
	})
	if got := n.label("AA:BB:CC:DD:EE:FF"); got != "My Camera" {
		t.Errorf("label = %q, want My Camera", got)
	}
	if got := n.label("UNKNOWN"); got != "UNKNOWN" {
		t.Errorf("label(unknown) = %q, want the bare MAC", got)
	}
}
