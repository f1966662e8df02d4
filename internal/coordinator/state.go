// Package coordinator implements the Multi-Device Coordinator (spec
// component C8): one per-MAC state machine each, a shared fan-out task that
// writes GPS fixes to every synced camera, and a background monitor that
// reconciles supervised devices against the Paired-Devices Store's enabled
// list every reconcile period (60s by default).
package coordinator

import (
	"time"

	"ricohsync/internal/location"
)

// StateKind is the tag of a per-device state machine value.
type StateKind int

const (
	StateDisconnected StateKind = iota
	StateSearching
	StateConnecting
	StateSyncing
	StateUnreachable
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateDisconnected:
		return "Disconnected"
	case StateSearching:
		return "Searching"
	case StateConnecting:
		return "Connecting"
	case StateSyncing:
		return "Syncing"
	case StateUnreachable:
		return "Unreachable"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// LastSyncInfo records the most recent fix written to a device and when.
type LastSyncInfo struct {
	At  time.Time
	Fix location.Fix
}

// DeviceState is the tagged-union state of one supervised MAC. Absent from
// the state map is equivalent to StateDisconnected with a zero Firmware.
type DeviceState struct {
	Kind          StateKind
	Firmware      string        // set once Syncing (and carried by it)
	LastSyncInfo  *LastSyncInfo // set only in StateSyncing
	ErrorMessage  string        // set only in StateError
	IsRecoverable bool          // set only in StateError
}

func disconnectedState() DeviceState { return DeviceState{Kind: StateDisconnected} }
func searchingState() DeviceState    { return DeviceState{Kind: StateSearching} }
func connectingState() DeviceState   { return DeviceState{Kind: StateConnecting} }

func syncingState(firmware string, info *LastSyncInfo) DeviceState {
	return DeviceState{Kind: StateSyncing, Firmware: firmware, LastSyncInfo: info}
}

func unreachableState() DeviceState { return DeviceState{Kind: StateUnreachable} }

func errorState(message string, recoverable bool) DeviceState {
	return DeviceState{Kind: StateError, ErrorMessage: message, IsRecoverable: recoverable}
}
