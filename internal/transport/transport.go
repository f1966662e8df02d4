// Package transport defines the BLE transport seam (spec component C4):
// scanning, connecting, and the per-connection GATT operations the
// coordinator drives. The concrete implementation in ble.go talks to a real
// adapter through tinygo.org/x/bluetooth; tests drive the coordinator
// against a hand-written fake of these same interfaces.
package transport

import (
	"context"
	"errors"
	"time"

	"ricohsync/internal/vendor"
)

// Sentinel errors distinguished for control flow, matching spec §7.
var (
	// ErrLinkLost is returned when IsConnected is false at an operation's
	// entry. A link that drops while a GATT read or write is in progress
	// is not detected as such; that failure is reported as ErrTransientIO.
	ErrLinkLost = errors.New("transport: link lost")
	// ErrTimeout is returned when a connect attempt exceeds its deadline.
	ErrTimeout = errors.New("transport: connect timeout")
	// ErrPairingRejected is returned when the peer refuses bonding.
	ErrPairingRejected = errors.New("transport: pairing rejected")
	// ErrTransientIO is any other GATT or scan error; the next reconcile
	// pass will simply retry.
	ErrTransientIO = errors.New("transport: transient I/O error")
)

// Advertisement is a discovered BLE peripheral and its broadcast packet.
type Advertisement struct {
	MAC        string
	Name       *string
	ServiceIDs []string
	RSSI       int
}

// Camera is a discovered or paired device: a stable MAC, an optional
// advertised name, and the vendor it was identified or persisted as.
type Camera struct {
	MAC    string
	Name   *string
	Vendor vendor.Descriptor
}

// Connection is the set of GATT operations the coordinator performs against
// one live camera connection. Every operation first checks IsConnected; if
// false, it fails with ErrLinkLost without touching the OS Bluetooth stack.
// Every operation is also gated by the vendor's Capabilities; an
// unsupported operation fails with vendor.ErrUnsupported.
type Connection interface {
	ReadFirmwareVersion(ctx context.Context) (string, error)
	SetPairedDeviceName(ctx context.Context, name string) error
	SyncDateTime(ctx context.Context, t time.Time) error
	ReadDateTime(ctx context.Context) (string, error)
	SetGeoTaggingEnabled(ctx context.Context, enabled bool) error
	IsGeoTaggingEnabled(ctx context.Context) (bool, error)
	SyncLocation(ctx context.Context, loc vendor.Location) error
	Disconnect() error

	// IsConnected is the current value of the observable liveness signal.
	IsConnected() bool
	// ConnectedChanges returns a channel that receives every true<->false
	// transition of IsConnected for as long as ctx is not cancelled. The
	// channel is closed when ctx is done.
	ConnectedChanges(ctx context.Context) <-chan bool
}

// Transport is polymorphic over scan and connection capability.
type Transport interface {
	// Scan produces a lazy, infinite sequence of advertisements. It stops
	// (closing the channel) when ctx is cancelled.
	Scan(ctx context.Context) (<-chan Advertisement, error)
	// FindByAddress is Scan filtered to a single MAC address.
	FindByAddress(ctx context.Context, mac string) (<-chan Advertisement, error)
	// Connect acquires a peripheral handle, invokes onFound (if non-nil,
	// exactly once, from any goroutine, without blocking) once the
	// underlying device has been observed, then completes GATT discovery.
	Connect(ctx context.Context, cam Camera, onFound func()) (Connection, error)
}
