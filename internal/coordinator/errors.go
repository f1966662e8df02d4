package coordinator

import "errors"

// ErrVendorUnknown is the coordinator-level mirror of spec §7's
// VendorUnknown: a paired record whose vendor id no registry entry
// recognizes. It never triggers a connection attempt and is never retried
// automatically.
var ErrVendorUnknown = errors.New("Unknown vendor")

// ErrAlreadyMonitoring is returned by StartBackgroundMonitoring when called
// a second time without an intervening StopAllDevices.
var ErrAlreadyMonitoring = errors.New("coordinator: background monitoring already started")
