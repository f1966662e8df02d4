package coordinator

import (
	"context"
	"log"

	"ricohsync/internal/transport"
	"ricohsync/internal/vendor"
)

// handshake runs the four-step pairing handshake (spec §4.6.3), gated by
// capability and a fresh isConnected check before each step. A failing
// isConnected check raises ErrLinkLost and aborts; every other failure is
// logged and tolerated, so a partial handshake never blocks Syncing.
func (c *Coordinator) handshake(ctx context.Context, mac string, v vendor.Descriptor, conn transport.Connection) (string, error) {
	firmware := "Unknown"
	caps := v.Capabilities()

	if !conn.IsConnected() {
		return "", transport.ErrLinkLost
	}
	if caps.ReadsFirmwareVersion {
		fw, err := conn.ReadFirmwareVersion(ctx)
		if err != nil {
			log.Printf("coordinator: %s read firmware version failed: %v", mac, err)
		} else {
			firmware = fw
		}
	}

	if !conn.IsConnected() {
		return "", transport.ErrLinkLost
	}
	if caps.WritesPairedDeviceName {
		if err := conn.SetPairedDeviceName(ctx, c.nameFor(v)); err != nil {
			log.Printf("coordinator: %s set paired device name failed: %v", mac, err)
		}
	}

	if !conn.IsConnected() {
		return "", transport.ErrLinkLost
	}
	if caps.WritesDateTime {
		if err := conn.SyncDateTime(ctx, c.clk.now()); err != nil {
			log.Printf("coordinator: %s sync date-time failed: %v", mac, err)
		}
	}

	if !conn.IsConnected() {
		return "", transport.ErrLinkLost
	}
	if caps.TogglesGeoTagging {
		if err := conn.SetGeoTaggingEnabled(ctx, true); err != nil {
			log.Printf("coordinator: %s enable geo-tagging failed: %v", mac, err)
		}
	}

	return firmware, nil
}
