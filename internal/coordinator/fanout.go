package coordinator

import (
	"context"
	"errors"
	"log"

	"ricohsync/internal/location"
	"ricohsync/internal/transport"
	"ricohsync/internal/vendor"
)

// ensureFanout lazily starts the single background fix-broadcast task the
// first time a device reaches Syncing. Repeated calls while it is already
// running are no-ops.
func (c *Coordinator) ensureFanout() {
	c.fanoutMu.Lock()
	defer c.fanoutMu.Unlock()
	if c.fanoutRunning {
		return
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.fanoutCancel = cancel
	c.fanoutRunning = true
	go c.runFanout(ctx)
}

// cancelFanout stops the fan-out task. Called from cleanup once the
// collector's registered count drops to zero.
func (c *Coordinator) cancelFanout() {
	c.fanoutMu.Lock()
	defer c.fanoutMu.Unlock()
	if !c.fanoutRunning {
		return
	}
	c.fanoutCancel()
	c.fanoutRunning = false
}

func (c *Coordinator) runFanout(ctx context.Context) {
	fixes := c.collector.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			c.broadcastFix(ctx, fix)
		}
	}
}

// broadcastFix writes fix to every live connection whose state is Syncing.
// A write failure is logged and otherwise ignored: only passive
// isConnected observation drives state (spec §4.6.4).
func (c *Coordinator) broadcastFix(ctx context.Context, fix location.Fix) {
	c.connMu.Lock()
	snapshot := make(map[string]transport.Connection, len(c.connections))
	for mac, conn := range c.connections {
		snapshot[mac] = conn
	}
	c.connMu.Unlock()

	now := c.clk.now()
	loc := vendor.LocationFromFix(fix.Lat, fix.Lon, fix.Alt, fix.Time)

	for mac, conn := range snapshot {
		st, ok := c.states.get(mac)
		if !ok || st.Kind != StateSyncing {
			continue
		}
		if err := conn.SyncLocation(ctx, loc); err != nil {
			if !errors.Is(err, vendor.ErrUnsupported) {
				log.Printf("coordinator: %s sync location failed: %v", mac, err)
			}
			continue
		}

		if err := c.pairedStore.UpdateLastSyncedAt(ctx, mac, now.UnixMilli()); err != nil {
			log.Printf("coordinator: %s persist last-synced-at failed: %v", mac, err)
		}
		c.states.set(mac, syncingState(st.Firmware, &LastSyncInfo{At: now, Fix: fix}))
		if c.onSync != nil {
			c.onSync(mac, fix, now)
		}
	}
}
