package coordinator

import (
	"context"

	"ricohsync/internal/store"
)

// StartBackgroundMonitoring starts the single long-lived monitor: a flow
// watcher over the enabled-devices observable and a ticker of the reconcile
// period (60s unless changed with SetReconcilePeriod), both
// driving reconcile (spec §4.6.5). It fails with ErrAlreadyMonitoring if
// already running.
func (c *Coordinator) StartBackgroundMonitoring(ctx context.Context) error {
	c.monitorMu.Lock()
	if c.monitorCancel != nil {
		c.monitorMu.Unlock()
		return ErrAlreadyMonitoring
	}
	monitorCtx, cancel := context.WithCancel(ctx)
	c.monitorCancel = cancel
	c.baseCtx = ctx
	c.monitorMu.Unlock()

	enabledCh := c.pairedStore.Enabled(monitorCtx)
	tk := c.clk.newTicker(c.reconcilePeriod)

	go func() {
		defer tk.stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case devices, ok := <-enabledCh:
				if !ok {
					return
				}
				c.latestMu.Lock()
				c.latestEnabled = devices
				c.latestMu.Unlock()
				c.reconcile(devices)
			case <-tk.c():
				c.latestMu.Lock()
				devices := c.latestEnabled
				c.latestMu.Unlock()
				c.reconcile(devices)
			}
		}
	}()
	return nil
}

func (c *Coordinator) stopMonitor() {
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()
	if c.monitorCancel != nil {
		c.monitorCancel()
		c.monitorCancel = nil
	}
}

// RefreshConnections triggers one immediate reconcile pass over the latest
// known enabled-devices set (spec §4.6.1).
func (c *Coordinator) RefreshConnections() {
	c.latestMu.Lock()
	devices := c.latestEnabled
	c.latestMu.Unlock()
	c.reconcile(devices)
}

// reconcile stops supervising tasks for devices no longer enabled and
// starts supervising tasks for enabled devices whose state is
// Disconnected, Unreachable, or a recoverable Error. It is serialized by
// reconcileMu: only one reconcile pass runs at a time. Spawned tasks are
// anchored to c.baseCtx, the context passed to StartBackgroundMonitoring,
// not to any one reconcile call.
func (c *Coordinator) reconcile(enabled []store.PairedDevice) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	c.reconciling.Store(true)
	defer c.reconciling.Store(false)

	byMAC := make(map[string]store.PairedDevice, len(enabled))
	for _, d := range enabled {
		byMAC[normalizeMAC(d.MAC)] = d
	}

	c.connMu.Lock()
	active := make([]string, 0, len(c.tasks))
	for mac := range c.tasks {
		active = append(active, mac)
	}
	c.connMu.Unlock()

	for _, mac := range active {
		if _, stillEnabled := byMAC[mac]; !stillEnabled {
			c.StopDeviceSync(mac)
		}
	}

	for mac, d := range byMAC {
		st, hasState := c.states.get(mac)
		if hasState && st.Kind != StateDisconnected && st.Kind != StateUnreachable && !(st.Kind == StateError && st.IsRecoverable) {
			continue
		}
		c.StartDeviceSync(Device{MAC: mac, Name: d.Name, VendorID: d.VendorID})
	}
}
