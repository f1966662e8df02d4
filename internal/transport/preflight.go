package transport

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"ricohsync/internal/util"
)

var strictHCIRe = regexp.MustCompile(`^hci\d+$`)

// AdapterCacheMode controls how aggressively Preflight clears BlueZ's
// cached device objects before scanning begins. A stale cached object for
// a camera that changed its random address otherwise makes every
// subsequent Connect fail with "org.bluez.Error.DoesNotExist".
type AdapterCacheMode string

const (
	AdapterCacheOff   AdapterCacheMode = "off"
	AdapterCacheAuto  AdapterCacheMode = "auto"
	AdapterCacheForce AdapterCacheMode = "force"
)

// PreflightOptions configures Preflight.
type PreflightOptions struct {
	RestartBluetoothService bool
	CacheMode               AdapterCacheMode
}

// Preflight verifies the requested adapters are present (optionally
// restarting the bluetooth service to coax them into existing) and clears
// BlueZ's cached device objects for them so a fresh scan starts clean.
// It is best-effort and returns nothing: a D-Bus connection failure is
// logged and ends preflight early, and a failed service restart or device
// removal is ignored.
func Preflight(ctx context.Context, adapterIDs []string, opt PreflightOptions) {
	if len(adapterIDs) == 0 {
		return
	}
	for i := range adapterIDs {
		adapterIDs[i] = strings.TrimSpace(adapterIDs[i])
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		util.Linef("[PREFLIGHT]", util.ColorYellow, "dbus SystemBus error: %v", err)
		return
	}

	missing := make([]string, 0, len(adapterIDs))
	for _, a := range adapterIDs {
		if a == "" {
			continue
		}
		if !adapterExists(ctx, conn, a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		util.Linef("[PREFLIGHT]", util.ColorYellow, "missing adapters: %s", strings.Join(missing, ","))
		if opt.RestartBluetoothService && util.IsRoot() {
			if !util.ServiceIsActive(ctx, "bluetooth") {
				util.Line("[PREFLIGHT]", util.ColorGray, "bluetooth service inactive -> restarting")
				_ = util.RestartService(ctx, "bluetooth")
			}
			t := time.NewTimer(1500 * time.Millisecond)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			stillMissing := make([]string, 0, len(missing))
			for _, a := range missing {
				if !adapterExists(ctx, conn, a) {
					stillMissing = append(stillMissing, a)
				}
			}
			if len(stillMissing) > 0 {
				util.Linef("[PREFLIGHT]", util.ColorYellow, "still missing adapters: %s", strings.Join(stillMissing, ","))
			}
		}
	}

	if opt.CacheMode == "" {
		opt.CacheMode = AdapterCacheAuto
	}
	if opt.CacheMode == AdapterCacheOff {
		return
	}
	for _, a := range adapterIDs {
		if a == "" {
			continue
		}
		if removed := clearCache(ctx, conn, a, opt.CacheMode); removed > 0 {
			util.Linef("[PREFLIGHT]", util.ColorGray, "adapter=%s cache cleared: %d device objects", a, removed)
		}
	}
}

// AvailableAdapters enumerates local Bluetooth controllers via sysfs, so no
// external command is required to list them.
func AvailableAdapters() ([]string, error) {
	matches, err := filepath.Glob("/sys/class/bluetooth/hci*")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, p := range matches {
		id := strings.TrimSpace(filepath.Base(p))
		if strictHCIRe.MatchString(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func adapterExists(ctx context.Context, conn *dbus.Conn, adapterID string) bool {
	managed, err := getManagedObjects(ctx, conn)
	if err != nil {
		return false
	}
	path := dbus.ObjectPath("/org/bluez/" + strings.TrimSpace(adapterID))
	ifaces, ok := managed[path]
	if !ok {
		return false
	}
	_, ok = ifaces["org.bluez.Adapter1"]
	return ok
}

func getManagedObjects(ctx context.Context, conn *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	root := conn.Object("org.bluez", dbus.ObjectPath("/"))
	call := root.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := call.Store(&managed); err != nil {
		return nil, err
	}
	return managed, nil
}

// clearCache removes stale, disconnected BlueZ device objects under one
// adapter. In AdapterCacheAuto mode it spares paired/trusted devices; in
// AdapterCacheForce mode it removes every disconnected device object.
// Connected devices are never removed.
func clearCache(ctx context.Context, conn *dbus.Conn, adapterID string, mode AdapterCacheMode) int {
	managed, err := getManagedObjects(ctx, conn)
	if err != nil {
		return 0
	}

	adapterObj := conn.Object("org.bluez", dbus.ObjectPath("/org/bluez/"+adapterID))
	prefix := "/org/bluez/" + adapterID + "/dev_"

	removed := 0
	for path, ifaces := range managed {
		p := string(path)
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		dev1, ok := ifaces["org.bluez.Device1"]
		if !ok {
			continue
		}
		if connected, ok := dev1["Connected"].Value().(bool); ok && connected {
			continue
		}
		if mode == AdapterCacheAuto {
			paired, _ := dev1["Paired"].Value().(bool)
			trusted, _ := dev1["Trusted"].Value().(bool)
			if paired || trusted {
				continue
			}
		}
		if adapterObj.CallWithContext(ctx, "org.bluez.Adapter1.RemoveDevice", 0, path).Err == nil {
			removed++
		}
	}
	return removed
}
