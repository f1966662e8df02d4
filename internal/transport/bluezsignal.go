package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// connectedWatcher tracks BlueZ's org.bluez.Device1.Connected property for
// one device object path by subscribing to PropertiesChanged, rather than
// polling GetManagedObjects. This is the push-based source of truth behind
// Connection.IsConnected/ConnectedChanges: tinygo's own Device has no
// portable "has the link dropped" accessor on Linux, but BlueZ already
// raises this exact signal on disconnect.
type connectedWatcher struct {
	mu        sync.Mutex
	connected bool
	subs      []chan bool

	conn *dbus.Conn
}

// newConnectedWatcher opens a dedicated system-bus connection (not shared
// with any adapter singleton, whose cached connection can miss signals)
// and watches devPath for Connected transitions until ctx is done.
func newConnectedWatcher(ctx context.Context, adapterID, mac string) (*connectedWatcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	devPath := dbus.ObjectPath(devicePath(adapterID, mac))
	obj := conn.Object("org.bluez", devPath)

	initial := true
	if v, perr := obj.GetProperty("org.bluez.Device1.Connected"); perr == nil {
		if b, ok := v.Value().(bool); ok {
			initial = b
		}
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(devPath),
	); err != nil {
		conn.Close()
		return nil, err
	}

	w := &connectedWatcher{connected: initial, conn: conn}

	sigCh := make(chan *dbus.Signal, 16)
	conn.Signal(sigCh)

	go w.run(ctx, sigCh)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return w, nil
}

func (w *connectedWatcher) run(ctx context.Context, sigCh chan *dbus.Signal) {
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			w.handle(sig)
		case <-ctx.Done():
			return
		}
	}
}

func (w *connectedWatcher) handle(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != "org.bluez.Device1" {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	v, ok := changed["Connected"]
	if !ok {
		return
	}
	val, ok := v.Value().(bool)
	if !ok {
		return
	}

	w.mu.Lock()
	if val == w.connected {
		w.mu.Unlock()
		return
	}
	w.connected = val
	subs := append([]chan bool(nil), w.subs...)
	w.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- val:
		default:
		}
	}
}

func (w *connectedWatcher) Current() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *connectedWatcher) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 4)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		for i, c := range w.subs {
			if c == ch {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				break
			}
		}
		w.mu.Unlock()
		close(ch)
	}()
	return ch
}

// staticConnectedWatcher is used when the D-Bus watcher cannot be set up
// (e.g. running against a mocked adapter in development); it reports a
// fixed value and never signals a transition.
type staticConnectedWatcher = connectedWatcher

func newStaticConnectedWatcher(v bool) *connectedWatcher {
	return &connectedWatcher{connected: v}
}

// devicePath derives the BlueZ device object path from an adapter id and a
// colon-separated MAC address, e.g. ("hci0", "D4:E9:F4:E2:B5:8A") ->
// "/org/bluez/hci0/dev_D4_E9_F4_E2_B5_8A".
func devicePath(adapterID, mac string) string {
	id := strings.TrimSpace(adapterID)
	if id == "" {
		id = "hci0"
	}
	devID := strings.ReplaceAll(strings.ToUpper(mac), ":", "_")
	return "/org/bluez/" + id + "/dev_" + devID
}
