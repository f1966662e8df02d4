package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tg "tinygo.org/x/bluetooth"

	"ricohsync/internal/util"
	"ricohsync/internal/vendor"
)

const connectGattTimeout = 15 * time.Second

// BLETransport is the production Transport backed by a single local
// Bluetooth adapter via tinygo.org/x/bluetooth for scanning and GATT I/O,
// supplemented by a BlueZ D-Bus property watcher (bluezsignal.go) for the
// push-based IsConnected signal tinygo does not expose portably.
type BLETransport struct {
	adapterID string
	adapter   *tg.Adapter
}

// NewBLETransport enables the named local adapter (e.g. "hci0") and wraps
// it as a Transport.
func NewBLETransport(adapterID string) (*BLETransport, error) {
	adapterID = strings.TrimSpace(adapterID)
	adapter := tg.NewAdapter(adapterID)
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: enable adapter %s: %v", ErrTransientIO, adapterID, err)
	}
	return &BLETransport{adapterID: adapterID, adapter: adapter}, nil
}

func (t *BLETransport) Scan(ctx context.Context) (<-chan Advertisement, error) {
	out := make(chan Advertisement, 64)
	errCh := make(chan error, 1)

	go func() {
		err := t.adapter.Scan(func(_ *tg.Adapter, res tg.ScanResult) {
			name := res.LocalName()
			var namePtr *string
			if name != "" {
				namePtr = &name
			}
			ids := make([]string, 0, 4)
			for _, u := range res.ServiceUUIDs() {
				ids = append(ids, u.String())
			}
			adv := Advertisement{
				MAC:        strings.ToUpper(res.Address.String()),
				Name:       namePtr,
				ServiceIDs: ids,
				RSSI:       int(res.RSSI),
			}
			select {
			case out <- adv:
			case <-ctx.Done():
			}
		})
		errCh <- err
	}()

	go func() {
		<-ctx.Done()
		_ = t.adapter.StopScan()
		close(out)
	}()

	// Surface an immediate Scan() setup failure (e.g. adapter busy) without
	// blocking the caller on the whole scan lifetime.
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrTransientIO, err)
		}
	case <-time.After(200 * time.Millisecond):
	}
	return out, nil
}

func (t *BLETransport) FindByAddress(ctx context.Context, mac string) (<-chan Advertisement, error) {
	all, err := t.Scan(ctx)
	if err != nil {
		return nil, err
	}
	mac = strings.ToUpper(strings.TrimSpace(mac))
	out := make(chan Advertisement, 8)
	go func() {
		defer close(out)
		for adv := range all {
			if adv.MAC != mac {
				continue
			}
			select {
			case out <- adv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Connect waits to see cam.MAC on the air, fires onFound once observed,
// connects, and discovers the vendor's GATT characteristics by identifier.
func (t *BLETransport) Connect(ctx context.Context, cam Camera, onFound func()) (Connection, error) {
	addr, err := macToAddress(cam.MAC)
	if err != nil {
		return nil, err
	}

	adv, err := t.FindByAddress(ctx, cam.MAC)
	if err != nil {
		return nil, err
	}
	select {
	case _, ok := <-adv:
		if !ok {
			return nil, fmt.Errorf("%w: scan ended before %s was seen", ErrTimeout, cam.MAC)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if onFound != nil {
		go onFound()
	}
	_ = t.adapter.StopScan()

	params := tg.ConnectionParams{ConnectionTimeout: tg.NewDuration(connectGattTimeout)}
	dev, err := t.adapter.Connect(addr, params)
	if err != nil {
		return nil, classifyConnectError(err)
	}

	services, err := dev.DiscoverServices(nil)
	if err != nil {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: discover services: %v", ErrTransientIO, err)
	}

	chars := map[string]tg.DeviceCharacteristic{}
	for _, svc := range services {
		svcUUID := strings.ToLower(svc.UUID().String())
		cs, cerr := svc.DiscoverCharacteristics(nil)
		if cerr != nil {
			continue
		}
		for _, c := range cs {
			key := gattKey(svcUUID, strings.ToLower(c.UUID().String()))
			chars[key] = c
		}
	}

	watcher, werr := newConnectedWatcher(ctx, t.adapterID, cam.MAC)
	if werr != nil {
		// Fall back to an always-connected watcher; GATT operations still
		// fail fast via tinygo's own errors if the link actually drops.
		watcher = newStaticConnectedWatcher(true)
	}

	return &bleConnection{
		mac:     cam.MAC,
		vendor:  cam.Vendor,
		dev:     dev,
		chars:   chars,
		watcher: watcher,
	}, nil
}

func gattKey(serviceID, charID string) string {
	return serviceID + "|" + charID
}

func classifyConnectError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "pairing"):
		return fmt.Errorf("%w: %v", ErrPairingRejected, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransientIO, err)
	}
}

// macToAddress parses a colon-separated MAC string into a tinygo Address.
func macToAddress(mac string) (tg.Address, error) {
	parsed, err := tg.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return tg.Address{}, fmt.Errorf("%w: invalid MAC %q: %v", ErrTransientIO, mac, err)
	}
	return tg.Address{MACAddress: tg.MACAddress{MAC: parsed}}, nil
}

// bleConnection implements Connection over one already-connected tinygo
// Device, gating every operation by the vendor's Capabilities and by the
// live IsConnected signal.
type bleConnection struct {
	mac    string
	vendor vendor.Descriptor
	dev    tg.Device
	chars  map[string]tg.DeviceCharacteristic

	mu      sync.Mutex
	watcher *connectedWatcher
}

func (c *bleConnection) char(ref vendor.CharacteristicRef) (tg.DeviceCharacteristic, bool) {
	ch, ok := c.chars[gattKey(strings.ToLower(ref.ServiceID), strings.ToLower(ref.CharacteristicID))]
	return ch, ok
}

func (c *bleConnection) checkLive() error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: %s", ErrLinkLost, c.mac)
	}
	return nil
}

func (c *bleConnection) ReadFirmwareVersion(ctx context.Context) (string, error) {
	if !c.vendor.Capabilities().ReadsFirmwareVersion {
		return "", vendor.ErrUnsupported
	}
	if err := c.checkLive(); err != nil {
		return "", err
	}
	ch, ok := c.char(c.vendor.Gatt.FirmwareVersion)
	if !ok {
		return "", fmt.Errorf("%w: firmware characteristic not found", ErrTransientIO)
	}
	buf := make([]byte, 64)
	n, err := ch.Read(buf)
	if err != nil {
		return "", fmt.Errorf("%w: read firmware: %v", ErrTransientIO, err)
	}
	return strings.TrimRight(string(buf[:n]), "\x00"), nil
}

func (c *bleConnection) SetPairedDeviceName(ctx context.Context, name string) error {
	if !c.vendor.Capabilities().WritesPairedDeviceName {
		return vendor.ErrUnsupported
	}
	if err := c.checkLive(); err != nil {
		return err
	}
	ch, ok := c.char(c.vendor.Gatt.PairedDeviceName)
	if !ok {
		return fmt.Errorf("%w: paired-device-name characteristic not found", ErrTransientIO)
	}
	if _, err := ch.Write([]byte(name)); err != nil {
		return fmt.Errorf("%w: write paired device name: %v", ErrTransientIO, err)
	}
	return nil
}

func (c *bleConnection) SyncDateTime(ctx context.Context, t time.Time) error {
	if !c.vendor.Capabilities().WritesDateTime {
		return vendor.ErrUnsupported
	}
	if err := c.checkLive(); err != nil {
		return err
	}
	ch, ok := c.char(c.vendor.Gatt.DateTime)
	if !ok {
		return fmt.Errorf("%w: date-time characteristic not found", ErrTransientIO)
	}
	payload := c.vendor.EncodeDateTime(t)
	if _, err := ch.Write(payload); err != nil {
		return fmt.Errorf("%w: write date-time: %v", ErrTransientIO, err)
	}
	return nil
}

func (c *bleConnection) ReadDateTime(ctx context.Context) (string, error) {
	if !c.vendor.Capabilities().WritesDateTime {
		return "", vendor.ErrUnsupported
	}
	if err := c.checkLive(); err != nil {
		return "", err
	}
	ch, ok := c.char(c.vendor.Gatt.DateTime)
	if !ok {
		return "", fmt.Errorf("%w: date-time characteristic not found", ErrTransientIO)
	}
	buf := make([]byte, 16)
	n, err := ch.Read(buf)
	if err != nil {
		return "", fmt.Errorf("%w: read date-time: %v", ErrTransientIO, err)
	}
	return c.vendor.DecodeDateTime(buf[:n])
}

func (c *bleConnection) SetGeoTaggingEnabled(ctx context.Context, enabled bool) error {
	if !c.vendor.Capabilities().TogglesGeoTagging {
		return vendor.ErrUnsupported
	}
	if err := c.checkLive(); err != nil {
		return err
	}
	ch, ok := c.char(c.vendor.Gatt.GeoTaggingFlag)
	if !ok {
		return fmt.Errorf("%w: geo-tag characteristic not found", ErrTransientIO)
	}
	payload := c.vendor.EncodeGeoTaggingEnabled(enabled)
	if _, err := ch.Write(payload); err != nil {
		return fmt.Errorf("%w: write geo-tag flag: %v", ErrTransientIO, err)
	}
	return nil
}

func (c *bleConnection) IsGeoTaggingEnabled(ctx context.Context) (bool, error) {
	if !c.vendor.Capabilities().TogglesGeoTagging {
		return false, vendor.ErrUnsupported
	}
	if err := c.checkLive(); err != nil {
		return false, err
	}
	ch, ok := c.char(c.vendor.Gatt.GeoTaggingFlag)
	if !ok {
		return false, fmt.Errorf("%w: geo-tag characteristic not found", ErrTransientIO)
	}
	buf := make([]byte, 1)
	n, err := ch.Read(buf)
	if err != nil {
		return false, fmt.Errorf("%w: read geo-tag flag: %v", ErrTransientIO, err)
	}
	return c.vendor.DecodeGeoTaggingEnabled(buf[:n])
}

func (c *bleConnection) SyncLocation(ctx context.Context, loc vendor.Location) error {
	if !c.vendor.Capabilities().WritesLocation {
		return vendor.ErrUnsupported
	}
	if err := c.checkLive(); err != nil {
		return err
	}
	ch, ok := c.char(c.vendor.Gatt.Location)
	if !ok {
		return fmt.Errorf("%w: location characteristic not found", ErrTransientIO)
	}
	payload := c.vendor.EncodeLocation(loc)
	if _, err := ch.Write(payload); err != nil {
		return fmt.Errorf("%w: write location: %v", ErrTransientIO, err)
	}
	return nil
}

func (c *bleConnection) Disconnect() error {
	if err := c.dev.Disconnect(); err != nil {
		util.Linef("[BLE]", util.ColorYellow, "disconnect %s: %v", c.mac, err)
		return fmt.Errorf("%w: disconnect: %v", ErrTransientIO, err)
	}
	return nil
}

func (c *bleConnection) IsConnected() bool {
	if c.watcher == nil {
		return true
	}
	return c.watcher.Current()
}

func (c *bleConnection) ConnectedChanges(ctx context.Context) <-chan bool {
	if c.watcher == nil {
		ch := make(chan bool)
		close(ch)
		return ch
	}
	return c.watcher.Subscribe(ctx)
}
