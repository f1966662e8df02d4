package coordinator

import (
	"context"
	"sync"
	"time"

	"ricohsync/internal/location"
	"ricohsync/internal/store"
	"ricohsync/internal/transport"
	"ricohsync/internal/vendor"
)

// fakeConnection is a hand-written transport.Connection used to drive the
// coordinator without a real BLE stack.
type fakeConnection struct {
	mu sync.Mutex

	connected bool
	watchers  []chan bool

	firmware    string
	firmwareErr error
	nameErr     error
	dateErr     error
	geoErr      error
	syncLocErr  error

	disconnectCalls int
	nameWrites      []string
	locationWrites  []vendor.Location

	// firmwareRead fires once firmware has been read, letting a test
	// synchronize a connectivity flip to land precisely between the
	// firmware-read and device-name-write handshake steps.
	firmwareRead chan struct{}
	// firmwareAck, when non-nil, holds ReadFirmwareVersion after it has
	// signalled firmwareRead until the test closes it.
	firmwareAck chan struct{}
}

func newFakeConnection(firmware string) *fakeConnection {
	return &fakeConnection{connected: true, firmware: firmware, firmwareRead: make(chan struct{}, 1)}
}

func (f *fakeConnection) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	watchers := append([]chan bool(nil), f.watchers...)
	f.mu.Unlock()
	for _, w := range watchers {
		select {
		case w <- v:
		default:
		}
	}
}

func (f *fakeConnection) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnection) ConnectedChanges(ctx context.Context) <-chan bool {
	ch := make(chan bool, 4)
	f.mu.Lock()
	f.watchers = append(f.watchers, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		for i, w := range f.watchers {
			if w == ch {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (f *fakeConnection) ReadFirmwareVersion(ctx context.Context) (string, error) {
	f.mu.Lock()
	fw, err, ack := f.firmware, f.firmwareErr, f.firmwareAck
	f.mu.Unlock()
	select {
	case f.firmwareRead <- struct{}{}:
	default:
	}
	if ack != nil {
		<-ack
	}
	return fw, err
}

func (f *fakeConnection) SetPairedDeviceName(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameWrites = append(f.nameWrites, name)
	return f.nameErr
}

func (f *fakeConnection) SyncDateTime(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dateErr
}

func (f *fakeConnection) ReadDateTime(ctx context.Context) (string, error) { return "", nil }

func (f *fakeConnection) SetGeoTaggingEnabled(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.geoErr
}

func (f *fakeConnection) IsGeoTaggingEnabled(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeConnection) SyncLocation(ctx context.Context, loc vendor.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncLocErr != nil {
		return f.syncLocErr
	}
	f.locationWrites = append(f.locationWrites, loc)
	return nil
}

func (f *fakeConnection) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return nil
}

func (f *fakeConnection) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locationWrites)
}

func (f *fakeConnection) nameWriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nameWrites)
}

// fakeTransport is a hand-written transport.Transport-like collaborator:
// every Connect either blocks on ctx.Done() (simulating a peripheral that
// never shows up) or returns immediately with a fixed connection or error.
type fakeTransport struct {
	mu    sync.Mutex
	block bool
	conn  transport.Connection
	err   error
	calls int
}

func (t *fakeTransport) Connect(ctx context.Context, cam transport.Camera, onFound func()) (transport.Connection, error) {
	t.mu.Lock()
	t.calls++
	block, conn, err := t.block, t.conn, t.err
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if onFound != nil {
		go onFound()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// fakeCollector is a hand-written LocationCollector.
type fakeCollector struct {
	mu         sync.Mutex
	registered map[string]struct{}
	starts     int
	subs       []chan location.Fix
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{registered: map[string]struct{}{}}
}

func (f *fakeCollector) RegisterDevice(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, already := f.registered[id]; !already && len(f.registered) == 0 {
		f.starts++
	}
	f.registered[id] = struct{}{}
	return nil
}

func (f *fakeCollector) UnregisterDevice(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, id)
}

func (f *fakeCollector) RegisteredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

func (f *fakeCollector) Subscribe(ctx context.Context) <-chan location.Fix {
	ch := make(chan location.Fix, 4)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		for i, w := range f.subs {
			if w == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (f *fakeCollector) emit(fix location.Fix) {
	f.mu.Lock()
	subs := append([]chan location.Fix(nil), f.subs...)
	f.mu.Unlock()
	for _, s := range subs {
		s <- fix
	}
}

func (f *fakeCollector) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// fakeStore is a hand-written PairedDevicesStore.
type fakeStore struct {
	mu         sync.Mutex
	enabled    []store.PairedDevice
	watchers   []chan []store.PairedDevice
	lastSynced map[string]int64
}

func newFakeStore(devices ...store.PairedDevice) *fakeStore {
	return &fakeStore{enabled: devices, lastSynced: map[string]int64{}}
}

func (f *fakeStore) Enabled(ctx context.Context) <-chan []store.PairedDevice {
	ch := make(chan []store.PairedDevice, 1)
	f.mu.Lock()
	ch <- append([]store.PairedDevice(nil), f.enabled...)
	f.watchers = append(f.watchers, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		for i, w := range f.watchers {
			if w == ch {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (f *fakeStore) setEnabled(devices []store.PairedDevice) {
	f.mu.Lock()
	f.enabled = devices
	watchers := append([]chan []store.PairedDevice(nil), f.watchers...)
	f.mu.Unlock()
	for _, w := range watchers {
		select {
		case w <- devices:
		default:
			select {
			case <-w:
			default:
			}
			select {
			case w <- devices:
			default:
			}
		}
	}
}

func (f *fakeStore) UpdateLastSyncedAt(ctx context.Context, mac string, atMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSynced[mac] = atMS
	return nil
}

func (f *fakeStore) getLastSynced(mac string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.lastSynced[mac]
	return v, ok
}
