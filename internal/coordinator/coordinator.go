package coordinator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ricohsync/internal/location"
	"ricohsync/internal/store"
	"ricohsync/internal/transport"
	"ricohsync/internal/util"
	"ricohsync/internal/vendor"
)

const (
	connectDeadline = 30 * time.Second
	reconcilePeriod = 60 * time.Second
)

// Device is a paired camera as handed to the coordinator: a stable MAC and
// the vendor id it was persisted under (spec §4.6.2 resolves this to a
// vendor.Descriptor by lookup, not by carrying the descriptor itself, so a
// dropped vendor plug-in is detected at the coordinator boundary).
type Device struct {
	MAC      string
	Name     *string
	VendorID string
}

// BleTransport is the narrow collaborator the coordinator needs from the
// BLE Transport component (C4): acquire one live connection. Production
// wiring satisfies this with *transport.BLETransport; tests use a
// hand-written fake.
type BleTransport interface {
	Connect(ctx context.Context, cam transport.Camera, onFound func()) (transport.Connection, error)
}

// LocationCollector is the narrow collaborator from the Location Collector
// (C6): refcounted registration plus the fix broadcast.
type LocationCollector interface {
	RegisterDevice(id string) error
	UnregisterDevice(id string)
	RegisteredCount() int
	Subscribe(ctx context.Context) <-chan location.Fix
}

// PairedDevicesStore is the narrow collaborator from the Paired-Devices
// Store (C7) the coordinator observes and writes back to.
type PairedDevicesStore interface {
	Enabled(ctx context.Context) <-chan []store.PairedDevice
	UpdateLastSyncedAt(ctx context.Context, mac string, atMS int64) error
}

// PairedNameProvider derives the device name written at handshake step 2.
type PairedNameProvider func(v vendor.Descriptor) string

// DefaultPairedName is the production provider: "<Vendor> RicohSync".
func DefaultPairedName(v vendor.Descriptor) string {
	return v.Name + " RicohSync"
}

type deviceTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator is the multi-device coordinator (spec component C8).
type Coordinator struct {
	transport   BleTransport
	collector   LocationCollector
	pairedStore PairedDevicesStore
	registry    *vendor.Registry
	nameFor     PairedNameProvider
	clk         clock

	states *stateStore

	connMu      sync.Mutex
	connections map[string]transport.Connection
	tasks       map[string]*deviceTask

	fanoutMu      sync.Mutex
	fanoutCancel  context.CancelFunc
	fanoutRunning bool

	reconcileMu sync.Mutex
	reconciling atomic.Bool

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	baseCtx       context.Context

	latestMu      sync.Mutex
	latestEnabled []store.PairedDevice

	connectDeadline time.Duration
	reconcilePeriod time.Duration

	onSync func(mac string, fix location.Fix, at time.Time)
}

// SetSyncObserver registers a callback invoked after every successful
// SyncLocation write, for optional diagnostics (internal/diag's fix-history
// recorder) that must not sit on the hot path by default.
func (c *Coordinator) SetSyncObserver(fn func(mac string, fix location.Fix, at time.Time)) {
	c.onSync = fn
}

// NewCoordinator wires a Coordinator over its three collaborators and a
// vendor registry. nameFor defaults to DefaultPairedName when nil.
func NewCoordinator(t BleTransport, collector LocationCollector, pairedStore PairedDevicesStore, registry *vendor.Registry, nameFor PairedNameProvider) *Coordinator {
	if nameFor == nil {
		nameFor = DefaultPairedName
	}
	return &Coordinator{
		transport:       t,
		collector:       collector,
		pairedStore:     pairedStore,
		registry:        registry,
		nameFor:         nameFor,
		clk:             realClock{},
		states:          newStateStore(),
		connections:     map[string]transport.Connection{},
		tasks:           map[string]*deviceTask{},
		baseCtx:         context.Background(),
		connectDeadline: connectDeadline,
		reconcilePeriod: reconcilePeriod,
	}
}

// setClock overrides the clock seam; used only by tests in this package.
func (c *Coordinator) setClock(clk clock) { c.clk = clk }

// SetConnectDeadline overrides the per-device connect deadline (default
// 30s). Must be called before StartDeviceSync/StartBackgroundMonitoring.
func (c *Coordinator) SetConnectDeadline(d time.Duration) {
	if d > 0 {
		c.connectDeadline = d
	}
}

// SetReconcilePeriod overrides the background monitor's reconcile ticker
// (default 60s). Must be called before StartBackgroundMonitoring.
func (c *Coordinator) SetReconcilePeriod(d time.Duration) {
	if d > 0 {
		c.reconcilePeriod = d
	}
}

// DeviceStates is the observable map MAC→state (spec §4.6.1).
func (c *Coordinator) DeviceStates(ctx context.Context) <-chan map[string]DeviceState {
	return c.states.subscribe(ctx)
}

// StateOf returns the current state for mac, if any task has touched it.
func (c *Coordinator) StateOf(mac string) (DeviceState, bool) {
	return c.states.get(normalizeMAC(mac))
}

// Snapshot is a synchronous read of every known device state.
func (c *Coordinator) Snapshot() map[string]DeviceState {
	return c.states.snapshot()
}

// IsScanningNow reports whether a reconcile pass is running or any
// supervised device is Searching/Connecting (spec §4.6.1's isScanning,
// read synchronously).
func (c *Coordinator) IsScanningNow() bool {
	if c.reconciling.Load() {
		return true
	}
	for _, st := range c.states.snapshot() {
		if st.Kind == StateSearching || st.Kind == StateConnecting {
			return true
		}
	}
	return false
}

// IsScanning polls IsScanningNow and emits only on change, for as long as
// ctx is not cancelled. The channel is closed when ctx is done.
func (c *Coordinator) IsScanning(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	go func() {
		defer close(ch)
		last := c.IsScanningNow()
		ch <- last
		t := time.NewTicker(250 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cur := c.IsScanningNow()
				if cur != last {
					last = cur
					select {
					case ch <- cur:
					default:
					}
				}
			}
		}
	}()
	return ch
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

// StartDeviceSync is idempotent: a no-op if a supervising task already
// exists for device.MAC. An unresolvable vendor id fails fast with an
// unrecoverable Error and never attempts a connection (spec §4.6.2 step 1).
func (c *Coordinator) StartDeviceSync(dev Device) {
	mac := normalizeMAC(dev.MAC)
	v, ok := c.registry.GetVendorByID(dev.VendorID)
	if !ok {
		c.states.set(mac, errorState(ErrVendorUnknown.Error(), false))
		return
	}

	c.connMu.Lock()
	if _, exists := c.tasks[mac]; exists {
		c.connMu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(c.baseCtx)
	task := &deviceTask{cancel: cancel, done: make(chan struct{})}
	c.tasks[mac] = task
	c.connMu.Unlock()

	cam := transport.Camera{MAC: mac, Name: dev.Name, Vendor: v}
	go c.runDevice(taskCtx, task, mac, cam)
}

// StopDeviceSync cancels the supervising task for mac and waits for its
// cleanup to finish. A no-op if no task is running.
func (c *Coordinator) StopDeviceSync(mac string) {
	mac = normalizeMAC(mac)
	c.connMu.Lock()
	task, ok := c.tasks[mac]
	c.connMu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

// StopAllDevices stops every supervising task and the background monitor.
// The fan-out task exits on its own once the collector's count reaches 0.
func (c *Coordinator) StopAllDevices() {
	c.connMu.Lock()
	macs := make([]string, 0, len(c.tasks))
	for mac := range c.tasks {
		macs = append(macs, mac)
	}
	c.connMu.Unlock()

	for _, mac := range macs {
		c.StopDeviceSync(mac)
	}
	c.stopMonitor()
}

// RetryDeviceConnection requires the current state be Unreachable or a
// recoverable Error; otherwise it is a no-op (spec §4.6.1, scenario 6).
func (c *Coordinator) RetryDeviceConnection(dev Device) {
	mac := normalizeMAC(dev.MAC)
	st, ok := c.states.get(mac)
	if !ok {
		return
	}
	if st.Kind == StateUnreachable || (st.Kind == StateError && st.IsRecoverable) {
		c.StartDeviceSync(dev)
	}
}

// ClearDeviceState stops any supervising task and removes mac from the
// state map entirely, used when a device is unpaired.
func (c *Coordinator) ClearDeviceState(mac string) {
	mac = normalizeMAC(mac)
	c.StopDeviceSync(mac)
	c.states.remove(mac)
}

func (c *Coordinator) runDevice(ctx context.Context, task *deviceTask, mac string, cam transport.Camera) {
	defer close(task.done)

	if err := c.collector.RegisterDevice(mac); err != nil {
		log.Printf("coordinator: %s register with location collector failed: %v", mac, err)
		c.states.set(mac, errorState(err.Error(), true))
		c.cleanup(mac, true)
		return
	}

	c.states.set(mac, searchingState())

	connectCtx, cancelConnect, timedOut := c.withConnectDeadline(ctx, c.connectDeadline)
	defer cancelConnect()

	onFound := func() {
		c.states.set(mac, connectingState())
	}

	conn, err := c.transport.Connect(connectCtx, cam, onFound)
	if err != nil {
		c.handleConnectFailure(mac, err, timedOut.Load())
		return
	}

	c.connMu.Lock()
	c.connections[mac] = conn
	c.connMu.Unlock()

	if !c.awaitConnected(ctx, conn, true) {
		c.cleanup(mac, false)
		return
	}

	firmware, err := c.handshake(ctx, mac, cam.Vendor, conn)
	if err != nil {
		// LinkLost mid-handshake is not a failure branch: it is the same
		// passive disconnect observation as step 8, just observed early.
		c.cleanup(mac, false)
		return
	}

	c.states.set(mac, syncingState(firmware, nil))
	c.ensureFanout()
	util.Linef("[SYNC]", util.ColorGreen, "%s syncing (firmware=%s)", mac, firmware)

	c.awaitConnected(ctx, conn, false)
	c.cleanup(mac, false)
}

// withConnectDeadline bounds the connect attempt by connectDeadline,
// measured through the clock seam rather than context.WithTimeout's real
// wall clock, so a test can drive it with virtual time. The returned bool
// is true only if the deadline (not an outer cancellation) fired first.
func (c *Coordinator) withConnectDeadline(parent context.Context, d time.Duration) (context.Context, context.CancelFunc, *atomic.Bool) {
	ctx, cancel := context.WithCancel(parent)
	timedOut := &atomic.Bool{}
	timer := c.clk.after(d)
	go func() {
		select {
		case <-timer:
			timedOut.Store(true)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel, timedOut
}

// awaitConnected blocks until conn.IsConnected() == want is observed, or
// ctx is done. It returns false on ctx cancellation.
func (c *Coordinator) awaitConnected(ctx context.Context, conn transport.Connection, want bool) bool {
	if conn.IsConnected() == want {
		return true
	}
	changes := conn.ConnectedChanges(ctx)
	for {
		select {
		case <-ctx.Done():
			return false
		case v, ok := <-changes:
			if !ok {
				return false
			}
			if v == want {
				return true
			}
		}
	}
}

func (c *Coordinator) handleConnectFailure(mac string, err error, timedOut bool) {
	if timedOut || errors.Is(err, transport.ErrTimeout) {
		c.states.set(mac, unreachableState())
		c.cleanup(mac, true)
		return
	}
	if errors.Is(err, context.Canceled) {
		c.cleanup(mac, false)
		return
	}
	c.states.set(mac, errorState(classifyErrorMessage(err), true))
	c.cleanup(mac, true)
}

func classifyErrorMessage(err error) string {
	if errors.Is(err, transport.ErrPairingRejected) {
		return "Pairing rejected. Enable pairing on your camera."
	}
	low := strings.ToLower(err.Error())
	switch {
	case strings.Contains(low, "pairing"):
		return "Pairing rejected. Enable pairing on your camera."
	case strings.Contains(low, "timeout"):
		return "Connection timed out. Is the camera nearby?"
	default:
		return err.Error()
	}
}

// cleanup tears down whatever runDevice built up for mac: the task record,
// the connection, and the collector registration, cancelling the fan-out
// task once the collector's count drops to zero. Per spec §4.6.2, it only
// stomps state to Disconnected unless preserveError is true and the
// current state is already Error or Unreachable.
func (c *Coordinator) cleanup(mac string, preserveError bool) {
	c.connMu.Lock()
	delete(c.tasks, mac)
	conn, hadConn := c.connections[mac]
	delete(c.connections, mac)
	c.connMu.Unlock()

	if hadConn {
		if err := conn.Disconnect(); err != nil {
			log.Printf("coordinator: %s disconnect error: %v", mac, err)
		}
	}

	c.collector.UnregisterDevice(mac)
	if c.collector.RegisteredCount() == 0 {
		c.cancelFanout()
	}

	if preserveError {
		if st, ok := c.states.get(mac); ok && (st.Kind == StateError || st.Kind == StateUnreachable) {
			return
		}
	}
	c.states.set(mac, disconnectedState())
}
