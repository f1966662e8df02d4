package location

import (
	"context"
	"testing"
	"time"
)

// fakeSource is a hand-written Source used to drive the Collector without a
// real GPS reader.
type fakeSource struct {
	fixes    chan Fix
	starts   int
	stops    int
	startErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{fixes: make(chan Fix, 4)}
}

func (f *fakeSource) Start(ctx context.Context) error {
	f.starts++
	return f.startErr
}

func (f *fakeSource) Stop() { f.stops++ }

func (f *fakeSource) Fixes() <-chan Fix { return f.fixes }

func TestCollectorStartsOnFirstRegistration(t *testing.T) {
	src := newFakeSource()
	c := NewCollector(context.Background(), src)

	if err := c.RegisterDevice("dev-a"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if src.starts != 1 {
		t.Fatalf("starts = %d, want 1", src.starts)
	}
	if c.RegisteredCount() != 1 {
		t.Fatalf("count = %d, want 1", c.RegisteredCount())
	}

	// Registering a second device does not restart the source.
	if err := c.RegisterDevice("dev-b"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if src.starts != 1 {
		t.Fatalf("starts = %d, want 1 after second registration", src.starts)
	}
	if c.RegisteredCount() != 2 {
		t.Fatalf("count = %d, want 2", c.RegisteredCount())
	}
}

func TestCollectorStopsOnLastUnregistration(t *testing.T) {
	src := newFakeSource()
	c := NewCollector(context.Background(), src)

	_ = c.RegisterDevice("dev-a")
	_ = c.RegisterDevice("dev-b")

	c.UnregisterDevice("dev-a")
	if src.stops != 0 {
		t.Fatalf("stops = %d, want 0 while dev-b remains", src.stops)
	}

	c.UnregisterDevice("dev-b")
	if src.stops != 1 {
		t.Fatalf("stops = %d, want 1", src.stops)
	}
	if c.RegisteredCount() != 0 {
		t.Fatalf("count = %d, want 0", c.RegisteredCount())
	}
}

func TestCollectorDuplicateUnregisterIsNoop(t *testing.T) {
	src := newFakeSource()
	c := NewCollector(context.Background(), src)

	_ = c.RegisterDevice("dev-a")
	c.UnregisterDevice("dev-a")
	c.UnregisterDevice("dev-a")
	if src.stops != 1 {
		t.Fatalf("stops = %d, want 1", src.stops)
	}
}

func TestCollectorBroadcastsLatestFix(t *testing.T) {
	src := newFakeSource()
	c := NewCollector(context.Background(), src)
	_ = c.RegisterDevice("dev-a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := c.Subscribe(ctx)

	fix := Fix{Lat: 1, Lon: 2, Time: time.Now()}
	src.fixes <- fix

	select {
	case got := <-sub:
		if got != fix {
			t.Fatalf("got %+v, want %+v", got, fix)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}

	latest, ok := c.LatestFix()
	if !ok || latest != fix {
		t.Fatalf("LatestFix = %+v, %v", latest, ok)
	}
}

func TestCollectorSeededWithNoFix(t *testing.T) {
	src := newFakeSource()
	c := NewCollector(context.Background(), src)
	if _, ok := c.LatestFix(); ok {
		t.Fatalf("expected no fix before any registration")
	}
}
