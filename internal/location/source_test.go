package location

import (
	"context"
	"testing"
	"time"
)

// fakeRawSource is a hand-written rawSource that emits the fixes it is
// fed via push, matching the fake-transport style used throughout this
// module's tests rather than a mocking library.
type fakeRawSource struct {
	out     chan Fix
	started bool
	stopped bool
}

func newFakeRawSource() *fakeRawSource {
	return &fakeRawSource{out: make(chan Fix, 16)}
}

func (f *fakeRawSource) Start(ctx context.Context) error {
	f.started = true
	return nil
}

func (f *fakeRawSource) Stop() {
	f.stopped = true
}

func (f *fakeRawSource) rawFixes() <-chan Fix { return f.out }

func (f *fakeRawSource) push(fix Fix) { f.out <- fix }

func TestFilteredSourceAppliesCadence(t *testing.T) {
	raw := newFakeRawSource()
	fs := NewFilteredSource(raw, FilterConfig{Cadence: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fs.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	base := time.Now()
	raw.push(Fix{Lat: 1, Lon: 1, Time: base})
	first := waitFix(t, fs.Fixes())
	if first.Lat != 1 {
		t.Fatalf("got %+v", first)
	}

	// Within cadence: suppressed.
	raw.push(Fix{Lat: 2, Lon: 2, Time: base.Add(10 * time.Second)})
	select {
	case f := <-fs.Fixes():
		t.Fatalf("expected suppression, got %+v", f)
	case <-time.After(100 * time.Millisecond):
	}

	// Past cadence: emitted.
	raw.push(Fix{Lat: 3, Lon: 3, Time: base.Add(61 * time.Second)})
	third := waitFix(t, fs.Fixes())
	if third.Lat != 3 {
		t.Fatalf("got %+v", third)
	}
}

func TestFilteredSourceAppliesMinDisplacement(t *testing.T) {
	raw := newFakeRawSource()
	fs := NewFilteredSource(raw, FilterConfig{Cadence: time.Millisecond, MinDisplacementMeters: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fs.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	base := time.Now()
	raw.push(Fix{Lat: 37.0, Lon: -122.0, Time: base})
	waitFix(t, fs.Fixes())

	// Tiny move (~11m): suppressed by the 1km minimum displacement.
	raw.push(Fix{Lat: 37.0001, Lon: -122.0, Time: base.Add(time.Second)})
	select {
	case f := <-fs.Fixes():
		t.Fatalf("expected suppression, got %+v", f)
	case <-time.After(100 * time.Millisecond):
	}

	// Large move: emitted.
	raw.push(Fix{Lat: 38.0, Lon: -122.0, Time: base.Add(2 * time.Second)})
	waitFix(t, fs.Fixes())
}

func waitFix(t *testing.T, ch <-chan Fix) Fix {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fix")
		return Fix{}
	}
}
