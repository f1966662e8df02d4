// Package location implements the location source and collector (spec
// components C5 and C6): a filtered stream of GPS fixes, refcounted by the
// set of devices currently syncing so the underlying GPS hardware is only
// powered on while at least one camera needs it.
package location

import (
	"context"
	"math"
	"sync"
	"time"
)

// Fix is one GPS position sample.
type Fix struct {
	Lat, Lon, Alt float64
	Time          time.Time
}

// Source produces position fixes from a single physical input. Start and
// Stop are idempotent; Fixes returns the same channel on every call.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	Fixes() <-chan Fix
}

// rawSource is the unfiltered reader behind a Source: gpsd or serial NMEA,
// emitting a Fix as soon as each sentence/report parses.
type rawSource interface {
	Start(ctx context.Context) error
	Stop()
	rawFixes() <-chan Fix
}

// FilterConfig bounds a FilteredSource's output rate and sensitivity.
type FilterConfig struct {
	// Cadence is the minimum time between emitted fixes.
	Cadence time.Duration
	// MinDisplacementMeters suppresses a fix that hasn't moved at least
	// this far from the last emitted one. Zero disables the check.
	MinDisplacementMeters float64
}

const defaultCadence = 60 * time.Second

func (c FilterConfig) normalized() FilterConfig {
	if c.Cadence <= 0 {
		c.Cadence = defaultCadence
	}
	if c.MinDisplacementMeters < 0 {
		c.MinDisplacementMeters = 0
	}
	return c
}

// FilteredSource wraps a raw reader with the Source's cadence and minimum
// displacement semantics: a thin layer over the OS location input that
// throttles how often a fix reaches subscribers.
type FilteredSource struct {
	raw rawSource
	cfg FilterConfig
	out chan Fix

	mu       sync.Mutex
	started  bool
	lastEmit time.Time
	haveLast bool
	lastLat  float64
	lastLon  float64
}

// NewFilteredSource wraps raw with the given filter configuration.
func NewFilteredSource(raw rawSource, cfg FilterConfig) *FilteredSource {
	return &FilteredSource{raw: raw, cfg: cfg.normalized(), out: make(chan Fix, 1)}
}

func (f *FilteredSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := f.raw.Start(ctx); err != nil {
		return err
	}
	f.started = true
	go f.pump(ctx)
	return nil
}

func (f *FilteredSource) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
	f.raw.Stop()
}

func (f *FilteredSource) Fixes() <-chan Fix { return f.out }

func (f *FilteredSource) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-f.raw.rawFixes():
			if !ok {
				return
			}
			if !f.accept(fix) {
				continue
			}
			f.publish(ctx, fix)
		}
	}
}

// publish keeps only the latest fix if the consumer is behind, matching
// the Collector's latest-value semantics downstream.
func (f *FilteredSource) publish(ctx context.Context, fix Fix) {
	select {
	case f.out <- fix:
		return
	default:
	}
	select {
	case <-f.out:
	default:
	}
	select {
	case f.out <- fix:
	case <-ctx.Done():
	}
}

func (f *FilteredSource) accept(fix Fix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.haveLast && fix.Time.Sub(f.lastEmit) < f.cfg.Cadence {
		return false
	}
	if f.haveLast && f.cfg.MinDisplacementMeters > 0 {
		if haversineMeters(f.lastLat, f.lastLon, fix.Lat, fix.Lon) < f.cfg.MinDisplacementMeters {
			return false
		}
	}
	f.lastEmit = fix.Time
	f.lastLat, f.lastLon = fix.Lat, fix.Lon
	f.haveLast = true
	return true
}

// disabledSource is the rawSource behind LocationModeOff: it never emits a
// fix and its Start/Stop are no-ops, so a Collector built over it just sits
// idle instead of dialing gpsd or opening a serial port nobody configured.
type disabledSource struct {
	fixes chan Fix
}

// NewDisabledSource returns a Source that never produces a fix, for
// deployments running with location sync turned off.
func NewDisabledSource() *FilteredSource {
	return NewFilteredSource(&disabledSource{fixes: make(chan Fix)}, FilterConfig{})
}

func (d *disabledSource) Start(ctx context.Context) error { return nil }
func (d *disabledSource) Stop()                           {}
func (d *disabledSource) rawFixes() <-chan Fix            { return d.fixes }

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusMeters = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
