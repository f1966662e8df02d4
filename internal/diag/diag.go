// Package diag is a debug-only, in-memory fix-history recorder: it keeps
// the last few location fixes synced to each device and can render them to
// a KML file for visual inspection, or dump them as JSON. Nothing here is
// durable; a restart loses the history, by design (spec non-goal: no
// persistent location history).
package diag

import (
	"fmt"
	"os"
	"sync"
	"time"

	goccyjson "github.com/goccy/go-json"
	"github.com/twpayne/go-kml/v3"

	"ricohsync/internal/location"
)

const maxHistoryPerDevice = 200

// Sample is one recorded sync: the fix written and when the write happened.
type Sample struct {
	At  time.Time    `json:"at"`
	Fix location.Fix `json:"fix"`
}

// History is a bounded, in-memory ring of recent sync samples per device,
// keyed by MAC. Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	samples map[string][]Sample
}

// NewHistory builds an empty History.
func NewHistory() *History {
	return &History{samples: map[string][]Sample{}}
}

// Record appends a sample for mac, evicting the oldest entry once
// maxHistoryPerDevice is exceeded.
func (h *History) Record(mac string, fix location.Fix, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := append(h.samples[mac], Sample{At: at, Fix: fix})
	if len(s) > maxHistoryPerDevice {
		s = s[len(s)-maxHistoryPerDevice:]
	}
	h.samples[mac] = s
}

// Snapshot returns a copy of every device's recorded samples.
func (h *History) Snapshot() map[string][]Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]Sample, len(h.samples))
	for mac, s := range h.samples {
		out[mac] = append([]Sample(nil), s...)
	}
	return out
}

// JSON renders the current snapshot as indented JSON, using goccy/go-json
// since it's already pulled in as a direct dependency for this kind of
// diagnostic dump (see internal/config.DebugJSON).
func (h *History) JSON() (string, error) {
	b, err := goccyjson.MarshalIndent(h.Snapshot(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExportKML writes one LineString placemark per device with at least two
// recorded fixes, and one Point placemark for any device with exactly one,
// to path.
func (h *History) ExportKML(path string) error {
	snap := h.Snapshot()

	var placemarks []kml.Element
	for mac, samples := range snap {
		if len(samples) == 0 {
			continue
		}
		desc := fmt.Sprintf("%d recorded fixes, last at %s", len(samples), samples[len(samples)-1].At.Format(time.RFC3339))

		if len(samples) == 1 {
			f := samples[0].Fix
			placemarks = append(placemarks, kml.Placemark(
				kml.Name(mac),
				kml.Description(desc),
				kml.Point(kml.Coordinates(kml.Coordinate{Lon: f.Lon, Lat: f.Lat, Alt: f.Alt})),
			))
			continue
		}

		coords := make([]kml.Coordinate, len(samples))
		for i, s := range samples {
			coords[i] = kml.Coordinate{Lon: s.Fix.Lon, Lat: s.Fix.Lat, Alt: s.Fix.Alt}
		}
		placemarks = append(placemarks, kml.Placemark(
			kml.Name(mac),
			kml.Description(desc),
			kml.LineString(kml.Coordinates(coords...)),
		))
	}

	docElements := []kml.Element{
		kml.Name(fmt.Sprintf("ricohsync fix history - %s", time.Now().Format("2006-01-02 15:04:05"))),
	}
	if len(placemarks) > 0 {
		folder := append([]kml.Element{kml.Name("Sync History")}, placemarks...)
		docElements = append(docElements, kml.Folder(folder...))
	}

	doc := kml.KML(kml.Document(docElements...))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("diag: create %s: %w", path, err)
	}
	defer f.Close()

	if err := doc.WriteIndent(f, "", "  "); err != nil {
		return fmt.Errorf("diag: write kml: %w", err)
	}
	return nil
}
