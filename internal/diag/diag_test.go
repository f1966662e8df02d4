package diag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ricohsync/internal/location"
)

func TestHistoryRecordAndSnapshot(t *testing.T) {
	h := NewHistory()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	h.Record("AA:BB:CC:DD:EE:FF", location.Fix{Lat: 1, Lon: 2, Alt: 3, Time: now}, now)
	h.Record("AA:BB:CC:DD:EE:FF", location.Fix{Lat: 4, Lon: 5, Alt: 6, Time: now}, now)

	snap := h.Snapshot()
	samples, ok := snap["AA:BB:CC:DD:EE:FF"]
	if !ok || len(samples) != 2 {
		t.Fatalf("Snapshot()[mac] = %v, want 2 samples", samples)
	}
	if samples[1].Fix.Lat != 4 {
		t.Errorf("second sample Lat = %v, want 4", samples[1].Fix.Lat)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory()
	now := time.Now()
	for i := 0; i < maxHistoryPerDevice+10; i++ {
		h.Record("mac", location.Fix{Lat: float64(i)}, now)
	}
	samples := h.Snapshot()["mac"]
	if len(samples) != maxHistoryPerDevice {
		t.Fatalf("len(samples) = %d, want %d", len(samples), maxHistoryPerDevice)
	}
	if samples[0].Fix.Lat != 10 {
		t.Errorf("oldest surviving sample Lat = %v, want 10 (evicted the first 10)", samples[0].Fix.Lat)
	}
}

func TestHistoryJSON(t *testing.T) {
	h := NewHistory()
	h.Record("mac", location.Fix{Lat: 1, Lon: 2}, time.Now())
	out, err := h.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !strings.Contains(out, "mac") {
		t.Errorf("JSON output missing device key: %s", out)
	}
}

func TestHistoryExportKML(t *testing.T) {
	h := NewHistory()
	now := time.Now()
	h.Record("single", location.Fix{Lat: 1, Lon: 1}, now)
	h.Record("path", location.Fix{Lat: 1, Lon: 1}, now)
	h.Record("path", location.Fix{Lat: 2, Lon: 2}, now)

	path := filepath.Join(t.TempDir(), "out.kml")
	if err := h.ExportKML(path); err != nil {
		t.Fatalf("ExportKML: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported kml: %v", err)
	}
	content := string(b)
	if !strings.Contains(content, "<kml") {
		t.Errorf("exported file does not look like KML: %s", content)
	}
	if !strings.Contains(content, "single") || !strings.Contains(content, "path") {
		t.Errorf("exported KML missing expected placemark names: %s", content)
	}
}

func TestExportKMLEmptyHistory(t *testing.T) {
	h := NewHistory()
	path := filepath.Join(t.TempDir(), "empty.kml")
	if err := h.ExportKML(path); err != nil {
		t.Fatalf("ExportKML on empty history: %v", err)
	}
}
