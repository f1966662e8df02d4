package transport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadScanBlacklist_MissingFileIsNotError(t *testing.T) {
	b, err := LoadScanBlacklist(filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil {
		t.Fatalf("LoadScanBlacklist: %v", err)
	}
	if b != nil {
		t.Fatalf("expected nil blacklist for missing file, got %+v", b)
	}
}

func TestNilBlacklistMatchesNothing(t *testing.T) {
	var b *ScanBlacklist
	if b.Match("anything") {
		t.Fatal("nil *ScanBlacklist should never match")
	}
}

func TestScanBlacklistMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.txt")
	content := "# comment\n; also a comment\nMI Band\n\nflipper\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadScanBlacklist(path)
	if err != nil {
		t.Fatalf("LoadScanBlacklist: %v", err)
	}
	if b == nil {
		t.Fatal("expected non-nil blacklist")
	}

	if !b.Match("My Mi Band 7") {
		t.Error("expected case-insensitive substring match on 'Mi Band'")
	}
	if !b.Match("Flipper Zero") {
		t.Error("expected substring match on 'flipper'")
	}
	if b.Match("RICOH THETA") {
		t.Error("did not expect RICOH THETA to match the blacklist")
	}
}

func TestScanBlacklistReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.txt")
	if err := os.WriteFile(path, []byte("keyboard\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadScanBlacklist(path)
	if err != nil {
		t.Fatalf("LoadScanBlacklist: %v", err)
	}
	b.statEvery = 0 // force maybeReload to always re-stat in this test

	if !b.Match("Bluetooth Keyboard") {
		t.Fatal("expected initial keyword to match")
	}

	// mtime granularity on some filesystems is 1s; back-date lastStat so the
	// next Match is guaranteed to re-stat.
	b.lastStat = time.Now().Add(-time.Hour)
	if err := os.WriteFile(path, []byte("mouse\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if b.Match("Bluetooth Keyboard") {
		t.Error("expected reloaded blacklist to drop 'keyboard'")
	}
	if !b.Match("Wireless Mouse") {
		t.Error("expected reloaded blacklist to pick up 'mouse'")
	}
}
