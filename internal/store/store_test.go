package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "ricohsync.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	s := openTestStore(t)
	name := "My GR IIIx"
	if err := s.Add(context.Background(), "aa:bb:cc:dd:ee:ff", &name, "ricoh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	pd, ok := s.Get("AA:BB:CC:DD:EE:FF")
	if !ok {
		t.Fatalf("expected paired device")
	}
	if pd.VendorID != "ricoh" || pd.Name == nil || *pd.Name != name {
		t.Fatalf("got %+v", pd)
	}
	if !pd.Enabled {
		t.Fatalf("expected newly paired device to default enabled")
	}
	if !s.IsPaired("aa:bb:cc:dd:ee:ff") {
		t.Fatalf("expected IsPaired true regardless of case")
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.Remove(context.Background(), "00:00:00:00:00:00"); err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
}

func TestSetEnabledUnknownIsNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.SetEnabled(context.Background(), "00:00:00:00:00:00", false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHasAnyHasEnabled(t *testing.T) {
	s := openTestStore(t)
	if s.HasAny() || s.HasEnabled() {
		t.Fatalf("expected empty store")
	}
	if err := s.Add(context.Background(), "11:22:33:44:55:66", nil, "ricoh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !s.HasAny() || !s.HasEnabled() {
		t.Fatalf("expected HasAny and HasEnabled after add")
	}
	if err := s.SetEnabled(context.Background(), "11:22:33:44:55:66", false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	if !s.HasAny() || s.HasEnabled() {
		t.Fatalf("expected HasAny true, HasEnabled false after disable")
	}
}

func TestEnabledObservableReflectsOnlyEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := s.Enabled(ctx)
	<-sub // seeded value

	if err := s.Add(context.Background(), "aa:aa:aa:aa:aa:aa", nil, "ricoh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	select {
	case got := <-sub:
		if len(got) != 1 {
			t.Fatalf("got %+v, want 1 enabled device", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for enabled broadcast")
	}
}

func TestSyncEnabledDefaultsTrue(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := s.IsSyncEnabled(ctx)
	if v := <-sub; !v {
		t.Fatalf("expected sync enabled by default")
	}

	if err := s.SetSyncEnabled(context.Background(), false); err != nil {
		t.Fatalf("set sync enabled: %v", err)
	}
	select {
	case v := <-sub:
		if v {
			t.Fatalf("expected false after SetSyncEnabled(false)")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sync flag broadcast")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	name := "Field GR"
	if err := s.Add(context.Background(), "aa:bb:cc:dd:ee:ff", &name, "ricoh"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.UpdateLastSyncedAt(context.Background(), "aa:bb:cc:dd:ee:ff", 12345); err != nil {
		t.Fatalf("update last synced: %v", err)
	}

	path := filepath.Join(t.TempDir(), "export.yaml")
	if err := s.Export(path); err != nil {
		t.Fatalf("export: %v", err)
	}

	s2 := openTestStore(t)
	if err := s2.Import(context.Background(), path); err != nil {
		t.Fatalf("import: %v", err)
	}
	pd, ok := s2.Get("aa:bb:cc:dd:ee:ff")
	if !ok {
		t.Fatalf("expected imported device")
	}
	if pd.Name == nil || *pd.Name != name || pd.LastSyncedAtMS == nil || *pd.LastSyncedAtMS != 12345 {
		t.Fatalf("got %+v", pd)
	}
}

func TestImportRejectsCorruptFile(t *testing.T) {
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "corrupt.yaml")
	if err := os.WriteFile(path, []byte("devices:\n  - mac: \"\"\n    vendor_id: ricoh\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := s.Import(context.Background(), path)
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Fatalf("err = %v, want ErrStorageCorrupt", err)
	}
	if s.HasAny() {
		t.Fatalf("corrupt import must not partially apply")
	}
}
