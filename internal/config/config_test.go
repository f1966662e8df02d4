package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(old)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocationMode != LocationModeAuto {
		t.Errorf("LocationMode = %q, want auto", cfg.LocationMode)
	}
	if cfg.ReconcilePeriod != 60*time.Second {
		t.Errorf("ReconcilePeriod = %v, want 60s", cfg.ReconcilePeriod)
	}
	if cfg.DBPath != "ricohsync.db" {
		t.Errorf("DBPath = %q, want ricohsync.db", cfg.DBPath)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(old)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, []string{"-adapters=hci0,hci1", "-gps-mode=serial", "-reconcile-period=10"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Adapters) != 2 || cfg.Adapters[0] != "hci0" || cfg.Adapters[1] != "hci1" {
		t.Errorf("Adapters = %v, want [hci0 hci1]", cfg.Adapters)
	}
	if cfg.LocationMode != LocationModeSerial {
		t.Errorf("LocationMode = %q, want serial", cfg.LocationMode)
	}
	if cfg.ReconcilePeriod != 10*time.Second {
		t.Errorf("ReconcilePeriod = %v, want 10s", cfg.ReconcilePeriod)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(old)

	yamlBody := "adapters: [\"hci2\"]\ndb_path: custom.db\nstats_interval_seconds: 15\n"
	if err := os.WriteFile(filepath.Join(dir, "ricohsync.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Adapters) != 1 || cfg.Adapters[0] != "hci2" {
		t.Errorf("Adapters = %v, want [hci2]", cfg.Adapters)
	}
	if cfg.DBPath != "custom.db" {
		t.Errorf("DBPath = %q, want custom.db", cfg.DBPath)
	}
	if cfg.StatsInterval != 15*time.Second {
		t.Errorf("StatsInterval = %v, want 15s", cfg.StatsInterval)
	}
}

func TestLoadRequiredConfigMissingFails(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(old)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := Load(fs, []string{"-config=missing.yaml"}); err == nil {
		t.Fatal("expected an error when an explicitly requested config file is missing")
	}
}

func TestDebugJSON(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(old)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out, err := cfg.DebugJSON()
	if err != nil {
		t.Fatalf("DebugJSON: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty JSON output")
	}
}
