// Package config resolves runtime configuration the way the teacher does:
// flag.FlagSet defaults, then a best-effort YAML overlay loaded with
// gopkg.in/yaml.v3, mirroring the "data/default, data/custom" layering the
// teacher's internal/ids loader uses for its own reference data.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	goccyjson "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"ricohsync/internal/transport"
)

// LocationMode selects which GPS input the Location Source reads from.
type LocationMode string

const (
	LocationModeAuto   LocationMode = "auto"
	LocationModeGPSD   LocationMode = "gpsd"
	LocationModeSerial LocationMode = "serial"
	LocationModeOff    LocationMode = "off"
)

// Config is the fully resolved runtime configuration: flag defaults
// overlaid by an optional YAML file.
type Config struct {
	Adapters     []string
	AdapterIndex int

	DataDir       string
	CustomDataDir string
	DBPath        string
	BlacklistPath string

	LocationMode LocationMode
	GPSDAddr     string
	SerialDevice string
	SerialBaud   int

	ReconcilePeriod time.Duration
	ConnectTimeout  time.Duration

	RestartBluetoothService bool
	BlueZCacheMode          transport.AdapterCacheMode

	StatsInterval time.Duration

	// configPath records the YAML overlay file that was read, if any, for
	// diagnostics only.
	configPath string
}

// yamlOverlay is the on-disk shape of the optional runtime/vendor config
// file: only the fields a deployment commonly wants to pin are exposed,
// everything else stays a flag.
type yamlOverlay struct {
	Adapters        []string `yaml:"adapters"`
	DataDir         string   `yaml:"data_dir"`
	CustomDataDir   string   `yaml:"custom_data_dir"`
	DBPath          string   `yaml:"db_path"`
	BlacklistPath   string   `yaml:"blacklist_path"`
	LocationMode    string   `yaml:"location_mode"`
	GPSDAddr        string   `yaml:"gpsd_addr"`
	SerialDevice    string   `yaml:"serial_device"`
	SerialBaud      int      `yaml:"serial_baud"`
	ReconcileSecs   int      `yaml:"reconcile_period_seconds"`
	ConnectTimeoutS int      `yaml:"connect_timeout_seconds"`
	BlueZCacheMode  string   `yaml:"bluez_cache_mode"`
	StatsIntervalS  int      `yaml:"stats_interval_seconds"`
}

const defaultConfigFile = "ricohsync.yaml"

// Load parses args (normally os.Args[1:]) against fs, then overlays
// ricohsync.yaml (or -config's value) when present. A missing default
// ricohsync.yaml is skipped; a missing file named by -config, or a malformed
// overlay file, is an error.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	var (
		adapters       = fs.String("adapters", "", "Comma-separated Bluetooth adapters to use (e.g. hci0,hci1); empty means interactive selection")
		adapterIndex   = fs.Int("adapter-index", -1, "Index of the Bluetooth adapter to use")
		dataDir        = fs.String("data-dir", "./data", "Data directory root (expects default/ and custom/ subfolders)")
		customDataDir  = fs.String("custom-data-dir", "", "Optional custom data directory path (overrides <data-dir>/custom)")
		dbPath         = fs.String("db", "ricohsync.db", "Paired-devices database path")
		blacklistPath  = fs.String("blacklist", "", "Path to a scan blacklist file (one name substring per line)")
		locationMode   = fs.String("gps-mode", "auto", "Location source: auto|gpsd|serial|off")
		gpsdAddr       = fs.String("gpsd-addr", "127.0.0.1:2947", "gpsd TCP address")
		serialDevice   = fs.String("gps-device", "", "GPS serial device path (e.g. /dev/ttyUSB0)")
		serialBaud     = fs.Int("gps-baud", 9600, "GPS serial baud rate")
		reconcileSecs  = fs.Int("reconcile-period", 60, "Background monitor reconcile period, in seconds")
		connectTimeout = fs.Int("connect-timeout", 30, "Per-device connect deadline, in seconds")
		restartBlueZ   = fs.Bool("restart-bluetooth", true, "Preflight: restart bluetooth service if adapters are missing (requires root + systemctl)")
		bluezCache     = fs.String("bluez-cache", "auto", "Preflight: BlueZ device cache cleanup mode: auto|off|force")
		statsInterval  = fs.Int("stats-interval", 5, "Console status interval, in seconds")
		configFlag     = fs.String("config", "", "Path to a YAML runtime/vendor config overlay (default: "+defaultConfigFile+" if present)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Adapters:                splitCSV(*adapters),
		AdapterIndex:            *adapterIndex,
		DataDir:                 strings.TrimSpace(*dataDir),
		CustomDataDir:           strings.TrimSpace(*customDataDir),
		DBPath:                  strings.TrimSpace(*dbPath),
		BlacklistPath:           strings.TrimSpace(*blacklistPath),
		LocationMode:            LocationMode(strings.ToLower(strings.TrimSpace(*locationMode))),
		GPSDAddr:                strings.TrimSpace(*gpsdAddr),
		SerialDevice:            strings.TrimSpace(*serialDevice),
		SerialBaud:              *serialBaud,
		ReconcilePeriod:         time.Duration(*reconcileSecs) * time.Second,
		ConnectTimeout:          time.Duration(*connectTimeout) * time.Second,
		RestartBluetoothService: *restartBlueZ,
		BlueZCacheMode:          transport.AdapterCacheMode(strings.ToLower(strings.TrimSpace(*bluezCache))),
		StatsInterval:           time.Duration(*statsInterval) * time.Second,
	}

	path := strings.TrimSpace(*configFlag)
	if path == "" {
		path = defaultConfigFile
	}
	if err := cfg.overlayYAML(path, *configFlag != ""); err != nil {
		return nil, err
	}

	return cfg, nil
}

// overlayYAML merges a YAML file into cfg. When required is false (the
// default-location case), a missing file is silently skipped.
func (c *Config) overlayYAML(path string, required bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if !required {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	c.configPath = path

	var ov yamlOverlay
	if err := yaml.Unmarshal(b, &ov); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(ov.Adapters) > 0 {
		c.Adapters = ov.Adapters
	}
	if ov.DataDir != "" {
		c.DataDir = ov.DataDir
	}
	if ov.CustomDataDir != "" {
		c.CustomDataDir = ov.CustomDataDir
	}
	if ov.DBPath != "" {
		c.DBPath = ov.DBPath
	}
	if ov.BlacklistPath != "" {
		c.BlacklistPath = ov.BlacklistPath
	}
	if ov.LocationMode != "" {
		c.LocationMode = LocationMode(strings.ToLower(ov.LocationMode))
	}
	if ov.GPSDAddr != "" {
		c.GPSDAddr = ov.GPSDAddr
	}
	if ov.SerialDevice != "" {
		c.SerialDevice = ov.SerialDevice
	}
	if ov.SerialBaud > 0 {
		c.SerialBaud = ov.SerialBaud
	}
	if ov.ReconcileSecs > 0 {
		c.ReconcilePeriod = time.Duration(ov.ReconcileSecs) * time.Second
	}
	if ov.ConnectTimeoutS > 0 {
		c.ConnectTimeout = time.Duration(ov.ConnectTimeoutS) * time.Second
	}
	if ov.BlueZCacheMode != "" {
		c.BlueZCacheMode = transport.AdapterCacheMode(strings.ToLower(ov.BlueZCacheMode))
	}
	if ov.StatsIntervalS > 0 {
		c.StatsInterval = time.Duration(ov.StatsIntervalS) * time.Second
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DebugJSON renders the resolved configuration as JSON for diagnostics.
// goccy/go-json is used here rather than encoding/json purely because it is
// already a direct dependency pulled in for this exact purpose.
func (c *Config) DebugJSON() (string, error) {
	b, err := goccyjson.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
