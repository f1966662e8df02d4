package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ricohsync/internal/config"
	"ricohsync/internal/coordinator"
	"ricohsync/internal/diag"
	"ricohsync/internal/hostui"
	"ricohsync/internal/location"
	"ricohsync/internal/status"
	"ricohsync/internal/store"
	"ricohsync/internal/transport"
	"ricohsync/internal/util"
	"ricohsync/internal/vendor"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "pair":
			runPair(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "import":
			runImport(os.Args[2:])
			return
		}
	}

	fs := flag.NewFlagSet("ricohsync", flag.ExitOnError)
	dashboard := fs.Bool("ui", false, "Run the tcell status dashboard instead of printing console status lines")
	notify := fs.Bool("notify", false, "Fire a desktop notification when a device becomes Unreachable or hits an unrecoverable error")
	kmlPath := fs.String("diag-kml", "", "Debug: write an in-memory fix-history KML export to this path on exit (empty disables)")

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to parse configuration: %v", err)
		os.Exit(1)
	}

	printLogo()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	pairedStore, err := store.Open(cfg.DBPath)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to open device store: %v", err)
		os.Exit(1)
	}
	defer pairedStore.Close()

	adapters, err := transport.ListAdapters()
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to enumerate Bluetooth adapters: %v", err)
		os.Exit(1)
	}
	if len(adapters) == 0 {
		util.Line("[ERROR]", util.ColorYellow, "no Bluetooth adapters found")
		os.Exit(1)
	}

	chosenAdapters, err := selectAdapters(adapters, cfg.Adapters, cfg.AdapterIndex)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "%v", err)
		os.Exit(1)
	}
	if len(chosenAdapters) == 0 {
		util.Line("[ERROR]", util.ColorYellow, "no adapters selected")
		os.Exit(1)
	}

	transport.Preflight(ctx, chosenAdapters, transport.PreflightOptions{
		RestartBluetoothService: cfg.RestartBluetoothService,
		CacheMode:               cfg.BlueZCacheMode,
	})

	collector := buildLocationCollector(ctx, cfg)
	defer collector.Stop()

	registry := vendor.DefaultRegistry()

	bleTransport, err := transport.NewBLETransport(chosenAdapters[0])
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to open BLE transport on %s: %v", chosenAdapters[0], err)
		os.Exit(1)
	}

	coord := coordinator.NewCoordinator(bleTransport, collector, pairedStore, registry, nil)
	coord.SetConnectDeadline(cfg.ConnectTimeout)
	coord.SetReconcilePeriod(cfg.ReconcilePeriod)

	var history *diag.History
	if *kmlPath != "" {
		history = diag.NewHistory()
		coord.SetSyncObserver(func(mac string, fix location.Fix, at time.Time) {
			history.Record(mac, fix, at)
		})
		defer func() {
			if err := history.ExportKML(*kmlPath); err != nil {
				util.Linef("[WARN]", util.ColorYellow, "failed to write fix-history KML: %v", err)
			} else {
				util.Linef("[DIAG]", util.ColorGray, "wrote fix history to %s", *kmlPath)
			}
		}()
	}

	if err := coord.StartBackgroundMonitoring(ctx); err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to start background monitor: %v", err)
		os.Exit(1)
	}

	nameLookup := func(mac string) string {
		if d, ok := pairedStore.Get(mac); ok && d.Name != nil {
			return *d.Name
		}
		return ""
	}

	if *notify || *dashboard {
		notifier := hostui.NewNotifier(coord, func() []hostui.Device { return pairedDevices(pairedStore) })
		go notifier.Run(ctx)
	}

	if *dashboard {
		dash := hostui.NewDashboard(coord, func() []hostui.Device { return pairedDevices(pairedStore) })
		err := dash.Run(ctx)
		util.Line("[EXIT]", util.ColorGray, "stopping")
		coord.StopAllDevices()
		if err != nil {
			util.Linef("[ERROR]", util.ColorYellow, "dashboard: %v", err)
			os.Exit(1)
		}
		return
	}

	go status.Run(ctx, cfg.StatsInterval, status.Provider{Coord: coord, Collector: collector, Names: nameLookup})

	<-ctx.Done()
	util.Line("[EXIT]", util.ColorGray, "stopping")
	coord.StopAllDevices()
}

func pairedDevices(s *store.Store) []hostui.Device {
	devices := s.Snapshot()
	out := make([]hostui.Device, 0, len(devices))
	for _, d := range devices {
		name := d.MAC
		if d.Name != nil {
			name = *d.Name
		}
		out = append(out, hostui.Device{MAC: d.MAC, Name: name})
	}
	return out
}

func buildLocationCollector(ctx context.Context, cfg *config.Config) *location.Collector {
	filter := location.FilterConfig{Cadence: 60 * time.Second, MinDisplacementMeters: 10}

	mode := cfg.LocationMode
	if mode == config.LocationModeAuto {
		if strings.TrimSpace(cfg.SerialDevice) != "" {
			mode = config.LocationModeSerial
		} else {
			mode = config.LocationModeGPSD
		}
	}

	var src *location.FilteredSource
	switch mode {
	case config.LocationModeSerial:
		dev := cfg.SerialDevice
		if dev == "" {
			dev = location.GuessSerialDevice()
		}
		src = location.NewFilteredSource(location.NewSerialSource(dev, cfg.SerialBaud), filter)
	case config.LocationModeOff:
		src = location.NewDisabledSource()
	default:
		src = location.NewFilteredSource(location.NewGPSDSource(cfg.GPSDAddr), filter)
	}

	return location.NewCollector(ctx, src)
}

func selectAdapters(adapters []transport.AdapterInfo, requested []string, adapterIndex int) ([]string, error) {
	if len(requested) > 0 {
		valid := make(map[string]bool, len(adapters))
		for _, a := range adapters {
			valid[a.ID] = true
		}
		out := make([]string, 0, len(requested))
		for _, id := range requested {
			if !valid[id] {
				return nil, fmt.Errorf("unknown adapter: %s", id)
			}
			out = append(out, id)
		}
		return uniqueStrings(out), nil
	}

	if adapterIndex >= 0 {
		if adapterIndex >= len(adapters) {
			return nil, fmt.Errorf("adapter-index out of range")
		}
		return []string{adapters[adapterIndex].ID}, nil
	}

	if len(adapters) == 1 {
		return []string{adapters[0].ID}, nil
	}

	fmt.Println("Available Bluetooth interfaces:")
	for i, a := range adapters {
		fmt.Printf("%d: %s (%s)\n", i, a.ID, a.DisplayName)
	}
	s, err := util.PromptString("Select the interface(s) to use (e.g. 0 or 0,1): ")
	if err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{adapters[0].ID}, nil
	}
	out := make([]string, 0)
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		idx, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid adapter index: %s", v)
		}
		if idx < 0 || idx >= len(adapters) {
			return nil, fmt.Errorf("adapter index out of range: %d", idx)
		}
		out = append(out, adapters[idx].ID)
	}
	return uniqueStrings(out), nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		select {
		case <-ch:
		default:
		}
	}()
	return ctx, cancel
}

func printLogo() {
	logo := `
    _/_/_/    _/  _/_/_/    _/        _/_/_/_/
   _/    _/      _/    _/  _/        _/
  _/_/_/    _/  _/_/_/    _/        _/_/_/
 _/        _/  _/    _/  _/        _/
_/        _/  _/_/_/    _/_/_/_/  _/_/_/_/
`
	fmt.Println(logo)
	fmt.Println("RicohSync")
}
