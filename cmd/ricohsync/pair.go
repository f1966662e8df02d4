package main

// The pairing flow is a one-shot interactive discovery mode: scan, print
// every recognized advertisement annotated with vendor/service names, let
// the operator pick one, and write it into the Paired-Devices Store. It is
// invoked as `ricohsync pair`, a separate subcommand from the long-running
// sync daemon in main().

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"ricohsync/internal/config"
	"ricohsync/internal/ids"
	"ricohsync/internal/store"
	"ricohsync/internal/transport"
	"ricohsync/internal/util"
	"ricohsync/internal/vendor"
)

func runPair(args []string) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	scanSeconds := fs.Int("scan-seconds", 10, "How long to scan for nearby cameras before listing results")

	cfg, err := config.Load(fs, args)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to parse configuration: %v", err)
		os.Exit(1)
	}

	resolver, err := ids.Load(ids.LoadConfig{DataDir: cfg.DataDir, CustomDir: cfg.CustomDataDir})
	if err != nil {
		util.Linef("[WARN]", util.ColorYellow, "failed to load vendor/UUID reference data: %v", err)
	}

	blacklist, err := transport.LoadScanBlacklist(cfg.BlacklistPath)
	if err != nil {
		util.Linef("[WARN]", util.ColorYellow, "failed to load scan blacklist: %v", err)
	}

	adapters, err := transport.ListAdapters()
	if err != nil || len(adapters) == 0 {
		util.Line("[ERROR]", util.ColorYellow, "no Bluetooth adapters found")
		os.Exit(1)
	}
	chosenAdapters, err := selectAdapters(adapters, cfg.Adapters, cfg.AdapterIndex)
	if err != nil || len(chosenAdapters) == 0 {
		util.Line("[ERROR]", util.ColorYellow, "no adapter selected")
		os.Exit(1)
	}

	transport.Preflight(context.Background(), chosenAdapters, transport.PreflightOptions{
		RestartBluetoothService: cfg.RestartBluetoothService,
		CacheMode:               cfg.BlueZCacheMode,
	})

	bt, err := transport.NewBLETransport(chosenAdapters[0])
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to open adapter %s: %v", chosenAdapters[0], err)
		os.Exit(1)
	}

	registry := vendor.DefaultRegistry()

	found := scanForCameras(bt, registry, blacklist, time.Duration(*scanSeconds)*time.Second)
	if len(found) == 0 {
		util.Line("[PAIR]", util.ColorYellow, "no recognized cameras found; is the camera's pairing mode on?")
		return
	}

	sort.Slice(found, func(i, j int) bool { return found[i].MAC < found[j].MAC })
	fmt.Println("Discovered cameras:")
	for i, c := range found {
		vendorName := c.vendor.Name
		ouiName := resolver.VendorForMAC(c.MAC)
		label := c.MAC
		if c.name != "" {
			label = fmt.Sprintf("%s (%s)", c.name, c.MAC)
		}
		if ouiName != "" {
			fmt.Printf("%d: %s — %s, OUI=%s, rssi=%d\n", i, label, vendorName, ouiName, c.rssi)
		} else {
			fmt.Printf("%d: %s — %s, rssi=%d\n", i, label, vendorName, c.rssi)
		}
		for _, sid := range c.serviceIDs {
			fmt.Printf("     service %s\n", resolver.AnnotateServiceUUID(strings.ToLower(sid)))
		}
	}

	idx, err := util.PromptInt("Select a camera to pair (enter the number): ", 0)
	if err != nil || idx < 0 || idx >= len(found) {
		util.Line("[ERROR]", util.ColorYellow, "invalid selection")
		os.Exit(1)
	}
	chosen := found[idx]

	pairedStore, err := store.Open(cfg.DBPath)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to open device store: %v", err)
		os.Exit(1)
	}
	defer pairedStore.Close()

	var namePtr *string
	if chosen.name != "" {
		namePtr = &chosen.name
	}
	if err := pairedStore.Add(context.Background(), chosen.MAC, namePtr, chosen.vendor.ID); err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "failed to pair device: %v", err)
		os.Exit(1)
	}
	if err := pairedStore.SetEnabled(context.Background(), chosen.MAC, true); err != nil {
		util.Linef("[WARN]", util.ColorYellow, "paired but failed to enable syncing: %v", err)
	}
	util.Linef("[PAIR]", util.ColorGreen, "paired %s (%s)", chosen.MAC, chosen.vendor.Name)
}

type discoveredCamera struct {
	MAC        string
	name       string
	rssi       int
	serviceIDs []string
	vendor     vendor.Descriptor
}

func scanForCameras(bt *transport.BLETransport, registry *vendor.Registry, blacklist *transport.ScanBlacklist, window time.Duration) []discoveredCamera {
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	advs, err := bt.Scan(ctx)
	if err != nil {
		util.Linef("[ERROR]", util.ColorYellow, "scan failed: %v", err)
		return nil
	}

	byMAC := map[string]discoveredCamera{}
	for adv := range advs {
		name := ""
		if adv.Name != nil {
			name = *adv.Name
		}
		if blacklist.Match(name) {
			continue
		}
		v, ok := registry.IdentifyVendor(adv.Name, adv.ServiceIDs)
		if !ok {
			continue
		}
		byMAC[adv.MAC] = discoveredCamera{MAC: adv.MAC, name: name, rssi: adv.RSSI, serviceIDs: adv.ServiceIDs, vendor: v}
	}

	out := make([]discoveredCamera, 0, len(byMAC))
	for _, c := range byMAC {
		out = append(out, c)
	}
	return out
}
