// Package status prints periodic structured status lines to the console,
// the non-interactive counterpart to internal/hostui's tcell dashboard.
package status

import (
	"context"
	"time"

	"ricohsync/internal/coordinator"
	"ricohsync/internal/location"
	"ricohsync/internal/util"
)

// Provider supplies the values a status line reports. Coord is required;
// Collector and Names are optional (nil-safe) for callers that only want
// device-state lines.
type Provider struct {
	Coord     *coordinator.Coordinator
	Collector *location.Collector
	Names     func(mac string) string
}

// Run prints one status block every interval until ctx is cancelled.
func Run(ctx context.Context, interval time.Duration, p Provider) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			printOnce(p)
		}
	}
}

func printOnce(p Provider) {
	if p.Collector != nil {
		if fix, ok := p.Collector.LatestFix(); ok {
			util.Linef("[GPS]", util.ColorCyan, "lat=%.5f lon=%.5f alt=%.1fm (%s)", fix.Lat, fix.Lon, fix.Alt, fix.Time.Format("15:04:05"))
		} else {
			util.Line("[GPS]", util.ColorGray, "no fix yet")
		}
	}

	if p.Coord != nil {
		for mac, st := range p.Coord.Snapshot() {
			name := mac
			if p.Names != nil {
				if n := p.Names(mac); n != "" {
					name = n
				}
			}
			color := util.ColorGray
			switch st.Kind {
			case coordinator.StateSyncing:
				color = util.ColorGreen
			case coordinator.StateSearching, coordinator.StateConnecting:
				color = util.ColorCyan
			case coordinator.StateUnreachable, coordinator.StateError:
				color = util.ColorYellow
			}
			util.Linef("[DEVICE]", color, "%s: %s", name, st.Kind.String())
		}
	}

	if pct := util.BatteryPercent(); pct != "" {
		util.Linef("[BATTERY]", util.ColorGray, "%s", pct)
	}
}
