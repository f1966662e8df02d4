// Package hostui is an optional, developer-facing front end over the
// coordinator's host-exposed observables (deviceStates, isScanning): a
// tcell status dashboard and a beeep desktop notifier. Neither is required
// for the sync engine to run; both are adapters a developer can attach
// instead of (or alongside) the plain console logger.
package hostui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gdamore/tcell/v2"

	"ricohsync/internal/coordinator"
)

// Device names a supervised camera for display; the coordinator's state map
// is keyed by MAC only, so the dashboard needs the paired name alongside it.
type Device struct {
	MAC  string
	Name string
}

// Dashboard renders one box per paired camera, redrawn every time the
// coordinator's device-state observable emits and once every second.
type Dashboard struct {
	coord   *coordinator.Coordinator
	devices func() []Device
}

// NewDashboard builds a Dashboard over coord. devices is consulted on every
// redraw so newly paired/unpaired cameras show up without restarting the
// dashboard.
func NewDashboard(coord *coordinator.Coordinator, devices func() []Device) *Dashboard {
	return &Dashboard{coord: coord, devices: devices}
}

// Run owns a tcell.Screen until ctx is cancelled or the user presses q or
// Ctrl-C. It never returns an error for a clean quit.
func (d *Dashboard) Run(ctx context.Context) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("hostui: new screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("hostui: init screen: %w", err)
	}
	defer screen.Fini()
	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))

	keys := make(chan tcell.Event, 8)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case keys <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	states := d.coord.DeviceStates(ctx)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var latest map[string]coordinator.DeviceState
	redraw := func() { d.draw(screen, latest) }
	redraw()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-states:
			if !ok {
				return nil
			}
			latest = snap
			redraw()
		case <-ticker.C:
			redraw()
		case ev := <-keys:
			switch e := ev.(type) {
			case *tcell.EventKey:
				if e.Rune() == 'q' || e.Key() == tcell.KeyCtrlC || e.Key() == tcell.KeyEscape {
					return nil
				}
			case *tcell.EventResize:
				screen.Sync()
				redraw()
			}
		}
	}
}

func (d *Dashboard) draw(s tcell.Screen, states map[string]coordinator.DeviceState) {
	s.Clear()
	width, height := s.Size()

	headerStyle := tcell.StyleDefault.Bold(true).Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)
	drawText(s, 0, 0, width, headerStyle, " ricohsync — device status (q to quit) ")

	devices := d.devices()
	sort.Slice(devices, func(i, j int) bool { return devices[i].MAC < devices[j].MAC })

	row := 2
	for _, dev := range devices {
		if row >= height-1 {
			break
		}
		st := states[dev.MAC]
		drawDeviceBox(s, row, width, dev, st)
		row += 2
	}
	s.Show()
}

func drawDeviceBox(s tcell.Screen, row, width int, dev Device, st coordinator.DeviceState) {
	color, label := stateColor(st)
	nameStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite)
	stateStyle := tcell.StyleDefault.Foreground(color).Bold(true)

	name := dev.Name
	if name == "" {
		name = dev.MAC
	}
	drawText(s, 0, row, 28, nameStyle, fmt.Sprintf("%-28s", name))
	drawText(s, 28, row, width-28, stateStyle, label)

	detail := ""
	switch st.Kind {
	case coordinator.StateSyncing:
		if st.Firmware != "" {
			detail = "firmware " + st.Firmware
		}
		if st.LastSyncInfo != nil {
			detail += fmt.Sprintf("  last sync %s (%.5f, %.5f)", st.LastSyncInfo.At.Format("15:04:05"), st.LastSyncInfo.Fix.Lat, st.LastSyncInfo.Fix.Lon)
		}
	case coordinator.StateError:
		detail = st.ErrorMessage
	}
	if detail != "" {
		drawText(s, 0, row+1, width, tcell.StyleDefault.Foreground(tcell.ColorGray), "  "+detail)
	}
}

func stateColor(st coordinator.DeviceState) (tcell.Color, string) {
	switch st.Kind {
	case coordinator.StateSyncing:
		return tcell.ColorGreen, "Syncing"
	case coordinator.StateSearching, coordinator.StateConnecting:
		return tcell.ColorYellow, st.Kind.String()
	case coordinator.StateUnreachable:
		return tcell.ColorOrange, "Unreachable"
	case coordinator.StateError:
		if st.IsRecoverable {
			return tcell.ColorYellow, "Error (recoverable)"
		}
		return tcell.ColorRed, "Error"
	default:
		return tcell.ColorGray, "Disconnected"
	}
}

func drawText(s tcell.Screen, x, y, width int, style tcell.Style, text string) {
	col := 0
	for _, r := range text {
		if col >= width {
			break
		}
		s.SetContent(x+col, y, r, nil, style)
		col++
	}
	for col < width {
		s.SetContent(x+col, y, ' ', nil, style)
		col++
	}
}
