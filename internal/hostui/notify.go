package hostui

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"

	"ricohsync/internal/coordinator"
)

// Notifier watches device-state transitions and fires a desktop
// notification the moment a device becomes Unreachable or hits an
// unrecoverable Error — the two states where a human needs to physically
// intervene (replace batteries, re-pair, move closer) rather than wait for
// the background monitor to retry.
type Notifier struct {
	coord   *coordinator.Coordinator
	devices func() []Device
}

// NewNotifier builds a Notifier over coord. devices mirrors Dashboard's
// lookup so notifications can name the camera instead of its bare MAC.
func NewNotifier(coord *coordinator.Coordinator, devices func() []Device) *Notifier {
	return &Notifier{coord: coord, devices: devices}
}

// Run blocks until ctx is cancelled, emitting one notification each time a
// device's state kind changes (after the first snapshot) to Unreachable, or
// to Error with IsRecoverable false, whatever the previous kind. It
// never re-fires for a state that hasn't changed, so a device stuck
// Unreachable across several reconcile passes only notifies once.
func (n *Notifier) Run(ctx context.Context) {
	states := n.coord.DeviceStates(ctx)
	prev := map[string]coordinator.StateKind{}
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-states:
			if !ok {
				return
			}
			for mac, st := range snap {
				last, seen := prev[mac]
				prev[mac] = st.Kind
				if first || (seen && last == st.Kind) {
					continue
				}
				n.maybeNotify(mac, st)
			}
			first = false
		}
	}
}

func (n *Notifier) maybeNotify(mac string, st coordinator.DeviceState) {
	var title, body string
	switch {
	case st.Kind == coordinator.StateUnreachable:
		title = "Camera unreachable"
		body = fmt.Sprintf("%s has gone out of range or powered off.", n.label(mac))
	case st.Kind == coordinator.StateError && !st.IsRecoverable:
		title = "Camera sync error"
		body = fmt.Sprintf("%s: %s", n.label(mac), st.ErrorMessage)
	default:
		return
	}
	// beeep.Notify errors (e.g. no notification daemon on a headless box)
	// are not fatal to the dashboard; drop them on the floor like the
	// teacher's own fire-and-forget audio cues.
	_ = beeep.Notify(title, body, "")
}

func (n *Notifier) label(mac string) string {
	for _, d := range n.devices() {
		if d.MAC == mac {
			if d.Name != "" {
				return d.Name
			}
			break
		}
	}
	return mac
}
