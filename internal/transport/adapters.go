package transport

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// AdapterInfo is one local Bluetooth controller, enriched with a
// human-friendly label for interactive adapter selection.
type AdapterInfo struct {
	ID          string
	DisplayName string
	BusInfo     string
}

var (
	ifaceLineRe = regexp.MustCompile(`^(hci\d+):.*`)
	busRe       = regexp.MustCompile(`Bus:\s*(USB|UART|PCI|SDIO|Virtual)`)
)

// ListAdapters enumerates local controllers via sysfs and, best-effort,
// enriches them with hciconfig's bus info when the binary is present.
func ListAdapters() ([]AdapterInfo, error) {
	m := map[string]AdapterInfo{}

	matches, _ := filepath.Glob("/sys/class/bluetooth/hci*")
	for _, p := range matches {
		id := strings.TrimSpace(filepath.Base(p))
		if !strictHCIRe.MatchString(id) {
			continue
		}
		m[id] = AdapterInfo{ID: id, DisplayName: adapterDisplayName(id)}
	}

	out, err := exec.Command("hciconfig").CombinedOutput()
	if err == nil {
		enrichFromHciconfig(m, out)
	}

	list := make([]AdapterInfo, 0, len(m))
	for _, inf := range m {
		list = append(list, inf)
	}
	sort.Slice(list, func(i, j int) bool {
		ai, aj := hciIndex(list[i].ID), hciIndex(list[j].ID)
		if ai != aj {
			return ai < aj
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func enrichFromHciconfig(m map[string]AdapterInfo, out []byte) {
	cur, bus := "", ""
	flush := func() {
		if cur == "" || !strictHCIRe.MatchString(cur) {
			cur, bus = "", ""
			return
		}
		inf := m[cur]
		inf.ID = cur
		inf.BusInfo = bus
		if inf.DisplayName == "" {
			inf.DisplayName = adapterDisplayName(cur)
		}
		if strings.HasSuffix(inf.DisplayName, ": Unknown") && bus != "" {
			inf.DisplayName = fmt.Sprintf("%s: %s", cur, bus)
		}
		m[cur] = inf
		cur, bus = "", ""
	}

	for _, raw := range bytes.Split(out, []byte{'\n'}) {
		line := strings.TrimSpace(strings.TrimRight(string(raw), "\r"))
		if line == "" {
			flush()
			continue
		}
		if mm := ifaceLineRe.FindStringSubmatch(line); mm != nil {
			flush()
			cur = mm[1]
			if bm := busRe.FindStringSubmatch(line); bm != nil {
				bus = bm[1]
			}
			continue
		}
		if cur != "" && bus == "" {
			if bm := busRe.FindStringSubmatch(line); bm != nil {
				bus = bm[1]
			}
		}
	}
	flush()
}

// adapterDisplayName derives a human label from sysfs USB manufacturer/product
// strings, e.g. "hci0: Realtek Bluetooth 5.4 Radio".
func adapterDisplayName(adapterID string) string {
	id := strings.TrimSpace(adapterID)
	if !strictHCIRe.MatchString(id) {
		return id
	}
	// "device" is a symlink; do not filepath.Clean() the ".." segment away or
	// the underlying USB attribute files become unreachable.
	base := "/sys/class/bluetooth/" + id + "/device/../"
	man := readSysfsText(base + "manufacturer")
	prod := readSysfsText(base + "product")
	label := strings.Join(strings.Fields(man+" "+prod), " ")
	if label == "" {
		return fmt.Sprintf("%s: Unknown", id)
	}
	return fmt.Sprintf("%s: %s", id, label)
}

func readSysfsText(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func hciIndex(id string) int {
	n := strings.TrimPrefix(strings.TrimSpace(id), "hci")
	i, err := strconv.Atoi(n)
	if err != nil {
		return 1 << 30
	}
	return i
}
