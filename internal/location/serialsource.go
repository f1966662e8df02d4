package location

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	goserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"ricohsync/internal/util"
)

// SerialSource reads NMEA sentences from a serial GPS receiver, with
// hot-plug re-detection when the configured device disappears.
type SerialSource struct {
	dev   string
	baud  int
	fixes chan Fix

	mu     sync.Mutex
	closer func()
}

// NewSerialSource builds a raw source reading NMEA from dev at baud. If dev
// is empty, GuessSerialDevice is consulted at connect time.
func NewSerialSource(dev string, baud int) *SerialSource {
	if baud <= 0 {
		baud = 9600
	}
	return &SerialSource{dev: strings.TrimSpace(dev), baud: baud, fixes: make(chan Fix, 8)}
}

func (s *SerialSource) Start(ctx context.Context) error {
	go s.loop(ctx, s.fixes)
	return nil
}

func (s *SerialSource) Stop() {
	s.mu.Lock()
	c := s.closer
	s.mu.Unlock()
	if c != nil {
		c()
	}
}

func (s *SerialSource) rawFixes() <-chan Fix { return s.fixes }

func (s *SerialSource) loop(ctx context.Context, out chan<- Fix) {
	devPath := s.dev
	if devPath == "" {
		devPath = GuessSerialDevice()
	}
	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !connected {
			util.Linef("[GPS]", util.ColorGray, "opening serial %s (%d baud)", devPath, s.baud)
			log.Printf("location: opening serial %s (%d baud)", devPath, s.baud)
		}
		connected = true
		if err := s.read(ctx, devPath, out); err != nil {
			connected = false
			util.Linef("[GPS]", util.ColorYellow, "serial disconnected: %v", err)
			log.Printf("location: serial disconnected: %v", err)
			if guessed := GuessSerialDevice(); guessed != "" && guessed != devPath {
				util.Linef("[GPS]", util.ColorGray, "serial device changed -> %s", guessed)
				devPath = guessed
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (s *SerialSource) read(ctx context.Context, dev string, out chan<- Fix) error {
	if dev == "" {
		return errors.New("no serial GPS device detected")
	}
	port, err := goserial.Open(dev, &goserial.Mode{BaudRate: s.baud})
	if err != nil {
		return err
	}
	defer port.Close()

	s.mu.Lock()
	s.closer = func() { _ = port.Close() }
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.closer = nil
		s.mu.Unlock()
	}()

	go func() {
		<-ctx.Done()
		_ = port.Close()
	}()

	scanner := bufio.NewScanner(port)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 256*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimRight(strings.TrimSpace(scanner.Text()), "\r")
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "$") && !strings.HasPrefix(line, "!") {
			continue
		}

		sent, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		fix, ok := fixFromSentence(sent)
		if !ok {
			continue
		}
		select {
		case out <- fix:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("serial reader stopped")
}

func fixFromSentence(sent nmea.Sentence) (Fix, bool) {
	now := time.Now()
	switch v := sent.(type) {
	case nmea.RMC:
		if strings.EqualFold(v.Validity, "A") {
			return Fix{Lat: v.Latitude, Lon: v.Longitude, Time: now}, true
		}
	case nmea.GGA:
		if v.FixQuality != "0" && (v.Latitude != 0 || v.Longitude != 0) {
			return Fix{Lat: v.Latitude, Lon: v.Longitude, Alt: v.Altitude, Time: now}, true
		}
	case nmea.GLL:
		if strings.EqualFold(v.Validity, "A") {
			return Fix{Lat: v.Latitude, Lon: v.Longitude, Time: now}, true
		}
	case nmea.GNS:
		if v.Latitude != 0 || v.Longitude != 0 {
			return Fix{Lat: v.Latitude, Lon: v.Longitude, Time: now}, true
		}
	}
	return Fix{}, false
}

// ListSerialPorts returns the list of serial device paths currently present.
func ListSerialPorts() ([]string, error) {
	detailed, err := enumerator.GetDetailedPortsList()
	if err == nil && len(detailed) > 0 {
		out := make([]string, 0, len(detailed))
		for _, p := range detailed {
			out = append(out, p.Name)
		}
		return out, nil
	}
	ports, err2 := goserial.GetPortsList()
	if err2 != nil {
		if err != nil {
			return nil, err
		}
		return nil, err2
	}
	return ports, nil
}

// GuessSerialDevice attempts to find a likely GPS serial device, preferring
// stable by-id symlinks over bus-numbered device nodes. Returns "" if
// nothing is detected.
func GuessSerialDevice() string {
	if matches, _ := filepath.Glob("/dev/serial/by-id/*"); len(matches) > 0 {
		return matches[0]
	}
	if ports, _ := ListSerialPorts(); len(ports) > 0 {
		return ports[0]
	}
	for _, c := range []string{"/dev/ttyACM0", "/dev/ttyUSB0", "/dev/ttyAMA0"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
