package client

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// Length of the hex device fingerprint
	fingerprintLength = 32

	noMAC = "00:00:00:00:00:00"
)

var errNoMAC = errors.New("no valid MAC address found")

// DeviceInfo lists the attributes a fingerprint is computed from
type DeviceInfo struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	CPUs     int    `json:"cpus"`
	CPUModel string `json:"cpuModel"`
	Timezone string `json:"timezone"`
	Locale   string `json:"locale"`
}

// Fingerprinter derives the device id and hardware id of this machine. Both
// are computed once and reused.
type Fingerprinter struct {
	logger *slog.Logger

	hostname   func() (string, error)
	interfaces func() ([]net.Interface, error)
	readFile   func(string) ([]byte, error)
	getenv     func(string) string
	location   func() *time.Location

	mu       sync.Mutex
	deviceID string
	hardware string
}

// NewFingerprinter creates a fingerprinter backed by the host environment
func NewFingerprinter(logger *slog.Logger) *Fingerprinter {
	return &Fingerprinter{
		logger:     logger,
		hostname:   os.Hostname,
		interfaces: net.Interfaces,
		readFile:   os.ReadFile,
		getenv:     os.Getenv,
		location:   func() *time.Location { return time.Local },
	}
}

// Info collects the fingerprint attributes. Missing attributes are left
// empty rather than failing.
func (f *Fingerprinter) Info() DeviceInfo {
	host, err := f.hostname()
	if err != nil {
		f.logger.Warn("hostname unavailable", slog.String("error", err.Error()))
	}
	return DeviceInfo{
		Hostname: strings.ToLower(strings.TrimSpace(host)),
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUs:     runtime.NumCPU(),
		CPUModel: f.cpuModel(),
		Timezone: f.location().String(),
		Locale:   f.locale(),
	}
}

// DeviceID returns the stable software fingerprint
func (f *Fingerprinter) DeviceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deviceID == "" {
		f.deviceID = Fingerprint(f.Info())
		f.logger.Debug("device fingerprint computed", slog.String("device_id", f.deviceID))
	}
	return f.deviceID
}

// HardwareID returns the primary MAC address
func (f *Fingerprinter) HardwareID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hardware != "" {
		return f.hardware, nil
	}
	mac, err := f.primaryMAC()
	if err != nil {
		return "", err
	}
	f.hardware = mac
	return mac, nil
}

// Fingerprint hashes the device attributes into a device id
func Fingerprint(info DeviceInfo) string {
	factors := []string{
		info.Hostname,
		info.OS,
		info.Arch,
		strconv.Itoa(info.CPUs),
		info.CPUModel,
		info.Timezone,
		info.Locale,
	}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// primaryMAC prefers an up, non-loopback interface and falls back to any
// interface with a hardware address.
func (f *Fingerprinter) primaryMAC() (string, error) {
	ifaces, err := f.interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != noMAC {
			return mac, nil
		}
	}

	for _, iface := range ifaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != noMAC {
			f.logger.Warn("using fallback MAC address", slog.String("interface", iface.Name))
			return mac, nil
		}
	}

	return "", errNoMAC
}

func (f *Fingerprinter) cpuModel() string {
	switch runtime.GOOS {
	case "windows":
		return f.getenv("PROCESSOR_IDENTIFIER")
	case "linux":
		data, err := f.readFile("/proc/cpuinfo")
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") {
				if _, value, ok := strings.Cut(line, ":"); ok {
					return strings.TrimSpace(value)
				}
			}
		}
	}
	return ""
}

func (f *Fingerprinter) locale() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := f.getenv(name); v != "" {
			return v
		}
	}
	return ""
}
