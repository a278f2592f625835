package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStable(t *testing.T) {
	info := DeviceInfo{
		Hostname: "host",
		OS:       "linux",
		Arch:     "amd64",
		CPUs:     8,
		CPUModel: "cpu",
		Timezone: "UTC",
		Locale:   "en_US.UTF-8",
	}

	a := Fingerprint(info)
	assert.Len(t, a, fingerprintLength)
	assert.Equal(t, a, Fingerprint(info))

	info.Timezone = "Europe/Berlin"
	assert.NotEqual(t, a, Fingerprint(info))
}

func newFakeFingerprinter(ifaces []net.Interface, ifaceErr error) *Fingerprinter {
	f := NewFingerprinter(discard)
	f.hostname = func() (string, error) { return " Build-Host ", nil }
	f.interfaces = func() ([]net.Interface, error) { return ifaces, ifaceErr }
	f.readFile = func(string) ([]byte, error) {
		return []byte("processor\t: 0\nmodel name\t: Test CPU @ 3.00GHz\n"), nil
	}
	f.getenv = func(name string) string {
		if name == "LANG" {
			return "en_US.UTF-8"
		}
		return ""
	}
	f.location = func() *time.Location { return time.UTC }
	return f
}

func TestFingerprinterDeviceID(t *testing.T) {
	f := newFakeFingerprinter(nil, nil)

	info := f.Info()
	assert.Equal(t, "build-host", info.Hostname)
	assert.Equal(t, "UTC", info.Timezone)
	assert.Equal(t, "en_US.UTF-8", info.Locale)

	id := f.DeviceID()
	assert.Len(t, id, fingerprintLength)
	assert.Equal(t, id, f.DeviceID())
}

func TestFingerprinterHardwareID(t *testing.T) {
	loopback := net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	down := net.Interface{Name: "eth1", HardwareAddr: net.HardwareAddr{0xaa, 0, 0, 0, 0, 2}}
	up := net.Interface{Name: "eth0", Flags: net.FlagUp, HardwareAddr: net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}}
	zero := net.Interface{Name: "eth2", Flags: net.FlagUp, HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 0}}

	tests := []struct {
		name    string
		ifaces  []net.Interface
		err     error
		want    string
		wantErr bool
	}{
		{"prefers up interface", []net.Interface{loopback, down, zero, up}, nil, "aa:00:00:00:00:01", false},
		{"falls back to any", []net.Interface{loopback, zero, down}, nil, "aa:00:00:00:00:02", false},
		{"none", []net.Interface{loopback, zero}, nil, "", true},
		{"listing fails", nil, errors.New("boom"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newFakeFingerprinter(tt.ifaces, tt.err).HardwareID()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
