package schedule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// StaticMonitor reports a fixed device state, for hosts without a battery and for tests.
type StaticMonitor struct {
	State state.DeviceState
}

func (m StaticMonitor) DeviceState(context.Context) (state.DeviceState, error) {
	return m.State, nil
}

// DefaultPowerSupplyRoot is where Linux exposes power supplies.
const DefaultPowerSupplyRoot = "/sys/class/power_supply"

// SysfsMonitor reads charging and battery state from Linux power_supply entries.
// The kernel has no notion of a metered network, so Unmetered comes from config.
type SysfsMonitor struct {
	Root            string
	Unmetered       bool
	LowBatteryLevel float64 // at or below this the battery is low; default 0.15
}

// DeviceState scans every supply. A host with no battery counts as charging
// at full level.
func (m SysfsMonitor) DeviceState(ctx context.Context) (state.DeviceState, error) {
	root := m.Root
	if root == "" {
		root = DefaultPowerSupplyRoot
	}
	low := m.LowBatteryLevel
	if low <= 0 {
		low = 0.15
	}

	entries, err := os.ReadDir(root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return state.DeviceState{}, fmt.Errorf("read power supplies: %w", err)
	}

	ds := state.DeviceState{Unmetered: m.Unmetered, BatteryLevel: 1}
	var mainsOnline, hasBattery, batteryCharging bool
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return state.DeviceState{}, err
		}
		dir := filepath.Join(root, e.Name())
		switch readAttr(dir, "type") {
		case "Mains", "USB", "USB_C", "USB_PD":
			if readAttr(dir, "online") == "1" {
				mainsOnline = true
			}
		case "Battery":
			hasBattery = true
			switch readAttr(dir, "status") {
			case "Charging", "Full":
				batteryCharging = true
			}
			if v, err := strconv.Atoi(readAttr(dir, "capacity")); err == nil {
				ds.BatteryLevel = float64(v) / 100
			}
		}
	}

	if !hasBattery {
		ds.Charging = true
		return ds, nil
	}
	ds.Charging = mainsOnline || batteryCharging
	ds.BatteryLow = ds.BatteryLevel <= low
	return ds, nil
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
