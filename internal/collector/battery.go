package collector

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	sysfsRoot = "/sys"
	procRoot  = "/proc"
)

// ErrNoBattery is returned by CollectBattery when no battery is present.
var ErrNoBattery = errors.New("no battery found")

// CollectBattery reads battery charge from /sys/class/power_supply/BAT*.
func CollectBattery() (*BatteryState, error) {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/power_supply/BAT*"))
	if err != nil {
		return nil, fmt.Errorf("glob battery: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoBattery
	}

	data, err := os.ReadFile(filepath.Join(matches[0], "uevent"))
	if err != nil {
		return nil, fmt.Errorf("read uevent: %w", err)
	}

	props := parseUevent(string(data))
	pct, ok := batteryPercent(props)
	if !ok {
		return nil, fmt.Errorf("battery %s reports no capacity", filepath.Base(matches[0]))
	}

	b := &BatteryState{
		Percent: pct,
		Status:  props["POWER_SUPPLY_STATUS"],
	}

	// An online AC adapter is authoritative. Some firmware reports
	// "Discharging" at full capacity while on AC power.
	if online, known := acOnline(); known {
		b.Plugged = Bool(online)
		if b.Status == "Discharging" && online && pct >= 100 {
			b.Status = "Full"
		}
		return b, nil
	}

	switch b.Status {
	case "Discharging":
		b.Plugged = Bool(false)
	case "Charging", "Full", "Not charging":
		b.Plugged = Bool(true)
	}
	return b, nil
}

// batteryPercent prefers POWER_SUPPLY_CAPACITY and falls back to the
// energy or charge ratio for firmware that omits it.
func batteryPercent(props map[string]string) (float64, bool) {
	if v, err := strconv.ParseFloat(props["POWER_SUPPLY_CAPACITY"], 64); err == nil {
		return v, true
	}
	for _, pair := range [][2]string{
		{"POWER_SUPPLY_ENERGY_NOW", "POWER_SUPPLY_ENERGY_FULL"},
		{"POWER_SUPPLY_CHARGE_NOW", "POWER_SUPPLY_CHARGE_FULL"},
	} {
		now, err1 := strconv.ParseFloat(props[pair[0]], 64)
		full, err2 := strconv.ParseFloat(props[pair[1]], 64)
		if err1 == nil && err2 == nil && full > 0 {
			// Worn cells often report NOW above the last FULL estimate.
			return math.Min(math.Max(now/full*100, 0), 100), true
		}
	}
	return 0, false
}

// acOnline checks AC adapters. known is false when no adapter is exposed.
func acOnline() (online, known bool) {
	var paths []string
	for _, pattern := range []string{"class/power_supply/AC*/online", "class/power_supply/ADP*/online"} {
		m, err := filepath.Glob(filepath.Join(sysfsRoot, pattern))
		if err != nil {
			continue
		}
		paths = append(paths, m...)
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		known = true
		if strings.TrimSpace(string(data)) == "1" {
			return true, true
		}
	}
	return false, known
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}
