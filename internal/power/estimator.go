// Package power derives battery drain rates from consecutive samples.
package power

import (
	"time"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

// Estimate returns the battery drain in percent per hour between prev and
// cur. Positive means draining; a negative value (charge rose while on
// battery, e.g. recalibration) is returned as is. The bool is false when
// either sample lacks a battery reading, cur is not known to be on battery,
// or no time has elapsed.
func Estimate(prev, cur collector.Sample) (float64, bool) {
	if prev.BatteryPercent == nil || cur.BatteryPercent == nil {
		return 0, false
	}
	if !cur.OnBattery() {
		return 0, false
	}
	hours := cur.Timestamp.Sub(prev.Timestamp).Hours()
	if hours <= 0 {
		return 0, false
	}
	return (*prev.BatteryPercent - *cur.BatteryPercent) / hours, true
}

// TimeRemaining estimates how long percent will last at ratePerHour.
// Only a positive drain rate gives an answer.
func TimeRemaining(percent, ratePerHour float64) (time.Duration, bool) {
	if ratePerHour <= 0 || percent <= 0 {
		return 0, false
	}
	hours := percent / ratePerHour
	return time.Duration(hours * float64(time.Hour)), true
}
