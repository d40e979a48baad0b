package collector

import "time"

// Reading is a raw point-in-time snapshot from a Source. Counters are
// cumulative; rates are derived by the sampler from consecutive readings.
type Reading struct {
	Timestamp time.Time

	// Battery is nil when the host has no battery. That is a valid,
	// permanent state and not a read failure.
	Battery *BatteryState

	CPUPercent    float64
	MemoryPercent float64

	DiskReadBytes  uint64
	DiskWriteBytes uint64
	NetSentBytes   uint64
	NetRecvBytes   uint64

	// Processes is sorted by CPUPercent descending.
	Processes []ProcessUsage
}

// BatteryState holds battery charge from /sys/class/power_supply/BAT*.
type BatteryState struct {
	Percent float64
	Plugged *bool // nil when neither the status nor an AC adapter says
	Status  string
}

// ProcessUsage is one process's share of CPU time over the last interval.
type ProcessUsage struct {
	PID        int      `json:"pid"`
	Name       string   `json:"name"`
	CPUPercent float64  `json:"cpu_percent"`
	DiskMB     *float64 `json:"disk_mb,omitempty"` // read+write MB/s, nil if /proc/[pid]/io is unreadable
}

// Sample is one persisted observation. Pointer fields are nil when the
// value is unknown on this host or tick; zero is a measured value.
type Sample struct {
	Timestamp         time.Time      `json:"timestamp"`
	BatteryPercent    *float64       `json:"battery_percent"`
	PowerPlugged      *bool          `json:"power_plugged"`
	PowerDrawEstimate *float64       `json:"power_draw_estimate"`
	CPUPercent        float64        `json:"cpu_percent"`
	MemoryPercent     float64        `json:"memory_percent"`
	DiskReadMB        *float64       `json:"disk_read_mb"`
	DiskWriteMB       *float64       `json:"disk_write_mb"`
	NetworkSentMB     *float64       `json:"network_sent_mb"`
	NetworkRecvMB     *float64       `json:"network_recv_mb"`
	TopProcessName    string         `json:"top_process_name,omitempty"`
	TopProcessCPU     *float64       `json:"top_process_cpu"`
	TopProcesses      []ProcessUsage `json:"top_processes,omitempty"`
}

// HasBattery reports whether the sample carries a battery reading.
func (s Sample) HasBattery() bool {
	return s.BatteryPercent != nil
}

// OnBattery reports whether the host was known to be running on battery.
func (s Sample) OnBattery() bool {
	return s.PowerPlugged != nil && !*s.PowerPlugged
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
