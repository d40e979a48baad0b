package collector

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const sectorSize = 512

// cpuTimes holds the aggregate "cpu" line of /proc/stat in USER_HZ ticks.
type cpuTimes struct {
	total uint64
	idle  uint64 // idle + iowait
	cpus  int    // number of cpuN lines
}

func readCPUTimes() (cpuTimes, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, "stat"))
	if err != nil {
		return cpuTimes{}, fmt.Errorf("read stat: %w", err)
	}
	var t cpuTimes
	found := false
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}
		if fields[0] != "cpu" {
			if _, err := strconv.Atoi(fields[0][3:]); err == nil {
				t.cpus++
			}
			continue
		}
		if found {
			continue
		}
		found = true
		// user nice system idle iowait irq softirq steal; guest time is
		// already included in user and nice.
		for i, f := range fields[1:] {
			if i >= 8 {
				break
			}
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("parse cpu field %d: %w", i, err)
			}
			t.total += v
			if i == 3 || i == 4 {
				t.idle += v
			}
		}
	}
	if !found {
		return cpuTimes{}, fmt.Errorf("no aggregate cpu line in stat")
	}
	if t.cpus == 0 {
		t.cpus = 1
	}
	return t, nil
}

// cpuPercent returns busy time between two readings. With no previous
// reading it falls back to the average since boot. A counter that did not
// advance, or went backwards, yields 0.
func cpuPercent(prev *cpuTimes, cur cpuTimes) float64 {
	total, idle := cur.total, cur.idle
	if prev != nil {
		if cur.total <= prev.total || cur.idle < prev.idle {
			return 0
		}
		total = cur.total - prev.total
		idle = cur.idle - prev.idle
	}
	if total == 0 || idle > total {
		return 0
	}
	return float64(total-idle) / float64(total) * 100
}

func readMemoryPercent() (float64, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	kb := make(map[string]uint64)
	for _, line := range strings.Split(string(data), "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(v)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		kb[k] = n
	}
	total := kb["MemTotal"]
	if total == 0 {
		return 0, fmt.Errorf("meminfo has no MemTotal")
	}
	avail, ok := kb["MemAvailable"]
	if !ok {
		avail = kb["MemFree"] + kb["Buffers"] + kb["Cached"]
	}
	if avail > total {
		avail = total
	}
	return float64(total-avail) / float64(total) * 100, nil
}

// readDiskBytes sums sectors read and written across whole disks listed in
// /sys/block. Loop, ram and stacked (dm, md) devices are skipped so bytes
// are not counted twice.
func readDiskBytes() (read, written uint64, err error) {
	data, err := os.ReadFile(filepath.Join(procRoot, "diskstats"))
	if err != nil {
		return 0, 0, fmt.Errorf("read diskstats: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		name := fields[2]
		if skipBlockDevice(name) {
			continue
		}
		if _, err := os.Stat(filepath.Join(sysfsRoot, "block", name)); err != nil {
			continue // partition or unknown device
		}
		r, err1 := strconv.ParseUint(fields[5], 10, 64)
		w, err2 := strconv.ParseUint(fields[9], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		read += r * sectorSize
		written += w * sectorSize
	}
	return read, written, nil
}

func skipBlockDevice(name string) bool {
	for _, prefix := range []string{"loop", "ram", "dm-", "md", "zram"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// readNetBytes sums received and transmitted bytes across all interfaces
// except loopback.
func readNetBytes() (sent, recv uint64, err error) {
	data, err := os.ReadFile(filepath.Join(procRoot, "net/dev"))
	if err != nil {
		return 0, 0, fmt.Errorf("read net/dev: %w", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		iface, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue // header lines
		}
		if strings.TrimSpace(iface) == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		recv += rx
		sent += tx
	}
	return sent, recv, scanner.Err()
}
