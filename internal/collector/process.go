package collector

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProcessCollector tracks per-process CPU tick and I/O byte deltas across
// sampling intervals.
type ProcessCollector struct {
	prevTicks map[int]uint64 // pid -> previous utime+stime
	prevIO    map[int]uint64 // pid -> previous read_bytes+write_bytes
	topN      int
}

// NewProcessCollector creates a ProcessCollector that keeps at most topN
// processes per collection.
func NewProcessCollector(topN int) *ProcessCollector {
	if topN <= 0 {
		topN = 10
	}
	return &ProcessCollector{
		prevTicks: make(map[int]uint64),
		prevIO:    make(map[int]uint64),
		topN:      topN,
	}
}

type procEntry struct {
	pid   int
	comm  string
	ticks uint64 // utime + stime
}

// Collect reads /proc/*/stat and returns the top N processes by CPU use.
// totalTicks is the all-core tick delta over the same interval and cpus the
// number of cores it covers, so a process saturating one core reads 100%
// and a multithreaded one can exceed it. elapsed is used to turn I/O byte
// deltas into MB/s. The first call only primes the baseline and returns
// nothing.
func (pc *ProcessCollector) Collect(totalTicks uint64, cpus int, elapsed time.Duration) ([]ProcessUsage, error) {
	if cpus < 1 {
		cpus = 1
	}
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procRoot, err)
	}

	type delta struct {
		pe    procEntry
		ticks uint64
	}
	currentTicks := make(map[int]uint64, len(entries))
	var procs []delta

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pe, err := readProcStat(pid)
		if err != nil {
			continue
		}
		currentTicks[pid] = pe.ticks

		prev, ok := pc.prevTicks[pid]
		if !ok || pe.ticks <= prev {
			continue
		}
		procs = append(procs, delta{pe: pe, ticks: pe.ticks - prev})
	}

	sort.Slice(procs, func(i, j int) bool {
		if procs[i].ticks != procs[j].ticks {
			return procs[i].ticks > procs[j].ticks
		}
		return procs[i].pe.pid < procs[j].pe.pid
	})
	if len(procs) > pc.topN {
		procs = procs[:pc.topN]
	}

	var usage []ProcessUsage
	if totalTicks > 0 {
		usage = make([]ProcessUsage, 0, len(procs))
		for _, p := range procs {
			usage = append(usage, ProcessUsage{
				PID:        p.pe.pid,
				Name:       p.pe.comm,
				CPUPercent: float64(p.ticks) / float64(totalTicks) * 100 * float64(cpus),
			})
		}
	}

	// /proc/[pid]/io is root-only for foreign processes; unreadable ones
	// simply have no disk rate.
	currentIO := make(map[int]uint64, len(currentTicks))
	for pid := range currentTicks {
		if io, err := readProcIO(pid); err == nil {
			currentIO[pid] = io
		}
	}
	for i := range usage {
		pid := usage[i].PID
		io, ok := currentIO[pid]
		if !ok {
			continue
		}
		if prev, ok := pc.prevIO[pid]; ok && io >= prev && elapsed > 0 {
			usage[i].DiskMB = Float(float64(io-prev) / elapsed.Seconds() / (1024 * 1024))
		}
	}

	pc.prevTicks = currentTicks
	pc.prevIO = currentIO
	return usage, nil
}

// Reset drops the baseline so the next Collect starts fresh.
func (pc *ProcessCollector) Reset() {
	pc.prevTicks = make(map[int]uint64)
	pc.prevIO = make(map[int]uint64)
}

// readProcStat parses /proc/[pid]/stat for comm, utime and stime.
func readProcStat(pid int) (procEntry, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return procEntry{}, err
	}

	// comm is in parens and may contain spaces/parens, so find last ')'
	start := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if start < 0 || end < 0 || end >= len(data)-1 {
		return procEntry{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	comm := string(data[start+1 : end])

	// Fields after ')' start at state; utime and stime are 11 and 12.
	fields := strings.Fields(string(data[end+2:]))
	if len(fields) < 13 {
		return procEntry{}, fmt.Errorf("too few fields for pid %d", pid)
	}

	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)

	return procEntry{
		pid:   pid,
		comm:  comm,
		ticks: utime + stime,
	}, nil
}

// readProcIO returns read_bytes + write_bytes from /proc/[pid]/io.
func readProcIO(pid int) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "io"))
	if err != nil {
		return 0, err
	}
	var total uint64
	var found int
	for _, line := range strings.Split(string(data), "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok || (k != "read_bytes" && k != "write_bytes") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s for pid %d: %w", k, pid, err)
		}
		total += n
		found++
	}
	if found == 0 {
		return 0, fmt.Errorf("no io counters for pid %d", pid)
	}
	return total, nil
}
