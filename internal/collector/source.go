package collector

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Source produces raw readings. A returned error means the tick should be
// skipped; a host without a battery is reported through Reading.Battery.
type Source interface {
	Read() (*Reading, error)
}

// LinuxSource reads battery and resource state from sysfs and procfs.
type LinuxSource struct {
	mu      sync.Mutex
	procs   *ProcessCollector
	prevCPU *cpuTimes
	prevAt  time.Time
	now     func() time.Time
}

// NewLinuxSource creates a LinuxSource that ranks up to maxProcs processes.
func NewLinuxSource(maxProcs int) *LinuxSource {
	return &LinuxSource{
		procs: NewProcessCollector(maxProcs),
		now:   time.Now,
	}
}

// Read implements Source.
func (s *LinuxSource) Read() (*Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Reading{Timestamp: s.now()}

	bat, err := CollectBattery()
	switch {
	case errors.Is(err, ErrNoBattery):
	case err != nil:
		return nil, fmt.Errorf("battery: %w", err)
	default:
		r.Battery = bat
	}

	cpu, err := readCPUTimes()
	if err != nil {
		return nil, fmt.Errorf("cpu: %w", err)
	}
	r.CPUPercent = cpuPercent(s.prevCPU, cpu)

	var totalTicks uint64
	var elapsed time.Duration
	if s.prevCPU != nil && cpu.total > s.prevCPU.total {
		totalTicks = cpu.total - s.prevCPU.total
		elapsed = r.Timestamp.Sub(s.prevAt)
	}
	procs, err := s.procs.Collect(totalTicks, cpu.cpus, elapsed)
	if err != nil {
		return nil, fmt.Errorf("processes: %w", err)
	}
	r.Processes = procs

	if r.MemoryPercent, err = readMemoryPercent(); err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	if r.DiskReadBytes, r.DiskWriteBytes, err = readDiskBytes(); err != nil {
		return nil, fmt.Errorf("disk: %w", err)
	}
	if r.NetSentBytes, r.NetRecvBytes, err = readNetBytes(); err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}

	s.prevCPU = &cpu
	s.prevAt = r.Timestamp
	return r, nil
}

// SetTopProcesses changes how many processes later reads rank.
func (s *LinuxSource) SetTopProcesses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.procs.topN = n
	}
}

// Reset forgets the previous reading, e.g. after the system resumes.
func (s *LinuxSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevCPU = nil
	s.prevAt = time.Time{}
	s.procs.Reset()
}
