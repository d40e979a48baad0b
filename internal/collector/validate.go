package collector

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidReading marks a reading with values outside their physical range.
var ErrInvalidReading = errors.New("invalid reading")

// Validate checks a reading before it is turned into a sample.
func Validate(r *Reading) error {
	if r == nil {
		return fmt.Errorf("%w: nil reading", ErrInvalidReading)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidReading)
	}
	if err := checkPercent("cpu", r.CPUPercent); err != nil {
		return err
	}
	if err := checkPercent("memory", r.MemoryPercent); err != nil {
		return err
	}
	if r.Battery != nil {
		if err := checkPercent("battery", r.Battery.Percent); err != nil {
			return err
		}
	}
	for _, p := range r.Processes {
		// Per-core share; a multithreaded process may exceed 100.
		if math.IsNaN(p.CPUPercent) || math.IsInf(p.CPUPercent, 0) || p.CPUPercent < 0 {
			return fmt.Errorf("%w: process %s cpu percent %v", ErrInvalidReading, p.Name, p.CPUPercent)
		}
		if p.DiskMB != nil && (*p.DiskMB < 0 || math.IsNaN(*p.DiskMB)) {
			return fmt.Errorf("%w: process %s disk rate %v", ErrInvalidReading, p.Name, *p.DiskMB)
		}
	}
	return nil
}

// checkPercent allows a small overshoot from rounding in kernel counters.
func checkPercent(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100.5 {
		return fmt.Errorf("%w: %s percent %v", ErrInvalidReading, name, v)
	}
	return nil
}
