package analyzer

import (
	"fmt"
	"time"
)

// Cause is the attributed reason for a high power episode. Values are
// listed in reporting priority order after CauseUnknown.
type Cause int

const (
	CauseUnknown Cause = iota
	CauseHighCPU
	CauseHighDiskIO
	CauseHighNetwork
	CauseMultipleProcesses
)

// Causes lists every known cause in priority order.
var Causes = []Cause{CauseHighCPU, CauseHighDiskIO, CauseHighNetwork, CauseMultipleProcesses}

func (c Cause) String() string {
	switch c {
	case CauseUnknown:
		return "UNKNOWN"
	case CauseHighCPU:
		return "HIGH_CPU"
	case CauseHighDiskIO:
		return "HIGH_DISK_IO"
	case CauseHighNetwork:
		return "HIGH_NETWORK"
	case CauseMultipleProcesses:
		return "MULTIPLE_PROCESSES"
	}
	return fmt.Sprintf("Cause(%d)", int(c))
}

// ParseCause is the inverse of Cause.String.
func ParseCause(s string) (Cause, error) {
	for _, c := range append([]Cause{CauseUnknown}, Causes...) {
		if c.String() == s {
			return c, nil
		}
	}
	return CauseUnknown, fmt.Errorf("unknown cause %q", s)
}

func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cause) UnmarshalText(b []byte) error {
	parsed, err := ParseCause(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// HighPowerEvent is one episode of sustained high battery drain. Open
// events are extended in place; once Finalized is set the event no longer
// changes.
type HighPowerEvent struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	DurationSeconds   float64   `json:"duration_seconds"`
	PrimaryCause      Cause     `json:"primary_cause"`
	ProcessesInvolved []string  `json:"processes_involved"`
	AvgPowerDraw      float64   `json:"avg_power_draw"`
	Confidence        float64   `json:"confidence"`
	Recommendations   string    `json:"recommendations,omitempty"`
	Ticks             int       `json:"ticks"`
	Finalized         bool      `json:"finalized"`
}

// End returns the time of the last tick that saw the episode.
func (e HighPowerEvent) End() time.Time {
	return e.Timestamp.Add(time.Duration(e.DurationSeconds * float64(time.Second)))
}
