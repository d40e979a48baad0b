// Package analyzer detects sustained high battery drain and attributes it
// to the resource activity seen at the same time.
package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

const (
	maxProcessesInvolved = 5
	minContributors      = 3
	// A process counts toward MULTIPLE_PROCESSES when it used at least this
	// much CPU over the interval.
	minContributorCPU = 1.0
	lowBatteryPercent = 30.0
)

// Thresholds configures detection and cause rules.
type Thresholds struct {
	HighPowerPer10Min    float64 // percent per 10 minutes
	CPUTotal             float64 // percent
	CPUProcess           float64 // percent
	DiskIOMB             float64 // MB/s, read+write
	NetworkMB            float64 // MB/s, sent+recv
	MultipleProcessesCPU float64 // percent, summed over ranked processes
}

// DefaultThresholds returns the stock rule set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighPowerPer10Min:    2.0,
		CPUTotal:             50,
		CPUProcess:           25,
		DiskIOMB:             50,
		NetworkMB:            10,
		MultipleProcessesCPU: 30,
	}
}

// HourlyThreshold is the detection threshold in percent per hour.
func (t Thresholds) HourlyThreshold() float64 {
	return t.HighPowerPer10Min * 6
}

// Finding is one cause rule that matched.
type Finding struct {
	Cause      Cause   `json:"cause"`
	Observed   float64 `json:"observed"`
	Threshold  float64 `json:"threshold"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of analyzing one window.
type Result struct {
	Detected bool `json:"detected"`
	// AvgPowerDraw is the mean of defined estimates in the window, valid
	// when Estimates > 0.
	AvgPowerDraw      float64   `json:"avg_power_draw"`
	Estimates         int       `json:"estimates"`
	PrimaryCause      Cause     `json:"primary_cause"`
	Findings          []Finding `json:"findings,omitempty"`
	ProcessesInvolved []string  `json:"processes_involved,omitempty"`
	Confidence        float64   `json:"confidence"`
	Recommendations   string    `json:"recommendations,omitempty"`
}

// Analyze checks whether the window shows high drain and, if so, which
// resource was busy in its latest sample. samples must be in timestamp
// order. An empty window, or one without any drain estimate, is never a
// detection.
func Analyze(samples []collector.Sample, th Thresholds) Result {
	var res Result
	var sum float64
	for _, s := range samples {
		if s.PowerDrawEstimate != nil {
			sum += *s.PowerDrawEstimate
			res.Estimates++
		}
	}
	if res.Estimates == 0 {
		return res
	}
	res.AvgPowerDraw = sum / float64(res.Estimates)
	if res.AvgPowerDraw <= th.HourlyThreshold() {
		return res
	}
	res.Detected = true

	latest := samples[len(samples)-1]
	res.Findings = evaluateCauses(latest, th)
	if len(res.Findings) == 0 {
		res.PrimaryCause = CauseUnknown
	} else {
		primary := res.Findings[0]
		res.PrimaryCause = primary.Cause
		res.Confidence = primary.Confidence
	}
	res.ProcessesInvolved = processesFor(res.PrimaryCause, latest)
	res.Recommendations = recommend(res, latest)
	return res
}

// evaluateCauses runs every rule and returns matches in priority order.
func evaluateCauses(s collector.Sample, th Thresholds) []Finding {
	var out []Finding
	for _, c := range Causes {
		var f Finding
		var ok bool
		switch c {
		case CauseHighCPU:
			f, ok = cpuRule(s, th)
		case CauseHighDiskIO:
			f, ok = sumRule(c, th.DiskIOMB, s.DiskReadMB, s.DiskWriteMB)
		case CauseHighNetwork:
			f, ok = sumRule(c, th.NetworkMB, s.NetworkSentMB, s.NetworkRecvMB)
		case CauseMultipleProcesses:
			if len(out) > 0 {
				continue
			}
			f, ok = multipleRule(s, th)
		case CauseUnknown:
		}
		if ok {
			out = append(out, f)
		}
	}
	return out
}

func cpuRule(s collector.Sample, th Thresholds) (Finding, bool) {
	total := Finding{Cause: CauseHighCPU, Observed: s.CPUPercent, Threshold: th.CPUTotal}
	top := Finding{Cause: CauseHighCPU, Observed: maxProcessCPU(s), Threshold: th.CPUProcess}

	matched := make([]Finding, 0, 2)
	for _, f := range []Finding{total, top} {
		if f.Threshold > 0 && f.Observed > f.Threshold {
			f.Confidence = confidence(f.Observed, f.Threshold)
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return Finding{}, false
	}
	best := matched[0]
	for _, f := range matched[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, true
}

// sumRule fires when a+b exceeds the threshold. An unknown side means the
// rule cannot be evaluated.
func sumRule(c Cause, threshold float64, a, b *float64) (Finding, bool) {
	if a == nil || b == nil || threshold <= 0 {
		return Finding{}, false
	}
	observed := *a + *b
	if observed <= threshold {
		return Finding{}, false
	}
	return Finding{Cause: c, Observed: observed, Threshold: threshold, Confidence: confidence(observed, threshold)}, true
}

func multipleRule(s collector.Sample, th Thresholds) (Finding, bool) {
	var aggregate float64
	var contributors int
	for _, p := range s.TopProcesses {
		aggregate += p.CPUPercent
		if p.CPUPercent >= minContributorCPU {
			contributors++
		}
	}
	if contributors < minContributors || th.MultipleProcessesCPU <= 0 || aggregate <= th.MultipleProcessesCPU {
		return Finding{}, false
	}
	return Finding{
		Cause:      CauseMultipleProcesses,
		Observed:   aggregate,
		Threshold:  th.MultipleProcessesCPU,
		Confidence: confidence(aggregate, th.MultipleProcessesCPU),
	}, true
}

func confidence(observed, threshold float64) float64 {
	c := observed/threshold - 1
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func maxProcessCPU(s collector.Sample) float64 {
	var top float64
	if s.TopProcessCPU != nil {
		top = *s.TopProcessCPU
	}
	for _, p := range s.TopProcesses {
		if p.CPUPercent > top {
			top = p.CPUPercent
		}
	}
	return top
}

// processesFor ranks the processes behind a cause by that cause's metric.
func processesFor(c Cause, s collector.Sample) []string {
	type ranked struct {
		name  string
		value float64
	}
	var list []ranked
	switch c {
	case CauseHighCPU, CauseMultipleProcesses:
		for _, p := range s.TopProcesses {
			if p.CPUPercent > 0 {
				list = append(list, ranked{p.Name, p.CPUPercent})
			}
		}
		if len(list) == 0 && s.TopProcessName != "" {
			list = append(list, ranked{s.TopProcessName, maxProcessCPU(s)})
		}
	case CauseHighDiskIO:
		for _, p := range s.TopProcesses {
			if p.DiskMB != nil && *p.DiskMB > 0 {
				list = append(list, ranked{p.Name, *p.DiskMB})
			}
		}
	case CauseHighNetwork, CauseUnknown:
		// No per-process attribution is available.
		return nil
	}

	sort.SliceStable(list, func(i, j int) bool { return list[i].value > list[j].value })
	names := make([]string, 0, maxProcessesInvolved)
	for _, r := range list {
		if len(names) == maxProcessesInvolved {
			break
		}
		names = append(names, r.name)
	}
	if len(names) == 0 {
		return nil
	}
	return names
}

func recommend(res Result, s collector.Sample) string {
	var parts []string
	switch res.PrimaryCause {
	case CauseHighCPU:
		parts = append(parts, fmt.Sprintf("High CPU usage detected (%.1f%%). Consider closing unnecessary applications or background processes.", s.CPUPercent))
		if s.TopProcessName != "" {
			parts = append(parts, fmt.Sprintf("Process '%s' is using %.1f%% CPU. Check if this process needs to be running.", s.TopProcessName, maxProcessCPU(s)))
		}
	case CauseHighDiskIO:
		parts = append(parts, fmt.Sprintf("High disk I/O detected (%.1f MB/s). Check for file transfers, backups, or indexing operations.", res.Findings[0].Observed))
	case CauseHighNetwork:
		parts = append(parts, fmt.Sprintf("High network activity detected (%.1f MB/s). Check for downloads, uploads, or streaming services.", res.Findings[0].Observed))
	case CauseMultipleProcesses:
		parts = append(parts, "Multiple processes are active simultaneously. Consider closing background applications to reduce power consumption.")
	case CauseUnknown:
		parts = append(parts, "Power consumption is elevated but no specific cause identified. Check running processes for unusual activity.")
	}

	for _, f := range res.Findings[min(1, len(res.Findings)):] {
		switch f.Cause {
		case CauseHighDiskIO:
			parts = append(parts, "Also check disk I/O activity.")
		case CauseHighNetwork:
			parts = append(parts, "Also check network activity.")
		case CauseUnknown, CauseHighCPU, CauseMultipleProcesses:
		}
	}

	if s.BatteryPercent != nil && *s.BatteryPercent < lowBatteryPercent {
		parts = append(parts, "Battery is low. Consider enabling battery saver mode or connecting to power.")
	}
	return strings.Join(parts, " ")
}
