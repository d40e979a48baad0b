package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/query"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/storage"
)

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	labelStyle = lipgloss.NewStyle().Foreground(colorGray).Width(16)
	warnStyle  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	dimStyle   = lipgloss.NewStyle().Foreground(colorGray)
)

// drawStyle colors a drain rate against the hourly detection threshold.
func drawStyle(rate, threshold float64) lipgloss.Style {
	switch {
	case rate > threshold:
		return critStyle
	case rate > threshold/2:
		return warnStyle
	default:
		return okStyle
	}
}

func fmtFloat(v *float64, format string) string {
	if v == nil {
		return dimStyle.Render("n/a")
	}
	return fmt.Sprintf(format, *v)
}

func fmtDraw(v *float64, threshold float64) string {
	if v == nil {
		return dimStyle.Render("n/a")
	}
	return drawStyle(*v, threshold).Render(fmt.Sprintf("%.2f %%/h", *v))
}

func line(w io.Writer, label, value string) {
	fmt.Fprintln(w, labelStyle.Render(label)+value)
}

func renderCurrent(w io.Writer, cur *query.Current, threshold float64) {
	fmt.Fprintln(w, titleStyle.Render("Current"))
	s := cur.Sample
	if s == nil {
		fmt.Fprintln(w, dimStyle.Render("  no samples yet"))
		return
	}
	line(w, "  time", s.Timestamp.Local().Format(time.DateTime))

	battery := dimStyle.Render("none")
	if s.BatteryPercent != nil {
		state := "unknown"
		if s.PowerPlugged != nil {
			state = "on battery"
			if *s.PowerPlugged {
				state = "plugged in"
			}
		}
		battery = fmt.Sprintf("%.1f%% (%s)", *s.BatteryPercent, state)
	}
	line(w, "  battery", battery)
	line(w, "  draw", fmtDraw(s.PowerDrawEstimate, threshold))
	line(w, "  draw (avg)", fmtDraw(cur.RollingAverage, threshold))
	if cur.TimeRemainingSeconds != nil {
		d := time.Duration(*cur.TimeRemainingSeconds) * time.Second
		line(w, "  remaining", d.Truncate(time.Minute).String())
	}
	line(w, "  cpu", fmt.Sprintf("%.1f%%", s.CPUPercent))
	line(w, "  memory", fmt.Sprintf("%.1f%%", s.MemoryPercent))
	line(w, "  disk r/w", fmtFloat(s.DiskReadMB, "%.2f")+" / "+fmtFloat(s.DiskWriteMB, "%.2f")+" MB/s")
	line(w, "  net tx/rx", fmtFloat(s.NetworkSentMB, "%.2f")+" / "+fmtFloat(s.NetworkRecvMB, "%.2f")+" MB/s")
	if s.TopProcessName != "" {
		line(w, "  top process", fmt.Sprintf("%s (%s%%)", s.TopProcessName, fmtFloat(s.TopProcessCPU, "%.1f")))
	}
	if ev := cur.OpenEvent; ev != nil {
		fmt.Fprintln(w, critStyle.Render(fmt.Sprintf("  high power episode in progress: %s since %s",
			ev.PrimaryCause, ev.Timestamp.Local().Format(time.TimeOnly))))
	}
}

func renderSamples(w io.Writer, samples []collector.Sample, threshold float64) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Recent samples (%d)", len(samples))))
	for _, s := range samples {
		fmt.Fprintf(w, "  %s  bat %s  draw %s  cpu %5.1f%%  %s\n",
			s.Timestamp.Local().Format(time.TimeOnly),
			fmtFloat(s.BatteryPercent, "%5.1f%%"),
			fmtDraw(s.PowerDrawEstimate, threshold),
			s.CPUPercent,
			s.TopProcessName)
	}
}

func renderEvents(w io.Writer, events []analyzer.HighPowerEvent) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("High power events (%d)", len(events))))
	if len(events) == 0 {
		fmt.Fprintln(w, okStyle.Render("  none"))
		return
	}
	for _, e := range events {
		state := "open"
		if e.Finalized {
			state = "done"
		}
		fmt.Fprintf(w, "  %s  %-18s %6.2f %%/h  %s  conf %.2f  [%s]\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.PrimaryCause,
			e.AvgPowerDraw,
			(time.Duration(e.DurationSeconds) * time.Second).String(),
			e.Confidence,
			state)
		if len(e.ProcessesInvolved) > 0 {
			fmt.Fprintln(w, dimStyle.Render("      processes: "+strings.Join(e.ProcessesInvolved, ", ")))
		}
		if e.Recommendations != "" {
			fmt.Fprintln(w, dimStyle.Render("      "+e.Recommendations))
		}
	}
}

func renderDatabase(w io.Writer, st *storage.Stats) {
	fmt.Fprintln(w, titleStyle.Render("Database"))
	line(w, "  samples", fmt.Sprintf("%d", st.SampleCount))
	line(w, "  events", fmt.Sprintf("%d", st.EventCount))
	if st.Oldest != nil && st.Newest != nil {
		line(w, "  span", st.Oldest.Local().Format(time.DateTime)+" .. "+st.Newest.Local().Format(time.DateTime))
	}
	line(w, "  size", fmt.Sprintf("%.1f KiB", float64(st.FileSizeBytes)/1024))
}
