// Command power-stats prints what power-monitor-daemon has recorded.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
)

func main() {
	bus := flag.String("bus", "system", "D-Bus bus the daemon serves on: system or session")
	recent := flag.Int("recent", 10, "number of recent samples to show (0 to skip)")
	hours := flag.Int("hours", 24, "show high power events from the last N hours (0 to skip)")
	dbStats := flag.Bool("db", false, "show database statistics")
	threshold := flag.Float64("threshold", analyzer.DefaultThresholds().HourlyThreshold(),
		"drain rate in %/h above which draw is highlighted")
	flag.Parse()

	client, err := newDBusClient(*bus)
	if err != nil {
		fmt.Fprintln(os.Stderr, "power-stats:", err)
		os.Exit(1)
	}

	if err := run(client, *recent, *hours, *dbStats, *threshold); err != nil {
		fmt.Fprintln(os.Stderr, "power-stats:", err)
		os.Exit(1)
	}
}

func run(client *dbusClient, recent, hours int, dbStats bool, threshold float64) error {
	out := os.Stdout

	cur, err := client.GetCurrentStats()
	if err != nil {
		return err
	}
	renderCurrent(out, cur, threshold)

	if recent > 0 {
		samples, err := client.GetRecent(recent)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		renderSamples(out, samples, threshold)
	}

	if hours > 0 {
		to := time.Now()
		events, err := client.GetEvents(to.Add(-time.Duration(hours)*time.Hour), to)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		renderEvents(out, events)
	}

	if dbStats {
		st, err := client.GetDatabaseStats()
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		renderDatabase(out, st)
	}
	return nil
}
