package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

// ErrUnavailable wraps every failed write. Callers keep running without
// persistence when they see it.
var ErrUnavailable = errors.New("store unavailable")

// Timestamps are stored as unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS power_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	battery_percent REAL,
	power_plugged INTEGER,
	power_draw_estimate REAL,
	cpu_percent REAL NOT NULL,
	memory_percent REAL NOT NULL,
	disk_read_mb REAL,
	disk_write_mb REAL,
	network_sent_mb REAL,
	network_recv_mb REAL,
	top_process_name TEXT NOT NULL DEFAULT '',
	top_process_cpu REAL,
	top_processes TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_power_samples_ts ON power_samples(timestamp);

CREATE TABLE IF NOT EXISTS high_power_events (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	end_timestamp INTEGER NOT NULL,
	duration_seconds REAL NOT NULL,
	primary_cause TEXT NOT NULL,
	processes_involved TEXT NOT NULL DEFAULT '[]',
	avg_power_draw REAL NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	recommendations TEXT NOT NULL DEFAULT '',
	ticks INTEGER NOT NULL DEFAULT 0,
	finalized INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_high_power_events_ts ON high_power_events(timestamp);
`

const sampleColumns = `timestamp, battery_percent, power_plugged, power_draw_estimate,
	cpu_percent, memory_percent, disk_read_mb, disk_write_mb, network_sent_mb, network_recv_mb,
	top_process_name, top_process_cpu, top_processes`

const eventColumns = `id, timestamp, duration_seconds, primary_cause, processes_involved,
	avg_power_draw, confidence, recommendations, ticks, finalized`

// DB wraps a SQLite database for power samples and high power events.
// Writes are serialized; reads run concurrently under WAL.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertSample appends a sample.
func (d *DB) InsertSample(s collector.Sample) error {
	procs, err := json.Marshal(nonNilProcs(s.TopProcesses))
	if err != nil {
		return fmt.Errorf("%w: encode processes: %w", ErrUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.db.Exec(
		"INSERT INTO power_samples ("+sampleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.Timestamp.UnixMilli(), nullFloat(s.BatteryPercent), nullBool(s.PowerPlugged), nullFloat(s.PowerDrawEstimate),
		s.CPUPercent, s.MemoryPercent, nullFloat(s.DiskReadMB), nullFloat(s.DiskWriteMB),
		nullFloat(s.NetworkSentMB), nullFloat(s.NetworkRecvMB),
		s.TopProcessName, nullFloat(s.TopProcessCPU), string(procs),
	)
	if err != nil {
		return fmt.Errorf("%w: insert sample: %w", ErrUnavailable, err)
	}
	return nil
}

// UpsertEvent stores a snapshot of an event, keyed by its ID. A finalized
// row is never overwritten.
func (d *DB) UpsertEvent(e analyzer.HighPowerEvent) error {
	procs, err := json.Marshal(nonNilStrings(e.ProcessesInvolved))
	if err != nil {
		return fmt.Errorf("%w: encode processes: %w", ErrUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.db.Exec(`
		INSERT INTO high_power_events (id, timestamp, end_timestamp, duration_seconds, primary_cause,
			processes_involved, avg_power_draw, confidence, recommendations, ticks, finalized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			end_timestamp = excluded.end_timestamp,
			duration_seconds = excluded.duration_seconds,
			primary_cause = excluded.primary_cause,
			processes_involved = excluded.processes_involved,
			avg_power_draw = excluded.avg_power_draw,
			confidence = excluded.confidence,
			recommendations = excluded.recommendations,
			ticks = excluded.ticks,
			finalized = excluded.finalized
		WHERE high_power_events.finalized = 0`,
		e.ID, e.Timestamp.UnixMilli(), e.End().UnixMilli(), e.DurationSeconds, e.PrimaryCause.String(),
		string(procs), e.AvgPowerDraw, e.Confidence, e.Recommendations, e.Ticks, boolInt(e.Finalized),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert event %s: %w", ErrUnavailable, e.ID, err)
	}
	return nil
}

// SamplesInRange returns samples with from <= timestamp <= to in
// timestamp order. An inverted range yields nothing.
func (d *DB) SamplesInRange(from, to time.Time) ([]collector.Sample, error) {
	if to.Before(from) {
		return nil, nil
	}
	rows, err := d.db.Query(
		"SELECT "+sampleColumns+" FROM power_samples WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

// RecentSamples returns the last n samples, oldest first.
func (d *DB) RecentSamples(n int) ([]collector.Sample, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := d.db.Query(
		"SELECT "+sampleColumns+" FROM (SELECT * FROM power_samples ORDER BY timestamp DESC, id DESC LIMIT ?) ORDER BY timestamp, id",
		n,
	)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

// LatestSample returns the most recent sample, or nil if there is none.
func (d *DB) LatestSample() (*collector.Sample, error) {
	samples, err := d.RecentSamples(1)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return &samples[0], nil
}

// EventsInRange returns events overlapping [from, to], ordered by start.
func (d *DB) EventsInRange(from, to time.Time) ([]analyzer.HighPowerEvent, error) {
	if to.Before(from) {
		return nil, nil
	}
	rows, err := d.db.Query(
		"SELECT "+eventColumns+" FROM high_power_events WHERE end_timestamp >= ? AND timestamp <= ? ORDER BY timestamp, rowid",
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []analyzer.HighPowerEvent
	for rows.Next() {
		var (
			e         analyzer.HighPowerEvent
			ts        int64
			cause     string
			procs     string
			finalized int
		)
		if err := rows.Scan(&e.ID, &ts, &e.DurationSeconds, &cause, &procs,
			&e.AvgPowerDraw, &e.Confidence, &e.Recommendations, &e.Ticks, &finalized); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		if e.PrimaryCause, err = analyzer.ParseCause(cause); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(procs), &e.ProcessesInvolved); err != nil {
			return nil, fmt.Errorf("event %s processes: %w", e.ID, err)
		}
		e.Finalized = finalized != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

// RollingAverage returns the mean power draw estimate over the trailing
// window. ok is false when no estimate falls in the window.
func (d *DB) RollingAverage(window time.Duration) (avg float64, ok bool, err error) {
	var v sql.NullFloat64
	err = d.db.QueryRow(
		"SELECT AVG(power_draw_estimate) FROM power_samples WHERE timestamp >= ? AND power_draw_estimate IS NOT NULL",
		d.now().Add(-window).UnixMilli(),
	).Scan(&v)
	if err != nil {
		return 0, false, err
	}
	return v.Float64, v.Valid, nil
}

// Stats summarizes the database contents.
type Stats struct {
	SampleCount   int64      `json:"sample_count"`
	EventCount    int64      `json:"event_count"`
	Oldest        *time.Time `json:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty"`
	FileSizeBytes int64      `json:"file_size_bytes"`
}

// Stats returns row counts, the sample time span and the file size.
func (d *DB) Stats() (Stats, error) {
	var st Stats
	var oldest, newest sql.NullInt64
	err := d.db.QueryRow("SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM power_samples").
		Scan(&st.SampleCount, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("sample stats: %w", err)
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM high_power_events").Scan(&st.EventCount); err != nil {
		return Stats{}, fmt.Errorf("event stats: %w", err)
	}
	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64)
		st.Oldest = &t
	}
	if newest.Valid {
		t := time.UnixMilli(newest.Int64)
		st.Newest = &t
	}
	// WAL content counts too; it is where recent writes live until checkpoint.
	for _, p := range []string{d.path, d.path + "-wal"} {
		if fi, err := os.Stat(p); err == nil {
			st.FileSizeBytes += fi.Size()
		}
	}
	return st, nil
}

func scanSamples(rows *sql.Rows) ([]collector.Sample, error) {
	defer rows.Close()
	var samples []collector.Sample
	for rows.Next() {
		var (
			s                        collector.Sample
			ts                       int64
			battery, draw, topCPU    sql.NullFloat64
			diskR, diskW, netS, netR sql.NullFloat64
			plugged                  sql.NullBool
			procs                    string
		)
		if err := rows.Scan(&ts, &battery, &plugged, &draw, &s.CPUPercent, &s.MemoryPercent,
			&diskR, &diskW, &netS, &netR, &s.TopProcessName, &topCPU, &procs); err != nil {
			return nil, err
		}
		s.Timestamp = time.UnixMilli(ts)
		s.BatteryPercent = floatPtr(battery)
		s.PowerPlugged = boolPtr(plugged)
		s.PowerDrawEstimate = floatPtr(draw)
		s.DiskReadMB = floatPtr(diskR)
		s.DiskWriteMB = floatPtr(diskW)
		s.NetworkSentMB = floatPtr(netS)
		s.NetworkRecvMB = floatPtr(netR)
		s.TopProcessCPU = floatPtr(topCPU)
		if err := json.Unmarshal([]byte(procs), &s.TopProcesses); err != nil {
			return nil, fmt.Errorf("decode processes: %w", err)
		}
		if len(s.TopProcesses) == 0 {
			s.TopProcesses = nil
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return boolInt(*v)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return collector.Float(v.Float64)
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return collector.Bool(v.Bool)
}

func nonNilProcs(p []collector.ProcessUsage) []collector.ProcessUsage {
	if p == nil {
		return []collector.ProcessUsage{}
	}
	return p
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
