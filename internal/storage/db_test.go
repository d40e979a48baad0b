package storage

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	return db
}

func sampleAt(offset time.Duration, cpu float64) collector.Sample {
	return collector.Sample{Timestamp: base.Add(offset), CPUPercent: cpu, MemoryPercent: 40}
}

func insertSamples(t *testing.T, db *DB, samples ...collector.Sample) {
	t.Helper()
	for _, s := range samples {
		if err := db.InsertSample(s); err != nil {
			t.Fatalf("InsertSample(%v) error = %v", s.Timestamp, err)
		}
	}
}

func TestSampleRoundTrip(t *testing.T) {
	db := openTestDB(t)

	full := collector.Sample{
		Timestamp:         base,
		BatteryPercent:    collector.Float(72.5),
		PowerPlugged:      collector.Bool(false),
		PowerDrawEstimate: collector.Float(11.2),
		CPUPercent:        63,
		MemoryPercent:     41,
		DiskReadMB:        collector.Float(0),
		DiskWriteMB:       collector.Float(3.5),
		NetworkSentMB:     collector.Float(0.1),
		NetworkRecvMB:     collector.Float(2),
		TopProcessName:    "cc1plus",
		TopProcessCPU:     collector.Float(37),
		TopProcesses: []collector.ProcessUsage{
			{PID: 100, Name: "cc1plus", CPUPercent: 37, DiskMB: collector.Float(1.5)},
			{PID: 101, Name: "ld", CPUPercent: 9},
		},
	}
	bare := sampleAt(time.Minute, 5)
	insertSamples(t, db, full, bare)

	got, err := db.SamplesInRange(base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("SamplesInRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SamplesInRange() len = %d, want 2", len(got))
	}

	g := got[0]
	if !g.Timestamp.Equal(base) {
		t.Fatalf("Timestamp = %v, want %v", g.Timestamp, base)
	}
	if g.BatteryPercent == nil || *g.BatteryPercent != 72.5 {
		t.Fatalf("BatteryPercent = %v, want 72.5", g.BatteryPercent)
	}
	if g.PowerPlugged == nil || *g.PowerPlugged {
		t.Fatalf("PowerPlugged = %v, want false", g.PowerPlugged)
	}
	if g.DiskReadMB == nil || *g.DiskReadMB != 0 {
		t.Fatalf("DiskReadMB = %v, want measured zero", g.DiskReadMB)
	}
	if g.TopProcessName != "cc1plus" || g.TopProcessCPU == nil || *g.TopProcessCPU != 37 {
		t.Fatalf("top process = %q/%v", g.TopProcessName, g.TopProcessCPU)
	}
	if len(g.TopProcesses) != 2 || g.TopProcesses[0].DiskMB == nil || *g.TopProcesses[0].DiskMB != 1.5 {
		t.Fatalf("TopProcesses = %#v", g.TopProcesses)
	}
	if g.TopProcesses[1].DiskMB != nil {
		t.Fatalf("TopProcesses[1].DiskMB = %v, want nil", *g.TopProcesses[1].DiskMB)
	}

	b := got[1]
	if b.BatteryPercent != nil || b.PowerPlugged != nil || b.PowerDrawEstimate != nil {
		t.Fatalf("unknown battery fields not nil: %#v", b)
	}
	if b.DiskReadMB != nil || b.NetworkRecvMB != nil || b.TopProcessCPU != nil {
		t.Fatalf("unknown rate fields not nil: %#v", b)
	}
	if b.TopProcesses != nil {
		t.Fatalf("TopProcesses = %#v, want nil", b.TopProcesses)
	}
}

func TestSamplesInRange_Bounds(t *testing.T) {
	db := openTestDB(t)
	insertSamples(t, db, sampleAt(0, 1), sampleAt(10*time.Second, 2), sampleAt(20*time.Second, 3))

	got, err := db.SamplesInRange(base.Add(10*time.Second), base.Add(20*time.Second))
	if err != nil {
		t.Fatalf("SamplesInRange() error = %v", err)
	}
	if len(got) != 2 || got[0].CPUPercent != 2 || got[1].CPUPercent != 3 {
		t.Fatalf("SamplesInRange() = %#v, want cpu 2 and 3", got)
	}

	got, err = db.SamplesInRange(base.Add(time.Hour), base)
	if err != nil {
		t.Fatalf("SamplesInRange(inverted) error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("SamplesInRange(inverted) len = %d, want 0", len(got))
	}
}

func TestRecentSamples_OrderAndTies(t *testing.T) {
	db := openTestDB(t)
	// Two samples share a timestamp; insertion order breaks the tie.
	insertSamples(t, db,
		sampleAt(0, 1),
		sampleAt(time.Second, 2),
		sampleAt(time.Second, 3),
		sampleAt(2*time.Second, 4),
	)

	got, err := db.RecentSamples(3)
	if err != nil {
		t.Fatalf("RecentSamples() error = %v", err)
	}
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("RecentSamples() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CPUPercent != want[i] {
			t.Fatalf("RecentSamples()[%d].CPUPercent = %v, want %v", i, got[i].CPUPercent, want[i])
		}
	}

	all, err := db.RecentSamples(100)
	if err != nil {
		t.Fatalf("RecentSamples(100) error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("RecentSamples(100) len = %d, want 4", len(all))
	}

	none, err := db.RecentSamples(0)
	if err != nil || len(none) != 0 {
		t.Fatalf("RecentSamples(0) = %v, %v; want empty", none, err)
	}
}

func TestLatestSample(t *testing.T) {
	db := openTestDB(t)

	got, err := db.LatestSample()
	if err != nil {
		t.Fatalf("LatestSample() error = %v", err)
	}
	if got != nil {
		t.Fatalf("LatestSample() = %#v, want nil on empty db", got)
	}

	insertSamples(t, db, sampleAt(0, 1), sampleAt(time.Minute, 9))
	got, err = db.LatestSample()
	if err != nil {
		t.Fatalf("LatestSample() error = %v", err)
	}
	if got == nil || got.CPUPercent != 9 {
		t.Fatalf("LatestSample() = %#v, want cpu 9", got)
	}
}

func testEvent(id string, start time.Time, dur float64) analyzer.HighPowerEvent {
	return analyzer.HighPowerEvent{
		ID:                id,
		Timestamp:         start,
		DurationSeconds:   dur,
		PrimaryCause:      analyzer.CauseHighCPU,
		ProcessesInvolved: []string{"chrome", "node"},
		AvgPowerDraw:      18,
		Confidence:        0.4,
		Ticks:             2,
	}
}

func TestUpsertEvent_FinalizedIsImmutable(t *testing.T) {
	db := openTestDB(t)

	e := testEvent("ev-1", base, 30)
	if err := db.UpsertEvent(e); err != nil {
		t.Fatalf("UpsertEvent(open) error = %v", err)
	}

	e.DurationSeconds = 120
	e.Ticks = 5
	e.Finalized = true
	if err := db.UpsertEvent(e); err != nil {
		t.Fatalf("UpsertEvent(finalize) error = %v", err)
	}

	late := e
	late.DurationSeconds = 999
	late.PrimaryCause = analyzer.CauseUnknown
	if err := db.UpsertEvent(late); err != nil {
		t.Fatalf("UpsertEvent(late) error = %v", err)
	}

	got, err := db.EventsInRange(base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("EventsInRange() len = %d, want 1", len(got))
	}
	g := got[0]
	if !g.Finalized || g.DurationSeconds != 120 || g.Ticks != 5 {
		t.Fatalf("event = %#v, want finalized 120s 5 ticks", g)
	}
	if g.PrimaryCause != analyzer.CauseHighCPU {
		t.Fatalf("PrimaryCause = %v, want HIGH_CPU", g.PrimaryCause)
	}
	if len(g.ProcessesInvolved) != 2 || g.ProcessesInvolved[0] != "chrome" {
		t.Fatalf("ProcessesInvolved = %v", g.ProcessesInvolved)
	}
}

func TestEventsInRange_Overlap(t *testing.T) {
	db := openTestDB(t)
	for _, e := range []analyzer.HighPowerEvent{
		testEvent("before", base.Add(-2*time.Hour), 60),
		testEvent("spanning", base.Add(-10*time.Minute), 1200),
		testEvent("inside", base.Add(5*time.Minute), 60),
		testEvent("after", base.Add(2*time.Hour), 60),
	} {
		if err := db.UpsertEvent(e); err != nil {
			t.Fatalf("UpsertEvent(%s) error = %v", e.ID, err)
		}
	}

	got, err := db.EventsInRange(base, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "spanning" || got[1].ID != "inside" {
		t.Fatalf("EventsInRange() = %#v, want spanning and inside", got)
	}
}

func TestRollingAverage(t *testing.T) {
	db := openTestDB(t)
	db.now = func() time.Time { return base.Add(10 * time.Minute) }

	if _, ok, err := db.RollingAverage(10 * time.Minute); err != nil || ok {
		t.Fatalf("RollingAverage() on empty db = ok %v err %v, want no value", ok, err)
	}

	old := sampleAt(-time.Minute, 0)
	old.PowerDrawEstimate = collector.Float(100)
	a := sampleAt(time.Minute, 0)
	a.PowerDrawEstimate = collector.Float(10)
	b := sampleAt(2*time.Minute, 0)
	b.PowerDrawEstimate = collector.Float(20)
	noEstimate := sampleAt(3*time.Minute, 0)
	insertSamples(t, db, old, a, b, noEstimate)

	avg, ok, err := db.RollingAverage(10 * time.Minute)
	if err != nil {
		t.Fatalf("RollingAverage() error = %v", err)
	}
	if !ok || avg != 15 {
		t.Fatalf("RollingAverage() = %v, %v; want 15, true", avg, ok)
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)

	st, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.SampleCount != 0 || st.Oldest != nil || st.Newest != nil {
		t.Fatalf("Stats() on empty db = %#v", st)
	}

	insertSamples(t, db, sampleAt(0, 1), sampleAt(time.Hour, 2))
	if err := db.UpsertEvent(testEvent("e", base, 10)); err != nil {
		t.Fatalf("UpsertEvent() error = %v", err)
	}

	st, err = db.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.SampleCount != 2 || st.EventCount != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", st.SampleCount, st.EventCount)
	}
	if st.Oldest == nil || !st.Oldest.Equal(base) || st.Newest == nil || !st.Newest.Equal(base.Add(time.Hour)) {
		t.Fatalf("span = %v..%v", st.Oldest, st.Newest)
	}
	if st.FileSizeBytes <= 0 {
		t.Fatalf("FileSizeBytes = %d, want > 0", st.FileSizeBytes)
	}
}

func TestWriteAfterCloseIsUnavailable(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := db.InsertSample(sampleAt(0, 1)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("InsertSample() error = %v, want ErrUnavailable", err)
	}
	if err := db.UpsertEvent(testEvent("x", base, 1)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("UpsertEvent() error = %v, want ErrUnavailable", err)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	db := openTestDB(t)

	const n = 1000
	done := make(chan struct{})
	errs := make(chan error, 8)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := db.RecentSamples(50)
				if err != nil {
					errs <- err
					return
				}
				for i := 1; i < len(got); i++ {
					if got[i].Timestamp.Before(got[i-1].Timestamp) {
						errs <- errors.New("recent samples out of order")
						return
					}
				}
				if _, err := db.SamplesInRange(base, base.Add(n*time.Second)); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		if err := db.InsertSample(sampleAt(time.Duration(i)*time.Second, float64(i%100))); err != nil {
			close(done)
			t.Fatalf("InsertSample(%d) error = %v", i, err)
		}
	}
	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("reader error = %v", err)
	}

	all, err := db.SamplesInRange(base, base.Add(n*time.Second))
	if err != nil {
		t.Fatalf("SamplesInRange() error = %v", err)
	}
	if len(all) != n {
		t.Fatalf("SamplesInRange() len = %d, want %d", len(all), n)
	}
}
