// Package monitor runs the periodic sampling loop.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/observability"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/power"
)

// State is the sampler lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Settings are read at the start of every tick.
type Settings struct {
	Interval     time.Duration
	TopProcesses int
	// JumpThreshold is the reading gap treated as an unsignalled suspend.
	// Zero disables the check.
	JumpThreshold time.Duration
}

// SettingsFunc returns the current settings.
type SettingsFunc func() Settings

// Store receives every sample.
type Store interface {
	InsertSample(collector.Sample) error
}

// Observer is notified after a sample has been stored.
type Observer interface {
	OnSample(collector.Sample)
}

// processRanker and resetter are optional Source capabilities.
type processRanker interface {
	SetTopProcesses(n int)
}

type resetter interface {
	Reset()
}

// Sampler reads the source on a fixed schedule, derives a Sample from
// consecutive readings and hands it to the store and observers.
type Sampler struct {
	source    collector.Source
	store     Store
	observers []Observer
	metrics   *observability.Metrics
	log       *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	snapMu sync.RWMutex
	latest *collector.Sample

	resync chan struct{}

	// Owned by the loop goroutine.
	prevReading *collector.Reading
	prevSample  *collector.Sample
	topN        int
}

// NewSampler creates an idle Sampler. metrics may be nil.
func NewSampler(source collector.Source, store Store, metrics *observability.Metrics, logger *slog.Logger, observers ...Observer) *Sampler {
	return &Sampler{
		source:    source,
		store:     store,
		observers: observers,
		metrics:   metrics,
		log:       logger,
		resync:    make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the loop. It does nothing and returns false unless the
// sampler is Idle. The loop also ends when ctx is cancelled.
func (s *Sampler) Start(ctx context.Context, settings SettingsFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.state, s.cancel, s.done = Running, cancel, done
	go s.run(ctx, settings, done)
	return true
}

// Stop cancels the loop and blocks until it has exited. Safe to call from
// any goroutine, any number of times.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	if s.state == Running {
		s.state = Stopping
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Resync drops the previous reading so the next sample does not derive
// rates across a gap, and samples immediately. Used after resume.
func (s *Sampler) Resync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// CurrentStats returns the latest sample. ok is false before the first
// sample.
func (s *Sampler) CurrentStats() (collector.Sample, bool) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.latest == nil {
		return collector.Sample{}, false
	}
	return *s.latest, true
}

func (s *Sampler) run(ctx context.Context, settings SettingsFunc, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.state, s.cancel, s.done = Idle, nil, nil
		s.mu.Unlock()
		close(done)
	}()

	s.resetBaseline()
	s.log.Info("sampler started")
	defer s.log.Info("sampler stopped")

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		cfg := settings()
		s.tick(cfg)
		if ctx.Err() != nil {
			return
		}

		next = nextSlot(next, time.Now(), cfg.Interval)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.resync:
			timer.Stop()
			s.log.Info("resyncing after resume")
			s.resetBaseline()
			next = time.Now()
		case <-timer.C:
		}
	}
}

// nextSlot advances the schedule by one interval from the previous slot,
// skipping any slots that have already passed.
func nextSlot(prev, now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = time.Second
	}
	next := prev.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(next)/interval + 1
	return next.Add(missed * interval)
}

func (s *Sampler) resetBaseline() {
	s.prevReading = nil
	s.prevSample = nil
	if r, ok := s.source.(resetter); ok {
		r.Reset()
	}
}

func (s *Sampler) tick(cfg Settings) {
	if cfg.TopProcesses != s.topN {
		s.topN = cfg.TopProcesses
		if r, ok := s.source.(processRanker); ok {
			r.SetTopProcesses(cfg.TopProcesses)
		}
	}

	reading, err := s.source.Read()
	if err != nil {
		s.log.Warn("read metrics failed", "err", err)
		s.metrics.Tick(observability.TickSourceError)
		return
	}
	if err := collector.Validate(reading); err != nil {
		s.log.Warn("rejected reading", "err", err)
		s.metrics.Tick(observability.TickInvalid)
		return
	}

	if prev := s.prevReading; prev != nil && cfg.JumpThreshold > 0 {
		if gap := reading.Timestamp.Sub(prev.Timestamp); gap > cfg.JumpThreshold {
			s.log.Info("wall-clock jump detected, dropping baseline", "gap", gap, "threshold", cfg.JumpThreshold)
			s.prevReading = nil
			s.prevSample = nil
		}
	}

	sample := s.buildSample(reading, cfg.TopProcesses)
	s.prevReading = reading
	s.prevSample = &sample

	stored := true
	if err := s.store.InsertSample(sample); err != nil {
		stored = false
		s.log.Error("store sample failed", "err", err)
		s.metrics.StoreFailure()
	}

	s.snapMu.Lock()
	s.latest = &sample
	s.snapMu.Unlock()
	s.metrics.ObserveSample(sample)

	if !stored {
		s.metrics.Tick(observability.TickStoreError)
		return
	}
	s.metrics.Tick(observability.TickOK)
	s.log.Debug("sample stored",
		"cpu", sample.CPUPercent, "battery", sample.BatteryPercent, "draw", sample.PowerDrawEstimate,
		"top", sample.TopProcessName)
	for _, o := range s.observers {
		o.OnSample(sample)
	}
}

func (s *Sampler) buildSample(r *collector.Reading, topN int) collector.Sample {
	ts := r.Timestamp
	if s.prevSample != nil && ts.Before(s.prevSample.Timestamp) {
		s.log.Warn("clock went backwards, clamping timestamp", "reading", ts, "previous", s.prevSample.Timestamp)
		ts = s.prevSample.Timestamp
	}

	smp := collector.Sample{
		Timestamp:     ts,
		CPUPercent:    r.CPUPercent,
		MemoryPercent: r.MemoryPercent,
	}
	if r.Battery != nil {
		smp.BatteryPercent = collector.Float(r.Battery.Percent)
		smp.PowerPlugged = r.Battery.Plugged
	}

	procs := r.Processes
	if topN > 0 && len(procs) > topN {
		procs = procs[:topN]
	}
	if len(procs) > 0 {
		smp.TopProcesses = append([]collector.ProcessUsage(nil), procs...)
		smp.TopProcessName = procs[0].Name
		smp.TopProcessCPU = collector.Float(procs[0].CPUPercent)
	}

	if prev := s.prevReading; prev != nil {
		if secs := r.Timestamp.Sub(prev.Timestamp).Seconds(); secs > 0 {
			smp.DiskReadMB = rate(prev.DiskReadBytes, r.DiskReadBytes, secs)
			smp.DiskWriteMB = rate(prev.DiskWriteBytes, r.DiskWriteBytes, secs)
			smp.NetworkSentMB = rate(prev.NetSentBytes, r.NetSentBytes, secs)
			smp.NetworkRecvMB = rate(prev.NetRecvBytes, r.NetRecvBytes, secs)
		}
	}
	if s.prevSample != nil {
		if est, ok := power.Estimate(*s.prevSample, smp); ok {
			smp.PowerDrawEstimate = &est
		}
	}
	return smp
}

// rate converts a counter delta to MB/s. A counter that went down was
// reset and gives no rate.
func rate(prev, cur uint64, secs float64) *float64 {
	if cur < prev {
		return nil
	}
	return collector.Float(float64(cur-prev) / secs / (1024 * 1024))
}
