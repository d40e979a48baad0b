package analyzer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

// SampleReader is the part of the store the runner reads windows from.
type SampleReader interface {
	SamplesInRange(from, to time.Time) ([]collector.Sample, error)
}

// Settings are read on every sample so config reloads apply on the next
// tick.
type Settings struct {
	Window     time.Duration
	Thresholds Thresholds
}

// Runner analyzes the trailing window after each persisted sample and
// drives the Tracker.
type Runner struct {
	reader   SampleReader
	tracker  *Tracker
	settings func() Settings
	log      *slog.Logger

	mu   sync.Mutex
	last *Result
}

// NewRunner creates a Runner.
func NewRunner(reader SampleReader, tracker *Tracker, settings func() Settings, logger *slog.Logger) *Runner {
	return &Runner{
		reader:   reader,
		tracker:  tracker,
		settings: settings,
		log:      logger,
	}
}

// OnSample is called by the sampler once s has been stored.
func (r *Runner) OnSample(s collector.Sample) {
	cfg := r.settings()
	window, err := r.reader.SamplesInRange(s.Timestamp.Add(-cfg.Window), s.Timestamp)
	if err != nil {
		// Leave the episode state alone; a failed read is not a clear.
		r.log.Warn("read analysis window failed", "err", err)
		return
	}
	if len(window) == 0 {
		window = []collector.Sample{s}
	}

	res := Analyze(window, cfg.Thresholds)
	r.log.Debug("analyzed window",
		"samples", len(window), "estimates", res.Estimates, "avg_draw", res.AvgPowerDraw,
		"detected", res.Detected, "cause", res.PrimaryCause)

	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()

	if _, err := r.tracker.Observe(window[len(window)-1], res); err != nil {
		r.log.Error("persist high power event failed", "err", err)
	}
}

// Last returns the most recent analysis result.
func (r *Runner) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}
