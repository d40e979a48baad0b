// Package query answers read requests from the D-Bus and HTTP surfaces.
package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/power"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/storage"
)

// ErrInvalidArgument marks a request the caller has to fix.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	// MaxRangeSeconds bounds a history or event query.
	MaxRangeSeconds = 366 * 86400
	// MaxRecent bounds GetRecent and /samples/recent.
	MaxRecent = 10000
)

// Store is the read side of storage.DB.
type Store interface {
	SamplesInRange(from, to time.Time) ([]collector.Sample, error)
	RecentSamples(n int) ([]collector.Sample, error)
	LatestSample() (*collector.Sample, error)
	EventsInRange(from, to time.Time) ([]analyzer.HighPowerEvent, error)
	RollingAverage(window time.Duration) (float64, bool, error)
	Stats() (storage.Stats, error)
}

// Live provides the sampler's in-memory snapshot.
type Live interface {
	CurrentStats() (collector.Sample, bool)
}

// Episodes provides the currently open high-power episode.
type Episodes interface {
	Open() (analyzer.HighPowerEvent, bool)
}

// Current is the answer to a current-stats request.
type Current struct {
	Sample               *collector.Sample        `json:"sample"`
	RollingAverage       *float64                 `json:"rolling_average"`
	TimeRemainingSeconds *float64                 `json:"time_remaining_seconds"`
	OpenEvent            *analyzer.HighPowerEvent `json:"open_event,omitempty"`
}

// Service composes the store with the live sampler and tracker state.
// live and episodes may be nil.
type Service struct {
	store    Store
	live     Live
	episodes Episodes
	window   func() time.Duration
}

func NewService(store Store, live Live, episodes Episodes, window func() time.Duration) *Service {
	return &Service{store: store, live: live, episodes: episodes, window: window}
}

// Current returns the latest sample, falling back to the store when the
// sampler has not produced one yet, plus the rolling draw average over the
// analysis window and the implied time remaining.
func (s *Service) Current() (Current, error) {
	var cur Current
	if s.live != nil {
		if smp, ok := s.live.CurrentStats(); ok {
			cur.Sample = &smp
		}
	}
	if cur.Sample == nil {
		latest, err := s.store.LatestSample()
		if err != nil {
			return Current{}, unavailable("latest sample", err)
		}
		cur.Sample = latest
	}

	avg, ok, err := s.store.RollingAverage(s.window())
	if err != nil {
		return Current{}, unavailable("rolling average", err)
	}
	if ok {
		cur.RollingAverage = &avg
	}

	if smp := cur.Sample; smp != nil && smp.HasBattery() && smp.OnBattery() {
		rate := cur.RollingAverage
		if rate == nil {
			rate = smp.PowerDrawEstimate
		}
		if rate != nil {
			if d, ok := power.TimeRemaining(*smp.BatteryPercent, *rate); ok {
				cur.TimeRemainingSeconds = collector.Float(d.Seconds())
			}
		}
	}

	if s.episodes != nil {
		if ev, ok := s.episodes.Open(); ok {
			cur.OpenEvent = &ev
		}
	}
	return cur, nil
}

// History returns samples between two unix times, inclusive.
func (s *Service) History(fromEpoch, toEpoch int64) ([]collector.Sample, error) {
	from, to, err := Range(fromEpoch, toEpoch)
	if err != nil {
		return nil, err
	}
	samples, err := s.store.SamplesInRange(from, to)
	if err != nil {
		return nil, unavailable("samples", err)
	}
	return nonNil(samples), nil
}

// Recent returns the last n samples, oldest first.
func (s *Service) Recent(n int) ([]collector.Sample, error) {
	if n < 1 || n > MaxRecent {
		return nil, fmt.Errorf("%w: n must be between 1 and %d, got %d", ErrInvalidArgument, MaxRecent, n)
	}
	samples, err := s.store.RecentSamples(n)
	if err != nil {
		return nil, unavailable("recent samples", err)
	}
	return nonNil(samples), nil
}

// Events returns high-power events overlapping the range.
func (s *Service) Events(fromEpoch, toEpoch int64) ([]analyzer.HighPowerEvent, error) {
	from, to, err := Range(fromEpoch, toEpoch)
	if err != nil {
		return nil, err
	}
	events, err := s.store.EventsInRange(from, to)
	if err != nil {
		return nil, unavailable("events", err)
	}
	if events == nil {
		events = []analyzer.HighPowerEvent{}
	}
	return events, nil
}

// DatabaseStats returns row counts and file size.
func (s *Service) DatabaseStats() (storage.Stats, error) {
	st, err := s.store.Stats()
	if err != nil {
		return storage.Stats{}, unavailable("stats", err)
	}
	return st, nil
}

// Range validates a unix-seconds range: both ends non-negative, to not
// before from, and spanning at most MaxRangeSeconds. The upper bound covers
// the whole of its second, since stored timestamps carry milliseconds.
func Range(fromEpoch, toEpoch int64) (time.Time, time.Time, error) {
	if fromEpoch < 0 || toEpoch < 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: negative time range %d..%d", ErrInvalidArgument, fromEpoch, toEpoch)
	}
	if toEpoch < fromEpoch {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to %d is before from %d", ErrInvalidArgument, toEpoch, fromEpoch)
	}
	if toEpoch-fromEpoch > MaxRangeSeconds {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range of %ds exceeds %ds", ErrInvalidArgument, toEpoch-fromEpoch, MaxRangeSeconds)
	}
	return time.Unix(fromEpoch, 0), time.Unix(toEpoch, 0).Add(time.Second - time.Millisecond), nil
}

func unavailable(what string, err error) error {
	if errors.Is(err, storage.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", storage.ErrUnavailable, what, err)
}

func nonNil(s []collector.Sample) []collector.Sample {
	if s == nil {
		return []collector.Sample{}
	}
	return s
}
