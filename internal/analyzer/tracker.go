package analyzer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
)

// EventStore persists event snapshots by ID.
type EventStore interface {
	UpsertEvent(HighPowerEvent) error
}

// Phase says where in its lifecycle an event snapshot was taken.
type Phase int

const (
	PhaseOpened Phase = iota
	PhaseUpdated
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseOpened:
		return "opened"
	case PhaseUpdated:
		return "updated"
	case PhaseFinalized:
		return "finalized"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// EventSink receives every snapshot after it has been handed to the store.
type EventSink func(HighPowerEvent, Phase)

// Tracker turns per-tick results into episodes. At most one episode is
// open at a time.
type Tracker struct {
	mu    sync.Mutex
	store EventStore
	sink  EventSink
	log   *slog.Logger
	newID func() string

	open           *HighPowerEvent
	pending        *HighPowerEvent // finalized snapshot the store has not accepted yet
	drawSum        float64
	drawN          int
	bestConfidence float64
}

// NewTracker creates a Tracker. sink may be nil.
func NewTracker(store EventStore, sink EventSink, logger *slog.Logger) *Tracker {
	return &Tracker{
		store: store,
		sink:  sink,
		log:   logger,
		newID: uuid.NewString,
	}
}

// Observe feeds the result computed for latest. It opens, extends or
// finalizes the current episode and returns the resulting snapshot, or nil
// when nothing changed. A store error is returned after the in-memory
// state has been updated. While a finalized episode is still unsaved no
// new episode opens.
func (t *Tracker) Observe(latest collector.Sample, res Result) (*HighPowerEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.flushPendingLocked(); err != nil {
		return nil, err
	}

	if !res.Detected {
		if t.open == nil {
			return nil, nil
		}
		return t.finalizeLocked()
	}

	phase := PhaseUpdated
	if t.open == nil {
		phase = PhaseOpened
		t.open = &HighPowerEvent{
			ID:        t.newID(),
			Timestamp: latest.Timestamp,
		}
		t.drawSum, t.drawN = 0, 0
		t.bestConfidence = -1
	}

	e := t.open
	e.Ticks++
	if d := latest.Timestamp.Sub(e.Timestamp).Seconds(); d > e.DurationSeconds {
		e.DurationSeconds = d
	}
	if latest.PowerDrawEstimate != nil {
		t.drawSum += *latest.PowerDrawEstimate
		t.drawN++
	}
	if t.drawN > 0 {
		e.AvgPowerDraw = t.drawSum / float64(t.drawN)
	} else {
		e.AvgPowerDraw = res.AvgPowerDraw
	}
	// The most confident tick decides the attribution.
	if res.Confidence > t.bestConfidence {
		t.bestConfidence = res.Confidence
		e.PrimaryCause = res.PrimaryCause
		e.Confidence = res.Confidence
		e.ProcessesInvolved = append([]string(nil), res.ProcessesInvolved...)
		e.Recommendations = res.Recommendations
	}

	if phase == PhaseOpened {
		t.log.Info("high power episode started",
			"id", e.ID, "draw", e.AvgPowerDraw, "cause", e.PrimaryCause)
	}
	return t.emitLocked(phase)
}

// Close finalizes an open episode, e.g. on shutdown.
func (t *Tracker) Close() (*HighPowerEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.flushPendingLocked(); err != nil {
		return nil, err
	}
	if t.open == nil {
		return nil, nil
	}
	return t.finalizeLocked()
}

// Open returns a copy of the open episode, if any.
func (t *Tracker) Open() (HighPowerEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return HighPowerEvent{}, false
	}
	return t.snapshotLocked(), true
}

func (t *Tracker) finalizeLocked() (*HighPowerEvent, error) {
	t.open.Finalized = true
	t.log.Info("high power episode ended",
		"id", t.open.ID, "duration_s", t.open.DurationSeconds, "cause", t.open.PrimaryCause,
		"avg_draw", t.open.AvgPowerDraw)
	snap, err := t.emitLocked(PhaseFinalized)
	if err != nil {
		pending := *snap
		pending.ProcessesInvolved = append([]string(nil), snap.ProcessesInvolved...)
		t.pending = &pending
	}
	t.open = nil
	return snap, err
}

// flushPendingLocked retries the write of a finalized episode the store
// rejected earlier. The sink has already seen it.
func (t *Tracker) flushPendingLocked() error {
	if t.pending == nil || t.store == nil {
		t.pending = nil
		return nil
	}
	if err := t.store.UpsertEvent(*t.pending); err != nil {
		return fmt.Errorf("store finalized event %s: %w", t.pending.ID, err)
	}
	t.log.Info("stored finalized episode after retry", "id", t.pending.ID)
	t.pending = nil
	return nil
}

func (t *Tracker) emitLocked(phase Phase) (*HighPowerEvent, error) {
	snap := t.snapshotLocked()
	var err error
	if t.store != nil {
		if err = t.store.UpsertEvent(snap); err != nil {
			err = fmt.Errorf("store event %s: %w", snap.ID, err)
		}
	}
	if t.sink != nil {
		t.sink(snap, phase)
	}
	return &snap, err
}

func (t *Tracker) snapshotLocked() HighPowerEvent {
	snap := *t.open
	snap.ProcessesInvolved = append([]string(nil), t.open.ProcessesInvolved...)
	return snap
}
