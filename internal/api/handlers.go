package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/query"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/storage"
)

// defaultSpan is used by range endpoints when from is omitted.
const defaultSpan = time.Hour

const defaultRecent = 20

type handler struct {
	q   *query.Service
	now func() time.Time
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) current(w http.ResponseWriter, _ *http.Request) {
	cur, err := h.q.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (h *handler) database(w http.ResponseWriter, _ *http.Request) {
	st, err := h.q.DatabaseStats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) samples(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.rangeParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	samples, err := h.q.History(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *handler) recent(w http.ResponseWriter, r *http.Request) {
	n := defaultRecent
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: n: %w", query.ErrInvalidArgument, err))
			return
		}
		n = parsed
	}
	samples, err := h.q.Recent(n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.rangeParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.q.Events(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// rangeParams reads from and to as unix seconds. to defaults to now and
// from to an hour before to.
func (h *handler) rangeParams(r *http.Request) (int64, int64, error) {
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	q := r.URL.Query()

	to := now().Unix()
	if v := q.Get("to"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: to: %w", query.ErrInvalidArgument, err)
		}
		to = parsed
	}
	from := to - int64(defaultSpan/time.Second)
	if v := q.Get("from"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: from: %w", query.ErrInvalidArgument, err)
		}
		from = parsed
	} else if from < 0 {
		from = 0
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, query.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
