// Package api serves the read-only HTTP interface.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/observability"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/query"
)

// NewRouter builds the HTTP routes. metrics may be nil, in which case
// /metrics is not registered.
func NewRouter(q *query.Service, metrics *observability.Metrics) *mux.Router {
	h := &handler{q: q}
	r := mux.NewRouter()

	route := func(path string, fn http.HandlerFunc) {
		r.Handle(path, metrics.WrapHandler(path, fn)).Methods(http.MethodGet)
	}
	route("/health", healthHandler)
	route("/stats/current", h.current)
	route("/stats/database", h.database)
	route("/samples", h.samples)
	route("/samples/recent", h.recent)
	route("/events", h.events)

	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}
