package query

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loom-platform/loom/infrastructure/httputil"
)

// AdminRoutes mounts read-only trace inspection endpoints for operators:
//
//	GET /traces              filterable by ?session_id= and ?min_duration_ms=
//	GET /traces/stats        aggregate counts over the retained window
func AdminRoutes(bridge *Bridge) chi.Router {
	r := chi.NewRouter()
	r.Get("/traces", func(w http.ResponseWriter, req *http.Request) {
		sessionID := httputil.QueryString(req, "session_id", "")
		minDuration := httputil.QueryInt64(req, "min_duration_ms", 0)
		httputil.WriteJSON(w, http.StatusOK, bridge.Traces().Filter(sessionID, minDuration))
	})
	r.Get("/traces/stats", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, bridge.Traces().Stats())
	})
	return r
}
