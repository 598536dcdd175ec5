// Package api implements component-adjacent debug/introspection surface for
// voxelsched: httprouter routes exposing queue-manager and per-layer
// statistics, plus a websocket route streaming the ~5Hz per-layer progress
// counters of spec.md §6.5. This is ordinary glue around the scheduler
// (spec.md §1 "everything else in the repository ... is ordinary glue"),
// grounded on the teacher's node/api package: an httprouter.Router wired up
// with handlers of the signature func(http.ResponseWriter, *http.Request,
// httprouter.Params), the convention visible throughout
// node/api/skynethelpers.go.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"gitlab.com/NebulousLabs/log"

	"gitlab.com/skynetlabs/voxelsched/scheduler"
)

// API is the debug/introspection HTTP server. It holds no scheduling state
// of its own; every route reads straight through to the ChunkManager/
// QueueManager it was constructed with.
type API struct {
	staticLog *log.Logger
	cmg       *scheduler.ChunkManager
	router    *httprouter.Router
	live      *liveBroadcaster
}

// New constructs an API wired to cmg's scheduler and registers every debug
// route.
func New(cmg *scheduler.ChunkManager, logger *log.Logger) *API {
	a := &API{staticLog: logger, cmg: cmg, router: httprouter.New()}
	a.router.GET("/sources", a.sourcesHandlerGET)
	a.router.GET("/sources/:id/stats", a.sourceStatsHandlerGET)
	a.router.GET("/layers", a.layersHandlerGET)
	a.router.GET("/layers/:name", a.layerHandlerGET)
	a.router.GET("/live", a.liveHandlerGET)
	return a
}

// ServeHTTP implements http.Handler by delegating to the underlying router.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Error is the JSON envelope every failed route returns, mirroring the
// teacher's Error{Message} convention referenced throughout node/api.
type Error struct {
	Message string `json:"message"`
}

// WriteError writes err as a JSON body with the given HTTP status code.
func WriteError(w http.ResponseWriter, err Error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(err)
}

// WriteJSON writes v as a JSON body with a 200 status code.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
