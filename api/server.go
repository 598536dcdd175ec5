package api

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	cm "gitlab.com/skynetlabs/voxelsched/chunkmodules"
	"gitlab.com/skynetlabs/voxelsched/scheduler"
)

// sourceSummary is the per-source listing entry returned by GET /sources.
type sourceSummary struct {
	ID    cm.SourceID `json:"id"`
	Level int         `json:"level"`
}

// sourcesHandlerGET lists every source currently registered with the
// scheduler.
func (a *API) sourcesHandlerGET(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	sources := a.cmg.QueueManager().Sources()
	out := make([]sourceSummary, 0, len(sources))
	for _, s := range sources {
		out = append(out, sourceSummary{ID: s.ID(), Level: s.Level()})
	}
	WriteJSON(w, out)
}

// sourceStatsResponse is the body of GET /sources/:id/stats: the per-source
// statistics array of spec.md §3, plus the rolling download-latency stats
// of spec.md §6.5's supplement.
type sourceStatsResponse struct {
	Stats         scheduler.SourceStats `json:"stats"`
	LatencyMeanUS float64               `json:"latency_mean_us"`
	LatencyStdDev float64               `json:"latency_stddev_us"`
}

// sourceStatsHandlerGET returns GET /sources/:id/stats.
func (a *API) sourceStatsHandlerGET(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseUint(ps.ByName("id"), 10, 64)
	if err != nil {
		WriteError(w, Error{"invalid source id: " + err.Error()}, http.StatusBadRequest)
		return
	}
	source, ok := a.cmg.QueueManager().Source(cm.SourceID(id))
	if !ok {
		WriteError(w, Error{cm.ErrUnknownSource.Error()}, http.StatusNotFound)
		return
	}
	mean, stddev, err := source.LatencyStats()
	if err != nil {
		WriteError(w, Error{"failed to compute latency stats: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	WriteJSON(w, sourceStatsResponse{Stats: source.Stats(), LatencyMeanUS: mean, LatencyStdDev: stddev})
}

// layerSummary is one entry of GET /layers: a layer's name plus its current
// progress counters (spec.md §6.5).
type layerSummary struct {
	Name     string                    `json:"name"`
	Counters scheduler.LayerCounters   `json:"counters"`
}

// layersHandlerGET lists every registered layer's current counters.
func (a *API) layersHandlerGET(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	layers := a.cmg.Layers()
	out := make([]layerSummary, 0, len(layers))
	for _, l := range layers {
		out = append(out, layerSummary{Name: l.Name(), Counters: l.Counters()})
	}
	WriteJSON(w, out)
}

// layerHandlerGET returns GET /layers/:name's current counters.
func (a *API) layerHandlerGET(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	for _, l := range a.cmg.Layers() {
		if l.Name() == name {
			WriteJSON(w, layerSummary{Name: l.Name(), Counters: l.Counters()})
			return
		}
	}
	WriteError(w, Error{"no layer registered with that name"}, http.StatusNotFound)
}
