package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/websocket"

	"gitlab.com/skynetlabs/voxelsched/scheduler"
)

// liveCountersMessage is one frame sent to a /live subscriber: a single
// layer's name and its freshly-changed progress counters (spec.md §6.5,
// "reported out periodically (≈5Hz) via a throttled message").
type liveCountersMessage struct {
	Layer    string                  `json:"layer"`
	Counters scheduler.LayerCounters `json:"counters"`
}

// liveBroadcaster fans out ProgressReporter's per-layer reports to every
// currently-connected websocket subscriber. A long-lived duplex connection
// fed from a single upstream coalescer is an ordinary broadcast pattern;
// nothing here is scheduler-specific.
type liveBroadcaster struct {
	mu   sync.Mutex
	subs map[chan liveCountersMessage]struct{}
}

func newLiveBroadcaster(pr *scheduler.ProgressReporter) *liveBroadcaster {
	b := &liveBroadcaster{subs: make(map[chan liveCountersMessage]struct{})}
	pr.OnReport(func(l *scheduler.Layer, c scheduler.LayerCounters) {
		b.publish(liveCountersMessage{Layer: l.Name(), Counters: c})
	})
	return b
}

func (b *liveBroadcaster) publish(msg liveCountersMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop the frame rather than block the
			// reporter's tick goroutine.
		}
	}
}

func (b *liveBroadcaster) subscribe() chan liveCountersMessage {
	ch := make(chan liveCountersMessage, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *liveBroadcaster) unsubscribe(ch chan liveCountersMessage) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// AttachLive wires pr's reports into a's /live websocket route. Must be
// called once, before the API starts serving, with the same
// ProgressReporter driving the ChunkManager a was constructed with.
func (a *API) AttachLive(pr *scheduler.ProgressReporter) {
	a.live = newLiveBroadcaster(pr)
}

// liveHandlerGET upgrades the request to a websocket and streams
// liveCountersMessage frames until the client disconnects.
func (a *API) liveHandlerGET(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if a.live == nil {
		WriteError(w, Error{"live reporting is not attached to this server"}, http.StatusServiceUnavailable)
		return
	}
	websocket.Handler(func(ws *websocket.Conn) {
		ch := a.live.subscribe()
		defer a.live.unsubscribe(ch)
		enc := json.NewEncoder(ws)
		for msg := range ch {
			if err := enc.Encode(msg); err != nil {
				return
			}
		}
	}).ServeHTTP(w, r)
}
