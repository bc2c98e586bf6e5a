package web

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/deepimage/internal/debug"
)

// RemoteTrigger queues one capture. Fire reports false if one is already pending.
type RemoteTrigger interface {
	Fire() bool
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Events   *Hub
	Status   *Status
	Remote   RemoteTrigger // nil disables POST /trigger
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If remote is nil, POST /trigger will return 503 Service Unavailable.
func NewHandlers(events *Hub, status *Status, remote RemoteTrigger, staticFS fs.FS) *Handlers {
	return &Handlers{
		Events:   events,
		Status:   status,
		Remote:   remote,
		staticFS: staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus returns the run status as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(h.Status.Snapshot())
}

// HandleLatest serves the most recent capture.
func (h *Handlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	path := h.Status.LastFile()
	if path == "" {
		http.Error(w, "no capture yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

// HandleTrigger handles POST /trigger: queues one capture, as if the button was pressed.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Remote == nil {
		http.Error(w, "remote trigger disabled", http.StatusServiceUnavailable)
		return
	}
	if !h.Remote.Fire() {
		http.Error(w, "trigger already pending", http.StatusConflict)
		return
	}

	debug.Live("remote trigger queued from %s", r.RemoteAddr)
	h.Events.Publish(Event{Kind: KindTrigger, Msg: "remote trigger queued"})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

// HandleStatusStream handles GET /status/stream for SSE. Each event is
// sent with its kind as the SSE event name; ?kinds=capture,stopped limits
// the stream to those kinds.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	kinds, err := ParseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	events, cancel := h.Events.Subscribe(kinds...)
	defer cancel()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
