package web

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Kind names an event type. It is also the SSE "event:" field, so browser
// clients can listen to the kinds they care about.
type Kind string

const (
	KindPreview Kind = "preview" // preview running, waiting for the trigger
	KindCapture Kind = "capture" // an image was written
	KindStopped Kind = "stopped" // the loop ended, Error set on failure
	KindTrigger Kind = "trigger" // a remote capture was queued
	KindLog     Kind = "log"     // mirrored debug output
)

var kinds = []Kind{KindPreview, KindCapture, KindStopped, KindTrigger, KindLog}

// ParseKinds parses a comma separated list such as "capture,stopped".
// An empty list means every kind.
func ParseKinds(s string) ([]Kind, error) {
	var out []Kind
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		k := Kind(f)
		if !slices.Contains(kinds, k) {
			return nil, fmt.Errorf("unknown event kind %q", f)
		}
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Event is one loop or server event as sent to stream clients.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Counter uint64    `json:"counter,omitempty"`
	File    string    `json:"file,omitempty"`
	Error   string    `json:"error,omitempty"`
	Msg     string    `json:"msg,omitempty"`
}

// eventBuffer is the per-subscriber queue length. A subscriber that falls
// further behind loses events rather than stalling the capture loop.
const eventBuffer = 64

type subscriber struct {
	ch    chan Event
	kinds []Kind // nil: all
}

func (s *subscriber) wants(k Kind) bool {
	return s.kinds == nil || slices.Contains(s.kinds, k)
}

// Hub fans events out to subscribers. Publish never blocks.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber for the given kinds, or for all kinds
// when none are given. cancel unregisters it and closes the channel; it is
// safe to call more than once.
func (h *Hub) Subscribe(kinds ...Kind) (events <-chan Event, cancel func()) {
	s := &subscriber{ch: make(chan Event, eventBuffer)}
	if len(kinds) > 0 {
		s.kinds = slices.Clone(kinds)
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Publish stamps evt and hands it to every interested subscriber.
// A nil Hub drops the event.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = h.now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.wants(evt.Kind) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// LogWriter returns an io.Writer publishing each non-blank write as a
// KindLog event. Pass it to debug.SetOutput to mirror logs to the page.
func (h *Hub) LogWriter() *logWriter {
	return &logWriter{h: h}
}

type logWriter struct {
	h *Hub
}

func (w *logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.h.Publish(Event{Kind: KindLog, Msg: msg})
	}
	return len(p), nil
}
