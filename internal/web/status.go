package web

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Run states reported by GET /status.
const (
	StateStarting = "starting"
	StateWaiting  = "waiting"  // preview running, polling the trigger
	StateCaptured = "captured" // between a capture and the next preview
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

// StatusDoc is the JSON document served by GET /status.
type StatusDoc struct {
	RunID      string    `json:"run_id"`
	State      string    `json:"state"`
	Captures   uint64    `json:"captures"`
	Counter    uint64    `json:"counter"`
	LastFile   string    `json:"last_file,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	CPUPercent *float64  `json:"cpu_percent,omitempty"`
}

// Status tracks the capture loop for the web server. It implements
// capture.Observer and publishes every event to the hub.
type Status struct {
	runID     string
	startedAt time.Time
	events    *Hub
	cpu       func() (float64, error)

	captures atomic.Uint64
	counter  atomic.Uint64

	mu       sync.RWMutex
	state    string
	lastFile string
	errMsg   string
}

// NewStatus creates a tracker for one run. events may be nil.
func NewStatus(runID string, events *Hub) *Status {
	return &Status{
		runID:     runID,
		startedAt: time.Now(),
		events:    events,
		cpu:       processCPU,
		state:     StateStarting,
	}
}

func (s *Status) PreviewStarted(next uint64) {
	s.setState(StateWaiting)
	s.events.Publish(Event{Kind: KindPreview, Counter: next})
}

func (s *Status) Captured(n uint64, path string) {
	s.captures.Add(1)
	s.counter.Store(n)
	s.mu.Lock()
	s.state = StateCaptured
	s.lastFile = path
	s.mu.Unlock()
	s.events.Publish(Event{Kind: KindCapture, Counter: n, File: path})
}

func (s *Status) Stopped(captures uint64, err error) {
	evt := Event{Kind: KindStopped, Counter: s.counter.Load()}
	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.errMsg = err.Error()
		evt.Error = s.errMsg
	} else {
		s.state = StateStopped
	}
	s.mu.Unlock()
	evt.Msg = "stopped after " + plural(captures, "capture")
	s.events.Publish(evt)
}

// LastFile returns the path of the most recent capture, or "" before the first one.
func (s *Status) LastFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFile
}

// Snapshot returns the current status document.
func (s *Status) Snapshot() StatusDoc {
	s.mu.RLock()
	doc := StatusDoc{
		RunID:     s.runID,
		State:     s.state,
		LastFile:  s.lastFile,
		Error:     s.errMsg,
		StartedAt: s.startedAt,
	}
	s.mu.RUnlock()

	doc.Captures = s.captures.Load()
	doc.Counter = s.counter.Load()
	if s.cpu != nil {
		if pct, err := s.cpu(); err == nil {
			doc.CPUPercent = &pct
		}
	}
	return doc
}

func (s *Status) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func plural(n uint64, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.FormatUint(n, 10) + " " + word + "s"
}
