package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/deepimage/internal/hw/camera"
	"github.com/cjeanneret/deepimage/internal/hw/gpio"
	"github.com/cjeanneret/deepimage/internal/hw/trigger"
)

// scriptedTrigger returns the scripted values in order, then calls done
// and reports inactive forever.
type scriptedTrigger struct {
	script []bool
	errAt  int // 1-based poll that fails, 0 = never
	done   func()
	polls  int
}

var errRead = errors.New("gpio read failed")

func (s *scriptedTrigger) Active() (bool, error) {
	s.polls++
	if s.errAt > 0 && s.polls == s.errAt {
		return false, errRead
	}
	if s.polls <= len(s.script) {
		return s.script[s.polls-1], nil
	}
	if s.done != nil {
		s.done()
	}
	return false, nil
}

// mockCamera records calls and writes a file per capture.
type mockCamera struct {
	mu         sync.Mutex
	calls      []string
	closes     int
	captureErr error
	onCapture  func()
}

func (m *mockCamera) record(c string) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *mockCamera) StartPreview() error {
	m.record("start")
	return nil
}

func (m *mockCamera) Capture(path string) error {
	m.record("capture")
	if m.onCapture != nil {
		m.onCapture()
	}
	if m.captureErr != nil {
		return m.captureErr
	}
	return os.WriteFile(path, []byte("jpeg"), 0o644)
}

func (m *mockCamera) StopPreview() error {
	m.record("stop")
	return nil
}

func (m *mockCamera) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return nil
}

type recordingObserver struct {
	previews []uint64
	captured []uint64
	stopped  int
	lastErr  error
}

func (r *recordingObserver) PreviewStarted(next uint64) { r.previews = append(r.previews, next) }

func (r *recordingObserver) Captured(n uint64, _ string) { r.captured = append(r.captured, n) }

func (r *recordingObserver) Stopped(_ uint64, err error) {
	r.stopped++
	r.lastErr = err
}

func files(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}

func TestRun_NCaptures(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trig := &scriptedTrigger{script: []bool{true, true, true}, done: cancel}
	cam := &mockCamera{}
	loop := NewLoop(trig, cam, CounterNamer{Dir: dir}, Options{})

	res, err := loop.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captures != 3 || res.Counter != 3 {
		t.Errorf("captures = %d, counter = %d, want 3 and 3", res.Captures, res.Counter)
	}
	if res.LastPath != filepath.Join(dir, "3.jpg") {
		t.Errorf("last path = %q", res.LastPath)
	}
	if got := files(t, dir); !slices.Equal(got, []string{"1.jpg", "2.jpg", "3.jpg"}) {
		t.Errorf("files = %v, want 1.jpg..3.jpg", got)
	}
	if cam.closes != 1 {
		t.Errorf("camera closed %d times, want 1", cam.closes)
	}
}

func TestRun_ShutdownBeforeEdge(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trig := &scriptedTrigger{script: []bool{true}}
	cam := &mockCamera{}
	res, err := NewLoop(trig, cam, CounterNamer{Dir: dir}, Options{}).Run(ctx)

	if err != nil {
		t.Fatalf("shutdown should not be an error, got %v", err)
	}
	if res.Captures != 0 {
		t.Errorf("captures = %d, want 0", res.Captures)
	}
	if trig.polls != 0 {
		t.Errorf("trigger polled %d times after shutdown, want 0", trig.polls)
	}
	if len(files(t, dir)) != 0 {
		t.Error("no file expected")
	}
	if cam.closes != 1 {
		t.Errorf("camera closed %d times, want 1", cam.closes)
	}
}

func TestRun_LowThenHigh(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trig := &scriptedTrigger{script: []bool{false, false, false, true}, done: cancel}
	res, err := NewLoop(trig, &mockCamera{}, CounterNamer{Dir: dir}, Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captures != 1 {
		t.Errorf("captures = %d, want 1", res.Captures)
	}
	if got := files(t, dir); !slices.Equal(got, []string{"1.jpg"}) {
		t.Errorf("files = %v, want [1.jpg]", got)
	}
}

func TestRun_ReadErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	trig := &scriptedTrigger{script: []bool{true, false}, errAt: 2}
	cam := &mockCamera{}
	obs := &recordingObserver{}

	res, err := NewLoop(trig, cam, CounterNamer{Dir: dir}, Options{Observer: obs}).Run(context.Background())
	if !errors.Is(err, errRead) {
		t.Fatalf("err = %v, want read error", err)
	}
	if res.Captures != 1 {
		t.Errorf("captures = %d, want 1", res.Captures)
	}
	if cam.closes != 1 {
		t.Errorf("camera closed %d times, want 1", cam.closes)
	}
	if obs.stopped != 1 || !errors.Is(obs.lastErr, errRead) {
		t.Errorf("observer stopped=%d err=%v", obs.stopped, obs.lastErr)
	}
}

func TestRun_CaptureErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	busy := errors.New("device busy")
	trig := &scriptedTrigger{script: []bool{true, true}}
	cam := &mockCamera{captureErr: busy}

	res, err := NewLoop(trig, cam, CounterNamer{Dir: dir}, Options{}).Run(context.Background())
	if !errors.Is(err, busy) {
		t.Fatalf("err = %v, want device busy", err)
	}
	if res.Captures != 0 {
		t.Errorf("captures = %d, want 0", res.Captures)
	}
	if trig.polls != 1 {
		t.Errorf("trigger polled %d times, want 1 (no polling after a fatal error)", trig.polls)
	}
	if cam.closes != 1 {
		t.Errorf("camera closed %d times, want 1", cam.closes)
	}
}

func TestRun_ShutdownDuringCaptureCompletesCycle(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trig := &scriptedTrigger{script: []bool{true, true}}
	cam := &mockCamera{onCapture: cancel}

	res, err := NewLoop(trig, cam, CounterNamer{Dir: dir}, Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captures != 1 {
		t.Errorf("captures = %d, want 1", res.Captures)
	}
	want := []string{"start", "capture", "stop", "start"}
	if !slices.Equal(cam.calls, want) {
		t.Errorf("calls = %v, want %v", cam.calls, want)
	}
	if got := files(t, dir); !slices.Equal(got, []string{"1.jpg"}) {
		t.Errorf("files = %v, want [1.jpg]", got)
	}
}

func TestRun_FiresOnEveryActiveRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trig := &scriptedTrigger{script: []bool{true, true, false, true}, done: cancel}
	res, err := NewLoop(trig, &mockCamera{}, CounterNamer{Dir: t.TempDir()}, Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captures != 3 {
		t.Errorf("captures = %d, want 3", res.Captures)
	}
}

func TestRun_MaxCaptures(t *testing.T) {
	dir := t.TempDir()
	trig := &scriptedTrigger{script: []bool{true, true, true, true}}
	cam := &mockCamera{}

	res, err := NewLoop(trig, cam, CounterNamer{Dir: dir}, Options{MaxCaptures: 2}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captures != 2 {
		t.Errorf("captures = %d, want 2", res.Captures)
	}
	if cam.closes != 1 {
		t.Errorf("camera closed %d times, want 1", cam.closes)
	}
}

func TestRun_StartOffset(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trig := &scriptedTrigger{script: []bool{true}, done: cancel}
	res, err := NewLoop(trig, &mockCamera{}, CounterNamer{Dir: dir}, Options{Start: 41}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Counter != 42 {
		t.Errorf("counter = %d, want 42", res.Counter)
	}
	if got := files(t, dir); !slices.Equal(got, []string{"42.jpg"}) {
		t.Errorf("files = %v, want [42.jpg]", got)
	}
}

func TestRun_PollIntervalHonoursShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	trig := &scriptedTrigger{}
	start := time.Now()
	_, err := NewLoop(trig, &mockCamera{}, CounterNamer{Dir: t.TempDir()}, Options{PollInterval: time.Hour}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v, shutdown should interrupt the poll interval", elapsed)
	}
	if trig.polls != 1 {
		t.Errorf("polls = %d, want 1", trig.polls)
	}
}

func TestRun_ObserverEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &recordingObserver{}
	trig := &scriptedTrigger{script: []bool{true, true}, done: cancel}
	_, err := NewLoop(trig, &mockCamera{}, CounterNamer{Dir: t.TempDir()}, Options{Observer: obs}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !slices.Equal(obs.previews, []uint64{1, 2, 3}) {
		t.Errorf("previews = %v, want [1 2 3]", obs.previews)
	}
	if !slices.Equal(obs.captured, []uint64{1, 2}) {
		t.Errorf("captured = %v, want [1 2]", obs.captured)
	}
	if obs.stopped != 1 || obs.lastErr != nil {
		t.Errorf("stopped = %d (err %v), want 1 (nil)", obs.stopped, obs.lastErr)
	}
}

func TestObservers_FanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers{a, b}

	obs.PreviewStarted(1)
	obs.Captured(1, "1.jpg")
	obs.Stopped(1, errors.New("boom"))

	for i, r := range []*recordingObserver{a, b} {
		if !slices.Equal(r.previews, []uint64{1}) || !slices.Equal(r.captured, []uint64{1}) {
			t.Errorf("observer %d: previews=%v captured=%v", i, r.previews, r.captured)
		}
		if r.stopped != 1 || r.lastErr == nil {
			t.Errorf("observer %d: stopped=%d err=%v", i, r.stopped, r.lastErr)
		}
	}
}

// ---------- with the real trigger and camera handle ----------

// scriptedPin replays levels for one pin, then reports the idle level.
type scriptedPin struct {
	*gpio.MockDriver
	levels []gpio.Level
	idle   gpio.Level
	done   func()
	reads  int
}

func (s *scriptedPin) ReadPin(pin int) (gpio.Level, error) {
	s.reads++
	if s.reads <= len(s.levels) {
		return s.levels[s.reads-1], nil
	}
	s.done()
	return s.idle, nil
}

func TestRun_PinLowThreePollsThenHigh(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := &scriptedPin{
		MockDriver: gpio.NewMockDriver(),
		levels:     []gpio.Level{gpio.Low, gpio.Low, gpio.Low, gpio.High},
		idle:       gpio.Low,
		done:       cancel,
	}
	in, err := trigger.New(drv, trigger.Config{Pin: 17, Pull: gpio.PullUp, ActiveLevel: gpio.High, Rearm: true})
	if err != nil {
		t.Fatal(err)
	}
	cam, err := camera.Open(camera.Config{Type: camera.TypeMock, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewLoop(in, cam, CounterNamer{Dir: dir}, Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captures != 1 {
		t.Errorf("captures = %d, want 1", res.Captures)
	}
	if got := files(t, dir); !slices.Equal(got, []string{"1.jpg"}) {
		t.Errorf("files = %v, want [1.jpg]", got)
	}
	if err := cam.Capture(filepath.Join(dir, "x.jpg")); !errors.Is(err, camera.ErrReleased) {
		t.Errorf("camera should be released after Run, Capture = %v", err)
	}
}

// idlePin reads the inactive level until done is called, then stays there.
type idlePin struct {
	*gpio.MockDriver
	reads int
	limit int
	done  func()
}

func (p *idlePin) ReadPin(int) (gpio.Level, error) {
	p.reads++
	if p.reads >= p.limit {
		p.done()
	}
	return gpio.High, nil // pulled up, button not pressed
}

func TestRun_SoftTriggerQueuedDuringCaptureIsNotLost(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := &idlePin{MockDriver: gpio.NewMockDriver(), limit: 20, done: cancel}
	in, err := trigger.New(drv, trigger.Config{Pin: 17, Pull: gpio.PullUp, ActiveLevel: gpio.Low, Rearm: true})
	if err != nil {
		t.Fatal(err)
	}
	soft := &trigger.Soft{}
	if !soft.Fire() {
		t.Fatal("first Fire should be accepted")
	}

	accepted := 1
	cam := &mockCamera{}
	cam.onCapture = func() {
		// second remote request arrives while the first photo is taken
		if accepted == 1 && soft.Fire() {
			accepted++
		}
	}

	res, err := NewLoop(trigger.Any(in, soft), cam, CounterNamer{Dir: dir}, Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if accepted != 2 {
		t.Fatalf("accepted = %d, want 2", accepted)
	}
	if res.Captures != 2 {
		t.Errorf("captures = %d, want one per accepted request (2)", res.Captures)
	}
	if soft.Pending() {
		t.Error("no request should be left pending")
	}
	if got := files(t, dir); !slices.Equal(got, []string{"1.jpg", "2.jpg"}) {
		t.Errorf("files = %v, want [1.jpg 2.jpg]", got)
	}
}

func TestRun_HeldButtonTakesOnePhoto(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := &scriptedPin{
		MockDriver: gpio.NewMockDriver(),
		levels:     []gpio.Level{gpio.Low, gpio.Low, gpio.Low, gpio.High, gpio.Low, gpio.Low},
		idle:       gpio.High,
		done:       cancel,
	}
	in, err := trigger.New(drv, trigger.Config{Pin: 17, Pull: gpio.PullUp, ActiveLevel: gpio.Low, Rearm: true})
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewLoop(in, &mockCamera{}, CounterNamer{Dir: dir}, Options{}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Captures != 2 {
		t.Errorf("captures = %d, want 2 (one per press)", res.Captures)
	}
}
