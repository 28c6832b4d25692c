package jobs

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/eventloop"
	"batch-transcriber/internal/export"
	"batch-transcriber/internal/logging"
)

type fakeTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (t *fakeTimer) Cancel() bool {
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) After(d time.Duration, fn func()) eventloop.Handle {
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// pending counts timers that would still fire.
func (s *fakeScheduler) pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.cancelled && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every timer armed so far that is still pending.
func (s *fakeScheduler) fire() {
	armed := append([]*fakeTimer(nil), s.timers...)
	for _, t := range armed {
		if t.cancelled || t.fired {
			continue
		}
		t.fired = true
		t.fn()
	}
}

type fakeUnit struct {
	events     chan Event
	alive      bool
	aliveFn    func() bool
	terminate  func() error
	waits      []bool
	terminated int
	killed     int
}

func newFakeUnit(events ...Event) *fakeUnit {
	u := &fakeUnit{events: make(chan Event, 64), alive: true}
	for _, ev := range events {
		u.events <- ev
	}
	return u
}

func (u *fakeUnit) Events() <-chan Event { return u.events }

func (u *fakeUnit) Alive() bool {
	if u.aliveFn != nil {
		return u.aliveFn()
	}
	return u.alive
}

func (u *fakeUnit) Terminate() error {
	u.terminated++
	if u.terminate != nil {
		return u.terminate()
	}
	return nil
}

func (u *fakeUnit) Kill() error {
	u.killed++
	u.alive = false
	return nil
}

func (u *fakeUnit) Wait(time.Duration) bool {
	if len(u.waits) == 0 {
		return !u.alive
	}
	exited := u.waits[0]
	u.waits = u.waits[1:]
	if exited {
		u.alive = false
	}
	return exited
}

type recorder struct {
	logs      []string
	progress  []Progress
	completed [][2]int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Log:       func(text string) { r.logs = append(r.logs, text) },
		Progress:  func(p Progress) { r.progress = append(r.progress, p) },
		Completed: func(completed, total int) { r.completed = append(r.completed, [2]int{completed, total}) },
	}
}

func (r *recorder) hasLog(text string) bool {
	for _, line := range r.logs {
		if line == text {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	return len(r.logs) + len(r.progress) + len(r.completed)
}

type harness struct {
	sched   *fakeScheduler
	rec     *recorder
	ctrl    *Controller
	spawned int
	params  Params
	queue   <-chan Message
}

func newHarness(t *testing.T, unit *fakeUnit) *harness {
	t.Helper()
	h := &harness{sched: &fakeScheduler{}, rec: &recorder{}}
	spawner := SpawnerFunc(func(params Params, queue <-chan Message) (Unit, error) {
		h.spawned++
		h.params = params
		h.queue = queue
		return unit, nil
	})
	h.ctrl = NewController(h.sched, spawner, h.rec.callbacks(), Options{})
	h.ctrl.newID = func() string { return "session-1" }
	return h
}

var testParams = Params{Model: "small", Language: "Auto", Format: domain.FormatVTT}

// TestStartRejectsEmptyList verifies an empty queue never spawns a worker.
func TestStartRejectsEmptyList(t *testing.T) {
	h := newHarness(t, newFakeUnit())

	if err := h.ctrl.Start(nil, testParams); !errors.Is(err, ErrNoFiles) {
		t.Fatalf("Start err = %v, want ErrNoFiles", err)
	}
	if h.spawned != 0 {
		t.Fatalf("spawned = %d, want 0", h.spawned)
	}
	if !h.rec.hasLog("No files in queue.") {
		t.Fatalf("missing rejection log: %v", h.rec.logs)
	}
	if h.ctrl.Status() != domain.SessionStatusIdle {
		t.Fatalf("status = %s, want idle", h.ctrl.Status())
	}
}

// TestStartRejectsUnknownFormat verifies unsupported formats are refused up front.
func TestStartRejectsUnknownFormat(t *testing.T) {
	h := newHarness(t, newFakeUnit())
	params := testParams
	params.Format = "docx"

	if err := h.ctrl.Start([]string{"/a.mp4"}, params); !errors.Is(err, export.ErrUnknownFormat) {
		t.Fatalf("Start err = %v, want ErrUnknownFormat", err)
	}
	if h.spawned != 0 || h.ctrl.Status() != domain.SessionStatusIdle {
		t.Fatalf("expected no session, spawned=%d status=%s", h.spawned, h.ctrl.Status())
	}
}

// TestStartWhileRunningIsRejected verifies a second start leaves the first
// session untouched.
func TestStartWhileRunningIsRejected(t *testing.T) {
	unit := newFakeUnit()
	h := newHarness(t, unit)

	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := h.ctrl.Session()

	if err := h.ctrl.Start([]string{"/b.mp4", "/c.mp4"}, testParams); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
	if h.spawned != 1 {
		t.Fatalf("spawned = %d, want 1", h.spawned)
	}
	if after := h.ctrl.Session(); after != before {
		t.Fatalf("session changed: before=%+v after=%+v", before, after)
	}
}

// TestStartFeedsQueueAndLogsParams checks the queue handed to the worker and
// the start line shown to the user.
func TestStartFeedsQueueAndLogsParams(t *testing.T) {
	h := newHarness(t, newFakeUnit())

	if err := h.ctrl.Start([]string{"/a.mp4", "/b.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.params != testParams {
		t.Fatalf("params = %+v", h.params)
	}
	if h.rec.logs[0] != "Starting transcription with Model: small, Language: Auto, Format: vtt" {
		t.Fatalf("first log = %q", h.rec.logs[0])
	}
	first := <-h.queue
	if first.Job == nil || first.Job.Path != "/a.mp4" || first.Job.Total != 2 {
		t.Fatalf("unexpected first message: %+v", first)
	}
	info := h.ctrl.Session()
	if info.ID != "session-1" || info.Status != domain.SessionStatusRunning || info.Total != 2 {
		t.Fatalf("unexpected session info: %+v", info)
	}
	if h.sched.pending() != 1 || h.sched.timers[0].delay != 100*time.Millisecond {
		t.Fatalf("expected one poll tick at 100ms, timers=%+v", h.sched.timers)
	}
}

// TestStartSpawnFailure verifies a spawn error leaves the controller idle.
func TestStartSpawnFailure(t *testing.T) {
	rec := &recorder{}
	spawner := SpawnerFunc(func(Params, <-chan Message) (Unit, error) {
		return nil, errors.New("exec format error")
	})
	ctrl := NewController(&fakeScheduler{}, spawner, rec.callbacks(), Options{})

	err := ctrl.Start([]string{"/a.mp4"}, testParams)
	if err == nil || !strings.Contains(err.Error(), "exec format error") {
		t.Fatalf("Start err = %v", err)
	}
	if ctrl.Status() != domain.SessionStatusIdle {
		t.Fatalf("status = %s, want idle", ctrl.Status())
	}
	if !rec.hasLog("Failed to start worker: exec format error") {
		t.Fatalf("logs = %v", rec.logs)
	}
}

// TestStopWhenIdleIsNoop verifies stop on an idle controller has no effect.
func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, newFakeUnit())

	if err := h.ctrl.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop err = %v, want ErrNotRunning", err)
	}
	if h.rec.count() != 0 {
		t.Fatalf("unexpected callbacks: %+v", h.rec)
	}
}

// TestPollDispatchesUntilStreamDone follows a two-file batch where the
// second file fails.
func TestPollDispatchesUntilStreamDone(t *testing.T) {
	unit := newFakeUnit(
		LogEvent("Model loaded."),
		FileProgressEvent(0.25, 1, 2, 50),
		JobDoneEvent(1, 2),
		LogEvent("Error processing y.mp4: decode failed"),
		StreamDoneEvent(),
	)
	h := newHarness(t, unit)

	if err := h.ctrl.Start([]string{"/x.mp4", "/y.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(h.rec.completed) != 1 || h.rec.completed[0] != [2]int{1, 2} {
		t.Fatalf("completed = %v, want [[1 2]]", h.rec.completed)
	}
	if len(h.rec.progress) != 1 || h.rec.progress[0] != (Progress{Overall: 0.25, FileIndex: 1, Total: 2, FilePercent: 50}) {
		t.Fatalf("progress = %+v", h.rec.progress)
	}
	last := h.rec.logs[len(h.rec.logs)-1]
	if last != "All tasks finished." {
		t.Fatalf("last log = %q", last)
	}
	if !h.rec.hasLog("Error processing y.mp4: decode failed") {
		t.Fatalf("missing per-file error: %v", h.rec.logs)
	}
	if h.ctrl.Status() != domain.SessionStatusIdle {
		t.Fatalf("status = %s, want idle", h.ctrl.Status())
	}
	if h.sched.pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", h.sched.pending())
	}
}

// TestPollReschedulesWhileAlive verifies an empty tick re-arms itself and a
// later tick dispatches newly arrived events.
func TestPollReschedulesWhileAlive(t *testing.T) {
	unit := newFakeUnit()
	h := newHarness(t, unit)
	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.sched.fire()
	if h.sched.pending() != 1 {
		t.Fatalf("pending = %d, want 1 after empty tick", h.sched.pending())
	}

	unit.events <- LogEvent("Processing 1/1: a.mp4")
	h.sched.fire()
	if !h.rec.hasLog("Processing 1/1: a.mp4") {
		t.Fatalf("event not dispatched: %v", h.rec.logs)
	}
	if h.ctrl.Status() != domain.SessionStatusRunning {
		t.Fatal("expected session still running")
	}
}

// TestPollDetectsWorkerDeath verifies a silent exit is reported once.
func TestPollDetectsWorkerDeath(t *testing.T) {
	unit := newFakeUnit(LogEvent("Model loaded."))
	h := newHarness(t, unit)
	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}

	unit.alive = false
	h.sched.fire()

	if !h.rec.hasLog("Transcription process ended unexpectedly.") {
		t.Fatalf("logs = %v", h.rec.logs)
	}
	if h.ctrl.Status() != domain.SessionStatusIdle {
		t.Fatalf("status = %s, want idle", h.ctrl.Status())
	}
	before := h.rec.count()
	h.sched.fire()
	if h.rec.count() != before || h.sched.pending() != 0 {
		t.Fatal("expected no activity after cleanup")
	}
}

// TestPollDrainsEventsRacingExit verifies events written just before the
// worker exits are still delivered instead of being reported as a crash.
func TestPollDrainsEventsRacingExit(t *testing.T) {
	unit := newFakeUnit()
	unit.aliveFn = func() bool {
		select {
		case unit.events <- StreamDoneEvent():
		default:
		}
		return false
	}
	h := newHarness(t, unit)

	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.rec.hasLog("Transcription process ended unexpectedly.") {
		t.Fatalf("unexpected crash report: %v", h.rec.logs)
	}
	if !h.rec.hasLog("All tasks finished.") {
		t.Fatalf("logs = %v", h.rec.logs)
	}
}

// TestFatalErrorCleansUp verifies fatal events are logged and end the session.
func TestFatalErrorCleansUp(t *testing.T) {
	unit := newFakeUnit(FatalErrorEvent("Critical Error: model not found"))
	h := newHarness(t, unit)
	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !h.rec.hasLog("Critical Error: model not found") {
		t.Fatalf("logs = %v", h.rec.logs)
	}
	if h.ctrl.Status() != domain.SessionStatusIdle {
		t.Fatalf("status = %s, want idle", h.ctrl.Status())
	}
	if unit.killed != 1 {
		t.Fatalf("killed = %d, want lingering unit released", unit.killed)
	}
}

// TestCallbackPanicIsContained verifies a failing callback is reported as a
// polling error instead of escaping the host loop.
func TestCallbackPanicIsContained(t *testing.T) {
	unit := newFakeUnit(FileProgressEvent(0.1, 1, 1, 10), LogEvent("after"))
	rec := &recorder{}
	cb := rec.callbacks()
	cb.Progress = func(Progress) { panic("boom") }
	ctrl := NewController(&fakeScheduler{}, SpawnerFunc(func(Params, <-chan Message) (Unit, error) {
		return unit, nil
	}), cb, Options{})

	if err := ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rec.hasLog("Polling error: boom") {
		t.Fatalf("logs = %v", rec.logs)
	}
	if rec.hasLog("after") {
		t.Fatal("events after the failure must not be dispatched")
	}
	if ctrl.Status() != domain.SessionStatusIdle || unit.killed != 1 {
		t.Fatalf("expected cleanup, status=%s killed=%d", ctrl.Status(), unit.killed)
	}
}

// TestStopGraceful verifies a worker that honours terminate is not killed.
func TestStopGraceful(t *testing.T) {
	unit := newFakeUnit()
	unit.waits = []bool{true}
	h := newHarness(t, unit)
	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if unit.terminated != 1 || unit.killed != 0 {
		t.Fatalf("terminated=%d killed=%d, want 1 and 0", unit.terminated, unit.killed)
	}
	logs := strings.Join(h.rec.logs, "\n")
	if !strings.Contains(logs, "Forcefully stopping transcription...\nTranscription stopped.") {
		t.Fatalf("logs = %v", h.rec.logs)
	}
	if h.ctrl.Status() != domain.SessionStatusIdle || h.sched.pending() != 0 {
		t.Fatal("expected idle with no pending tick")
	}
}

// TestStopEscalatesToKill verifies the kill path and that no callback fires
// after stop returns.
func TestStopEscalatesToKill(t *testing.T) {
	unit := newFakeUnit()
	unit.waits = []bool{false, true}
	h := newHarness(t, unit)
	if err := h.ctrl.Start([]string{"/a.mp4", "/b.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}
	unit.events <- JobDoneEvent(1, 2)

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if unit.terminated != 1 || unit.killed != 1 {
		t.Fatalf("terminated=%d killed=%d, want 1 and 1", unit.terminated, unit.killed)
	}
	if !h.rec.hasLog("Transcription stopped.") {
		t.Fatalf("logs = %v", h.rec.logs)
	}

	before := h.rec.count()
	h.sched.fire()
	if h.rec.count() != before {
		t.Fatal("callbacks fired after stop")
	}
	if len(h.rec.completed) != 0 {
		t.Fatalf("stale job_done dispatched: %v", h.rec.completed)
	}
}

// TestStopTerminateFailureKills verifies an unsupported terminate goes
// straight to kill.
func TestStopTerminateFailureKills(t *testing.T) {
	unit := newFakeUnit()
	unit.terminate = func() error { return errors.New("not supported") }
	unit.waits = []bool{true}
	h := newHarness(t, unit)
	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if unit.killed != 1 {
		t.Fatalf("killed = %d, want 1", unit.killed)
	}
}

// TestStopDeadWorkerSkipsEscalation verifies stop after an exit only cleans up.
func TestStopDeadWorkerSkipsEscalation(t *testing.T) {
	unit := newFakeUnit()
	h := newHarness(t, unit)
	if err := h.ctrl.Start([]string{"/a.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}
	unit.alive = false

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if unit.terminated != 0 || h.rec.hasLog("Forcefully stopping transcription...") {
		t.Fatal("dead worker should not be terminated")
	}
	if h.ctrl.Status() != domain.SessionStatusIdle {
		t.Fatal("expected idle")
	}
}

// TestCallbackMayStopSession verifies a callback calling Stop ends dispatch.
func TestCallbackMayStopSession(t *testing.T) {
	unit := newFakeUnit(JobDoneEvent(1, 3), LogEvent("Processing 2/3: b.mp4"))
	unit.waits = []bool{true}
	rec := &recorder{}
	var ctrl *Controller
	cb := rec.callbacks()
	cb.Completed = func(completed, total int) {
		rec.completed = append(rec.completed, [2]int{completed, total})
		_ = ctrl.Stop()
	}
	ctrl = NewController(&fakeScheduler{}, SpawnerFunc(func(Params, <-chan Message) (Unit, error) {
		return unit, nil
	}), cb, Options{})

	if err := ctrl.Start([]string{"/a.mp4", "/b.mp4", "/c.mp4"}, testParams); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.hasLog("Processing 2/3: b.mp4") {
		t.Fatalf("dispatch continued after stop: %v", rec.logs)
	}
	if ctrl.Status() != domain.SessionStatusIdle {
		t.Fatal("expected idle")
	}
}

// TestLogLinesWrittenOnce verifies a log line reaches the Log callback
// without also being copied into the controller logger.
func TestLogLinesWrittenOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "debug")

	rec := &recorder{}
	spawner := SpawnerFunc(func(Params, <-chan Message) (Unit, error) { return newFakeUnit(), nil })
	ctrl := NewController(&fakeScheduler{}, spawner, rec.callbacks(), Options{Logger: logger})
	_ = ctrl.Start(nil, testParams)

	if !rec.hasLog("No files in queue.") {
		t.Fatalf("logs = %v", rec.logs)
	}
	if strings.Contains(buf.String(), "No files in queue.") {
		t.Fatalf("log line duplicated into logger: %q", buf.String())
	}

	buf.Reset()
	bare := NewController(&fakeScheduler{}, spawner, Callbacks{}, Options{Logger: logger})
	_ = bare.Start(nil, testParams)
	if !strings.Contains(buf.String(), "No files in queue.") {
		t.Fatalf("expected debug fallback without a Log callback, got %q", buf.String())
	}
}
