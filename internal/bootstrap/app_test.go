package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/transcribe"
	"batch-transcriber/internal/worker"
)

// fakeModel allows injecting custom transcription behavior per test.
type fakeModel struct {
	run func(ctx context.Context, req transcribe.Request) (transcribe.Transcript, error)
}

// Transcribe delegates to injected function.
func (m *fakeModel) Transcribe(ctx context.Context, req transcribe.Request, onProgress transcribe.ProgressFunc) (transcribe.Transcript, error) {
	onProgress(1, 2)
	if m.run == nil {
		return transcribe.Transcript{Segments: []transcribe.Segment{{End: time.Second, Text: "hello"}}}, nil
	}
	return m.run(ctx, req)
}

// Close is a no-op for tests.
func (m *fakeModel) Close() error { return nil }

// newTestApp builds an App with an in-process worker around model and an
// isolated home directory.
func newTestApp(t *testing.T, model *fakeModel) *App {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	spawner := &worker.InProcessSpawner{
		Loader: transcribe.LoaderFunc(func(context.Context, string) (transcribe.Model, error) {
			return model, nil
		}),
		Options: worker.Options{PollTimeout: 10 * time.Millisecond},
	}
	app, err := New(Options{
		SettingsPath: filepath.Join(home, "settings.json"),
		RuntimePath:  filepath.Join(home, "missing.toml"),
		Logger:       logging.Discard(),
		Spawner:      spawner,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { app.stop() })
	app.SetSelection("small", "Auto", domain.FormatTXT)
	return app
}

func writeWAV(t *testing.T, path string) {
	t.Helper()
	header := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\x3e\x00\x00\x00\x7d\x00\x00\x02\x00\x10\x00data\x00\x00\x00\x00")
	if err := os.WriteFile(path, header, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

// waitForEvent polls the event history for a log line.
func waitForEvent(t *testing.T, app *App, text string) jobs.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, event := range app.JobEvents(0) {
			if event.Kind == jobs.EventLog && event.Text == text {
				return event
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, events: %+v", text, app.JobEvents(0))
	return jobs.Event{}
}

// TestStartTranscriptionRequiresFiles checks the empty queue guard.
func TestStartTranscriptionRequiresFiles(t *testing.T) {
	app := newTestApp(t, &fakeModel{})

	if _, err := app.StartTranscription(); !errors.Is(err, jobs.ErrNoFiles) {
		t.Fatalf("start error = %v, want %v", err, jobs.ErrNoFiles)
	}
	waitForEvent(t, app, "No files in queue.")
	if status := app.Status().Status; status != domain.SessionStatusIdle {
		t.Fatalf("status = %s, want idle", status)
	}
}

// TestStartTranscriptionRunsQueue checks the event flow of a full batch.
func TestStartTranscriptionRunsQueue(t *testing.T) {
	app := newTestApp(t, &fakeModel{})
	dir := t.TempDir()
	input := filepath.Join(dir, "talk.wav")
	writeWAV(t, input)

	if _, err := app.AddFiles([]string{input}); err != nil {
		t.Fatalf("add files: %v", err)
	}
	info, err := app.StartTranscription()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.Status != domain.SessionStatusRunning || info.Total != 1 || info.ID == "" {
		t.Fatalf("unexpected session info: %+v", info)
	}

	finished := waitForEvent(t, app, "All tasks finished.")
	if finished.SessionID != info.ID {
		t.Fatalf("event session = %q, want %q", finished.SessionID, info.ID)
	}

	var sawProgress, sawDone bool
	for _, event := range app.JobEvents(0) {
		switch event.Kind {
		case jobs.EventFileProgress:
			sawProgress = true
		case jobs.EventJobDone:
			sawDone = event.Completed == 1 && event.Total == 1
		}
	}
	if !sawProgress || !sawDone {
		t.Fatalf("expected progress and job_done events, got %+v", app.JobEvents(0))
	}

	body, err := os.ReadFile(filepath.Join(dir, "talk.txt"))
	if err != nil || string(body) != "hello\n" {
		t.Fatalf("output = %q, err = %v", body, err)
	}
	if queue := app.Queue(); queue.Completed != 1 || queue.Pending != 0 {
		t.Fatalf("unexpected queue counters: %+v", queue)
	}
}

// TestStartTranscriptionEnforcesSingleRunningJob checks single-batch guard.
func TestStartTranscriptionEnforcesSingleRunningJob(t *testing.T) {
	app := newTestApp(t, &fakeModel{run: func(ctx context.Context, req transcribe.Request) (transcribe.Transcript, error) {
		<-ctx.Done()
		return transcribe.Transcript{}, ctx.Err()
	}})
	dir := t.TempDir()
	input := filepath.Join(dir, "a.wav")
	writeWAV(t, input)
	if _, err := app.AddFiles([]string{input}); err != nil {
		t.Fatalf("add files: %v", err)
	}

	first, err := app.StartTranscription()
	if err != nil {
		t.Fatalf("start first batch: %v", err)
	}
	if _, err := app.StartTranscription(); !errors.Is(err, jobs.ErrAlreadyRunning) {
		t.Fatalf("second start error = %v, want %v", err, jobs.ErrAlreadyRunning)
	}
	if current := app.Status(); current.ID != first.ID {
		t.Fatalf("session replaced: %+v", current)
	}

	waitForEvent(t, app, "Processing 1/1: a.wav")
	if err := app.StopTranscription(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitForEvent(t, app, "Transcription stopped.")
	if status := app.Status().Status; status != domain.SessionStatusIdle {
		t.Fatalf("status = %s, want idle", status)
	}
}

// TestStopTranscriptionIdleIsNoop verifies stop without a batch succeeds.
func TestStopTranscriptionIdleIsNoop(t *testing.T) {
	app := newTestApp(t, &fakeModel{})
	if err := app.StopTranscription(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(app.JobEvents(0)) != 0 {
		t.Fatalf("unexpected events: %+v", app.JobEvents(0))
	}
}

// TestShutdownSavesSelections checks settings persist on close.
func TestShutdownSavesSelections(t *testing.T) {
	app := newTestApp(t, &fakeModel{})
	app.SetSelection("medium", "de", domain.FormatSRT)

	app.Shutdown(context.Background())

	saved, err := app.Store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if saved.Model != "medium" || saved.Language != "de" || saved.Format != domain.FormatSRT {
		t.Fatalf("saved settings = %+v", saved)
	}
	if err := app.StopTranscription(); err != nil {
		t.Fatalf("stop after shutdown: %v", err)
	}
}

// TestAddFilesFiltersAndDedupes checks queue management.
func TestAddFilesFiltersAndDedupes(t *testing.T) {
	app := newTestApp(t, &fakeModel{})
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	notes := filepath.Join(dir, "notes.txt")
	writeWAV(t, a)
	writeWAV(t, b)
	if err := os.WriteFile(notes, []byte("not media"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	info, err := app.AddFiles([]string{b, a, notes, a})
	if err != nil {
		t.Fatalf("add files: %v", err)
	}
	if strings.Join(info.Files, ",") != b+","+a || info.Pending != 2 {
		t.Fatalf("queue = %+v", info)
	}
	waitForEvent(t, app, "Skipped non-media file: notes.txt")

	if info := app.RemoveFile(b); len(info.Files) != 1 || info.Files[0] != a {
		t.Fatalf("after remove = %+v", info)
	}
	if info := app.ClearFiles(); len(info.Files) != 0 || info.Pending != 0 {
		t.Fatalf("after clear = %+v", info)
	}
}

// TestAddFilesScansDirectories checks folder input.
func TestAddFilesScansDirectories(t *testing.T) {
	app := newTestApp(t, &fakeModel{})
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "2.wav"))
	writeWAV(t, filepath.Join(dir, "1.wav"))

	info, err := app.AddFiles([]string{dir})
	if err != nil {
		t.Fatalf("add files: %v", err)
	}
	if len(info.Files) != 2 || filepath.Base(info.Files[0]) != "1.wav" {
		t.Fatalf("queue = %+v", info)
	}
	if _, err := app.AddFiles([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

// TestPublishEventEmitsToRuntime checks push notifications once the
// desktop runtime is attached.
func TestPublishEventEmitsToRuntime(t *testing.T) {
	app := newTestApp(t, &fakeModel{})

	var (
		mu    sync.Mutex
		names []string
	)
	app.emit = func(ctx context.Context, name string, data ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, name)
	}
	app.Startup(context.Background())

	if _, err := app.StartTranscription(); err == nil {
		t.Fatal("expected empty queue error")
	}
	waitForEvent(t, app, "No files in queue.")

	mu.Lock()
	defer mu.Unlock()
	if len(names) == 0 || names[0] != "job:event" {
		t.Fatalf("emitted = %v", names)
	}
}

// TestSaveSettingsNormalizes checks persisted values are cleaned up.
func TestSaveSettingsNormalizes(t *testing.T) {
	app := newTestApp(t, &fakeModel{})

	saved, err := app.SaveSettings(domain.Settings{Model: " base ", Language: "auto", Format: "SRT", ModelsDir: t.TempDir()})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Model != "base" || saved.Language != domain.LanguageAuto || saved.Format != domain.FormatSRT {
		t.Fatalf("normalized = %+v", saved)
	}
	if got := app.GetSettings(); got != saved {
		t.Fatalf("in-memory settings = %+v, want %+v", got, saved)
	}
	if languages := app.GetLanguages(); languages[0] != domain.LanguageAuto {
		t.Fatalf("languages start with %q", languages[0])
	}
	if formats := app.GetFormats(); len(formats) != 4 {
		t.Fatalf("formats = %v", formats)
	}
}
