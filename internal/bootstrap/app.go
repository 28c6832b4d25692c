package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/diagnostics"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/eventloop"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/worker"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Media files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// Options configure New. Zero values select the per-user defaults.
type Options struct {
	SettingsPath string
	RuntimePath  string
	Assets       fs.FS
	Logger       *log.Logger
	// WorkerArgs re-execute the running binary as a worker process.
	WorkerArgs []string
	// Spawner overrides the spawner derived from the runtime config.
	Spawner jobs.Spawner
}

// App binds the transcription coordinator to the desktop frontend. Every
// call into the controller is marshalled onto the host loop.
type App struct {
	Store   config.Store
	Runtime config.Runtime

	loop    *eventloop.Loop
	ctrl    *jobs.Controller
	events  *jobs.EventBus
	checker *diagnostics.Checker
	logger  *log.Logger
	assets  fs.FS
	emit    func(ctx context.Context, name string, data ...interface{})
	stop    context.CancelFunc

	mu          sync.Mutex
	settings    domain.Settings
	diagnostics diagnostics.Report
	queue       fileQueue
	runtimeCtx  context.Context
	httpClient  *http.Client
}

// New builds the application with persisted settings and startup diagnostics,
// and starts the host loop.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(os.Stderr, "info")
	}

	if opts.SettingsPath == "" {
		opts.SettingsPath = config.SettingsPath()
	}
	if opts.RuntimePath == "" {
		opts.RuntimePath = config.RuntimePath()
	}
	if home, err := os.UserHomeDir(); err == nil {
		if err := ensureLocalBinOnPATH(home); err != nil {
			logger.Warn("prepare local tool path", "err", err)
		}
	}

	rt, err := config.LoadRuntime(opts.RuntimePath)
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}

	store := config.NewJSONStore(opts.SettingsPath)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner, err = worker.NewSpawner(rt, opts.WorkerArgs, logger)
		if err != nil {
			return nil, fmt.Errorf("configure worker: %w", err)
		}
	}

	checker := diagnostics.NewChecker()
	a := &App{
		Store:       store,
		Runtime:     rt,
		loop:        eventloop.New(),
		events:      jobs.NewEventBus(1000),
		checker:     checker,
		logger:      logger,
		assets:      opts.Assets,
		emit:        wailsruntime.EventsEmit,
		settings:    settings,
		diagnostics: checker.Run(rt, settings),
		httpClient:  &http.Client{},
	}
	a.ctrl = jobs.NewController(a.loop, spawner, a.callbacks(), jobs.Options{
		PollInterval:   rt.Worker.PollInterval,
		TerminateGrace: rt.Worker.TerminateGrace,
		KillGrace:      rt.Worker.KillGrace,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.stop = cancel
	go func() {
		if err := a.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("host loop stopped", "err", err)
		}
	}()

	return a, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Batch Transcriber",
		Width:       900,
		Height:      700,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown saves the current selections, stops a running batch and ends
// the host loop.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	settings := a.settings
	a.runtimeCtx = nil
	a.mu.Unlock()

	if err := a.Store.Save(settings); err != nil {
		a.logger.Error("save settings on shutdown", "err", err)
	}
	if err := a.StopTranscription(); err != nil {
		a.logger.Error("stop transcription on shutdown", "err", err)
	}
	a.stop()
}

// GetSettings returns the current selections.
func (a *App) GetSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SetSelection updates model, language and format in memory. They are
// persisted on shutdown or by SaveSettings.
func (a *App) SetSelection(model, language string, format domain.OutputFormat) domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.settings
	next.Model = model
	next.Language = language
	next.Format = format
	a.settings = config.Normalize(next)
	return a.settings
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// GetLanguages lists the language hints with Auto first.
func (a *App) GetLanguages() []string {
	return append([]string(nil), domain.Languages...)
}

// GetFormats lists the export formats.
func (a *App) GetFormats() []domain.OutputFormat {
	return append([]domain.OutputFormat(nil), domain.OutputFormats...)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() diagnostics.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reruns dependency checks for the current settings.
func (a *App) RefreshDiagnostics() diagnostics.Report {
	return a.refreshDiagnosticsFromSettings(a.GetSettings())
}

// PickFiles opens a native dialog and queues the selected media files.
func (a *App) PickFiles() (domain.QueueInfo, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return domain.QueueInfo{}, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select media files",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return domain.QueueInfo{}, err
	}
	return a.AddFiles(paths)
}

// PickFolder opens a native directory picker and queues the media inside.
func (a *App) PickFolder() (domain.QueueInfo, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return domain.QueueInfo{}, err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select a folder with media files",
	})
	if err != nil {
		return domain.QueueInfo{}, err
	}
	if strings.TrimSpace(path) == "" {
		return a.Queue(), nil
	}
	return a.AddFiles([]string{path})
}

// OpenOutputFolder opens the folder containing path in the file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// StartTranscription runs the queued files with the current selections.
func (a *App) StartTranscription() (domain.SessionInfo, error) {
	a.mu.Lock()
	files := a.queue.list()
	settings := a.settings
	a.mu.Unlock()

	params := jobs.Params{
		Model:     settings.Model,
		Language:  settings.Language,
		Format:    settings.Format,
		ModelsDir: settings.ModelsDir,
	}

	var (
		info     domain.SessionInfo
		startErr error
	)
	if err := a.loop.Call(func() {
		if a.ctrl.Status() == domain.SessionStatusIdle {
			a.mu.Lock()
			a.queue.resetCompleted()
			a.mu.Unlock()
		}
		startErr = a.ctrl.Start(files, params)
		info = a.ctrl.Session()
	}); err != nil {
		return domain.SessionInfo{}, err
	}
	return info, startErr
}

// StopTranscription stops the running batch. Stopping while idle is a no-op.
func (a *App) StopTranscription() error {
	var stopErr error
	if err := a.loop.Call(func() { stopErr = a.ctrl.Stop() }); err != nil {
		if errors.Is(err, eventloop.ErrClosed) {
			return nil
		}
		return err
	}
	if errors.Is(stopErr, jobs.ErrNotRunning) {
		return nil
	}
	return stopErr
}

// Status returns the coordinator state.
func (a *App) Status() domain.SessionInfo {
	var info domain.SessionInfo
	if err := a.loop.Call(func() { info = a.ctrl.Session() }); err != nil {
		return domain.SessionInfo{Status: domain.SessionStatusIdle}
	}
	return info
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// callbacks adapts controller callbacks to UI events. They run on the loop.
func (a *App) callbacks() jobs.Callbacks {
	return jobs.Callbacks{
		Log: func(text string) {
			a.logger.Info(text)
			a.publishEvent(jobs.LogEvent(text))
		},
		Progress: func(p jobs.Progress) {
			a.publishEvent(jobs.FileProgressEvent(p.Overall, p.FileIndex, p.Total, p.FilePercent))
		},
		Completed: func(completed, total int) {
			a.mu.Lock()
			a.queue.completed = completed
			a.mu.Unlock()
			a.publishEvent(jobs.JobDoneEvent(completed, total))
		},
	}
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	if a.ctrl != nil {
		event.SessionID = a.ctrl.Session().ID
	}
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil && a.emit != nil {
		a.emit(ctx, "job:event", published)
	}
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) diagnostics.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = settings
	if a.checker != nil {
		a.diagnostics = a.checker.Run(a.Runtime, settings)
	}
	return a.diagnostics
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
