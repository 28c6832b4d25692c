package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"

	"batch-transcriber/internal/bootstrap"
	"batch-transcriber/internal/config"
	"batch-transcriber/internal/diagnostics"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/eventloop"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/media"
	"batch-transcriber/internal/models"
	"batch-transcriber/internal/worker"
)

// load reads the runtime config and builds the logger it asks for.
func (g *Globals) load() (config.Runtime, *log.Logger, error) {
	rt, err := config.LoadRuntime(g.Config)
	if err != nil {
		return config.Runtime{}, nil, err
	}
	level := g.LogLevel
	if level == "" {
		level = rt.Log.Level
	}
	return rt, logging.New(os.Stderr, level), nil
}

// workerArgs re-execute this binary as a worker with the same config.
func (g *Globals) workerArgs(level string) []string {
	args := []string{"worker", "--config", g.Config}
	if level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

func (g *Globals) settings() (domain.Settings, error) {
	return config.NewJSONStore(g.Settings).Load()
}

// GUICmd opens the desktop application.
type GUICmd struct{}

func (c *GUICmd) Run(g *Globals) error {
	_, logger, err := g.load()
	if err != nil {
		return err
	}
	app, err := bootstrap.New(bootstrap.Options{
		SettingsPath: g.Settings,
		RuntimePath:  g.Config,
		Logger:       logger,
		WorkerArgs:   g.workerArgs(g.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("bootstrap app: %w", err)
	}
	if err := app.Run(); err != nil {
		return fmt.Errorf("run app: %w", err)
	}
	return nil
}

// RunCmd transcribes files from the command line.
type RunCmd struct {
	Files     []string `arg:"" name:"path" help:"Media files or directories to transcribe." type:"path"`
	Model     string   `help:"Model name or file. Defaults to the last used model."`
	Language  string   `help:"Language code or Auto. Defaults to the last used language."`
	Format    string   `help:"Output format: vtt, srt, txt or json. Defaults to the last used format."`
	Isolation string   `help:"Worker isolation: process or inprocess. Defaults to the config value."`
	Quiet     bool     `help:"Hide the progress bar."`
}

func (c *RunCmd) Run(g *Globals) error {
	rt, logger, err := g.load()
	if err != nil {
		return err
	}
	if c.Isolation != "" {
		rt.Worker.Isolation = config.Isolation(c.Isolation)
		if err := rt.Validate(); err != nil {
			return err
		}
	}

	settings, err := g.settings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	params := c.params(settings)

	expanded, err := media.Expand(c.Files)
	if err != nil {
		return err
	}
	files, rejected := media.Filter(expanded)
	for _, path := range rejected {
		logger.Warn("skipping non-media file", "path", path)
	}

	spawner, err := worker.NewSpawner(rt, g.workerArgs(g.LogLevel), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runBatch(ctx, rt, spawner, files, params, logger, !c.Quiet)
}

func (c *RunCmd) params(settings domain.Settings) jobs.Params {
	if c.Model != "" {
		settings.Model = c.Model
	}
	if c.Language != "" {
		settings.Language = c.Language
	}
	if c.Format != "" {
		settings.Format = domain.OutputFormat(c.Format)
	}
	settings = config.Normalize(settings)
	return jobs.Params{
		Model:     settings.Model,
		Language:  settings.Language,
		Format:    settings.Format,
		ModelsDir: settings.ModelsDir,
	}
}

// runBatch drives one controller session to completion on a private loop.
func runBatch(ctx context.Context, rt config.Runtime, spawner jobs.Spawner, files []string, params jobs.Params, logger *log.Logger, showBar bool) error {
	loop := eventloop.New()
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(loopCtx) }()

	var bar *progressbar.ProgressBar
	if showBar {
		bar = progressbar.NewOptions(1000,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("transcribing"),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		)
	}

	completed := 0
	cb := jobs.Callbacks{
		Log: func(text string) {
			if bar != nil {
				_ = bar.Clear()
			}
			logger.Info(text)
		},
		Progress: func(p jobs.Progress) {
			if bar == nil {
				return
			}
			bar.Describe(fmt.Sprintf("file %d/%d", p.FileIndex, p.Total))
			_ = bar.Set(int(p.Overall * 1000))
		},
		Completed: func(done, total int) {
			completed = done
		},
	}
	ctrl := jobs.NewController(loop, spawner, cb, jobs.Options{
		PollInterval:   rt.Worker.PollInterval,
		TerminateGrace: rt.Worker.TerminateGrace,
		KillGrace:      rt.Worker.KillGrace,
		Logger:         logger,
	})

	var startErr error
	if err := loop.Call(func() { startErr = ctrl.Start(files, params) }); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for running := true; running; {
		select {
		case <-ctx.Done():
			if err := loop.Call(func() { _ = ctrl.Stop() }); err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			if err := loop.Call(func() { running = ctrl.Status() == domain.SessionStatusRunning }); err != nil {
				return err
			}
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}
	var failed int
	_ = loop.Call(func() { failed = len(files) - completed })
	if failed > 0 {
		return fmt.Errorf("%d of %d files were not transcribed", failed, len(files))
	}
	return nil
}

// WorkerCmd is the body of the worker subprocess. It reads jobs from stdin
// and writes events to stdout; logs go to stderr.
type WorkerCmd struct {
	Model     string `required:"" help:"Model to load."`
	Language  string `default:"Auto" help:"Language hint."`
	Format    string `default:"vtt" help:"Output format."`
	ModelsDir string `name:"models-dir" help:"Directory holding model files."`
}

func (c *WorkerCmd) Run(g *Globals) error {
	rt, logger, err := g.load()
	if err != nil {
		return err
	}
	params := jobs.Params{
		Model:     c.Model,
		Language:  c.Language,
		Format:    domain.OutputFormat(c.Format),
		ModelsDir: c.ModelsDir,
	}

	loader, err := worker.OpenLoader(rt, c.ModelsDir, logger)
	if err != nil {
		// Report through the event pipe so the parent shows the reason.
		_ = jobs.NewLineWriter(os.Stdout).Write(jobs.FatalErrorEvent("Critical Error: " + err.Error()))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	return worker.Serve(ctx, os.Stdin, os.Stdout, loader, params, worker.Options{
		PollTimeout: rt.Worker.JobPollTimeout,
		Logger:      logger,
	})
}

// ModelsCmd groups model management commands.
type ModelsCmd struct {
	List     ModelsListCmd     `cmd:"" default:"1" help:"List model presets."`
	Download ModelsDownloadCmd `cmd:"" help:"Download a model preset."`
}

// ModelsListCmd prints the preset catalog.
type ModelsListCmd struct{}

func (c *ModelsListCmd) Run(g *Globals) error {
	settings, err := g.settings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	options := models.Catalog()
	models.MarkDownloaded(options, settings.ModelsDir)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSIZE\tLOCAL\tDESCRIPTION")
	for _, option := range options {
		local := "-"
		if option.Downloaded {
			local = option.LocalPath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", option.ID, option.SizeLabel, local, option.Description)
	}
	return w.Flush()
}

// ModelsDownloadCmd fetches one preset into the models directory.
type ModelsDownloadCmd struct {
	ID  string `arg:"" name:"id" help:"Preset ID, e.g. small or large-v3."`
	Dir string `help:"Target directory. Defaults to the configured models directory." type:"path"`
}

func (c *ModelsDownloadCmd) Run(g *Globals) error {
	_, logger, err := g.load()
	if err != nil {
		return err
	}
	dir := c.Dir
	if dir == "" {
		settings, err := g.settings()
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		dir = settings.ModelsDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, models.DownloadTimeout)
	defer cancel()

	logger.Info("downloading model", "id", c.ID, "dir", dir)
	path, err := models.Download(ctx, nil, c.ID, dir)
	if err != nil {
		return err
	}
	logger.Info("model ready", "path", path)
	return nil
}

// CheckCmd prints the diagnostics report for the configured backend.
type CheckCmd struct{}

func (c *CheckCmd) Run(g *Globals) error {
	rt, _, err := g.load()
	if err != nil {
		return err
	}
	settings, err := g.settings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	report := diagnostics.NewChecker().Run(rt, settings)
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	for _, item := range report.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Status, item.Name, item.Message)
		if item.Hint != "" && item.Status == diagnostics.StatusFail {
			fmt.Fprintf(w, "\t\t%s\n", item.Hint)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if report.HasFailures {
		return errors.New("some checks failed")
	}
	return nil
}
