// Package diagnostics checks that the selected transcription backend can
// run before a batch is started.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/models"
)

// Status indicates whether a single check passed.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Item is one check result with an optional hint.
type Item struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Report aggregates checks for the UI and the CLI.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Backend     string    `json:"backend"`
	HasFailures bool      `json:"hasFailures"`
	Items       []Item    `json:"items"`
}

// Checker validates external tools, models and credentials.
type Checker struct {
	lookPath   func(string) (string, error)
	resolve    func(dir, name string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		resolve:    models.Resolve,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes the checks relevant to rt's backend.
func (c *Checker) Run(rt config.Runtime, settings domain.Settings) Report {
	var items []Item
	switch rt.Worker.Backend {
	case config.BackendOpenAI:
		items = append(items, c.checkAPIKey(rt.OpenAI))
	case config.BackendWhisperCpp:
		items = append(items,
			c.checkTool("ffmpeg", rt.Whisper.FFmpeg),
			c.checkModel(settings),
			c.checkModelsDir(settings.ModelsDir),
		)
	default:
		items = append(items,
			c.checkTool("ffmpeg", rt.Whisper.FFmpeg),
			c.checkTool("ffprobe", rt.Whisper.FFprobe),
			c.checkTool("whisper", rt.Whisper.Binary),
			c.checkModel(settings),
			c.checkModelsDir(settings.ModelsDir),
		)
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == StatusFail {
			hasFailures = true
			break
		}
	}

	return Report{
		GeneratedAt: time.Now().UTC(),
		Backend:     string(rt.Worker.Backend),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(id, binary string) Item {
	if strings.TrimSpace(binary) == "" {
		binary = id
	}
	path, err := c.lookPath(binary)
	if err != nil {
		return Item{
			ID:      "tool_" + id,
			Name:    binary,
			Status:  StatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", binary),
			Hint:    "Install it and ensure the binary is available on PATH, or set its path in config.toml.",
		}
	}

	return Item{
		ID:      "tool_" + id,
		Name:    binary,
		Status:  StatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkModel verifies the selected model resolves to a local file.
func (c *Checker) checkModel(settings domain.Settings) Item {
	item := Item{ID: "model", Name: "Model"}

	path, err := c.resolve(settings.ModelsDir, settings.Model)
	if err != nil {
		item.Status = StatusFail
		item.Message = err.Error()
		item.Hint = "Download the model from the model list or pick one that is already installed."
		return item
	}

	item.Status = StatusPass
	item.Message = fmt.Sprintf("Model file found: %s", path)
	return item
}

// checkModelsDir validates that downloads can be written.
func (c *Checker) checkModelsDir(dir string) Item {
	item := Item{ID: "models_dir", Name: "Models directory"}

	if strings.TrimSpace(dir) == "" {
		item.Status = StatusFail
		item.Message = "Models directory is empty."
		item.Hint = "Set a directory where whisper models are stored."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Cannot create models directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Models directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory for model downloads."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = StatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkAPIKey verifies the hosted backend has credentials.
func (c *Checker) checkAPIKey(cfg config.OpenAIConfig) Item {
	item := Item{ID: "openai_key", Name: "OpenAI API key"}
	if cfg.APIKey() == "" {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Environment variable %s is not set.", cfg.APIKeyEnv)
		item.Hint = "Export an API key or switch the backend in config.toml."
		return item
	}
	item.Status = StatusPass
	item.Message = fmt.Sprintf("Read from %s", cfg.APIKeyEnv)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	resolve func(dir, name string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		resolve:    resolve,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
