package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/models"
)

// GetWhisperModels returns built-in whisper.cpp model presets for one-click downloads.
func (a *App) GetWhisperModels() []models.Option {
	options := models.Catalog()
	models.MarkDownloaded(options, resolveKnownModelDirs(a.GetSettings())...)
	return options
}

// DownloadWhisperModel downloads a preset into the models directory and
// selects it.
func (a *App) DownloadWhisperModel(modelID string) (domain.Settings, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("model id is required")
	}
	if _, found := models.Lookup(id); !found {
		return domain.Settings{}, fmt.Errorf("unknown model id: %s", id)
	}
	if a.Store == nil {
		return domain.Settings{}, fmt.Errorf("settings store is not configured")
	}

	settings, err := a.ensureModelsDir(a.GetSettings())
	if err != nil {
		return domain.Settings{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), models.DownloadTimeout)
	defer cancel()
	path, err := models.Download(ctx, a.httpClient, id, settings.ModelsDir)
	if err != nil {
		return domain.Settings{}, err
	}
	a.logger.Info("model downloaded", "id", id, "path", path)

	settings.Model = id
	return a.SaveSettings(settings)
}

// ensureModelsDir fills in the default models directory when unset.
func (a *App) ensureModelsDir(settings domain.Settings) (domain.Settings, error) {
	if strings.TrimSpace(settings.ModelsDir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return domain.Settings{}, fmt.Errorf("resolve user home: %w", err)
		}
		settings.ModelsDir = models.DefaultDir(home)
	}
	if err := os.MkdirAll(settings.ModelsDir, 0o755); err != nil {
		return domain.Settings{}, fmt.Errorf("create models directory: %w", err)
	}
	return settings, nil
}

// resolveKnownModelDirs lists the configured and default model directories.
func resolveKnownModelDirs(settings domain.Settings) []string {
	var dirs []string
	if dir := strings.TrimSpace(settings.ModelsDir); dir != "" {
		dirs = append(dirs, dir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if def := models.DefaultDir(home); len(dirs) == 0 || dirs[0] != def {
			dirs = append(dirs, def)
		}
	}
	return dirs
}
