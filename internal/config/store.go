package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"batch-transcriber/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
// Keys absent from the file keep their default values.
func (s *JSONStore) Load() (domain.Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return domain.Settings{}, err
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, err
	}
	return Normalize(cfg), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Normalize trims user inputs and fills empty fields with defaults.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	cfg.Language = strings.TrimSpace(cfg.Language)
	if cfg.Language == "" || strings.EqualFold(cfg.Language, domain.LanguageAuto) {
		cfg.Language = domain.LanguageAuto
	}
	cfg.Format = domain.OutputFormat(strings.ToLower(strings.TrimSpace(string(cfg.Format))))
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	cfg.ModelsDir = strings.TrimSpace(cfg.ModelsDir)
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = defaults.ModelsDir
	}
	return cfg
}
