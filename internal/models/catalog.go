// Package models knows the whisper.cpp model presets, where they live on
// disk, and how to fetch them.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DownloadTimeout bounds one model download.
const DownloadTimeout = 30 * time.Minute

const baseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// Option describes one downloadable whisper.cpp model preset.
type Option struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	SizeLabel   string `json:"sizeLabel,omitempty"`
	Description string `json:"description,omitempty"`
	Downloaded  bool   `json:"downloaded"`
	LocalPath   string `json:"localPath,omitempty"`
}

var catalog = []Option{
	preset("tiny.en", "Tiny (English)", "~75 MB", "Fastest, English-only model."),
	preset("tiny", "Tiny (Multilingual)", "~75 MB", "Fastest multilingual model."),
	preset("base.en", "Base (English)", "~142 MB", "Balanced speed/quality, English-only."),
	preset("base", "Base (Multilingual)", "~142 MB", "Balanced speed/quality, multilingual."),
	preset("small.en", "Small (English)", "~466 MB", "Higher quality, English-only."),
	preset("small", "Small (Multilingual)", "~466 MB", "Higher quality multilingual model."),
	preset("medium.en", "Medium (English)", "~1.5 GB", "High quality, English-only."),
	preset("medium", "Medium (Multilingual)", "~1.5 GB", "High quality multilingual model."),
	preset("large-v2", "Large v2", "~2.9 GB", "Very high quality multilingual model."),
	preset("large-v3", "Large v3", "~2.9 GB", "Latest large multilingual model."),
	preset("large-v3-turbo", "Large v3 Turbo", "~1.6 GB", "Faster large-v3 variant."),
}

// aliases maps short names used by older settings files to catalog IDs.
var aliases = map[string]string{
	"large": "large-v3",
	"turbo": "large-v3-turbo",
}

func preset(id, name, size, description string) Option {
	file := "ggml-" + id + ".bin"
	return Option{
		ID:          id,
		Name:        name,
		FileName:    file,
		URL:         baseURL + file,
		SizeLabel:   size,
		Description: description,
	}
}

// Catalog returns a copy of the built-in presets.
func Catalog() []Option {
	out := make([]Option, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a preset by ID or alias.
func Lookup(name string) (Option, bool) {
	id := strings.TrimSpace(name)
	if alias, ok := aliases[id]; ok {
		id = alias
	}
	for _, option := range catalog {
		if option.ID == id {
			return option, true
		}
	}
	return Option{}, false
}

// DefaultDir returns the per-user model directory.
func DefaultDir(homeDir string) string {
	return filepath.Join(homeDir, ".batch-transcriber", "models")
}

// Resolve maps a model name to a model file. The name may be a preset ID,
// a file name inside dir, or a path to a .bin/.gguf file.
func Resolve(dir, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("model name is required")
	}

	if isModelFile(trimmed) {
		candidates := []string{trimmed}
		if !filepath.IsAbs(trimmed) && dir != "" {
			candidates = append([]string{filepath.Join(dir, trimmed)}, candidates...)
		}
		for _, candidate := range candidates {
			if fileExists(candidate) {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("model file not found: %s", trimmed)
	}

	option, ok := Lookup(trimmed)
	if !ok {
		return "", fmt.Errorf("unknown model: %s", trimmed)
	}
	path := filepath.Join(dir, option.FileName)
	if !fileExists(path) {
		return "", fmt.Errorf("model %s is not downloaded (expected %s)", option.ID, path)
	}
	return path, nil
}

// MarkDownloaded flags presets whose file exists in one of dirs.
func MarkDownloaded(options []Option, dirs ...string) {
	for i := range options {
		for _, dir := range dirs {
			if strings.TrimSpace(dir) == "" {
				continue
			}
			candidate := filepath.Join(dir, options[i].FileName)
			if !fileExists(candidate) {
				continue
			}
			options[i].Downloaded = true
			options[i].LocalPath = candidate
			break
		}
	}
}

// Download fetches a preset into dir and returns the local path.
func Download(ctx context.Context, client *http.Client, id, dir string) (string, error) {
	option, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("unknown model id: %s", id)
	}
	if client == nil {
		client = http.DefaultClient
	}

	target := filepath.Join(dir, option.FileName)
	if err := downloadURLToFile(ctx, client, target, option.URL); err != nil {
		return "", fmt.Errorf("download model %s: %w", option.Name, err)
	}
	return target, nil
}

// downloadURLToFile streams a URL into a temp file and renames it into place.
func downloadURLToFile(ctx context.Context, client *http.Client, destinationPath, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "batch-transcriber")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}

func isModelFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".bin" || ext == ".gguf"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
