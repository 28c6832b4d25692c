package config

import (
	"os"
	"path/filepath"
	"time"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/models"
)

// AppDirName is the per-user directory holding settings, config and models.
const AppDirName = ".batch-transcriber"

// DefaultSettings returns baseline user selections for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		Model:     "small",
		Language:  domain.LanguageAuto,
		Format:    domain.FormatVTT,
		ModelsDir: models.DefaultDir(homeDir()),
	}
}

// DefaultRuntime returns the coordinator and backend defaults.
func DefaultRuntime() Runtime {
	return Runtime{
		Worker: WorkerConfig{
			Backend:        BackendWhisperCLI,
			Isolation:      IsolationProcess,
			PollInterval:   100 * time.Millisecond,
			JobPollTimeout: 500 * time.Millisecond,
			TerminateGrace: 2 * time.Second,
			KillGrace:      time.Second,
		},
		Whisper: WhisperConfig{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			Binary:  "whisper.cpp",
		},
		OpenAI: OpenAIConfig{
			APIKeyEnv: "OPENAI_API_KEY",
			Model:     "whisper-1",
		},
		Log: LogConfig{Level: "info"},
	}
}

// SettingsPath returns the default location of settings.json.
func SettingsPath() string {
	return filepath.Join(homeDir(), AppDirName, "settings.json")
}

// RuntimePath returns the default location of config.toml.
func RuntimePath() string {
	return filepath.Join(homeDir(), AppDirName, "config.toml")
}

func homeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return dir
}
