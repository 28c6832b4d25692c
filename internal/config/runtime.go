package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names the transcription capability the worker loads.
type Backend string

const (
	BackendWhisperCLI Backend = "whisper-cli"
	BackendWhisperCpp Backend = "whispercpp"
	BackendOpenAI     Backend = "openai"
)

// Isolation selects how the worker execution unit is spawned.
type Isolation string

const (
	IsolationProcess   Isolation = "process"
	IsolationInProcess Isolation = "inprocess"
)

// Runtime is the operator-level configuration read from config.toml.
type Runtime struct {
	Worker  WorkerConfig  `toml:"worker"`
	Whisper WhisperConfig `toml:"whisper"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	Log     LogConfig     `toml:"log"`
}

// WorkerConfig tunes the coordinator and its worker.
type WorkerConfig struct {
	Backend        Backend       `toml:"backend"`
	Isolation      Isolation     `toml:"isolation"`
	PollInterval   time.Duration `toml:"poll_interval"`
	JobPollTimeout time.Duration `toml:"job_poll_timeout"`
	TerminateGrace time.Duration `toml:"terminate_grace"`
	KillGrace      time.Duration `toml:"kill_grace"`
}

// WhisperConfig holds local tool locations for the whisper backends.
type WhisperConfig struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	Binary  string `toml:"binary"`
	Threads uint   `toml:"threads"`
}

// OpenAIConfig configures the hosted transcription backend.
type OpenAIConfig struct {
	APIKeyEnv string `toml:"api_key_env"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
}

// LogConfig sets the logger level.
type LogConfig struct {
	Level string `toml:"level"`
}

// APIKey reads the OpenAI key from the configured environment variable.
func (c OpenAIConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// LoadRuntime reads config.toml over the defaults. A missing file is not
// an error.
func LoadRuntime(path string) (Runtime, error) {
	cfg := DefaultRuntime()
	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Runtime{}, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Runtime{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects unknown enum values and non-positive intervals.
func (c Runtime) Validate() error {
	switch c.Worker.Backend {
	case BackendWhisperCLI, BackendWhisperCpp, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend %q", c.Worker.Backend)
	}
	switch c.Worker.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		return fmt.Errorf("unknown isolation %q", c.Worker.Isolation)
	}

	intervals := map[string]time.Duration{
		"poll_interval":    c.Worker.PollInterval,
		"job_poll_timeout": c.Worker.JobPollTimeout,
		"terminate_grace":  c.Worker.TerminateGrace,
		"kill_grace":       c.Worker.KillGrace,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
