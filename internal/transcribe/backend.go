// Package transcribe wraps the speech-to-text engines behind one Loader /
// Model pair so the worker does not care which engine runs.
package transcribe

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

// Backend names accepted by Open.
const (
	BackendWhisperCLI = "whisper-cli"
	BackendWhisperCpp = "whispercpp"
	BackendOpenAI     = "openai"
)

// ProgressFunc receives the current position and total duration in seconds.
type ProgressFunc func(position, total float64)

// Request describes one file to transcribe.
type Request struct {
	AudioPath string
	// Language is a model language code; empty means auto-detect.
	Language string
}

// Model transcribes audio files. It is loaded once per worker lifetime.
type Model interface {
	Transcribe(ctx context.Context, req Request, onProgress ProgressFunc) (Transcript, error)
	Close() error
}

// Loader loads a named model.
type Loader interface {
	Load(ctx context.Context, name string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, name string) (Model, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, name string) (Model, error) {
	return f(ctx, name)
}

// Options carries the tool locations and credentials the backends need.
type Options struct {
	ModelsDir     string
	FFmpeg        string
	FFprobe       string
	WhisperBinary string
	Threads       uint
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	Logger        *log.Logger
}

// Open returns the loader for a backend name.
func Open(backend string, opts Options) (Loader, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	switch backend {
	case BackendWhisperCLI, "":
		return newCLILoader(opts), nil
	case BackendWhisperCpp:
		return newWhisperCppLoader(opts)
	case BackendOpenAI:
		return newOpenAILoader(opts)
	default:
		return nil, fmt.Errorf("unknown transcription backend: %s", backend)
	}
}

// NormalizeLanguage maps "Auto" and empty language hints to no override.
func NormalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// maxStderrTail bounds the tool output quoted in an error.
const maxStderrTail = 2 << 10

// stderrTail returns the trimmed last limit bytes of a tool's stderr, where
// the actual failure reason usually is.
func stderrTail(stderr []byte, limit int) string {
	out := strings.TrimSpace(string(stderr))
	if len(out) <= limit {
		return out
	}
	cut := len(out) - limit
	for cut < len(out) && !utf8.RuneStart(out[cut]) {
		cut++
	}
	return "..." + out[cut:]
}
