package worker

import (
	"fmt"

	"github.com/charmbracelet/log"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/transcribe"
)

// OpenLoader builds the transcription loader selected by the runtime config.
func OpenLoader(rt config.Runtime, modelsDir string, logger *log.Logger) (transcribe.Loader, error) {
	loader, err := transcribe.Open(string(rt.Worker.Backend), transcribe.Options{
		ModelsDir:     modelsDir,
		FFmpeg:        rt.Whisper.FFmpeg,
		FFprobe:       rt.Whisper.FFprobe,
		WhisperBinary: rt.Whisper.Binary,
		Threads:       rt.Whisper.Threads,
		OpenAIKey:     rt.OpenAI.APIKey(),
		OpenAIModel:   rt.OpenAI.Model,
		OpenAIBaseURL: rt.OpenAI.BaseURL,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", rt.Worker.Backend, err)
	}
	return loader, nil
}

// NewSpawner returns the spawner for the configured isolation mode.
// workerArgs are the leading arguments that make the running binary act as
// a worker; they are only used in process mode.
func NewSpawner(rt config.Runtime, workerArgs []string, logger *log.Logger) (jobs.Spawner, error) {
	switch rt.Worker.Isolation {
	case config.IsolationInProcess:
		return &InProcessSpawner{
			NewLoader: func(params jobs.Params) (transcribe.Loader, error) {
				return OpenLoader(rt, params.ModelsDir, logger)
			},
			Options: Options{PollTimeout: rt.Worker.JobPollTimeout, Logger: logger},
		}, nil
	case config.IsolationProcess, "":
		return &ProcessSpawner{Args: workerArgs, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown isolation %q", rt.Worker.Isolation)
	}
}
