package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"
)

// openAILoader sends files to the hosted Whisper API. Preset names used
// by the local backends are replaced by the configured remote model.
type openAILoader struct {
	client *openai.Client
	model  string
	logger *log.Logger
}

func newOpenAILoader(opts Options) (Loader, error) {
	if strings.TrimSpace(opts.OpenAIKey) == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	cfg := openai.DefaultConfig(opts.OpenAIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAILoader{
		client: openai.NewClientWithConfig(cfg),
		model:  orDefault(opts.OpenAIModel, openai.Whisper1),
		logger: opts.Logger,
	}, nil
}

// Load implements Loader.
func (l *openAILoader) Load(ctx context.Context, name string) (Model, error) {
	l.logger.Info("openai transcription backend ready", "requested", name, "model", l.model)
	return &openAIModel{client: l.client, model: l.model}, nil
}

type openAIModel struct {
	client *openai.Client
	model  string
}

// Transcribe uploads the file and maps verbose_json segments.
// The API reports no intermediate progress, so one final update is sent.
func (m *openAIModel) Transcribe(ctx context.Context, req Request, onProgress ProgressFunc) (Transcript, error) {
	resp, err := m.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    m.model,
		FilePath: req.AudioPath,
		Language: NormalizeLanguage(req.Language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Transcript{}, &PipelineError{Stage: "transcribing", Message: "openai transcription failed", Err: err}
	}

	transcript := Transcript{
		Language: resp.Language,
		Duration: secondsToDuration(resp.Duration),
	}
	for _, segment := range resp.Segments {
		transcript.Segments = append(transcript.Segments, Segment{
			Start: secondsToDuration(segment.Start),
			End:   secondsToDuration(segment.End),
			Text:  strings.TrimSpace(segment.Text),
		})
	}
	if len(transcript.Segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		transcript.Segments = []Segment{{End: transcript.Duration, Text: strings.TrimSpace(resp.Text)}}
	}

	if onProgress != nil && resp.Duration > 0 {
		onProgress(resp.Duration, resp.Duration)
	}
	return transcript, nil
}

func (m *openAIModel) Close() error { return nil }
