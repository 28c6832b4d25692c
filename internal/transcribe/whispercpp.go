//go:build whispercpp

package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"

	"github.com/charmbracelet/log"
	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"batch-transcriber/internal/models"
)

const sampleRate = 16000

// whisperCppLoader loads ggml models through the cgo bindings, so the
// weights stay resident for the whole worker lifetime.
type whisperCppLoader struct {
	opts Options
}

func newWhisperCppLoader(opts Options) (Loader, error) {
	return &whisperCppLoader{opts: opts}, nil
}

// Load implements Loader.
func (l *whisperCppLoader) Load(ctx context.Context, name string) (Model, error) {
	modelPath, err := models.Resolve(l.opts.ModelsDir, name)
	if err != nil {
		return nil, err
	}

	l.opts.Logger.Info("loading whisper.cpp model", "path", modelPath)
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	l.opts.Logger.Info("whisper.cpp model loaded", "multilingual", model.IsMultilingual())

	return &whisperCppModel{
		model:   model,
		ffmpeg:  orDefault(l.opts.FFmpeg, "ffmpeg"),
		threads: l.opts.Threads,
		logger:  l.opts.Logger,
	}, nil
}

type whisperCppModel struct {
	model   whisper.Model
	ffmpeg  string
	threads uint
	logger  *log.Logger
}

// Transcribe decodes the media to 16kHz mono float32 and runs inference.
func (m *whisperCppModel) Transcribe(ctx context.Context, req Request, onProgress ProgressFunc) (Transcript, error) {
	samples, err := decodeSamples(ctx, m.ffmpeg, req.AudioPath)
	if err != nil {
		return Transcript{}, &PipelineError{Stage: "preprocessing", Message: "decode audio", Err: err}
	}
	if len(samples) == 0 {
		return Transcript{}, &PipelineError{Stage: "preprocessing", Message: "no audio samples decoded"}
	}
	total := float64(len(samples)) / sampleRate

	wctx, err := m.model.NewContext()
	if err != nil {
		return Transcript{}, fmt.Errorf("create whisper context: %w", err)
	}

	lang := NormalizeLanguage(req.Language)
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		m.logger.Warn("failed to set language", "language", lang, "err", err)
	}
	if m.threads > 0 {
		wctx.SetThreads(m.threads)
	}

	progress := func(percent int) {
		if onProgress != nil {
			onProgress(total*float64(percent)/100, total)
		}
	}
	if err := wctx.Process(samples, nil, nil, progress); err != nil {
		return Transcript{}, &PipelineError{Stage: "transcribing", Message: "whisper process failed", Err: err}
	}

	transcript := Transcript{
		Language: wctx.Language(),
		Duration: secondsToDuration(total),
	}
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Transcript{}, fmt.Errorf("get segment: %w", err)
		}
		transcript.Segments = append(transcript.Segments, Segment{
			Start: segment.Start,
			End:   segment.End,
			Text:  segment.Text,
		})
	}
	return transcript, nil
}

func (m *whisperCppModel) Close() error {
	return m.model.Close()
}

// decodeSamples converts any ffmpeg-readable media to raw float32 PCM.
func decodeSamples(ctx context.Context, ffmpeg, inputPath string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-nostdin",
		"-i", inputPath,
		"-vn", "-ac", "1", "-ar", "16000",
		"-f", "f32le", "-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, stderrTail(stderr.Bytes(), maxStderrTail))
	}

	raw := stdout.Bytes()
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
