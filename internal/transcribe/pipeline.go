package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"batch-transcriber/internal/models"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string     `json:"stage"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats pipeline failures for logs and UI.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability. onStderrLine,
// when set, receives stderr line by line while the command runs.
type commandRunner interface {
	Run(ctx context.Context, onStderrLine func(string), name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, onStderrLine func(string), name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if onStderrLine != nil {
		cmd.Stderr = &lineWriter{dst: &stderr, onLine: onStderrLine}
	}

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// lineWriter copies output to dst and reports each complete line.
// whisper.cpp separates progress updates with either \n or \r.
type lineWriter struct {
	dst     io.Writer
	onLine  func(string)
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	for _, b := range p[:n] {
		if b == '\n' || b == '\r' {
			if len(w.partial) > 0 {
				w.onLine(string(w.partial))
				w.partial = w.partial[:0]
			}
			continue
		}
		w.partial = append(w.partial, b)
	}
	return n, err
}

// Pipeline orchestrates ffprobe, ffmpeg preprocessing and whisper.cpp CLI
// transcription for one model file.
type Pipeline struct {
	ffmpegPath  string
	ffprobePath string
	whisperPath string
	threads     uint
	runner      commandRunner
	logger      *log.Logger
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	readFile    func(name string) ([]byte, error)
}

// newPipeline constructs the production pipeline with OS dependencies.
func newPipeline(opts Options) *Pipeline {
	return &Pipeline{
		ffmpegPath:  orDefault(opts.FFmpeg, "ffmpeg"),
		ffprobePath: orDefault(opts.FFprobe, "ffprobe"),
		whisperPath: orDefault(opts.WhisperBinary, "whisper.cpp"),
		threads:     opts.Threads,
		runner:      &execRunner{},
		logger:      opts.Logger,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readFile:    os.ReadFile,
	}
}

// cliLoader resolves model names to files and hands them to the pipeline.
type cliLoader struct {
	modelsDir string
	pipeline  *Pipeline
}

func newCLILoader(opts Options) *cliLoader {
	return &cliLoader{modelsDir: opts.ModelsDir, pipeline: newPipeline(opts)}
}

// Load implements Loader. The whisper.cpp CLI loads weights per run, so
// loading only validates that the model file exists.
func (l *cliLoader) Load(ctx context.Context, name string) (Model, error) {
	modelPath, err := models.Resolve(l.modelsDir, name)
	if err != nil {
		return nil, err
	}
	return &cliModel{pipeline: l.pipeline, modelPath: modelPath}, nil
}

type cliModel struct {
	pipeline  *Pipeline
	modelPath string
}

func (m *cliModel) Transcribe(ctx context.Context, req Request, onProgress ProgressFunc) (Transcript, error) {
	return m.pipeline.Run(ctx, m.modelPath, req, onProgress)
}

func (m *cliModel) Close() error { return nil }

// Run performs duration probing, preprocessing and transcription.
func (p *Pipeline) Run(ctx context.Context, modelPath string, req Request, onProgress ProgressFunc) (Transcript, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcript{}, &PipelineError{
			Stage:   "preprocessing",
			Message: "input media path is required",
		}
	}

	if _, err := p.stat(req.AudioPath); err != nil {
		return Transcript{}, &PipelineError{
			Stage:   "preprocessing",
			Message: fmt.Sprintf("cannot access input media: %s", req.AudioPath),
			Err:     err,
		}
	}

	duration := p.probeDuration(ctx, req.AudioPath)

	tempDir, err := p.mkdirTemp("", "batch-transcriber-*")
	if err != nil {
		return Transcript{}, &PipelineError{
			Stage:   "preprocessing",
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() { _ = p.removeAll(tempDir) }()

	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	args := buildFFmpegArgs(req.AudioPath, wavPath)
	cmdResult, runErr := p.runner.Run(ctx, nil, p.ffmpegPath, args...)
	ffmpegLog := p.commandLog(p.ffmpegPath, args, cmdResult)
	if runErr != nil {
		return Transcript{}, &PipelineError{
			Stage:      "preprocessing",
			Message:    "ffmpeg audio conversion failed",
			CommandLog: ffmpegLog,
			Err:        runErr,
		}
	}
	if _, err := p.stat(wavPath); err != nil {
		return Transcript{}, &PipelineError{
			Stage:      "preprocessing",
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: ffmpegLog,
			Err:        err,
		}
	}

	outBase := filepath.Join(tempDir, "transcript")
	whisperArgs := buildWhisperArgs(modelPath, wavPath, outBase, req.Language, p.threads)
	onLine := func(line string) {
		percent, ok := parseProgressLine(line)
		if ok && onProgress != nil && duration > 0 {
			onProgress(duration*float64(percent)/100, duration)
		}
	}

	whisperResult, runErr := p.runner.Run(ctx, onLine, p.whisperPath, whisperArgs...)
	whisperLog := p.commandLog(p.whisperPath, whisperArgs, whisperResult)
	if runErr != nil {
		return Transcript{}, &PipelineError{
			Stage:      "transcribing",
			Message:    "whisper.cpp transcription failed",
			CommandLog: whisperLog,
			Err:        runErr,
		}
	}

	jsonPath := outBase + ".json"
	content, err := p.readFile(jsonPath)
	if err != nil {
		return Transcript{}, &PipelineError{
			Stage:      "transcribing",
			Message:    "whisper.cpp completed but transcript .json file is missing",
			CommandLog: whisperLog,
			Err:        err,
		}
	}

	transcript, err := parseWhisperJSON(content)
	if err != nil {
		return Transcript{}, &PipelineError{
			Stage:      "transcribing",
			Message:    "cannot parse whisper.cpp transcript",
			CommandLog: whisperLog,
			Err:        err,
		}
	}
	if duration > 0 {
		transcript.Duration = secondsToDuration(duration)
		if onProgress != nil {
			onProgress(duration, duration)
		}
	}
	return transcript, nil
}

// probeDuration asks ffprobe for the media length in seconds. Zero means
// unknown; progress is then not reported.
func (p *Pipeline) probeDuration(ctx context.Context, inputPath string) float64 {
	args := buildFFprobeArgs(inputPath)
	result, err := p.runner.Run(ctx, nil, p.ffprobePath, args...)
	if err != nil {
		p.logger.Debug("ffprobe failed", "input", inputPath, "exit", result.ExitCode, "err", err)
		return 0
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

// commandLog records and debug-logs one finished command.
func (p *Pipeline) commandLog(name string, args []string, result commandResult) CommandLog {
	entry := CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	p.logger.Debug("command completed", "cmd", name, "exit", result.ExitCode)
	return entry
}

var progressPattern = regexp.MustCompile(`progress\s*=\s*(\d+)%`)

// parseProgressLine extracts the percent from whisper.cpp -pp output.
func parseProgressLine(line string) (int, bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	percent, err := strconv.Atoi(match[1])
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}
	return percent, true
}

// whisperJSON is the subset of whisper.cpp -oj output we read.
type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp JSON output to a Transcript.
// Offsets are milliseconds.
func parseWhisperJSON(data []byte) (Transcript, error) {
	var parsed whisperJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Transcript{}, err
	}

	transcript := Transcript{Language: parsed.Result.Language}
	for _, item := range parsed.Transcription {
		transcript.Segments = append(transcript.Segments, Segment{
			Start: time.Duration(item.Offsets.From) * time.Millisecond,
			End:   time.Duration(item.Offsets.To) * time.Millisecond,
			Text:  strings.TrimSpace(item.Text),
		})
	}
	if n := len(transcript.Segments); n > 0 {
		transcript.Duration = transcript.Segments[n-1].End
	}
	return transcript, nil
}

// buildFFprobeArgs builds args that print only the container duration.
func buildFFprobeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for JSON export with progress.
func buildWhisperArgs(modelPath, audioPath, outBase, language string, threads uint) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		"-pp",
	}

	if lang := NormalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	if threads > 0 {
		args = append(args, "-t", strconv.FormatUint(uint64(threads), 10))
	}

	return args
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
