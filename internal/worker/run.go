// Package worker runs transcription jobs inside an isolated execution unit
// and reports back only through events.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"batch-transcriber/internal/export"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/transcribe"
)

// DefaultPollTimeout bounds one wait on the job channel.
const DefaultPollTimeout = 500 * time.Millisecond

// maxErrorText bounds the error text carried by one event.
const maxErrorText = 4 << 10

// Options tune one worker run.
type Options struct {
	PollTimeout time.Duration
	Logger      *log.Logger
}

// Emitter receives worker events. It must be safe for concurrent use since
// progress may be reported from a backend goroutine.
type Emitter func(jobs.Event)

// Run loads the model once and processes jobs from queue until the end
// marker arrives or ctx is cancelled. Cancellation is checked between polls
// and ends the run without a terminal event. Every other exit emits exactly
// one stream_done or fatal_error.
func Run(ctx context.Context, queue <-chan jobs.Message, emit Emitter, loader transcribe.Loader, params jobs.Params, opts Options) {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	defer func() {
		if r := recover(); r != nil {
			opts.Logger.Error("worker panicked", "panic", r)
			emit(jobs.FatalErrorEvent(fmt.Sprintf("Critical Error: %v", r)))
		}
	}()

	write, err := export.Lookup(params.Format)
	if err != nil {
		emit(jobs.FatalErrorEvent(fmt.Sprintf("Critical Error: %v", err)))
		return
	}

	emit(jobs.LogEvent(fmt.Sprintf("Loading model '%s'...", params.Model)))
	model, err := loader.Load(ctx, params.Model)
	if err != nil {
		emit(jobs.FatalErrorEvent(fmt.Sprintf("Critical Error: %v", err)))
		return
	}
	defer func() {
		if err := model.Close(); err != nil {
			opts.Logger.Warn("close model", "err", err)
		}
	}()
	emit(jobs.LogEvent("Model loaded."))

	p := &processor{
		emit:     emit,
		model:    model,
		write:    write,
		params:   params,
		language: transcribe.NormalizeLanguage(params.Language),
		logger:   opts.Logger,
	}

	timer := time.NewTimer(opts.PollTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			opts.Logger.Info("stop requested, leaving job loop")
			return
		default:
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(opts.PollTimeout)

		select {
		case <-ctx.Done():
			opts.Logger.Info("stop requested, leaving job loop")
			return
		case <-timer.C:
			continue
		case msg, ok := <-queue:
			if !ok {
				emit(jobs.FatalErrorEvent("Critical Error: job channel closed before end of stream"))
				return
			}
			if msg.EOS {
				emit(jobs.StreamDoneEvent())
				return
			}
			if msg.Job == nil {
				continue
			}
			p.process(ctx, *msg.Job)
		}
	}
}

// processor holds the per-run state shared across jobs.
type processor struct {
	emit     Emitter
	model    transcribe.Model
	write    export.Writer
	params   jobs.Params
	language string
	logger   *log.Logger

	mu          sync.Mutex
	completed   int
	lastOverall float64
}

func (p *processor) process(ctx context.Context, job jobs.Job) {
	name := filepath.Base(job.Path)
	p.emit(jobs.LogEvent(fmt.Sprintf("Processing %d/%d: %s", job.Index+1, job.Total, name)))

	out, err := p.transcribe(ctx, job)
	if err != nil {
		msg := clipText(err.Error(), maxErrorText)
		p.logger.Warn("file failed", "path", job.Path, "err", msg)
		p.emit(jobs.LogEvent(fmt.Sprintf("Error processing %s: %s", name, msg)))
		return
	}

	p.emit(jobs.LogEvent("Saved to " + out))
	p.mu.Lock()
	p.completed++
	completed := p.completed
	p.mu.Unlock()
	p.emit(jobs.JobDoneEvent(completed, job.Total))
}

// transcribe runs one file. A panic inside the backend or exporter counts
// as a failure of this file only.
func (p *processor) transcribe(ctx context.Context, job jobs.Job) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	req := transcribe.Request{AudioPath: job.Path, Language: p.language}
	transcript, err := p.model.Transcribe(ctx, req, p.progress(job))
	if err != nil {
		return "", err
	}

	out = export.OutputPath(job.Path, p.params.Format)
	if err := p.write(transcript, out); err != nil {
		return "", err
	}
	return out, nil
}

// progress converts backend position updates into file_progress events.
// Overall progress never decreases within a run.
func (p *processor) progress(job jobs.Job) transcribe.ProgressFunc {
	return func(position, total float64) {
		if total <= 0 || job.Total <= 0 {
			return
		}
		fraction := clamp(position/total, 0, 1)
		overall := (float64(job.Index) + fraction) / float64(job.Total)

		p.mu.Lock()
		if overall < p.lastOverall {
			p.mu.Unlock()
			return
		}
		p.lastOverall = overall
		p.mu.Unlock()

		p.emit(jobs.FileProgressEvent(overall, job.Index+1, job.Total, fraction*100))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clipText keeps the head of s within limit bytes on a rune boundary.
func clipText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + " ... (truncated)"
}
