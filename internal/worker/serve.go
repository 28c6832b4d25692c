package worker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
	"batch-transcriber/internal/transcribe"
)

// Serve runs the worker over JSON-line pipes: messages are read from in and
// events are written to out. It is the body of the worker subprocess.
func Serve(ctx context.Context, in io.Reader, out io.Writer, loader transcribe.Loader, params jobs.Params, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	logger := opts.Logger

	queue := make(chan jobs.Message, 16)
	go func() {
		defer close(queue)
		err := jobs.ReadLines(in, func(msg jobs.Message) bool {
			select {
			case queue <- msg:
				return !msg.EOS
			case <-ctx.Done():
				return false
			}
		}, func(line string, err error) {
			logger.Warn("skipping malformed job line", "err", err, "line", line)
		})
		if err != nil {
			logger.Error("job pipe failed", "err", err)
		}
	}()

	w := jobs.NewLineWriter(out)
	var (
		mu       sync.Mutex
		writeErr error
	)
	emit := func(ev jobs.Event) {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		err := w.Write(ev)
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if writeErr == nil {
			writeErr = err
			logger.Error("event pipe failed", "err", err)
		}
	}

	Run(ctx, queue, emit, loader, params, opts)
	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		return fmt.Errorf("write events: %w", writeErr)
	}
	return nil
}
