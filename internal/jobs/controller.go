package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/export"
	"batch-transcriber/internal/logging"
)

// ErrAlreadyRunning is returned when starting while a batch is active.
var ErrAlreadyRunning = errors.New("transcription already running")

// ErrNoFiles is returned when starting with an empty file list.
var ErrNoFiles = errors.New("no files in queue")

// ErrNotRunning is returned when stopping while idle.
var ErrNotRunning = errors.New("no running transcription")

// Progress is the payload of the progress callback.
type Progress struct {
	Overall     float64 `json:"overall"`
	FileIndex   int     `json:"fileIndex"`
	Total       int     `json:"total"`
	FilePercent float64 `json:"filePercent"`
}

// Callbacks receive dispatched worker events. They run on the host loop.
// Nil callbacks are skipped.
type Callbacks struct {
	Log       func(text string)
	Progress  func(p Progress)
	Completed func(completed, total int)
}

// Options tune the controller timings.
type Options struct {
	PollInterval   time.Duration
	TerminateGrace time.Duration
	KillGrace      time.Duration
	Logger         *log.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.TerminateGrace <= 0 {
		o.TerminateGrace = 2 * time.Second
	}
	if o.KillGrace <= 0 {
		o.KillGrace = time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// Controller owns at most one worker session. It is loop-affine: every
// method, and every callback it invokes, runs on the goroutine that drives
// the Scheduler.
type Controller struct {
	sched   Scheduler
	spawner Spawner
	cb      Callbacks
	opts    Options
	logger  *log.Logger
	session *Session
	newID   func() string
}

// NewController creates an idle controller.
func NewController(sched Scheduler, spawner Spawner, cb Callbacks, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		sched:   sched,
		spawner: spawner,
		cb:      cb,
		opts:    opts,
		logger:  opts.Logger,
		newID:   uuid.NewString,
	}
}

// Status reports whether a batch is running.
func (c *Controller) Status() domain.SessionStatus {
	if c.session == nil {
		return domain.SessionStatusIdle
	}
	return domain.SessionStatusRunning
}

// Session returns a snapshot of the active session, or an idle snapshot.
func (c *Controller) Session() domain.SessionInfo {
	if c.session == nil {
		return domain.SessionInfo{Status: domain.SessionStatusIdle}
	}
	return c.session.Info()
}

// Start launches a worker for files. A rejected start is logged through the
// Log callback, returns the reason, and leaves the state unchanged.
func (c *Controller) Start(files []string, params Params) error {
	if c.session != nil {
		c.emitLog("Transcription is already running.")
		return ErrAlreadyRunning
	}
	if len(files) == 0 {
		c.emitLog("No files in queue.")
		return ErrNoFiles
	}
	if _, err := export.Lookup(params.Format); err != nil {
		c.emitLog(fmt.Sprintf("Unsupported format: %s", params.Format))
		return err
	}

	c.emitLog(fmt.Sprintf("Starting transcription with Model: %s, Language: %s, Format: %s",
		params.Model, params.Language, params.Format))

	queue := Feed(files)
	unit, err := c.spawner.Spawn(params, queue)
	if err != nil {
		c.emitLog(fmt.Sprintf("Failed to start worker: %v", err))
		return fmt.Errorf("spawn worker: %w", err)
	}

	s := &Session{
		ID:     c.newID(),
		Params: params,
		Total:  len(files),
		unit:   unit,
		queue:  queue,
	}
	c.session = s
	c.logger.Info("transcription started", "session", s.ID, "files", s.Total, "model", params.Model)

	c.poll(s)
	return nil
}

// Stop ends the active batch, escalating from terminate to kill when the
// worker does not exit in time. Calling Stop while idle does nothing.
func (c *Controller) Stop() error {
	s := c.session
	if s == nil {
		return ErrNotRunning
	}

	if s.unit.Alive() {
		c.emitLog("Forcefully stopping transcription...")
		exited := false
		if err := s.unit.Terminate(); err != nil {
			c.logger.Warn("terminate worker", "session", s.ID, "err", err)
		} else {
			exited = s.unit.Wait(c.opts.TerminateGrace)
		}
		if !exited {
			c.emitLog("Worker did not stop in time, killing it.")
			if err := s.unit.Kill(); err != nil {
				c.logger.Warn("kill worker", "session", s.ID, "err", err)
			}
			if !s.unit.Wait(c.opts.KillGrace) {
				c.logger.Warn("worker still alive after kill", "session", s.ID)
			}
		}
		c.emitLog("Transcription stopped.")
	}

	c.cleanup()
	return nil
}

// cleanup releases the active session. It is safe to call repeatedly.
func (c *Controller) cleanup() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil

	if s.poll != nil {
		s.poll.Cancel()
		s.poll = nil
	}
	if s.unit.Alive() {
		// Abandoned units must not keep running or block on a full pipe.
		if err := s.unit.Kill(); err != nil {
			c.logger.Warn("release worker", "session", s.ID, "err", err)
		}
	}
	s.unit = nil
	s.queue = nil
	c.logger.Info("transcription session closed", "session", s.ID, "completed", s.Completed, "total", s.Total)
}

// emitLog hands text to the Log callback, which owns writing it out. Without
// one the line goes to the debug log.
func (c *Controller) emitLog(text string) {
	if c.cb.Log == nil {
		c.logger.Debug(text)
		return
	}
	c.cb.Log(text)
}
