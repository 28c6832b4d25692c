package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/logging"
)

// maxLogLine bounds one forwarded stderr line.
const maxLogLine = 64 << 10

// ProcessSpawner starts each unit as a child process speaking JSON lines:
// messages on stdin, events on stdout, logs on stderr.
type ProcessSpawner struct {
	// Path is the worker executable. Empty means the running binary.
	Path string
	// Args precede the per-batch flags, e.g. the worker subcommand name.
	Args   []string
	Env    []string
	Logger *log.Logger
}

// ParamArgs renders params as worker command-line flags.
func ParamArgs(params jobs.Params) []string {
	args := []string{
		"--model", params.Model,
		"--language", params.Language,
		"--format", string(params.Format),
	}
	if params.ModelsDir != "" {
		args = append(args, "--models-dir", params.ModelsDir)
	}
	return args
}

// Spawn implements jobs.Spawner.
func (s *ProcessSpawner) Spawn(params jobs.Params, queue <-chan jobs.Message) (jobs.Unit, error) {
	logger := s.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	args := append(append([]string(nil), s.Args...), ParamArgs(params)...)
	cmd := exec.Command(path, args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	configureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	u := &processUnit{
		cmd:       cmd,
		events:    make(chan jobs.Event, 256),
		done:      make(chan struct{}),
		abandoned: make(chan struct{}),
		logger:    logger.With("pid", cmd.Process.Pid),
	}
	u.logger.Debug("worker started", "path", path)

	go u.feed(stdin, queue)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		u.collect(stdout)
	}()
	go func() {
		defer readers.Done()
		u.forwardLogs(stderr)
	}()
	go func() {
		readers.Wait()
		u.exitErr = cmd.Wait()
		u.logger.Debug("worker exited", "err", u.exitErr)
		close(u.events)
		close(u.done)
	}()

	return u, nil
}

type processUnit struct {
	cmd       *exec.Cmd
	events    chan jobs.Event
	done      chan struct{}
	abandoned chan struct{}
	abandon   sync.Once
	exitErr   error
	logger    *log.Logger
}

// feed copies the job channel to the child's stdin, closing it after the
// end marker.
func (u *processUnit) feed(stdin io.WriteCloser, queue <-chan jobs.Message) {
	defer stdin.Close()
	w := jobs.NewLineWriter(stdin)
	for {
		select {
		case msg := <-queue:
			if err := w.Write(msg); err != nil {
				u.logger.Debug("job pipe closed", "err", err)
				return
			}
			if msg.EOS {
				return
			}
		case <-u.done:
			return
		case <-u.abandoned:
			return
		}
	}
}

func (u *processUnit) collect(stdout io.Reader) {
	err := jobs.ReadLines(stdout, func(ev jobs.Event) bool {
		select {
		case u.events <- ev:
		case <-u.abandoned:
		}
		return true
	}, func(line string, err error) {
		u.logger.Warn("unreadable worker event", "err", err, "line", line)
	})
	if err != nil {
		u.logger.Debug("event pipe closed", "err", err)
	}
}

func (u *processUnit) forwardLogs(stderr io.Reader) {
	err := jobs.EachLine(stderr, maxLogLine, func(line []byte, truncated bool) bool {
		text := "worker: " + string(line)
		if truncated {
			text += " [truncated]"
		}
		u.logger.Debug(text)
		return true
	})
	if err != nil {
		u.logger.Debug("log pipe closed", "err", err)
	}
}

func (u *processUnit) Events() <-chan jobs.Event { return u.events }

func (u *processUnit) Alive() bool {
	select {
	case <-u.done:
		return false
	default:
		return true
	}
}

func (u *processUnit) Terminate() error {
	if !u.Alive() {
		return nil
	}
	if err := terminateProcess(u.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate worker: %w", err)
	}
	return nil
}

// Kill stops the process group and discards any events still in flight.
func (u *processUnit) Kill() error {
	u.abandon.Do(func() { close(u.abandoned) })
	if !u.Alive() {
		return nil
	}
	if err := killProcess(u.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker: %w", err)
	}
	return nil
}

func (u *processUnit) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-u.done:
		return true
	case <-timer.C:
		return false
	}
}
