package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/transcribe"
)

// InProcessSpawner runs each unit as a goroutine. Units share the address
// space with the host, so a crash in the backend is not contained; use
// ProcessSpawner when that matters.
type InProcessSpawner struct {
	// Loader is used as is when set. Otherwise NewLoader opens one per batch.
	Loader    transcribe.Loader
	NewLoader func(params jobs.Params) (transcribe.Loader, error)
	Options   Options
}

// Spawn implements jobs.Spawner.
func (s *InProcessSpawner) Spawn(params jobs.Params, queue <-chan jobs.Message) (jobs.Unit, error) {
	loader := s.Loader
	if loader == nil {
		if s.NewLoader == nil {
			return nil, errors.New("no transcription loader configured")
		}
		var err error
		if loader, err = s.NewLoader(params); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &inProcessUnit{
		events: make(chan jobs.Event, 256),
		done:   make(chan struct{}),
		killed: make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(u.done)
		defer cancel()
		Run(ctx, queue, u.emit, loader, params, s.Options)
	}()
	return u, nil
}

type inProcessUnit struct {
	events   chan jobs.Event
	done     chan struct{}
	killed   chan struct{}
	killOnce sync.Once
	cancel   context.CancelFunc
}

func (u *inProcessUnit) emit(ev jobs.Event) {
	select {
	case u.events <- ev:
	case <-u.killed:
	}
}

func (u *inProcessUnit) Events() <-chan jobs.Event { return u.events }

func (u *inProcessUnit) Alive() bool {
	select {
	case <-u.done:
		return false
	case <-u.killed:
		return false
	default:
		return true
	}
}

func (u *inProcessUnit) Terminate() error {
	u.cancel()
	return nil
}

// Kill abandons the goroutine. A backend call that ignores its context keeps
// running until it returns, but nothing it emits is delivered.
func (u *inProcessUnit) Kill() error {
	u.cancel()
	u.killOnce.Do(func() { close(u.killed) })
	return nil
}

func (u *inProcessUnit) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-u.done:
		return true
	case <-u.killed:
		return true
	case <-timer.C:
		return false
	}
}
