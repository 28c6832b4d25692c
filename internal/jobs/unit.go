package jobs

import (
	"time"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/eventloop"
)

// Params are the per-batch selections handed to a worker.
type Params struct {
	Model     string              `json:"model"`
	Language  string              `json:"language"`
	Format    domain.OutputFormat `json:"format"`
	ModelsDir string              `json:"modelsDir,omitempty"`
}

// Unit is one isolated worker execution unit.
type Unit interface {
	// Events delivers worker events in emission order.
	Events() <-chan Event
	// Alive reports whether the unit is still running.
	Alive() bool
	// Terminate asks the unit to stop at its next poll boundary.
	Terminate() error
	// Kill stops the unit immediately. Events not yet read are dropped.
	Kill() error
	// Wait blocks up to timeout and reports whether the unit has exited.
	Wait(timeout time.Duration) bool
}

// Spawner starts worker units.
type Spawner interface {
	Spawn(params Params, queue <-chan Message) (Unit, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(params Params, queue <-chan Message) (Unit, error)

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(params Params, queue <-chan Message) (Unit, error) {
	return f(params, queue)
}

// Scheduler defers work on the host loop. *eventloop.Loop implements it.
type Scheduler interface {
	After(d time.Duration, fn func()) eventloop.Handle
}
