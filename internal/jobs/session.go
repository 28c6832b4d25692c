package jobs

import (
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/eventloop"
)

// Session is the state of one running batch. It is created by Start and
// discarded by cleanup; it never outlives the unit it owns.
type Session struct {
	ID        string
	Params    Params
	Total     int
	Completed int

	unit  Unit
	queue <-chan Message
	poll  eventloop.Handle
}

// Info returns a snapshot for the UI.
func (s *Session) Info() domain.SessionInfo {
	return domain.SessionInfo{
		ID:        s.ID,
		Status:    domain.SessionStatusRunning,
		Total:     s.Total,
		Completed: s.Completed,
	}
}
