package jobs

import (
	"sync"
	"time"
)

// EventKind tags the variants of Event.
type EventKind string

const (
	EventLog          EventKind = "log"
	EventFileProgress EventKind = "file_progress"
	EventJobDone      EventKind = "job_done"
	EventStreamDone   EventKind = "stream_done"
	EventFatalError   EventKind = "fatal_error"
)

// Event is one status message emitted by the worker. Only the fields
// belonging to Kind are set. The same shape is stored in the EventBus for
// the frontend, which is why it carries Seq and Timestamp.
type Event struct {
	Seq       int64     `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId,omitempty"`
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`

	Overall     float64 `json:"overall,omitempty"`
	FileIndex   int     `json:"fileIndex,omitempty"`
	Total       int     `json:"total,omitempty"`
	FilePercent float64 `json:"filePercent,omitempty"`
	Completed   int     `json:"completed,omitempty"`
}

// LogEvent carries one human-readable line.
func LogEvent(text string) Event {
	return Event{Kind: EventLog, Text: text}
}

// FileProgressEvent reports progress inside one file. fileIndex is 1-based
// and filePercent is 0..100.
func FileProgressEvent(overall float64, fileIndex, total int, filePercent float64) Event {
	return Event{
		Kind:        EventFileProgress,
		Overall:     overall,
		FileIndex:   fileIndex,
		Total:       total,
		FilePercent: filePercent,
	}
}

// JobDoneEvent reports that a file was exported. completed is the number of
// files exported so far in the session, not the position of this file.
func JobDoneEvent(completed, total int) Event {
	return Event{Kind: EventJobDone, Completed: completed, Total: total}
}

// StreamDoneEvent ends a stream normally.
func StreamDoneEvent() Event {
	return Event{Kind: EventStreamDone}
}

// FatalErrorEvent ends a stream with an error.
func FatalErrorEvent(text string) Event {
	return Event{Kind: EventFatalError, Text: text}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventStreamDone || e.Kind == EventFatalError
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
