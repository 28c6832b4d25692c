package transcribe

import (
	"strings"
	"time"
)

// Segment is one time-aligned span of recognised speech.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Transcript is the backend-neutral result of one transcription.
type Transcript struct {
	Language string        `json:"language,omitempty"`
	Duration time.Duration `json:"duration"`
	Segments []Segment     `json:"segments"`
}

// Text joins all segment texts into one trimmed string.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, segment := range t.Segments {
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// secondsToDuration converts float seconds reported by tools to a Duration.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
