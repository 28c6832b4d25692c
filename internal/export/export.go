// Package export writes transcripts to subtitle and text files.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/transcribe"
)

// ErrUnknownFormat is returned for output formats without an exporter.
var ErrUnknownFormat = errors.New("unknown output format")

// Writer writes one transcript to path, overwriting any existing file.
type Writer func(t transcribe.Transcript, path string) error

// Lookup returns the writer for a format.
func Lookup(format domain.OutputFormat) (Writer, error) {
	switch format {
	case domain.FormatVTT:
		return func(t transcribe.Transcript, path string) error { return WriteSubtitle(t, path, true) }, nil
	case domain.FormatSRT:
		return func(t transcribe.Transcript, path string) error { return WriteSubtitle(t, path, false) }, nil
	case domain.FormatTXT:
		return WritePlainText, nil
	case domain.FormatJSON:
		return WriteJSON, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// OutputPath replaces the input's extension with the format's.
func OutputPath(inputPath string, format domain.OutputFormat) string {
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	return base + "." + string(format)
}

// WriteSubtitle writes WebVTT when vtt is set, SubRip otherwise.
func WriteSubtitle(t transcribe.Transcript, path string, vtt bool) error {
	return writeFile(path, func(w *bufio.Writer) error {
		if vtt {
			if _, err := w.WriteString("WEBVTT\n\n"); err != nil {
				return err
			}
		}

		cue := 0
		for _, segment := range t.Segments {
			text := strings.TrimSpace(segment.Text)
			if text == "" {
				continue
			}
			cue++

			var err error
			if vtt {
				_, err = fmt.Fprintf(w, "%s --> %s\n%s\n\n", timestamp(segment.Start, '.'), timestamp(segment.End, '.'), text)
			} else {
				_, err = fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", cue, timestamp(segment.Start, ','), timestamp(segment.End, ','), text)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// WritePlainText writes one segment per line without timestamps.
func WritePlainText(t transcribe.Transcript, path string) error {
	return writeFile(path, func(w *bufio.Writer) error {
		for _, segment := range t.Segments {
			text := strings.TrimSpace(segment.Text)
			if text == "" {
				continue
			}
			if _, err := w.WriteString(text + "\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

// jsonSegment is the on-disk shape of a segment, with seconds as floats.
type jsonSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type jsonTranscript struct {
	Language string        `json:"language,omitempty"`
	Duration float64       `json:"duration"`
	Text     string        `json:"text"`
	Segments []jsonSegment `json:"segments"`
}

// WriteJSON writes a structured dump of the transcript.
func WriteJSON(t transcribe.Transcript, path string) error {
	doc := jsonTranscript{
		Language: t.Language,
		Duration: t.Duration.Seconds(),
		Text:     t.Text(),
		Segments: make([]jsonSegment, 0, len(t.Segments)),
	}
	for i, segment := range t.Segments {
		doc.Segments = append(doc.Segments, jsonSegment{
			ID:    i,
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  strings.TrimSpace(segment.Text),
		})
	}

	return writeFile(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
}

// writeFile creates or truncates path and flushes the body into it.
func writeFile(path string, body func(w *bufio.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := bufio.NewWriter(file)
	bodyErr := body(w)
	if bodyErr == nil {
		bodyErr = w.Flush()
	}
	closeErr := file.Close()
	if bodyErr != nil {
		return fmt.Errorf("write %s: %w", path, bodyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", path, closeErr)
	}
	return nil
}

// timestamp formats d as HH:MM:SS<sep>mmm.
func timestamp(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}
