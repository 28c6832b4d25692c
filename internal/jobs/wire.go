package jobs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxLineSize bounds one JSON line on the worker pipes.
const MaxLineSize = 1 << 20

// ErrLineTooLong is reported for a JSON line over MaxLineSize.
var ErrLineTooLong = errors.New("json line exceeds size limit")

// LineWriter encodes values as JSON lines. It is safe for concurrent use.
type LineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &LineWriter{enc: enc}
}

// Write encodes v followed by a newline.
func (w *LineWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// EachLine calls fn for every line of r until EOF or until fn returns false.
// A line longer than limit is cut to limit bytes and flagged as truncated;
// the rest of it is read and dropped so the writer never stalls. The line
// slice is only valid during fn.
func EachLine(r io.Reader, limit int, fn func(line []byte, truncated bool) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	truncated := false
	for {
		chunk, err := br.ReadSlice('\n')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if room := limit - len(buf); len(chunk) > room {
			if room > 0 {
				buf = append(buf, chunk[:room]...)
			}
			truncated = true
		} else {
			buf = append(buf, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err == nil || len(buf) > 0 {
			if !fn(bytes.TrimSuffix(buf, []byte("\r")), truncated) {
				return nil
			}
		}
		buf = buf[:0]
		truncated = false

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read lines: %w", err)
		}
	}
}

// ReadLines decodes JSON lines from r into fresh T values and hands each to
// fn until EOF or until fn returns false. Blank lines are skipped. A line
// that does not decode, or is over MaxLineSize, is reported through
// onBadLine and skipped.
func ReadLines[T any](r io.Reader, fn func(T) bool, onBadLine func(line string, err error)) error {
	err := EachLine(r, MaxLineSize, func(line []byte, truncated bool) bool {
		if truncated {
			if onBadLine != nil {
				onBadLine(string(line[:min(len(line), 256)]), ErrLineTooLong)
			}
			return true
		}
		if len(line) == 0 {
			return true
		}
		var value T
		if err := json.Unmarshal(line, &value); err != nil {
			if onBadLine != nil {
				onBadLine(string(line), err)
			}
			return true
		}
		return fn(value)
	})
	if err != nil {
		return fmt.Errorf("read json lines: %w", err)
	}
	return nil
}
