package bootstrap

import (
	"fmt"
	"path/filepath"

	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/media"
)

// fileQueue is the ordered, de-duplicated list of files waiting for the
// next batch. Guarded by App.mu.
type fileQueue struct {
	files     []string
	completed int
}

func (q *fileQueue) add(paths []string) int {
	seen := make(map[string]struct{}, len(q.files))
	for _, path := range q.files {
		seen[path] = struct{}{}
	}

	added := 0
	for _, path := range paths {
		clean := filepath.Clean(path)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		q.files = append(q.files, clean)
		added++
	}
	return added
}

func (q *fileQueue) remove(path string) bool {
	clean := filepath.Clean(path)
	for i, existing := range q.files {
		if existing == clean {
			q.files = append(q.files[:i], q.files[i+1:]...)
			return true
		}
	}
	return false
}

func (q *fileQueue) clear() {
	q.files = nil
	q.completed = 0
}

func (q *fileQueue) resetCompleted() {
	q.completed = 0
}

func (q *fileQueue) list() []string {
	return append([]string(nil), q.files...)
}

func (q *fileQueue) info() domain.QueueInfo {
	pending := len(q.files) - q.completed
	if pending < 0 {
		pending = 0
	}
	return domain.QueueInfo{
		Files:     q.list(),
		Pending:   pending,
		Completed: q.completed,
	}
}

// AddFiles queues media files. Directories are scanned for media and
// anything that is not audio or video is skipped with a log line.
func (a *App) AddFiles(paths []string) (domain.QueueInfo, error) {
	expanded, err := media.Expand(paths)
	if err != nil {
		return a.Queue(), fmt.Errorf("add files: %w", err)
	}
	accepted, rejected := media.Filter(expanded)

	a.mu.Lock()
	a.queue.add(accepted)
	info := a.queue.info()
	a.mu.Unlock()

	for _, path := range rejected {
		a.postLog(fmt.Sprintf("Skipped non-media file: %s", filepath.Base(path)))
	}
	return info, nil
}

// RemoveFile drops one file from the queue.
func (a *App) RemoveFile(path string) domain.QueueInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue.remove(path)
	return a.queue.info()
}

// ClearFiles empties the queue.
func (a *App) ClearFiles() domain.QueueInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue.clear()
	return a.queue.info()
}

// Queue returns the queued files and counters.
func (a *App) Queue() domain.QueueInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.info()
}

// postLog publishes a log line from outside the host loop.
func (a *App) postLog(text string) {
	if err := a.loop.Post(func() { a.publishEvent(jobs.LogEvent(text)) }); err != nil {
		a.logger.Debug("drop log line", "text", text, "err", err)
	}
}
