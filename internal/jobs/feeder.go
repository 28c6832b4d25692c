package jobs

// Job is one file to transcribe. Index is 0-based and stable for the whole
// batch; Total is the batch size.
type Job struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Path  string `json:"path"`
}

// Message is one element of the job channel: either a job or the
// end-of-stream marker.
type Message struct {
	Job *Job `json:"job,omitempty"`
	EOS bool `json:"eos,omitempty"`
}

// Batch numbers paths in submission order.
func Batch(paths []string) []Job {
	jobs := make([]Job, 0, len(paths))
	for i, path := range paths {
		jobs = append(jobs, Job{Index: i, Total: len(paths), Path: path})
	}
	return jobs
}

// Feed returns a one-shot job channel preloaded with every job followed by
// the end-of-stream marker. The channel is never closed; consumers stop at
// the marker.
func Feed(paths []string) <-chan Message {
	queue := make(chan Message, len(paths)+1)
	for _, job := range Batch(paths) {
		job := job
		queue <- Message{Job: &job}
	}
	queue <- Message{EOS: true}
	return queue
}
