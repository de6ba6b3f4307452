package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cortexmap/cortex/internal/crawler"
)

// JobStore tracks background map-build/refresh jobs in memory, for
// /debug/maps when no Postgres catalog is configured.
type JobStore struct {
	mu   sync.RWMutex
	jobs []crawler.MapJobRecord
	cap  int
}

// NewJobStore constructs a JobStore retaining up to capacity recent jobs.
func NewJobStore(capacity int) *JobStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &JobStore{cap: capacity}
}

// RecordStart appends a job in the queued/running state.
func (s *JobStore) RecordStart(_ context.Context, job crawler.MapJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, crawler.MapJobRecord{
		Domain:    job.Domain,
		Status:    crawler.MapJobRunning,
		Submitted: time.Unix(job.Submitted, 0).UTC(),
	})
	if len(s.jobs) > s.cap {
		s.jobs = s.jobs[len(s.jobs)-s.cap:]
	}
	return nil
}

// RecordDone marks the most recent matching job for domain as finished.
func (s *JobStore) RecordDone(_ context.Context, job crawler.MapJob, status crawler.MapJobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := len(s.jobs) - 1; i >= 0; i-- {
		if s.jobs[i].Domain == job.Domain && s.jobs[i].Finished == nil {
			s.jobs[i].Status = status
			s.jobs[i].ErrorText = errText
			s.jobs[i].Finished = &now
			return nil
		}
	}
	return nil
}

// ListRecent returns up to limit jobs, most recently submitted first.
func (s *JobStore) ListRecent(_ context.Context, limit int) ([]crawler.MapJobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.jobs) {
		limit = len(s.jobs)
	}
	out := make([]crawler.MapJobRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.jobs[len(s.jobs)-1-i]
	}
	return out, nil
}
