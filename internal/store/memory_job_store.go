package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/resized/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

var _ JobStore = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Finish(_ context.Context, id, status string, result domain.JobResult) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
		job.Result = &result
	})
}

func (s *MemoryJobStore) update(id string, apply func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	apply(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func cloneJob(job domain.Job) domain.Job {
	job.Transforms = append([]domain.TransformStep(nil), job.Transforms...)
	if job.Result != nil {
		result := *job.Result
		job.Result = &result
	}
	return job
}
