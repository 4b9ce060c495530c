package store

import (
	"context"
	"errors"

	"github.com/dunamismax/resized/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Finish moves a job to a terminal status and records its result.
	Finish(ctx context.Context, id, status string, result domain.JobResult) (domain.Job, error)
}
