package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/resized/internal/domain"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "/tmp/in.jpg",
		Transforms: []domain.TransformStep{{Action: domain.ActionResize, Width: 100}},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	queued, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if queued.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", queued.Status)
	}
	if !queued.UpdatedAt.After(created) {
		t.Fatal("expected updated_at to advance")
	}

	done, err := s.Finish(ctx, "job-1", domain.JobStatusSucceeded, domain.JobResult{OutputKey: "out/job-1.jpg", Bytes: 42})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.Result == nil || done.Result.OutputKey != "out/job-1.jpg" {
		t.Fatalf("expected result to be recorded, got %+v", done.Result)
	}

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.JobStatusSucceeded || got.Result.Bytes != 42 {
		t.Fatalf("unexpected stored job %+v", got)
	}
}

func TestMemoryJobStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	if err := s.Create(ctx, domain.Job{ID: "a", Transforms: []domain.TransformStep{{Action: "flip", Direction: "vertical"}}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _, _ := s.Get(ctx, "a")
	got.Transforms[0].Direction = "horizontal"

	again, _, _ := s.Get(ctx, "a")
	if again.Transforms[0].Direction != "vertical" {
		t.Fatal("expected stored job to be unaffected by caller mutation")
	}
}

func TestMemoryJobStoreMissingJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	if _, ok, err := s.Get(ctx, "nope"); ok || err != nil {
		t.Fatalf("expected missing job, got ok=%v err=%v", ok, err)
	}
	if _, err := s.UpdateStatus(ctx, "nope", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.Finish(ctx, "nope", domain.JobStatusFailed, domain.JobResult{}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
