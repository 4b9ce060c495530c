package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/resized/internal/domain"
	"github.com/hibiken/asynq"
)

func TestTransformImageTaskRoundTrip(t *testing.T) {
	payload := TransformImagePayload{
		JobID:      "job-123",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job-123/source",
		Transforms: []domain.TransformStep{
			{Action: "resize", Width: 400, Fill: true, Height: 300},
			{Action: "flip", Direction: "vertical"},
		},
		Output:      domain.OutputOptions{Quality: 70, Progressive: true},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewTransformImageTask(payload)
	if err != nil {
		t.Fatalf("NewTransformImageTask returned error: %v", err)
	}
	if task.Type() != TypeTransformImage {
		t.Fatalf("expected task type %q, got %q", TypeTransformImage, task.Type())
	}

	parsed, err := ParseTransformImagePayload(task)
	if err != nil {
		t.Fatalf("ParseTransformImagePayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if len(parsed.Transforms) != 2 || !parsed.Transforms[0].Fill {
		t.Fatalf("expected transforms to survive, got %+v", parsed.Transforms)
	}
	if parsed.Output.Quality != 70 || !parsed.Output.Progressive {
		t.Fatalf("expected output options to survive, got %+v", parsed.Output)
	}
}

func TestParseTransformImagePayloadRejectsBadInput(t *testing.T) {
	if _, err := ParseTransformImagePayload(asynq.NewTask(TypeTransformImage, []byte("{"))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if _, err := ParseTransformImagePayload(asynq.NewTask(TypeTransformImage, []byte(`{"source_type":"local_file"}`))); err == nil {
		t.Fatal("expected error for payload without job id")
	}
}
