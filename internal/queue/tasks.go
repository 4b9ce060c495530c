package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/resized/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeTransformImage = "image:transform"

type TransformImagePayload struct {
	JobID       string                 `json:"job_id"`
	SourceType  string                 `json:"source_type"`
	WebhookURL  string                 `json:"webhook_url,omitempty"`
	ObjectKey   string                 `json:"object_key"`
	Transforms  []domain.TransformStep `json:"transforms"`
	Output      domain.OutputOptions   `json:"output,omitempty"`
	RequestedAt time.Time              `json:"requested_at"`
}

func NewTransformImageTask(payload TransformImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformImage, body), nil
}

func ParseTransformImagePayload(task *asynq.Task) (TransformImagePayload, error) {
	var payload TransformImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformImagePayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	if payload.JobID == "" {
		return TransformImagePayload{}, errors.New("transform payload is missing job_id")
	}
	return payload, nil
}
