package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// ErrDuplicateJob is returned when a job is already enqueued.
var ErrDuplicateJob = errors.New("job already enqueued")

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int, timeout time.Duration) *Client {
	if maxRetry < 0 {
		maxRetry = 0
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

// EnqueueTransformImage enqueues the job under its own ID, so a job can be
// pending at most once.
func (c *Client) EnqueueTransformImage(ctx context.Context, payload TransformImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewTransformImageTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, ErrDuplicateJob
	}
	return info, err
}

func (c *Client) Close() error {
	return c.client.Close()
}
