package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/resized/internal/config"
	"github.com/dunamismax/resized/internal/domain"
	"github.com/dunamismax/resized/internal/pipeline"
	"github.com/dunamismax/resized/internal/queue"
	"github.com/dunamismax/resized/internal/store"
	"github.com/dunamismax/resized/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Processors routes jobs by source type. Object handles every source type
// other than local files.
type Processors struct {
	Local  processor
	Object processor
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    Processors
	webhookClient webhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	processors Processors,
	webhookClient webhookSender,
	jobStore store.JobStore,
) (*Server, error) {
	if processors.Local == nil && processors.Object == nil {
		return nil, errors.New("at least one processor is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processors:    processors,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("resized/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransformImage, s.handleTransformImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTransformImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseTransformImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.transform_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.transforms", len(payload.Transforms)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s transforms=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Transforms),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	if err != nil {
		stage := s.recordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")

		permanent := isPermanent(err)
		if !permanent && !finalAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("run pipeline: %w", err)
		}

		s.finishJob(ctx, payload.JobID, domain.JobStatusFailed, domain.JobResult{Error: err.Error(), FailedStage: stage})
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"failed_stage": stage,
			"error":        err.Error(),
		})
		if permanent {
			return fmt.Errorf("run pipeline: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.logger.Printf("Transformed job_id=%s location=%s bytes=%d size=%dx%d", payload.JobID, result.Location, result.Bytes, result.Width, result.Height)
	s.metrics.outputBytesTotal.Add(float64(result.Bytes))
	s.metrics.outputPixelsTotal.Add(float64(result.Width * result.Height))
	s.finishJob(ctx, payload.JobID, domain.JobStatusSucceeded, domain.JobResult{
		OutputKey:   result.Location,
		Bytes:       result.Bytes,
		Width:       result.Width,
		Height:      result.Height,
		Fingerprint: result.Fingerprint,
	})

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobSucceeded, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output_key":   result.Location,
		"bytes":        result.Bytes,
		"width":        result.Width,
		"height":       result.Height,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "transformed")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.TransformImagePayload) (pipeline.Result, error) {
	p := s.processors.Object
	if payload.SourceType == domain.SourceTypeLocalFile {
		p = s.processors.Local
	}
	if p == nil {
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}

	return p.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Transforms: payload.Transforms,
		Output:     payload.Output,
	})
}

// recordFailure counts the failure against the stage it names and returns
// that stage.
func (s *Server) recordFailure(err error) string {
	stage, kind := "job", "other"
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
		switch {
		case errors.Is(err, pipeline.ErrStageSpawn):
			kind = "spawn"
		case errors.Is(err, pipeline.ErrSinkWrite):
			kind = "sink"
		default:
			kind = "io"
		}
	} else if errors.Is(err, pipeline.ErrMetadataProbe) {
		stage, kind = "probe", "probe"
	} else if errors.Is(err, pipeline.ErrInvalidGeometry) || errors.Is(err, pipeline.ErrInvalidTransform) {
		kind = "invalid"
	}
	s.metrics.stageFailuresTotal.WithLabelValues(stage, kind).Inc()
	return stage
}

// isPermanent reports failures that a retry cannot fix.
func isPermanent(err error) bool {
	for _, target := range []error{
		pipeline.ErrInvalidGeometry,
		pipeline.ErrInvalidTransform,
		pipeline.ErrInvalidStepAction,
		pipeline.ErrUnsupportedSourceType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) finishJob(ctx context.Context, jobID, status string, result domain.JobResult) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, status, result); err != nil {
		s.logger.Printf("job finish failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TransformImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}
