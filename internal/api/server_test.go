package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/resized/internal/domain"
	"github.com/dunamismax/resized/internal/queue"
	"github.com/dunamismax/resized/internal/ratelimit"
	"github.com/dunamismax/resized/internal/store"
	"github.com/hibiken/asynq"
)

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.TransformImagePayload
	err      error
}

func (q *fakeQueue) EnqueueTransformImage(_ context.Context, payload queue.TransformImagePayload) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct {
	objects map[string]bool
}

func (s fakeStorage) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.test/put/" + key, nil
}

func (s fakeStorage) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.test/get/" + key, nil
}

func (s fakeStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	return s.objects[key], nil
}

type fakeLimiter struct {
	allowed bool
	costs   []int
}

func (l *fakeLimiter) Allow(_ context.Context, _ string, cost int) (ratelimit.Decision, error) {
	l.costs = append(l.costs, cost)
	if l.allowed {
		return ratelimit.Decision{Allowed: true, Remaining: 5}, nil
	}
	return ratelimit.Decision{RetryAfter: 3 * time.Second}, nil
}

func newTestAPI(t *testing.T) (*Server, *fakeQueue, *store.MemoryJobStore) {
	t.Helper()
	q := &fakeQueue{}
	jobs := store.NewMemoryJobStore()
	s := NewServer(log.New(io.Discard, "", 0), q, jobs, fakeStorage{objects: map[string]bool{}}, time.Minute)
	return s, q, jobs
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateAndStartLocalJob(t *testing.T) {
	s, q, jobs := newTestAPI(t)
	h := s.Handler()

	src := filepath.Join(t.TempDir(), "in.jpg")
	if err := os.WriteFile(src, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	body := `{"source_type":"local_file","object_key":"` + src + `","transforms":[{"action":"resize","width":400},{"action":"flip","direction":"vertical"}],"output":{"quality":80}}`
	rec := do(t, h, http.MethodPost, "/v1/jobs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	jobID, _ := created["job_id"].(string)
	if jobID == "" {
		t.Fatalf("expected job id, got %v", created)
	}

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(q.payloads))
	}
	if p := q.payloads[0]; len(p.Transforms) != 2 || p.Output.Quality != 80 || p.ObjectKey != src {
		t.Fatalf("unexpected payload %+v", p)
	}

	job, _, _ := jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when starting a queued job, got %d", rec.Code)
	}
}

func TestCreateJobRejectsInvalidRequests(t *testing.T) {
	s, _, _ := newTestAPI(t)
	h := s.Handler()

	for _, body := range []string{
		`{"source_type":"local_file"}`,
		`{"source_type":"s3_presigned","transforms":[{"action":"rotate"}]}`,
		`{"source_type":"s3_presigned","transforms":[{"action":"resize","width":10}],"extra":true}`,
		`{"source_type":"s3_presigned","transforms":[{"action":"resize","width":10}]}{}`,
	} {
		if rec := do(t, h, http.MethodPost, "/v1/jobs", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
}

func TestPresignedJobLifecycle(t *testing.T) {
	s, _, jobs := newTestAPI(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/v1/jobs", `{"source_type":"s3_presigned","transforms":[{"action":"crop","top":10}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	created := decode(t, rec)
	jobID := created["job_id"].(string)
	upload := created["upload"].(map[string]any)
	if upload["presigned_put_url"] != "https://minio.test/put/uploads/"+jobID+"/source" {
		t.Fatalf("unexpected upload %v", upload)
	}

	rec = do(t, h, http.MethodPost, "/v1/jobs/"+jobID+"/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before upload, got %d", rec.Code)
	}

	if _, err := jobs.Finish(context.Background(), jobID, domain.JobStatusSucceeded, domain.JobResult{OutputKey: "outputs/" + jobID + "/abc.jpg"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	rec = do(t, h, http.MethodGet, "/v1/jobs/"+jobID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode(t, rec)
	if got["status"] != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %v", got["status"])
	}
	if got["download_url"] != "https://minio.test/get/outputs/"+jobID+"/abc.jpg" {
		t.Fatalf("unexpected download url %v", got["download_url"])
	}
}

func TestGetMissingJob(t *testing.T) {
	s, _, _ := newTestAPI(t)
	if rec := do(t, s.Handler(), http.MethodGet, "/v1/jobs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, s.Handler(), http.MethodPost, "/v1/jobs/nope/start", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartJobDuplicateEnqueue(t *testing.T) {
	s, q, jobs := newTestAPI(t)
	q.err = queue.ErrDuplicateJob

	src := filepath.Join(t.TempDir(), "in.jpg")
	if err := os.WriteFile(src, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := jobs.Create(context.Background(), domain.Job{ID: "dup", Status: domain.JobStatusFailed, SourceType: domain.SourceTypeLocalFile, ObjectKey: src}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if rec := do(t, s.Handler(), http.MethodPost, "/v1/jobs/dup/start", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRateLimiterChargesPerStage(t *testing.T) {
	s, _, jobs := newTestAPI(t)
	limiter := &fakeLimiter{allowed: true}
	s.WithRateLimiter(limiter, "X-Client-ID")

	src := filepath.Join(t.TempDir(), "in.jpg")
	if err := os.WriteFile(src, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := jobs.Create(context.Background(), domain.Job{
		ID:         "rl",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  src,
		Transforms: []domain.TransformStep{{Action: "resize", Width: 1}, {Action: "flip", Direction: "vertical"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := do(t, s.Handler(), http.MethodPost, "/v1/jobs/rl/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(limiter.costs) != 1 || limiter.costs[0] != 4 {
		t.Fatalf("expected a cost of 4 tokens, got %v", limiter.costs)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "5" {
		t.Fatalf("expected remaining header, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimiterRejects(t *testing.T) {
	s, _, _ := newTestAPI(t)
	s.WithRateLimiter(&fakeLimiter{}, "X-Client-ID")

	rec := do(t, s.Handler(), http.MethodPost, "/v1/jobs", `{"source_type":"s3_presigned","transforms":[{"action":"resize","width":10}]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3" {
		t.Fatalf("expected Retry-After 3, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	s, _, _ := newTestAPI(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `resized_api_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request to be counted, got:\n%s", rec.Body.String())
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/jobs":           "/v1/jobs",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/healthz":           "/healthz",
		"/favicon.ico":       "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("expected %s for %s, got %s", want, path, got)
		}
	}
}
