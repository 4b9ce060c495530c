package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dunamismax/resized/internal/domain"
	"github.com/dunamismax/resized/internal/probe"
)

func nativeProcessorOptions() []Option {
	return []Option{WithProber(probe.Config{}), WithLauncher(NativeLauncher{})}
}

func TestLocalProcessor_FileInTransformFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := writeJPEG(t, 640, 400)
	outputDir := filepath.Join(tmp, "out")

	processor, err := NewLocalProcessor(outputDir, nil, nativeProcessorOptions()...)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	keep := false
	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Transforms: []domain.TransformStep{
			{Action: "resize", Width: 200, Height: 200, Aspect: &keep},
			{Action: "crop", Top: 10, Bottom: 10},
			{Action: "flip", Direction: "horizontal"},
		},
		Output: domain.OutputOptions{Quality: 80},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if want := filepath.Join(outputDir, "job-local-1", result.Fingerprint+".jpg"); result.Location != want {
		t.Fatalf("expected output at %s, got %s", want, result.Location)
	}
	if got := jpegSize(t, result.Location); got != (Size{200, 180}) {
		t.Fatalf("expected 200x180 output, got %s", got)
	}
	if result.Width != 200 || result.Height != 180 {
		t.Fatalf("expected predicted 200x180, got %dx%d", result.Width, result.Height)
	}
	info, err := os.Stat(result.Location)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() != result.Bytes {
		t.Fatalf("expected %d bytes reported, got %d", info.Size(), result.Bytes)
	}
	if !strings.Contains(result.Plan, "-quality 80") {
		t.Fatalf("expected quality in plan, got %q", result.Plan)
	}

	entries, err := os.ReadDir(filepath.Dir(result.Location))
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the committed output, got %d entries", len(entries))
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), nil, nativeProcessorOptions()...)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job/source",
		Transforms: []domain.TransformStep{{Action: "resize", Width: 120}},
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestLocalProcessor_FailedRunLeavesNoOutput(t *testing.T) {
	outputDir := t.TempDir()
	inputPath := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(inputPath, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	processor, err := NewLocalProcessor(outputDir, nil, WithSourceSize(Size{Width: 100, Height: 100}), WithLauncher(NativeLauncher{}))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-broken",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Transforms: []domain.TransformStep{{Action: "flip", Direction: "vertical"}},
	})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Index != 0 {
		t.Fatalf("expected decoder failure, got %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(outputDir, "job-broken"))
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected aborted output to be removed, got %d entries", len(entries))
	}
}

func TestProcessorRejectsUnknownAction(t *testing.T) {
	processor := NewProcessor(staticFetcher{path: "in.jpg"}, newMemoryEmitter(), nil, WithSourceSize(Size{10, 10}))

	_, err := processor.Process(context.Background(), Request{
		JobID:      "job",
		Transforms: []domain.TransformStep{{Action: "rotate"}},
	})
	if !errors.Is(err, ErrInvalidStepAction) {
		t.Fatalf("expected ErrInvalidStepAction, got %v", err)
	}
}

func TestProcessorReportsGeometryErrorsBeforeRunning(t *testing.T) {
	stages := newFakeStages()
	emitter := newMemoryEmitter()
	processor := NewProcessor(staticFetcher{path: "in.jpg"}, emitter, nil, WithSourceSize(Size{100, 100}), WithLauncher(stages))

	_, err := processor.Process(context.Background(), Request{
		JobID: "job",
		Transforms: []domain.TransformStep{
			{Action: "resize", Width: 50},
			{Action: "crop", Left: 40, Right: 40},
		},
	})
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if stages.count() != 0 {
		t.Fatalf("expected no stages launched, got %d", stages.count())
	}
	if emitter.created != 0 {
		t.Fatalf("expected no sink created, got %d", emitter.created)
	}
}

func TestProcessorRejectsCropOutsideSourceWithoutResize(t *testing.T) {
	stages := newFakeStages()
	emitter := newMemoryEmitter()
	processor := NewProcessor(staticFetcher{path: "in.jpg"}, emitter, nil, WithProber(fixedProber(1280, 800, nil)), WithLauncher(stages))

	_, err := processor.Process(context.Background(), Request{
		JobID:      "job",
		Transforms: []domain.TransformStep{{Action: "crop", Left: 2000, Width: 100}},
	})
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if errors.Is(err, ErrStageIO) {
		t.Fatalf("expected no stage to be blamed, got %v", err)
	}
	if stages.count() != 0 {
		t.Fatalf("expected no stages launched, got %d", stages.count())
	}
	if emitter.created != 0 {
		t.Fatalf("expected no sink created, got %d", emitter.created)
	}
}

func TestProcessorRunsCropOnlyChainWhenProbeFails(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.jpg")
	if err := os.WriteFile(src, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	emitter := newMemoryEmitter()
	failing := probe.Func(func(context.Context, string) (probe.ImageProperties, error) {
		return probe.ImageProperties{}, errors.New("no jhead")
	})
	processor := NewProcessor(staticFetcher{path: src}, emitter, nil, WithProber(failing), WithLauncher(newFakeStages()))

	if _, err := processor.Process(context.Background(), Request{
		JobID:      "job",
		Transforms: []domain.TransformStep{{Action: "crop", Top: 5}},
	}); err != nil {
		t.Fatalf("expected crop-only chain to run without geometry, got %v", err)
	}
	if emitter.created != 1 {
		t.Fatalf("expected one sink, got %d", emitter.created)
	}
}

func TestObjectStoreStagesStreamThroughStore(t *testing.T) {
	store := newMemoryStore()
	store.objects["uploads/job-s3/source"] = []byte(readFile(t, writeJPEG(t, 320, 200)))

	processor := NewProcessor(
		ObjectStoreFetcher{Store: store, TempDir: t.TempDir()},
		ObjectStoreEmitter{Store: store},
		nil,
		nativeProcessorOptions()...,
	)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-s3",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-s3/source",
		Transforms: []domain.TransformStep{{Action: "resize", Width: 160}},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if want := "outputs/job-s3/" + result.Fingerprint + ".jpg"; result.Location != want {
		t.Fatalf("expected key %s, got %s", want, result.Location)
	}
	out, ok := store.get(result.Location)
	if !ok {
		t.Fatalf("expected object %s to be stored", result.Location)
	}
	if int64(len(out)) != result.Bytes {
		t.Fatalf("expected %d bytes stored, got %d", result.Bytes, len(out))
	}
	if store.contentTypes[result.Location] != "image/jpeg" {
		t.Fatalf("expected image/jpeg content type, got %q", store.contentTypes[result.Location])
	}
}

func TestObjectStoreFetcherRejectsLocalFiles(t *testing.T) {
	_, err := ObjectStoreFetcher{Store: newMemoryStore()}.Fetch(context.Background(), Request{SourceType: SourceTypeLocalFile})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
}

func TestObjectSinkAbortDiscardsUpload(t *testing.T) {
	store := newMemoryStore()
	sink, err := ObjectStoreEmitter{Store: store, OutputPrefix: "results"}.Create(context.Background(), Request{JobID: "j"}, "out.jpg")
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	if _, err := sink.Write([]byte("partial")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink.Abort()

	if _, ok := store.get("results/j/out.jpg"); ok {
		t.Fatal("expected aborted upload to be discarded")
	}
}

func TestObjectSinkUploadFailureSurfacesOnWrite(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket gone")

	sink, err := ObjectStoreEmitter{Store: store}.Create(context.Background(), Request{JobID: "j"}, "out.jpg")
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	if _, err := sink.Write([]byte("data")); !errors.Is(err, store.putErr) {
		t.Fatalf("expected upload error from write, got %v", err)
	}
	if _, err := sink.Commit(); !errors.Is(err, store.putErr) {
		t.Fatalf("expected upload error from commit, got %v", err)
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := sanitizeFileName("../a b.jpg"); got != "___a_b.jpg" {
		t.Fatalf("expected ___a_b.jpg, got %s", got)
	}
}

type staticFetcher struct {
	path string
}

func (f staticFetcher) Fetch(context.Context, Request) (Source, error) {
	return Source{Path: f.path}, nil
}

// memoryEmitter collects committed outputs in memory.
type memoryEmitter struct {
	mu      sync.Mutex
	created int
	outputs map[string][]byte
}

func newMemoryEmitter() *memoryEmitter {
	return &memoryEmitter{outputs: make(map[string][]byte)}
}

func (e *memoryEmitter) Create(_ context.Context, req Request, name string) (Sink, error) {
	e.mu.Lock()
	e.created++
	e.mu.Unlock()
	return &memorySink{emitter: e, key: req.JobID + "/" + name}, nil
}

type memorySink struct {
	emitter *memoryEmitter
	key     string
	buf     bytes.Buffer
}

func (s *memorySink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *memorySink) Commit() (string, error) {
	s.emitter.mu.Lock()
	defer s.emitter.mu.Unlock()
	s.emitter.outputs[s.key] = s.buf.Bytes()
	return s.key, nil
}

func (s *memorySink) Abort() {}

type memoryStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte), contentTypes: make(map[string]string)}
}

func (s *memoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.get(key)
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryStore) PutStream(_ context.Context, key string, r io.Reader, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.contentTypes[key] = contentType
	return nil
}

func (s *memoryStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
