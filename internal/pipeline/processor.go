package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/resized/internal/domain"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidStepAction     = errors.New("invalid transform action")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Transforms []domain.TransformStep
	Output     domain.OutputOptions
}

type Result struct {
	Location    string
	Bytes       int64
	Width       int
	Height      int
	Plan        string
	Fingerprint string
}

// Source is a fetched image available on the local filesystem. Cleanup
// releases anything the fetcher created for it.
type Source struct {
	Path    string
	Size    int64
	Cleanup func()
}

// Sink receives the encoded output of one job. Exactly one of Commit or
// Abort is called.
type Sink interface {
	io.Writer
	Commit() (string, error)
	Abort()
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Source, error)
}

type Emitter interface {
	Create(ctx context.Context, req Request, name string) (Sink, error)
}

// Processor runs one job's transform chain from a fetched source into an
// emitter's sink.
type Processor struct {
	fetcher Fetcher
	emitter Emitter
	options []Option
	logger  *log.Logger
}

func NewProcessor(fetcher Fetcher, emitter Emitter, logger *log.Logger, opts ...Option) *Processor {
	return &Processor{
		fetcher: fetcher,
		emitter: emitter,
		options: append([]Option{WithLogger(logger)}, opts...),
		logger:  logger,
	}
}

func NewLocalProcessor(outputDir string, logger *log.Logger, opts ...Option) (*Processor, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, logger, opts...), nil
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Transforms) == 0 {
		return Result{}, errors.New("transforms must contain at least one step")
	}

	src, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}
	if src.Cleanup != nil {
		defer src.Cleanup()
	}

	opts := append([]Option{}, p.options...)
	b := Open(src.Path, append(opts, withOutput(req.Output))...)
	for i, step := range req.Transforms {
		if err := ApplyStep(b, step); err != nil {
			return Result{}, fmt.Errorf("transforms[%d]: %w", i, err)
		}
	}

	// Geometry errors are fatal for every chain; probe failures only when a
	// resize needs the source size.
	size, err := b.OutputSize(ctx)
	if err != nil && (b.Chain().HasResize() || errors.Is(err, ErrInvalidGeometry)) {
		return Result{}, fmt.Errorf("plan stage: %w", err)
	}
	plan, err := b.Plan(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("plan stage: %w", err)
	}

	sink, err := p.emitter.Create(ctx, req, plan.Fingerprint()+".jpg")
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}
	counter := &countingWriter{w: sink}
	if err := b.Write(ctx, counter); err != nil {
		sink.Abort()
		return Result{}, fmt.Errorf("transform stage: %w", err)
	}
	location, err := sink.Commit()
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	p.logf("job transformed job_id=%s plan=%q bytes=%d", req.JobID, plan.String(), counter.n)
	return Result{
		Location:    location,
		Bytes:       counter.n,
		Width:       size.Width,
		Height:      size.Height,
		Plan:        plan.String(),
		Fingerprint: plan.Fingerprint(),
	}, nil
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// withOutput layers per-job encoder settings over the configured ones.
func withOutput(o domain.OutputOptions) Option {
	return func(b *Builder) {
		if o.Quality > 0 {
			b.encoder.Quality = o.Quality
		}
		if o.Sample != "" {
			b.encoder.Sample = o.Sample
		}
		if o.Progressive {
			b.encoder.Progressive = true
		}
	}
}

// ApplyStep appends one wire-form step to b and reports the builder's
// validation state.
func ApplyStep(b *Builder, step domain.TransformStep) error {
	switch strings.ToLower(strings.TrimSpace(step.Action)) {
	case domain.ActionResize:
		b.Resize(ResizeOptions{
			Width:        step.Width,
			Height:       step.Height,
			IgnoreAspect: step.IgnoreAspect(),
			Fill:         step.Fill,
			Filter:       Filter(step.Filter),
		})
	case domain.ActionCrop:
		left, top := step.Origin()
		b.Crop(CropOptions{
			Width:  step.Width,
			Height: step.Height,
			Top:    top,
			Left:   left,
			Right:  step.Right,
			Bottom: step.Bottom,
			Pad:    step.Pad,
		})
	case domain.ActionFlip:
		b.Flip(Direction(step.Direction))
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStepAction, step.Action)
	}
	return b.Err()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) (Source, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return Source{}, ctx.Err()
	default:
	}

	info, err := os.Stat(req.ObjectKey)
	if err != nil {
		return Source{}, fmt.Errorf("stat input file %s: %w", req.ObjectKey, err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("input %s is a directory", req.ObjectKey)
	}
	return Source{Path: req.ObjectKey, Size: info.Size()}, nil
}

// LocalFileEmitter writes outputs under OutputDir/<job id>/. Output is
// written to a hidden temporary file and renamed into place on commit.
type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Create(_ context.Context, req Request, name string) (Sink, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return nil, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(jobDir, ".partial-*")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &fileSink{f: f, final: filepath.Join(jobDir, sanitizeFileName(name))}, nil
}

type fileSink struct {
	f     *os.File
	final string
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *fileSink) Commit() (string, error) {
	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.f.Name())
		return "", fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(s.f.Name(), s.final); err != nil {
		_ = os.Remove(s.f.Name())
		return "", fmt.Errorf("rename output file: %w", err)
	}
	return s.final, nil
}

func (s *fileSink) Abort() {
	_ = s.f.Close()
	_ = os.Remove(s.f.Name())
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// sanitizeFileName keeps a single extension on an otherwise sanitized name.
func sanitizeFileName(name string) string {
	ext := filepath.Ext(name)
	return sanitizePathToken(strings.TrimSuffix(name, ext)) + "." + sanitizePathToken(strings.TrimPrefix(ext, "."))
}
