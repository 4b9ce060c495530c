package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/dunamismax/resized/internal/probe"
)

type Option func(*Builder)

func WithProber(p probe.Prober) Option {
	return func(b *Builder) {
		if p != nil {
			b.prober = p
		}
	}
}

func WithLauncher(l Launcher) Option {
	return func(b *Builder) {
		if l != nil {
			b.launcher = l
		}
	}
}

func WithPrograms(p Programs) Option {
	return func(b *Builder) { b.programs = p }
}

func WithLogger(logger *log.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithDecoderOptions sets decoder flags. A decode scale resolved from the
// chain replaces opts.Scale.
func WithDecoderOptions(opts DecoderOptions) Option {
	return func(b *Builder) { b.decoder = opts }
}

func WithEncoderOptions(opts EncoderOptions) Option {
	return func(b *Builder) { b.encoder = opts }
}

func WithQuality(q int) Option {
	return func(b *Builder) { b.encoder.Quality = q }
}

// WithSourcePath names the file the prober inspects when the builder reads
// from a stream.
func WithSourcePath(path string) Option {
	return func(b *Builder) { b.path = path }
}

// WithSourceSize supplies known source geometry so no probe runs.
func WithSourceSize(size Size) Option {
	return func(b *Builder) { b.known = &size }
}

func WithBufferSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithCompletionHandler registers fn to receive the terminal error of the
// run started by the builder.
func WithCompletionHandler(fn func(error)) Option {
	return func(b *Builder) {
		if fn != nil {
			b.handlers = append(b.handlers, fn)
		}
	}
}

// Builder accumulates a transform chain for one source. Nothing runs until
// Start; a builder starts at most one run and is not safe for concurrent use.
type Builder struct {
	path   string
	reader io.Reader
	known  *Size

	prober     probe.Prober
	launcher   Launcher
	programs   Programs
	logger     *log.Logger
	decoder    DecoderOptions
	encoder    EncoderOptions
	bufferSize int
	handlers   []func(error)

	chain   Chain
	err     error
	started bool
	geo     *geometry
}

// Open returns a builder reading the image at path.
func Open(path string, opts ...Option) *Builder {
	b := newBuilder(opts)
	b.path = path
	if strings.TrimSpace(path) == "" {
		b.err = fmt.Errorf("%w: source path is required", ErrInvalidTransform)
	}
	return b
}

// FromReader returns a builder reading the encoded image from r.
func FromReader(r io.Reader, opts ...Option) *Builder {
	b := newBuilder(opts)
	b.reader = r
	if r == nil {
		b.err = fmt.Errorf("%w: source reader is required", ErrInvalidTransform)
	}
	return b
}

func newBuilder(opts []Option) *Builder {
	b := &Builder{
		prober:     probe.Default(""),
		launcher:   ExecLauncher{},
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Err reports the first validation error recorded by a builder call.
func (b *Builder) Err() error {
	return b.err
}

// Chain returns a copy of the transforms accumulated so far.
func (b *Builder) Chain() Chain {
	return b.chain.freeze()
}

func (b *Builder) Resize(opts ResizeOptions) *Builder {
	if !b.accepting() {
		return b
	}
	r, err := newResize(opts)
	if err != nil {
		b.err = err
		return b
	}
	b.chain.append(r)
	b.geometry()
	return b
}

func (b *Builder) Crop(opts CropOptions) *Builder {
	if !b.accepting() {
		return b
	}
	c, err := newCrop(opts)
	if err != nil {
		b.err = err
		return b
	}
	b.chain.append(c)
	return b
}

func (b *Builder) Flip(direction Direction) *Builder {
	if !b.accepting() {
		return b
	}
	f, err := newFlip(direction)
	if err != nil {
		b.err = err
		return b
	}
	b.chain.append(f)
	return b
}

func (b *Builder) accepting() bool {
	if b.err != nil {
		return false
	}
	if b.started {
		b.err = ErrAlreadyStarted
		return false
	}
	return true
}

// Describe returns the source's probed properties.
func (b *Builder) Describe(ctx context.Context) (probe.ImageProperties, error) {
	if b.err != nil {
		return probe.ImageProperties{}, b.err
	}
	return b.geometry().await(ctx)
}

// Plan resolves the decode scale and compiles the chain without running it.
func (b *Builder) Plan(ctx context.Context) (Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.compile(ctx, b.chain.freeze())
}

// OutputSize predicts the dimensions of the encoded result.
func (b *Builder) OutputSize(ctx context.Context) (Size, error) {
	if b.err != nil {
		return Size{}, b.err
	}
	props, err := b.geometry().await(ctx)
	if err != nil {
		return Size{}, err
	}
	return b.chain.OutputSize(Size{Width: props.Width, Height: props.Height})
}

// Start freezes the chain and begins the run. The run stays Idle until the
// source geometry is known; compilation errors arrive through the run.
func (b *Builder) Start(ctx context.Context, dst io.Writer) (*Run, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.started {
		return nil, ErrAlreadyStarted
	}
	if dst == nil {
		return nil, fmt.Errorf("%w: destination is required", ErrSinkWrite)
	}

	src, closeSrc, err := b.openSource()
	if err != nil {
		return nil, err
	}
	b.started = true
	chain := b.chain.freeze()

	run := newRun(b.logger)
	for _, fn := range b.handlers {
		run.OnComplete(fn)
	}
	geo := b.geo
	run.OnComplete(func(error) {
		closeSrc()
		if geo != nil {
			geo.cancel()
		}
	})

	exec := NewExecutor(b.launcher, b.logger, CopyBufferSize(b.bufferSize))
	go func() {
		plan, err := b.compileFor(ctx, run, chain)
		if err != nil {
			if errors.Is(err, ErrDestroyed) || ctx.Err() != nil {
				run.Destroy()
			} else {
				run.fail(err)
			}
			run.finish()
			return
		}
		if run.isDestroyed() {
			run.finish()
			return
		}
		exec.execute(ctx, run, src, plan, dst)
	}()
	return run, nil
}

// Write starts the run and waits for its outcome.
func (b *Builder) Write(ctx context.Context, dst io.Writer) error {
	run, err := b.Start(ctx, dst)
	if err != nil {
		return err
	}
	return run.Wait()
}

// WriteFile writes the result to path. A partially written file is left in
// place when the run fails.
func (b *Builder) WriteFile(ctx context.Context, path string) error {
	if b.err != nil {
		return b.err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrSinkWrite, path, err)
	}
	runErr := b.Write(ctx, f)
	if err := f.Close(); err != nil && runErr == nil {
		return fmt.Errorf("%w: close %s: %w", ErrSinkWrite, path, err)
	}
	return runErr
}

func (b *Builder) openSource() (io.Reader, func(), error) {
	if b.reader != nil {
		return b.reader, func() {}, nil
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, nil, &StageError{Kind: ErrStageIO, Stage: sourceStageName, Index: -1, Err: err}
	}
	var once sync.Once
	return f, func() { once.Do(func() { _ = f.Close() }) }, nil
}

// compileFor waits for geometry while the run can still be destroyed.
func (b *Builder) compileFor(ctx context.Context, run *Run, chain Chain) (Plan, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-run.halted():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	plan, err := b.compile(waitCtx, chain)
	if err != nil && run.isDestroyed() {
		return nil, ErrDestroyed
	}
	return plan, err
}

func (b *Builder) compile(ctx context.Context, chain Chain) (Plan, error) {
	dec := b.decoder
	if chain.HasResize() {
		props, err := b.geometry().await(ctx)
		if err != nil {
			return nil, err
		}
		src := Size{Width: props.Width, Height: props.Height}
		if _, err := chain.OutputSize(src); err != nil {
			return nil, err
		}
		f, err := decodeScale(chain, src)
		if err != nil {
			return nil, err
		}
		if !f.IsZero() {
			dec.Scale = f
		}
	} else if props, ok := b.knownGeometry(); ok {
		if _, err := chain.OutputSize(Size{Width: props.Width, Height: props.Height}); err != nil {
			return nil, err
		}
	}
	return Compiler{Programs: b.programs}.Compile(chain, dec, b.encoder)
}

// geometry starts the probe on first use. It runs once per builder.
func (b *Builder) geometry() *geometry {
	if b.geo != nil {
		return b.geo
	}
	if b.known != nil {
		b.geo = resolvedGeometry(probe.ImageProperties{Width: b.known.Width, Height: b.known.Height})
		return b.geo
	}
	b.geo = startGeometry(b.prober, b.path)
	return b.geo
}

// knownGeometry returns the source properties without starting a probe.
func (b *Builder) knownGeometry() (probe.ImageProperties, bool) {
	if b.known != nil {
		return b.geometry().ready()
	}
	return b.geo.ready()
}

// geometry is the pending result of probing the source.
type geometry struct {
	done   chan struct{}
	cancel context.CancelFunc
	props  probe.ImageProperties
	err    error
}

func startGeometry(p probe.Prober, path string) *geometry {
	ctx, cancel := context.WithCancel(context.Background())
	g := &geometry{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(g.done)
		defer cancel()
		props, err := p.Describe(ctx, path)
		if err != nil {
			g.err = fmt.Errorf("%w: %w", ErrMetadataProbe, err)
			return
		}
		g.props = props
	}()
	return g
}

func resolvedGeometry(props probe.ImageProperties) *geometry {
	g := &geometry{done: make(chan struct{}), cancel: func() {}, props: props}
	close(g.done)
	return g
}

// ready returns the probed properties when the probe already succeeded.
func (g *geometry) ready() (probe.ImageProperties, bool) {
	if g == nil {
		return probe.ImageProperties{}, false
	}
	select {
	case <-g.done:
		return g.props, g.err == nil
	default:
		return probe.ImageProperties{}, false
	}
}

func (g *geometry) await(ctx context.Context) (probe.ImageProperties, error) {
	select {
	case <-g.done:
		return g.props, g.err
	case <-ctx.Done():
		return probe.ImageProperties{}, ctx.Err()
	}
}
