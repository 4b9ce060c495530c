package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

const DefaultBufferSize = 32 * 1024

type State int

const (
	StateIdle State = iota
	StateSpawning
	StateStreaming
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Executor runs compiled plans. Each adjacent pair of stages is joined by a
// goroutine copying through a fixed-size buffer, so a slow consumer stalls
// its producer and, transitively, reads from the source.
type Executor struct {
	launcher   Launcher
	logger     *log.Logger
	bufferSize int
}

type ExecutorOption func(*Executor)

// CopyBufferSize sets the size of the buffer each pipe edge copies through.
func CopyBufferSize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

func NewExecutor(launcher Launcher, logger *log.Logger, opts ...ExecutorOption) *Executor {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	e := &Executor{
		launcher:   launcher,
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute launches every stage of plan, wires src through them into sink and
// returns immediately. The outcome is reported once by the returned Run.
// Cancelling ctx destroys the run.
func (e *Executor) Execute(ctx context.Context, src io.Reader, plan Plan, sink io.Writer) *Run {
	run := newRun(e.logger)
	e.execute(ctx, run, src, plan, sink)
	return run
}

func (e *Executor) execute(ctx context.Context, run *Run, src io.Reader, plan Plan, sink io.Writer) {
	if len(plan) == 0 {
		run.fail(&StageError{Kind: ErrStageSpawn, Stage: "plan", Index: -1, Err: errors.New("plan has no stages")})
		run.finish()
		return
	}

	run.plan = plan
	run.setState(StateSpawning)

	procs := make([]Process, 0, len(plan))
	for i, stage := range plan {
		p, err := e.launcher.Launch(ctx, stage)
		if err != nil {
			run.attach(procs)
			run.fail(&StageError{Kind: ErrStageSpawn, Stage: stage.Program, Index: i, Err: err})
			for _, p := range procs {
				_ = p.Wait()
			}
			run.finish()
			return
		}
		procs = append(procs, p)
		e.logf("stage launched index=%d cmd=%q", i, stage.String())
	}
	destroyed := run.attach(procs)

	var wg sync.WaitGroup
	for i := range procs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.forward(run, procs, i, sink)
		}(i)
	}

	// The source is read only once every pipe exists.
	run.setState(StateStreaming)
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		e.feed(run, src, procs[0], destroyed)
	}()

	stop := context.AfterFunc(ctx, run.Destroy)
	go func() {
		wg.Wait()
		// A source blocked in Read is abandoned once the run has halted.
		select {
		case <-fed:
		case <-run.halted():
		}
		stop()
		run.finish()
	}()
}

func (e *Executor) feed(run *Run, src io.Reader, first Process, destroyed bool) {
	stdin := first.Stdin()
	defer stdin.Close()

	if destroyed {
		return
	}

	readErr, writeErr := copyStream(stdin, src, make([]byte, e.bufferSize))
	switch {
	case readErr != nil:
		run.fail(&StageError{Kind: ErrStageIO, Stage: sourceStageName, Index: -1, Err: readErr})
	case writeErr != nil:
		if !run.isDestroyed() {
			run.breakInput(0, writeErr)
		}
	default:
		run.setState(StateDraining)
	}
}

// forward drains stage i's output into the next stage (or the sink) and then
// collects the stage's exit status.
func (e *Executor) forward(run *Run, procs []Process, i int, sink io.Writer) {
	p := procs[i]
	last := i == len(procs)-1

	dst := sink
	if !last {
		dst = procs[i+1].Stdin()
	}

	readErr, writeErr := copyStream(dst, p.Stdout(), make([]byte, e.bufferSize))
	switch {
	case writeErr != nil && last:
		run.fail(&StageError{Kind: ErrSinkWrite, Stage: "sink", Index: -1, Err: writeErr})
	case writeErr != nil:
		run.breakInput(i+1, writeErr)
		_ = p.Stdout().Close()
	case readErr != nil:
		run.fail(&StageError{Kind: ErrStageIO, Stage: run.stageName(i), Index: i, Err: readErr})
	}
	if !last {
		_ = procs[i+1].Stdin().Close()
	}

	run.exited(i, p.Wait())
}

func (e *Executor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// copyStream copies src to dst and reports which side failed.
func copyStream(dst io.Writer, src io.Reader, buf []byte) (readErr, writeErr error) {
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return nil, werr
			}
		}
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return err, nil
		}
	}
}

// Run is one live execution of a plan.
type Run struct {
	logger *log.Logger
	plan   Plan
	done   chan struct{}
	halt   chan struct{}

	haltOnce sync.Once

	mu         sync.Mutex
	state      State
	procs      []Process
	destroyed  bool
	failure    error
	broken     map[int]error
	clean      map[int]bool
	err        error
	onComplete []func(error)
}

func newRun(logger *log.Logger) *Run {
	return &Run{
		logger: logger,
		done:   make(chan struct{}),
		halt:   make(chan struct{}),
		state:  StateIdle,
		broken: make(map[int]error),
		clean:  make(map[int]bool),
	}
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the run has completed or failed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal error once Done is closed, and nil before that.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// OnComplete registers fn to be called exactly once with the terminal error.
// If the run has already finished fn is called immediately.
func (r *Run) OnComplete(fn func(error)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	select {
	case <-r.done:
		err := r.err
		r.mu.Unlock()
		fn(err)
		return
	default:
	}
	r.onComplete = append(r.onComplete, fn)
	r.mu.Unlock()
}

// Destroy stops feeding the first stage. Stages already holding data are
// left to drain and exit on their own.
func (r *Run) Destroy() {
	r.mu.Lock()
	if r.destroyed || r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.signalHalt()
	var feed io.Closer
	if len(r.procs) > 0 {
		feed = r.procs[0].Stdin()
	}
	r.mu.Unlock()

	if feed != nil {
		_ = feed.Close()
	}
}

// halted is closed when the run is destroyed or fails.
func (r *Run) halted() <-chan struct{} {
	return r.halt
}

func (r *Run) signalHalt() {
	r.haltOnce.Do(func() { close(r.halt) })
}

func (r *Run) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() || r.failure != nil {
		return
	}
	r.state = s
}

// attach records the launched processes and reports whether the run was
// destroyed before they existed.
func (r *Run) attach(procs []Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs = procs
	return r.destroyed
}

func (r *Run) stageName(i int) string {
	if i >= 0 && i < len(r.plan) {
		return r.plan[i].Program
	}
	return fmt.Sprintf("stage-%d", i)
}

// fail records the first failure and closes every stage. Later failures are
// consequences of the first and are dropped.
func (r *Run) fail(err error) {
	r.mu.Lock()
	if r.failure != nil || r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.failure = err
	r.state = StateFailed
	procs := r.procs
	r.mu.Unlock()
	r.signalHalt()

	for _, p := range procs {
		_ = p.Stdin().Close()
		_ = p.Stdout().Close()
		_ = p.Kill()
	}
}

// breakInput notes that stage i stopped accepting input. Whether that is a
// failure is decided when stage i exits.
func (r *Run) breakInput(i int, err error) {
	r.mu.Lock()
	if _, ok := r.broken[i]; ok {
		r.mu.Unlock()
		return
	}
	r.broken[i] = err
	exitedClean := r.clean[i]
	r.mu.Unlock()

	if exitedClean {
		r.fail(&StageError{Kind: ErrStageIO, Stage: r.stageName(i), Index: i, Err: fmt.Errorf("exited without reading all input: %w", err)})
	}
}

func (r *Run) exited(i int, waitErr error) {
	r.mu.Lock()
	_, downstreamBroken := r.broken[i+1]
	inputErr := r.broken[i]
	if waitErr == nil {
		r.clean[i] = true
	}
	r.mu.Unlock()

	switch {
	case waitErr != nil && !downstreamBroken:
		r.fail(&StageError{Kind: ErrStageIO, Stage: r.stageName(i), Index: i, Err: waitErr})
	case waitErr == nil && inputErr != nil:
		r.fail(&StageError{Kind: ErrStageIO, Stage: r.stageName(i), Index: i, Err: fmt.Errorf("exited without reading all input: %w", inputErr)})
	}
}

func (r *Run) finish() {
	r.mu.Lock()
	err := r.failure
	if r.destroyed {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrDestroyed, err)
		} else {
			err = ErrDestroyed
		}
	}
	if err != nil {
		r.state = StateFailed
	} else {
		r.state = StateCompleted
	}
	r.err = err
	callbacks := r.onComplete
	r.onComplete = nil
	close(r.done)
	r.mu.Unlock()

	if r.logger != nil {
		if err != nil {
			r.logger.Printf("pipeline failed stages=%d err=%v", len(r.plan), err)
		} else {
			r.logger.Printf("pipeline completed stages=%d", len(r.plan))
		}
	}
	for _, fn := range callbacks {
		fn(err)
	}
}
