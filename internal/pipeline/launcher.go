package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Process is a running stage: bytes written to Stdin are transformed and
// appear on Stdout. Wait must only be called once Stdout has been drained.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Wait() error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context, stage StageDescriptor) (Process, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, stage StageDescriptor) (Process, error)

func (f LauncherFunc) Launch(ctx context.Context, stage StageDescriptor) (Process, error) {
	return f(ctx, stage)
}

// ExecLauncher starts each stage as an operating-system process. Processes
// are not tied to the context: a run stops feeding its first stage on
// cancellation and lets the rest finish.
type ExecLauncher struct {
	Dir string
	Env []string
}

func (l ExecLauncher) Launch(_ context.Context, stage StageDescriptor) (Process, error) {
	path, err := exec.LookPath(stage.Program)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", stage.Program, err)
	}

	cmd := exec.Command(path, stage.Args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 2048}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("start %s: %w", stage.Program, err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailBuffer
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	if msg := strings.TrimSpace(p.stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// FilterFunc is an in-process stage body. It reads the whole stage input
// from in and writes its output to out.
type FilterFunc func(in io.Reader, out io.Writer) error

// StartFilter runs fn as a Process backed by synchronous in-memory pipes.
func StartFilter(fn FilterFunc) Process {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p := &filterProcess{
		inR:  inR,
		inW:  inW,
		outR: outR,
		outW: outW,
		done: make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		err := fn(inR, outW)
		if err != nil {
			_ = inR.CloseWithError(err)
			_ = outW.CloseWithError(err)
		} else {
			_ = inR.Close()
			_ = outW.Close()
		}
		p.err = err
	}()
	return p
}

type filterProcess struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter
	done chan struct{}
	err  error
}

func (p *filterProcess) Stdin() io.WriteCloser { return p.inW }
func (p *filterProcess) Stdout() io.ReadCloser { return p.outR }

func (p *filterProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *filterProcess) Kill() error {
	_ = p.inR.CloseWithError(ErrDestroyed)
	_ = p.outW.CloseWithError(ErrDestroyed)
	return nil
}
