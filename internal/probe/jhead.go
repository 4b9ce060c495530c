package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const DefaultJheadProgram = "jhead"

// Jhead probes files by running the jhead tool.
type Jhead struct {
	Program string
}

func (j Jhead) program() string {
	if strings.TrimSpace(j.Program) == "" {
		return DefaultJheadProgram
	}
	return j.Program
}

// Available reports whether the jhead binary can be found in PATH.
func (j Jhead) Available() bool {
	_, err := exec.LookPath(j.program())
	return err == nil
}

func (j Jhead) Describe(ctx context.Context, path string) (ImageProperties, error) {
	if strings.TrimSpace(path) == "" {
		return ImageProperties{}, ErrNoPath
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, j.program(), path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ImageProperties{}, fmt.Errorf("run %s %s: %w: %s", j.program(), path, err, strings.TrimSpace(stderr.String()))
	}

	props, err := Parse(stdout.String())
	if err != nil {
		return ImageProperties{}, fmt.Errorf("parse %s output for %s: %w", j.program(), path, err)
	}
	return props, nil
}
