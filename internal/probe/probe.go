// Package probe reads image geometry and metadata from a source file before
// any pipeline stage runs.
package probe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const LabelResolution = "resolution"

var (
	ErrNoPath        = errors.New("source has no file path to probe")
	ErrNoResolution  = errors.New("probe output has no resolution")
	ErrBadResolution = errors.New("probe resolution is malformed")
)

// ImageProperties describes a probed image. Fields holds every label the
// probe reported, keyed by its lower-cased label.
type ImageProperties struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Get returns the raw value reported for label.
func (p ImageProperties) Get(label string) (string, bool) {
	v, ok := p.Fields[normalizeLabel(label)]
	return v, ok
}

type Prober interface {
	Describe(ctx context.Context, path string) (ImageProperties, error)
}

// Func adapts a function to the Prober interface.
type Func func(ctx context.Context, path string) (ImageProperties, error)

func (f Func) Describe(ctx context.Context, path string) (ImageProperties, error) {
	return f(ctx, path)
}

var (
	separator    = regexp.MustCompile(`\s+:\s+`)
	whitespace   = regexp.MustCompile(`\s+`)
	resolutionRE = regexp.MustCompile(`^\s*(\d+)\s*x\s*(\d+)`)
)

// Parse reads line-oriented "label : value" probe output. Lines without a
// separator are ignored; nothing is returned unless a resolution was found.
func Parse(output string) (ImageProperties, error) {
	props := ImageProperties{Fields: make(map[string]string)}

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimRight(line, "\r")
		parts := separator.Split(line, 2)
		if len(parts) != 2 {
			continue
		}
		label := normalizeLabel(parts[0])
		if label == "" {
			continue
		}
		props.Fields[label] = strings.TrimSpace(parts[1])
	}

	raw, ok := props.Fields[LabelResolution]
	if !ok {
		return ImageProperties{}, ErrNoResolution
	}
	width, height, err := ParseResolution(raw)
	if err != nil {
		return ImageProperties{}, err
	}
	props.Width = width
	props.Height = height
	return props, nil
}

// ParseResolution reads a "<width> x <height>" value.
func ParseResolution(value string) (int, int, error) {
	m := resolutionRE.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadResolution, value)
	}
	width, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadResolution, value)
	}
	height, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadResolution, value)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadResolution, value)
	}
	return width, height, nil
}

func normalizeLabel(label string) string {
	return strings.ToLower(whitespace.ReplaceAllString(strings.TrimSpace(label), " "))
}

// formatResolution renders geometry the same way jhead does so in-process
// probes expose an identical "resolution" field.
func formatResolution(width, height int) string {
	return strconv.Itoa(width) + " x " + strconv.Itoa(height)
}
