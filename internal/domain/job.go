package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	ActionResize = "resize"
	ActionCrop   = "crop"
	ActionFlip   = "flip"
)

type CreateJobRequest struct {
	SourceType string          `json:"source_type"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	ObjectKey  string          `json:"object_key,omitempty"`
	Transforms []TransformStep `json:"transforms"`
	Output     OutputOptions   `json:"output,omitempty"`
}

// TransformStep is one resize, crop or flip in wire form. Dimensions that
// are zero or negative are treated as unset.
type TransformStep struct {
	Action string `json:"action"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Aspect=false stretches a two-dimensional resize; unset keeps the ratio.
	Aspect *bool  `json:"aspect,omitempty"`
	Fill   bool   `json:"fill,omitempty"`
	Filter string `json:"filter,omitempty"`

	Top    int  `json:"top,omitempty"`
	Left   int  `json:"left,omitempty"`
	Right  int  `json:"right,omitempty"`
	Bottom int  `json:"bottom,omitempty"`
	X      *int `json:"x,omitempty"`
	Y      *int `json:"y,omitempty"`
	Pad    bool `json:"pad,omitempty"`

	Direction string `json:"direction,omitempty"`
}

// Origin returns the crop's left and top edges, preferring x and y.
func (s TransformStep) Origin() (left, top int) {
	left, top = s.Left, s.Top
	if s.X != nil {
		left = *s.X
	}
	if s.Y != nil {
		top = *s.Y
	}
	return left, top
}

// IgnoreAspect reports whether the caller explicitly disabled aspect
// preservation.
func (s TransformStep) IgnoreAspect() bool {
	return s.Aspect != nil && !*s.Aspect
}

type OutputOptions struct {
	Quality     int    `json:"quality,omitempty"`
	Sample      string `json:"sample,omitempty"`
	Progressive bool   `json:"progressive,omitempty"`
}

type Job struct {
	ID         string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	Transforms []TransformStep
	Output     OutputOptions
	Result     *JobResult
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobResult is recorded once a job reaches a terminal status.
type JobResult struct {
	OutputKey   string `json:"output_key,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Error       string `json:"error,omitempty"`
	FailedStage string `json:"failed_stage,omitempty"`
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Transforms) == 0 {
		return errors.New("transforms must contain at least one step")
	}
	for i, step := range r.Transforms {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("transforms[%d]: %w", i, err)
		}
	}
	return r.Output.Validate()
}

// Validate checks the fields a step's action needs. Geometry against the
// source is checked when the pipeline is built.
func (s TransformStep) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Action)) {
	case ActionResize:
		if s.Width <= 0 && s.Height <= 0 {
			return errors.New("resize requires width or height")
		}
	case ActionCrop:
		left, top := s.Origin()
		if left < 0 || top < 0 || s.Right < 0 || s.Bottom < 0 || s.Width < 0 || s.Height < 0 {
			return errors.New("crop values must not be negative")
		}
	case ActionFlip:
		switch strings.ToLower(strings.TrimSpace(s.Direction)) {
		case "horizontal", "vertical":
		default:
			return fmt.Errorf("flip direction must be horizontal or vertical, got %q", s.Direction)
		}
	case "":
		return errors.New("action is required")
	default:
		return fmt.Errorf("unsupported action: %s", s.Action)
	}
	return nil
}

// Validate checks the encoder settings. Quality 0 means unset and selects
// the configured default.
func (o OutputOptions) Validate() error {
	if o.Quality < 0 || o.Quality > 100 {
		return fmt.Errorf("output.quality must be within 1-100, got %d", o.Quality)
	}
	return nil
}
