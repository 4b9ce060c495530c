package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGeometry  = errors.New("invalid geometry")
	ErrInvalidTransform = errors.New("invalid transform")
	ErrMetadataProbe    = errors.New("metadata probe failed")
	ErrStageSpawn       = errors.New("stage spawn failed")
	ErrStageIO          = errors.New("stage io failed")
	ErrSinkWrite        = errors.New("sink write failed")
	ErrAlreadyStarted   = errors.New("pipeline already started")
	ErrDestroyed        = errors.New("pipeline destroyed")
)

const sourceStageName = "source"

// StageError is the terminal error of a failed run. Kind is one of
// ErrStageSpawn, ErrStageIO or ErrSinkWrite; errors.Is matches both Kind and
// the underlying cause.
type StageError struct {
	Kind  error
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%v: stage %d (%s): %v", e.Kind, e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
