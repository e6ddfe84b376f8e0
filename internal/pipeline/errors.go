package pipeline

import (
	"errors"
	"fmt"
)

// Fatal error kinds. Match with errors.Is.
var (
	ErrInputNotFound = errors.New("input not found")
	ErrInputOpen     = errors.New("failed to open input")
	ErrInputRead     = errors.New("failed to decode input frame")
	ErrSinkOpen      = errors.New("failed to open output video")
	ErrMetadataOpen  = errors.New("failed to open metadata file")
	ErrWrite         = errors.New("write failed")
	ErrDetector      = errors.New("detector failed")
)

// StageError records which handle or stage failed. It unwraps to both the
// kind sentinel and the underlying cause.
type StageError struct {
	Stage string
	Path  string
	Frame int // -1 outside the frame loop
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	msg := e.Kind.Error()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Frame >= 0 {
		msg += fmt.Sprintf(" at frame %d", e.Frame)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage, path string, frame int, kind, err error) *StageError {
	return &StageError{Stage: stage, Path: path, Frame: frame, Kind: kind, Err: err}
}
