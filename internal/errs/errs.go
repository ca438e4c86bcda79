// Package errs classifies pipeline failures into the four kinds the
// orchestrator reacts to differently.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an Error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput        // missing or unsupported source file
	KindEngine       // speech or diarization engine failure
	KindDevice       // capture device failure
	KindFormat       // one output format could not be rendered or written
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindEngine:
		return "engine"
	case KindDevice:
		return "device"
	case KindFormat:
		return "format"
	default:
		return "unknown"
	}
}

// Error carries the kind, the pipeline stage and the file involved.
type Error struct {
	Kind  Kind
	Stage string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Stage != "" {
		msg += " in " + e.Stage
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, stage, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Path: path, Err: err}
}

// Input wraps err as an input error. Returns nil when err is nil.
func Input(stage, path string, err error) error { return newErr(KindInput, stage, path, err) }

// Engine wraps err as an engine error. Returns nil when err is nil.
func Engine(stage, path string, err error) error { return newErr(KindEngine, stage, path, err) }

// Device wraps err as a device error. Returns nil when err is nil.
func Device(stage, path string, err error) error { return newErr(KindDevice, stage, path, err) }

// Format wraps err as a format error. Returns nil when err is nil.
func Format(stage, path string, err error) error { return newErr(KindFormat, stage, path, err) }

// Inputf builds an input error from a format string.
func Inputf(stage, path, format string, args ...any) error {
	return Input(stage, path, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
