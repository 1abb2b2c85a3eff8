// Package stage classifies per-item pipeline failures so callers can decide
// whether to skip a file, skip a page, or drop an artifact.
package stage

import (
	"errors"
	"fmt"
)

// Name identifies the pipeline step that failed.
type Name string

const (
	Extraction    Name = "extraction"
	Preprocessing Name = "preprocessing"
	Recognition   Name = "recognition"
	Persist       Name = "persist"
)

// Sentinels for errors.Is checks. Any *Error matches the sentinel of its stage.
var (
	ErrExtraction    = errors.New("extraction failed")
	ErrPreprocessing = errors.New("preprocessing failed")
	ErrRecognition   = errors.New("recognition failed")
	ErrPersist       = errors.New("persist failed")
)

// Error is a stage-aware failure tied to the file or page it concerns.
type Error struct {
	Stage Name
	Path  string
	Err   error
}

// Errorf builds an *Error with a formatted cause.
func Errorf(s Name, path, format string, args ...any) *Error {
	return &Error{Stage: s, Path: path, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches stage and path context to err. A nil err yields nil.
func Wrap(s Name, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: s, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Path == "":
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Stage, e.Path)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Path, e.Err)
	}
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is the sentinel for e's stage.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return sentinel(e.Stage) == target
}

func sentinel(s Name) error {
	switch s {
	case Extraction:
		return ErrExtraction
	case Preprocessing:
		return ErrPreprocessing
	case Recognition:
		return ErrRecognition
	case Persist:
		return ErrPersist
	default:
		return nil
	}
}

// Of returns the stage of the first *Error in err's chain.
func Of(err error) (Name, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
