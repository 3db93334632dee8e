package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Sentinels for the error classes that are allowed to end a run. Everything
// else (spawn failure, timeout, unknown tool, unparseable turn) is recovered
// inside the loop and reported to the planner as an observation.
var (
	// ErrPlanner marks a planning-service transport failure.
	ErrPlanner = stderrors.New("planner request failed")
	// ErrTurnLimit is returned when a configured turn cap is reached.
	ErrTurnLimit = stderrors.New("turn limit reached")
	// ErrConfig marks an invalid or missing configuration value.
	ErrConfig = stderrors.New("invalid configuration")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// Classify tags err with one of the sentinels above so callers can test it
// with Is while the original cause stays in the chain.
func Classify(class, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %w: %w", caller(), class, err)
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
