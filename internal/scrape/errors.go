package scrape

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNavigation marks failures to load or render a target page.
	ErrNavigation = errors.New("navigation failed")
	// ErrElementNotFound marks a required DOM element that is absent.
	ErrElementNotFound = errors.New("element not found")
	// ErrSession marks failures to open a rendering session.
	ErrSession = errors.New("session unavailable")
	// ErrPanic marks a task that panicked.
	ErrPanic = errors.New("task panicked")
)

// ErrorKind is a coarse failure class used in logs and metric labels.
type ErrorKind string

// Failure classes.
const (
	KindNavigation ErrorKind = "navigation"
	KindExtraction ErrorKind = "extraction"
	KindTimeout    ErrorKind = "timeout"
	KindSession    ErrorKind = "session"
	KindPanic      ErrorKind = "panic"
	KindUnknown    ErrorKind = "unknown"
)

// Classify maps a task error onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrPanic):
		return KindPanic
	case errors.Is(err, ErrSession):
		return KindSession
	case errors.Is(err, ErrNavigation):
		return KindNavigation
	case errors.Is(err, ErrElementNotFound):
		return KindExtraction
	default:
		return KindUnknown
	}
}

// NotFound wraps ErrElementNotFound with the selector that missed.
func NotFound(sel Selector) error {
	return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
}
