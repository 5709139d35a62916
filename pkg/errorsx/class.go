package errorsx

import (
	"context"
	"errors"
)

// Class is the handling category of an error.
type Class int

const (
	// ClassUnknown errors are treated like FatalTurn by the supervisor.
	ClassUnknown Class = iota
	// ClassTransient errors are retried locally or degraded.
	ClassTransient
	// ClassRecoverable errors become conversation events.
	ClassRecoverable
	// ClassFatalTurn errors roll back the turn and apologize.
	ClassFatalTurn
	// ClassFatalSession errors tear down the session.
	ClassFatalSession
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRecoverable:
		return "recoverable"
	case ClassFatalTurn:
		return "fatal_turn"
	case ClassFatalSession:
		return "fatal_session"
	default:
		return "unknown"
	}
}

// ClassedError attaches a Class to an error.
type ClassedError struct {
	Err   error
	Class Class
}

func (e ClassedError) Error() string {
	if e.Err == nil {
		return e.Class.String()
	}
	return e.Err.Error()
}

func (e ClassedError) Unwrap() error { return e.Err }

// WithClass marks err with class. The outermost class wins on Classify.
func WithClass(err error, class Class) error {
	if err == nil {
		return nil
	}
	return ClassedError{Err: err, Class: class}
}

func Transient(err error) error    { return WithClass(err, ClassTransient) }
func Recoverable(err error) error  { return WithClass(err, ClassRecoverable) }
func FatalTurn(err error) error    { return WithClass(err, ClassFatalTurn) }
func FatalSession(err error) error { return WithClass(err, ClassFatalSession) }

// Classify returns the class attached to err. Bare deadline errors count
// as transient.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var ce ClassedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassUnknown
}

func IsTransient(err error) bool { return Classify(err) == ClassTransient }
