package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries a ReasonCode through %w wrapping. Op names the
// component that failed, when one is known.
type ReasonedError struct {
	Reason ReasonCode
	Op     string
	Err    error
}

func (e ReasonedError) Error() string {
	msg := string(e.Reason)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Newf builds a reasoned error that has no underlying cause.
func Newf(reason ReasonCode, format string, args ...any) error {
	return ReasonedError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches reason to err. The innermost reason wins, so wrapping an
// already reasoned error returns it unchanged.
func Wrap(err error, reason ReasonCode) error {
	return WrapOp("", err, reason)
}

// WrapOp is Wrap with the failing component prefixed to the message.
func WrapOp(op string, err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		if op == "" {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return ReasonedError{Reason: reason, Op: op, Err: err}
}

// Reason returns the innermost reason attached to err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool { return Reason(err) == reason }
