package tracker

import (
	"github.com/pkg/errors"
)

// Error kinds. Match them with errors.Is; the underlying cause is kept and reachable with errors.Unwrap.
var (
	ErrInvalidAddress = errors.New("invalid source address")
	ErrAlreadyTracing = errors.New("a trace is already running")
	ErrCheckpoint     = errors.New("checkpoint failure")
	ErrStore          = errors.New("store failure")
	ErrChainAgent     = errors.New("chain agent failure")
)

// Error classifies a failure of a trace operation.
type Error struct {
	Kind error  // one of the Err kinds above
	Op   string // what was being done, ie. "append tainted"
	Err  error  // cause
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func opError(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
