package drc

import (
	"errors"
	"fmt"
)

var (
	ErrCacheOverrun = errors.New("drc: code cache overrun")
	ErrBadLink      = errors.New("drc: link target out of range")
	ErrUnboundLabel = errors.New("drc: label never bound")
	ErrSequence     = errors.New("drc: sequence nesting")
	ErrNoCode       = errors.New("drc: recompile registered no code")
)

// FatalError aborts code generation. It is raised with panic by the emitters
// and recovered at the recompile boundary.
type FatalError struct {
	Index int
	Err   error
	Msg   string
}

func (e *FatalError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%v (at cache index %d)", e.Err, e.Index)
	}
	return fmt.Sprintf("%v: %s (at cache index %d)", e.Err, e.Msg, e.Index)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(index int, err error, format string, args ...interface{}) {
	panic(&FatalError{Index: index, Err: err, Msg: fmt.Sprintf(format, args...)})
}
