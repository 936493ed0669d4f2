package vin

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the consumer API.
var (
	ErrUnknownLine = errors.New("unknown capture line")
	ErrBufferBusy  = errors.New("buffer is owned by the pipeline")
	ErrBadPlanes   = errors.New("plane count does not match line layout")
	ErrZeroAddress = errors.New("plane address is zero")
	ErrAttached    = errors.New("line already has a consumer")
	ErrDetached    = errors.New("consumer detached")
)

// LineError attaches the line name to a failure.
type LineError struct {
	Line  string
	Op    string
	Cause error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %s: %s: %v", e.Line, e.Op, e.Cause)
}

func (e *LineError) Unwrap() error {
	return e.Cause
}

func lineError(line, op string, cause error) error {
	return &LineError{Line: line, Op: op, Cause: cause}
}
