package protocol

import (
	"errors"
	"fmt"
)

// ErrMissingType is wrapped by DecodeError when a line has no type field.
var ErrMissingType = errors.New("missing type field")

// ErrUnknownType is wrapped by DecodeError when the type field names no
// known command.
var ErrUnknownType = errors.New("unknown command type")

// DecodeError reports a command line that could not be decoded.
// It enables typed discrimination of protocol errors via errors.As.
type DecodeError struct {
	Line string // Offending line without its newline.
	Err  error  // ErrMissingType, ErrUnknownType or an escape error.
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode command %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AckError is returned to a command sender when the host answered ERR.
type AckError struct {
	Message string // Text after the "ERR " prefix.
}

func (e *AckError) Error() string {
	return "host rejected command: " + e.Message
}
