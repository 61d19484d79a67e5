// Package bus owns the single open connection to the physical CAN
// transport and serializes all transmissions through one mutex.
//
// Errors are normalized to the sentinel codes below so callers can
// branch with errors.Is without inspecting driver-specific messages.
package bus

import (
	"errors"
	"fmt"
)

// Normalized bus error codes.
var (
	ErrInvalidChannel  = errors.New("INVALID_CHANNEL")
	ErrInvalidConfig   = errors.New("INVALID_CONFIGURATION")
	ErrDriverFailure   = errors.New("DRIVER_FAILURE")
	ErrTransmitFailure = errors.New("TRANSMIT_FAILURE")
	ErrBusClosed       = errors.New("BUS_CLOSED")
)

// Error wraps a driver error with its normalized code and the failing
// operation. Unwrap resolves to the code so errors.Is matches it.
type Error struct {
	Code error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Code, e.Op)
	}
	return fmt.Sprintf("%v (%s: %v)", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Code
}

func wrap(code error, op string, err error) error {
	return &Error{Code: code, Op: op, Err: err}
}
