// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package commander

import (
	"errors"
	"fmt"

	"github.com/btcsuite/hwcommander/engine"
	"github.com/btcsuite/hwcommander/messages"
)

// ErrorCode identifies the outcome of a failed request. The values are
// part of the host protocol.
type ErrorCode uint32

// These constants are used to identify a specific Error.
const (
	// ErrInvalidInput indicates a malformed or policy violating request.
	ErrInvalidInput ErrorCode = 101

	// ErrGeneric indicates a derivation, signing or storage failure, or a
	// request out of sequence.
	ErrGeneric ErrorCode = 103

	// ErrUserAbort indicates that the user rejected a confirmation.
	ErrUserAbort ErrorCode = 104

	// ErrDisabled indicates that the requested coin is not enabled.
	ErrDisabled ErrorCode = 106

	// ErrDuplicate indicates a registration collision.
	ErrDuplicate ErrorCode = 107
)

// String returns the name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidInput:
		return "invalid input"

	case ErrGeneric:
		return "generic error"

	case ErrUserAbort:
		return "user abort"

	case ErrDisabled:
		return "disabled"

	case ErrDuplicate:
		return "duplicate"

	default:
		return fmt.Sprintf("error code %d", uint32(c))
	}
}

// Error identifies a failed request. It has an error code and a
// descriptive message.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err == nil {
		return e.Desc
	}

	return e.Desc + ": " + e.Err.Error()
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// engineResult translates an engine failure into an error code. Failures
// the engine does not classify are generic.
func engineResult(err error) ErrorCode {
	switch {
	case errors.Is(err, engine.ErrUserAbort):
		return ErrUserAbort

	case errors.Is(err, engine.ErrInvalidInput):
		return ErrInvalidInput

	case errors.Is(err, engine.ErrDuplicate):
		return ErrDuplicate

	case errors.Is(err, engine.ErrDisabled):
		return ErrDisabled

	default:
		return ErrGeneric
	}
}

// engineError wraps an engine failure with its translated code.
func engineError(desc string, err error) Error {
	return newError(engineResult(err), desc, err)
}

// errorResponse turns a failed request into the response sent to the host.
// Only the code and description are sent; the underlying error stays on the
// device.
func errorResponse(err error) *messages.ErrorResponse {
	var cmdErr Error
	if !errors.As(err, &cmdErr) {
		cmdErr = newError(ErrGeneric, ErrGeneric.String(), err)
	}

	return &messages.ErrorResponse{
		Code:    uint32(cmdErr.Code),
		Message: cmdErr.Desc,
	}
}
