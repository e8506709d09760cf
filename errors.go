package dproc

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/taosdata/dproc/internal/ringbuf"
)

// ErrCode identifies a high-level error category, matching §7 of the
// conduit's error handling design.
type ErrCode string

const (
	ErrCodeInvalidParameters ErrCode = "invalid parameters"
	ErrCodeOutOfSHMMem       ErrCode = "out of shared memory"
	ErrCodeOutOfMemory       ErrCode = "out of memory"
	ErrCodeSystem            ErrCode = "system error"
	ErrCodeNodeOffline       ErrCode = "node offline"
)

// Error is the conduit's structured error type: an operation name, a high
// level code, an optional wrapped cause, and a human-readable message.
type Error struct {
	Op    string      // operation that failed, e.g. "Push", "Endpoint.Run"
	Side  Side        // endpoint side the failure occurred on, if applicable
	Code  ErrCode     // high-level error category
	Errno syscall.Errno // captured OS error code for ErrCodeSystem failures, 0 otherwise
	Msg   string      // human-readable message
	Inner error       // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Errno != 0 {
		msg = fmt.Sprintf("%s (errno %d: %s)", msg, int(e.Errno), e.Errno)
	}
	if e.Op != "" {
		return fmt.Sprintf("dproc: %s: %s (op=%s)", e.Code, msg, e.Op)
	}
	return fmt.Sprintf("dproc: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support based on error code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a new structured error.
func NewError(op string, code ErrCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// wrapRingbufErr maps the plain sentinel errors internal/ringbuf returns
// onto the conduit's structured *Error type. ringbuf cannot depend on this
// package (it would create an import cycle), so the mapping happens here,
// at the root package's API boundary.
func wrapRingbufErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ringbuf.ErrInvalidPara):
		return &Error{Op: op, Code: ErrCodeInvalidParameters, Msg: err.Error(), Inner: err}
	case errors.Is(err, ringbuf.ErrOutOfShmMem):
		return &Error{Op: op, Code: ErrCodeOutOfSHMMem, Msg: err.Error(), Inner: err}
	case errors.Is(err, ringbuf.ErrOutOfMemory):
		return &Error{Op: op, Code: ErrCodeOutOfMemory, Msg: err.Error(), Inner: err}
	default:
		e := &Error{Op: op, Code: ErrCodeSystem, Msg: err.Error(), Inner: err}
		var errno syscall.Errno
		if errors.As(err, &errno) {
			e.Errno = errno
		}
		return e
	}
}

// IsCode reports whether err is a *Error (directly or wrapped) with the
// given code.
func IsCode(err error, code ErrCode) bool {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code == code
	}
	return false
}
