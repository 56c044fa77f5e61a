package portbridge

import (
	"errors"
	"fmt"
)

// ErrorCode is the integer form of an adapter result, as handed to hosts
// that only understand status codes. Success is always zero.
type ErrorCode int

const (
	Success ErrorCode = iota
	CodeArgumentParse
	CodePortOpen
	CodeInvalidHandle
	CodeNotConnected
	CodeInvalidArgument
	CodeBackend
)

var (
	// ErrArgumentParse is returned for unrecognized or malformed module arguments.
	ErrArgumentParse = &codedError{CodeArgumentParse, "failed to parse module arguments"}

	// ErrPortOpen is returned when the audio server refuses to create a port.
	ErrPortOpen = &codedError{CodePortOpen, "audio server refused to open port"}

	// ErrInvalidHandle is returned for handles that are not currently open.
	ErrInvalidHandle = &codedError{CodeInvalidHandle, "invalid port handle"}

	// ErrNotConnected is returned for operations issued before Connect.
	ErrNotConnected = &codedError{CodeNotConnected, "not connected to audio server"}

	// ErrInvalidArgument is returned for out-of-range volumes and unknown stream types.
	ErrInvalidArgument = &codedError{CodeInvalidArgument, "invalid argument"}

	// ErrBackend covers server-side failures that fit no other kind.
	ErrBackend = &codedError{CodeBackend, "audio server request failed"}
)

type codedError struct {
	code ErrorCode
	msg  string
}

func (e *codedError) Error() string {
	return e.msg
}

// CodeOf maps an error returned by this package to its ErrorCode.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}

	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}

	return CodeBackend
}

// InitStatus converts a module Init result into the host's status convention.
func InitStatus(err error) int {
	if err != nil {
		return -1
	}
	return 0
}

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "success"
	case CodeArgumentParse:
		return "argument parse error"
	case CodePortOpen:
		return "port open error"
	case CodeInvalidHandle:
		return "invalid handle"
	case CodeNotConnected:
		return "not connected"
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeBackend:
		return "backend error"
	}
	return fmt.Sprintf("error code %d", int(c))
}
