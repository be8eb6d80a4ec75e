package host

import (
	"errors"
	"fmt"
)

// Result is a native driver status code.
type Result int

const (
	ResultOK Result = iota
	ResultError
	ResultBadDeviceID
	ResultNotEnabled
	ResultAllocated
	ResultInvalidHandle
	ResultNoDriver
	ResultNoMem
	ResultNotSupported
	ResultBadFormat
	ResultStillPlaying
	ResultUnprepared
)

var resultText = map[Result]string{
	ResultOK:            "no error",
	ResultError:         "unspecified error",
	ResultBadDeviceID:   "device id out of range",
	ResultNotEnabled:    "driver failed enable",
	ResultAllocated:     "device already allocated",
	ResultInvalidHandle: "invalid device handle",
	ResultNoDriver:      "no device driver present",
	ResultNoMem:         "memory allocation error",
	ResultNotSupported:  "function not supported",
	ResultBadFormat:     "unsupported wave format",
	ResultStillPlaying:  "still something playing",
	ResultUnprepared:    "header not prepared",
}

func (r Result) String() string {
	if s, ok := resultText[r]; ok {
		return s
	}
	return fmt.Sprintf("result %d", int(r))
}

// DriverError is returned by drivers for every failed native call.
type DriverError struct {
	Op     string
	Result Result
	Text   string // native message when the backend has one
	Err    error
}

func (e *DriverError) Error() string {
	msg := e.Text
	if msg == "" {
		msg = e.Result.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, msg, int(e.Result), e.Err)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, msg, int(e.Result))
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewDriverError is a convenience for backends.
func NewDriverError(op string, r Result, err error) *DriverError {
	return &DriverError{Op: op, Result: r, Err: err}
}

// ResultOf extracts the native code from err. Errors that are not driver errors
// map to ResultError, nil maps to ResultOK.
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}
	var de *DriverError
	if errors.As(err, &de) {
		return de.Result
	}
	return ResultError
}
