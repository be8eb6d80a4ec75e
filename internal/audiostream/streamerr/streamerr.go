// Package streamerr holds the error values returned by the stream API.
//
// Every failure returned to callers wraps exactly one of the sentinels below, so
// callers test with errors.Is. Driver failures that do not map to a sentinel wrap
// ErrUnanticipatedHost together with the *host.DriverError carrying the native code.
package streamerr

import (
	"fmt"

	"github.com/tphakala/audiostream/internal/errors"
)

const component = "audiostream"

func sentinel(text string, category errors.ErrorCategory) *errors.EnhancedError {
	return errors.New(errors.NewStd(text)).
		Component(component).
		Category(category).
		Build()
}

// Resource
var ErrInsufficientMemory = sentinel("insufficient memory", errors.CategoryResource)

// Device state
var (
	ErrDeviceUnavailable = sentinel("device unavailable", errors.CategoryAudioDevice)
	ErrInvalidDevice     = sentinel("invalid device", errors.CategoryAudioDevice)
)

// Format and buffer negotiation
var (
	ErrSampleFormatNotSupported     = sentinel("sample format not supported", errors.CategoryFormat)
	ErrInvalidSampleRate            = sentinel("invalid sample rate", errors.CategoryFormat)
	ErrInvalidChannelCount          = sentinel("invalid channel count", errors.CategoryValidation)
	ErrIncompatibleBufferParameters = sentinel("incompatible host buffer parameters", errors.CategoryBuffer)
	ErrBufferTooSmall               = sentinel("buffer too small", errors.CategoryBuffer)
	ErrBufferTooBig                 = sentinel("buffer too big", errors.CategoryBuffer)
	ErrInvalidFlag                  = sentinel("invalid flag", errors.CategoryValidation)
)

// ErrUnanticipatedHost marks driver failures with no portable meaning.
var ErrUnanticipatedHost = sentinel("unanticipated host error", errors.CategoryHost)

// Runtime anomalies reported by the blocking calls. The data transfer still happened.
var (
	ErrInputOverflowed   = sentinel("input overflowed", errors.CategoryXrun)
	ErrOutputUnderflowed = sentinel("output underflowed", errors.CategoryXrun)
)

// Lifecycle
var (
	ErrTimedOut                             = sentinel("timed out", errors.CategoryTimeout)
	ErrStreamIsNotStopped                   = sentinel("stream is not stopped", errors.CategoryState)
	ErrStreamIsStopped                      = sentinel("stream is stopped", errors.CategoryState)
	ErrStreamClosed                         = sentinel("stream closed", errors.CategoryState)
	ErrCanNotReadFromAnOutputOnlyStream     = sentinel("can not read from an output only stream", errors.CategoryState)
	ErrCanNotWriteToAnInputOnlyStream       = sentinel("can not write to an input only stream", errors.CategoryState)
	ErrCanNotUseBlockingAPIOnCallbackStream = sentinel("can not use blocking API on a callback stream", errors.CategoryState)
)

// New starts an error that wraps s, inheriting its category.
func New(s *errors.EnhancedError) *errors.ErrorBuilder {
	return errors.New(s).
		Component(component).
		Category(s.Category)
}

// Wrap starts an error that wraps both s and cause.
func Wrap(s *errors.EnhancedError, cause error) *errors.ErrorBuilder {
	if cause == nil {
		return New(s)
	}
	return errors.New(fmt.Errorf("%w: %w", s, cause)).
		Component(component).
		Category(s.Category)
}

// Unanticipated wraps a driver error that has no portable mapping.
func Unanticipated(cause error) *errors.ErrorBuilder {
	return Wrap(ErrUnanticipatedHost, cause)
}
