package streamerr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/errors"
)

func TestSentinelsAreDistinct(t *testing.T) {
	t.Parallel()

	assert.False(t, errors.Is(ErrBufferTooBig, ErrBufferTooSmall), "same category must not make sentinels equal")
	assert.False(t, errors.Is(ErrStreamIsStopped, ErrStreamIsNotStopped))
	assert.True(t, errors.Is(ErrTimedOut, ErrTimedOut))
}

func TestNewKeepsSentinelAndCategory(t *testing.T) {
	t.Parallel()

	err := New(ErrInvalidChannelCount).Context("requested", 7).Build()
	assert.ErrorIs(t, err, ErrInvalidChannelCount)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Equal(t, 7, err.GetContext()["requested"])
}

func TestUnanticipatedCarriesDriverError(t *testing.T) {
	t.Parallel()

	cause := host.NewDriverError("waveOutOpen", host.ResultInvalidHandle, nil)
	err := Unanticipated(cause).Build()

	assert.ErrorIs(t, err, ErrUnanticipatedHost)
	var de *host.DriverError
	if assert.ErrorAs(t, err, &de) {
		assert.Equal(t, host.ResultInvalidHandle, de.Result)
	}
	assert.Contains(t, err.Error(), "unanticipated host error")
}

func TestWrapNilCause(t *testing.T) {
	t.Parallel()

	err := Wrap(ErrDeviceUnavailable, nil).Build()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
