package format

import (
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
)

// MapOpenError converts a driver failure into a stream error. query selects the
// mapping used by format queries, where a rejected format means the rate is
// unusable.
func MapOpenError(err error, dir host.Direction, id host.DeviceID, query bool) error {
	if err == nil {
		return nil
	}

	result := host.ResultOf(err)
	b := streamerr.Unanticipated(err)
	switch result {
	case host.ResultAllocated, host.ResultNoDriver:
		b = streamerr.Wrap(streamerr.ErrDeviceUnavailable, err)
	case host.ResultNoMem:
		b = streamerr.Wrap(streamerr.ErrInsufficientMemory, err)
	case host.ResultBadFormat:
		if query {
			b = streamerr.Wrap(streamerr.ErrInvalidSampleRate, err)
		} else {
			b = streamerr.Wrap(streamerr.ErrSampleFormatNotSupported, err)
		}
	}

	return b.DeviceContext(dir.String(), int(id), 0).
		Context("native_code", int(result)).
		Build()
}
