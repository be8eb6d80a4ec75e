// Package format negotiates sample formats and channel layouts with a host driver.
//
// Every open or query is attempted with the extensible descriptor first and falls
// back to the minimal descriptor only when the driver rejects it. When the driver
// rejects the caller's sample format outright, the next candidate host format is
// tried and the stream converts between the two.
package format

import (
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/logger"
)

// DefaultQueryTTL bounds how long a query result is reused.
const DefaultQueryTTL = 30 * time.Second

// Negotiator wraps a driver with the descriptor fallback rules.
type Negotiator struct {
	driver host.Driver
	cache  *QueryCache
	log    logger.Logger
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithLogger sets the logger. The default discards.
func WithLogger(l logger.Logger) Option {
	return func(n *Negotiator) {
		n.log = l.Module("format")
	}
}

// WithQueryCache replaces the default cache; nil disables caching.
func WithQueryCache(c *QueryCache) Option {
	return func(n *Negotiator) {
		n.cache = c
	}
}

// NewNegotiator returns a negotiator for driver.
func NewNegotiator(driver host.Driver, opts ...Option) *Negotiator {
	n := &Negotiator{
		driver: driver,
		cache:  NewQueryCache(DefaultQueryTTL),
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Driver returns the wrapped driver.
func (n *Negotiator) Driver() host.Driver {
	return n.driver
}

// DefaultChannelMask returns the speaker layout conventionally used for channels.
func DefaultChannelMask(channels int) host.ChannelMask {
	switch channels {
	case 1:
		return host.ChannelMaskMono
	case 2:
		return host.ChannelMaskStereo
	case 3:
		return host.SpeakerFrontLeft | host.SpeakerFrontCenter | host.SpeakerFrontRight
	case 4:
		return host.ChannelMaskQuad
	case 5:
		return host.ChannelMaskQuad | host.SpeakerFrontCenter
	case 6:
		return host.ChannelMask5Point1
	case 7:
		return host.ChannelMask5Point1 | host.SpeakerBackCenter
	case 8:
		return host.ChannelMask7Point1
	default:
		return host.ChannelMaskDirectOut
	}
}

// Descriptor builds a descriptor. Valid bits and mask are dropped for the
// minimal layout.
func Descriptor(layout host.Layout, format host.SampleFormat, channels int, rate float64, mask host.ChannelMask) host.FormatDescriptor {
	d := host.FormatDescriptor{
		Layout:     layout,
		Format:     format,
		Channels:   channels,
		SampleRate: rate,
	}
	if layout == host.LayoutExtensible {
		d.ValidBits = format.Bits()
		d.ChannelMask = mask
	}
	return d
}

// Candidates lists the host formats tried for a caller format, closest first.
func Candidates(user host.SampleFormat) []host.SampleFormat {
	out := []host.SampleFormat{user}
	for _, f := range []host.SampleFormat{host.Float32, host.Int32, host.Int24, host.Int16, host.UInt8} {
		if f != user {
			out = append(out, f)
		}
	}
	return out
}

// Open calls open with descriptors until one is accepted and returns it.
//
// Each candidate format is offered extensible first, then minimal. Only a
// bad-format rejection of the minimal descriptor moves on to the next format;
// any other failure is returned mapped through MapOpenError.
func (n *Negotiator) Open(dir host.Direction, id host.DeviceID, channels int, format host.SampleFormat, rate float64,
	mask host.ChannelMask, open func(host.FormatDescriptor) error) (host.FormatDescriptor, error) {
	var lastErr error
	for _, f := range Candidates(format) {
		rich := Descriptor(host.LayoutExtensible, f, channels, rate, mask)
		err := open(rich)
		if err == nil {
			return rich, nil
		}
		n.log.Debug("extensible descriptor rejected",
			logger.String("direction", dir.String()),
			logger.Int("device", int(id)),
			logger.String("format", rich.String()),
			logger.Error(err))

		minimal := Descriptor(host.LayoutMinimal, f, channels, rate, 0)
		err = open(minimal)
		if err == nil {
			return minimal, nil
		}
		lastErr = err
		if host.ResultOf(err) != host.ResultBadFormat {
			break
		}
	}
	return host.FormatDescriptor{}, MapOpenError(lastErr, dir, id, false)
}

// Query reports whether the device accepts channels at rate in format or one of
// its candidates. A bad-format rejection is reported as an invalid sample rate.
func (n *Negotiator) Query(dir host.Direction, id host.DeviceID, channels int, format host.SampleFormat, rate float64) error {
	query := func() error {
		var lastErr error
		for _, f := range Candidates(format) {
			rich := Descriptor(host.LayoutExtensible, f, channels, rate, host.ChannelMaskDirectOut)
			if err := n.driver.Query(dir, id, rich); err == nil {
				return nil
			}
			lastErr = n.driver.Query(dir, id, Descriptor(host.LayoutMinimal, f, channels, rate, 0))
			if lastErr == nil {
				return nil
			}
			if host.ResultOf(lastErr) != host.ResultBadFormat {
				break
			}
		}
		return MapOpenError(lastErr, dir, id, true)
	}

	if n.cache == nil {
		return query()
	}
	return n.cache.Do(queryKey(dir, id, channels, format, rate), query)
}
