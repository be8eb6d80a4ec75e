package format

import (
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
)

// unverifiedChannels is assumed when a device does not report a usable count.
const unverifiedChannels = 2

const maxReportedChannels = 255

// SampleRateSearchOrder is the order in which default rates are probed.
var SampleRateSearchOrder = []float64{
	44100, 48000, 32000, 24000, 22050, 88200, 96000, 192000,
	16000, 12000, 11025, 9600, 8000,
}

// DeviceInfo is the negotiated view of one directory entry.
type DeviceInfo struct {
	ID     host.DeviceID
	Name   string
	HostID string

	MaxInputChannels  int
	MaxOutputChannels int
	// Unverified counts were not reported by the driver. Any channel count is
	// attempted at open for such a direction.
	InputChannelsUnverified  bool
	OutputChannelsUnverified bool

	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
}

// MaxChannels returns the maximum for dir.
func (d DeviceInfo) MaxChannels(dir host.Direction) int {
	if dir == host.Input {
		return d.MaxInputChannels
	}
	return d.MaxOutputChannels
}

// ChannelsVerified reports whether MaxChannels(dir) came from the driver.
func (d DeviceInfo) ChannelsVerified(dir host.Direction) bool {
	if dir == host.Input {
		return !d.InputChannelsUnverified
	}
	return !d.OutputChannelsUnverified
}

func channelCount(reported int) (count int, verified bool) {
	switch {
	case reported == 0:
		return 0, true
	case reported == host.WildcardChannels, reported < 1, reported > maxReportedChannels:
		return unverifiedChannels, false
	default:
		return reported, true
	}
}

// DeviceInfo derives channel limits and the default rate from raw capabilities.
func (n *Negotiator) DeviceInfo(id host.DeviceID, caps host.Capabilities) DeviceInfo {
	info := DeviceInfo{
		ID:              id,
		Name:            caps.Name,
		HostID:          caps.HostID,
		IsDefaultInput:  caps.IsDefaultInput,
		IsDefaultOutput: caps.IsDefaultOutput,
	}

	var verified bool
	info.MaxInputChannels, verified = channelCount(caps.InputChannels)
	info.InputChannelsUnverified = !verified
	info.MaxOutputChannels, verified = channelCount(caps.OutputChannels)
	info.OutputChannelsUnverified = !verified

	switch {
	case info.MaxOutputChannels > 0:
		info.DefaultSampleRate = n.DefaultSampleRate(host.Output, id, min(info.MaxOutputChannels, 2))
	case info.MaxInputChannels > 0:
		info.DefaultSampleRate = n.DefaultSampleRate(host.Input, id, min(info.MaxInputChannels, 2))
	}
	return info
}

// DefaultSampleRate returns the first rate of SampleRateSearchOrder the device
// accepts for 16 bit audio, or 0.
func (n *Negotiator) DefaultSampleRate(dir host.Direction, id host.DeviceID, channels int) float64 {
	for _, rate := range SampleRateSearchOrder {
		if n.Query(dir, id, channels, host.Int16, rate) == nil {
			return rate
		}
	}
	return 0
}

// Binding assigns part of a direction's channels to one device.
type Binding struct {
	Device   host.DeviceID
	Channels int
}

// ValidateBindings checks bindings against the directory before anything is
// opened. infos is indexed by device id.
func ValidateBindings(dir host.Direction, bindings []Binding, requested int, infos []DeviceInfo) error {
	if len(bindings) == 0 {
		return streamerr.New(streamerr.ErrInvalidDevice).
			Context("direction", dir.String()).
			Context("reason", "no devices bound").
			Build()
	}

	total := 0
	for _, b := range bindings {
		if b.Device < 0 || int(b.Device) >= len(infos) {
			return streamerr.New(streamerr.ErrInvalidDevice).
				DeviceContext(dir.String(), int(b.Device), b.Channels).
				Build()
		}
		info := infos[b.Device]
		if b.Channels < 1 {
			return streamerr.New(streamerr.ErrInvalidChannelCount).
				DeviceContext(dir.String(), int(b.Device), b.Channels).
				Build()
		}
		if info.MaxChannels(dir) == 0 ||
			(info.ChannelsVerified(dir) && b.Channels > info.MaxChannels(dir)) {
			return streamerr.New(streamerr.ErrInvalidChannelCount).
				DeviceContext(dir.String(), int(b.Device), b.Channels).
				Context("max_channels", info.MaxChannels(dir)).
				Build()
		}
		total += b.Channels
	}

	if total != requested {
		return streamerr.New(streamerr.ErrInvalidChannelCount).
			Context("direction", dir.String()).
			Context("bound_channels", total).
			Context("requested_channels", requested).
			Build()
	}
	return nil
}
