// Package audiostream opens real-time audio streams on a host driver.
//
// A HostAPI wraps one driver. Streams opened on it run on one of two engines:
// the event engine for drivers that exchange caller-owned buffers, and the poll
// engine for drivers that expose a circular buffer with cursors. Streams opened
// without a callback are driven by blocking Read and Write calls on the event
// engine.
package audiostream

import (
	"slices"
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/format"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/latency"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
	"github.com/tphakala/audiostream/internal/logger"
)

// HostAPI is the entry point for one driver.
type HostAPI struct {
	driver     host.Driver
	negotiator *format.Negotiator
	cache      *format.QueryCache
	cacheTTL   time.Duration
	log        logger.Logger
	observer   Observer
	minLatency time.Duration
	clock      host.Clock

	mu         sync.RWMutex
	devices    []DeviceInfo
	defaultIn  host.DeviceID
	defaultOut host.DeviceID
}

// Option configures a HostAPI.
type Option func(*HostAPI)

// WithLogger sets the parent logger; the API logs under "audiostream".
func WithLogger(l logger.Logger) Option {
	return func(h *HostAPI) { h.log = l.Module("audiostream") }
}

// WithObserver sets the observer of every stream.
func WithObserver(o Observer) Option {
	return func(h *HostAPI) { h.observer = o }
}

// WithMinLatency sets the poll engine latency floor. Zero falls back to the
// environment and then latency.DefaultMinLatency.
func WithMinLatency(d time.Duration) Option {
	return func(h *HostAPI) { h.minLatency = d }
}

// WithQueryCacheTTL sets how long format queries are cached; zero disables
// the cache.
func WithQueryCacheTTL(ttl time.Duration) Option {
	return func(h *HostAPI) { h.cacheTTL = ttl }
}

// NewHostAPI builds the device directory of driver.
func NewHostAPI(driver host.Driver, opts ...Option) (*HostAPI, error) {
	h := &HostAPI{
		driver:   driver,
		cacheTTL: format.DefaultQueryTTL,
		log:      logger.Global().Module("audiostream"),
		observer: NopObserver{},
		clock:    host.ClockOf(driver),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cacheTTL > 0 {
		h.cache = format.NewQueryCache(h.cacheTTL)
	}
	h.negotiator = format.NewNegotiator(driver,
		format.WithLogger(h.log),
		format.WithQueryCache(h.cache))

	if err := h.Refresh(); err != nil {
		return nil, err
	}
	return h, nil
}

// Refresh rebuilds the device directory and drops cached queries.
func (h *HostAPI) Refresh() error {
	if h.cache != nil {
		h.cache.Flush()
	}

	caps, err := h.driver.Devices()
	if err != nil {
		return streamerr.Unanticipated(err).
			Context("operation", "list_devices").
			Context("driver", h.driver.Name()).
			Build()
	}

	devices := make([]DeviceInfo, len(caps))
	for i, c := range caps {
		devices[i] = h.negotiator.DeviceInfo(host.DeviceID(i), c)
	}

	h.mu.Lock()
	h.devices = devices
	h.defaultIn = pickDefault(devices, host.Input)
	h.defaultOut = pickDefault(devices, host.Output)
	h.mu.Unlock()

	h.log.Debug("device directory built",
		logger.String("driver", h.driver.Name()),
		logger.Int("devices", len(devices)),
		logger.Int("default_input", int(h.defaultIn)),
		logger.Int("default_output", int(h.defaultOut)))
	return nil
}

// pickDefault prefers the device flagged as default, then the first device
// with channels in dir.
func pickDefault(devices []DeviceInfo, dir host.Direction) host.DeviceID {
	fallback := host.NoDevice
	for _, d := range devices {
		if d.MaxChannels(dir) == 0 {
			continue
		}
		isDefault := d.IsDefaultInput
		if dir == host.Output {
			isDefault = d.IsDefaultOutput
		}
		if isDefault {
			return d.ID
		}
		if fallback == host.NoDevice {
			fallback = d.ID
		}
	}
	return fallback
}

// Driver returns the wrapped driver.
func (h *HostAPI) Driver() host.Driver { return h.driver }

// Devices returns the directory.
func (h *HostAPI) Devices() []DeviceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.devices)
}

// Device returns one directory entry.
func (h *HostAPI) Device(id host.DeviceID) (DeviceInfo, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if id < 0 || int(id) >= len(h.devices) {
		return DeviceInfo{}, streamerr.New(streamerr.ErrInvalidDevice).
			Context("device", int(id)).
			Build()
	}
	return h.devices[id], nil
}

// DefaultInputDevice returns the default capture device or host.NoDevice.
func (h *HostAPI) DefaultInputDevice() host.DeviceID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultIn
}

// DefaultOutputDevice returns the default playback device or host.NoDevice.
func (h *HostAPI) DefaultOutputDevice() host.DeviceID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultOut
}

// DefaultLatencies returns the suggested low and high latencies for dir.
func (h *HostAPI) DefaultLatencies(host.Direction) (low, high time.Duration) {
	if _, ok := h.driver.(host.BufferedDriver); ok {
		return latency.DefaultLowLatency, latency.DefaultHighLatency
	}
	low = latency.MinLatency(h.minLatency)
	return low, 2 * low
}

// IsFormatSupported reports whether a stream with these parameters could be
// opened, without opening it.
func (h *HostAPI) IsFormatSupported(in, out *Parameters, rate float64) error {
	if in == nil && out == nil {
		return streamerr.New(streamerr.ErrInvalidChannelCount).
			Context("reason", "no direction").
			Build()
	}
	if rate <= 0 {
		return streamerr.New(streamerr.ErrInvalidSampleRate).
			Context("sample_rate", rate).
			Build()
	}

	infos := h.Devices()
	for _, side := range []struct {
		dir host.Direction
		p   *Parameters
	}{{host.Input, in}, {host.Output, out}} {
		if side.p == nil {
			continue
		}
		bindings, err := checkParameters(side.dir, side.p, infos)
		if err != nil {
			return err
		}
		for _, b := range bindings {
			if err := h.negotiator.Query(side.dir, b.Device, b.Channels, side.p.Format, rate); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkParameters validates one direction against the directory and returns
// its bindings. Nothing is opened.
func checkParameters(dir host.Direction, p *Parameters, infos []DeviceInfo) ([]DeviceBinding, error) {
	if p.Flags&^validHostFlags != 0 {
		return nil, streamerr.New(streamerr.ErrInvalidFlag).
			Context("direction", dir.String()).
			Context("flags", uint32(p.Flags)).
			Build()
	}
	if p.Channels < 1 {
		return nil, streamerr.New(streamerr.ErrInvalidChannelCount).
			DeviceContext(dir.String(), int(p.Device), p.Channels).
			Build()
	}

	multi := p.Flags&UseMultipleDevices != 0
	switch {
	case multi && p.Flags&UseChannelMask != 0:
		return nil, streamerr.New(streamerr.ErrInvalidFlag).
			Context("direction", dir.String()).
			Context("reason", "channel mask with multiple devices").
			Build()
	case !multi && len(p.Bindings) > 0:
		return nil, streamerr.New(streamerr.ErrInvalidFlag).
			Context("direction", dir.String()).
			Context("reason", "bindings without UseMultipleDevices").
			Build()
	case !multi && (p.Device < 0 || int(p.Device) >= len(infos)):
		return nil, streamerr.New(streamerr.ErrInvalidDevice).
			DeviceContext(dir.String(), int(p.Device), p.Channels).
			Build()
	}

	bindings := p.bindings()
	if err := format.ValidateBindings(dir, bindings, p.Channels, infos); err != nil {
		return nil, err
	}
	return bindings, nil
}

// Close closes the driver. Streams must be closed first.
func (h *HostAPI) Close() error {
	return h.driver.Close()
}
