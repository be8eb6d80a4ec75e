// Package malgo is a host driver on top of miniaudio. Both device models run on
// miniaudio's period callback: buffered devices consume (playback) or fill
// (capture) submitted buffers, ring devices move a cursor through their ring.
package malgo

import (
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/logger"
)

// DefaultPeriodFrames is requested from miniaudio when no period is configured.
const DefaultPeriodFrames = 256

type entry struct {
	kind malgo.DeviceType
	info malgo.DeviceInfo
	caps host.Capabilities
}

// Driver wraps one miniaudio context.
type Driver struct {
	ctx          *malgo.AllocatedContext
	backends     []malgo.Backend
	periodFrames uint32
	log          logger.Logger

	mu      sync.Mutex
	entries []entry
	closed  bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithBackends restricts miniaudio to the given backends, in order of preference.
func WithBackends(backends ...malgo.Backend) Option {
	return func(d *Driver) { d.backends = backends }
}

// WithPeriodFrames sets the miniaudio period size.
func WithPeriodFrames(frames uint32) Option {
	return func(d *Driver) { d.periodFrames = frames }
}

// WithLogger sets the parent logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.log = l.Module("host.malgo") }
}

// PlatformBackends returns the backend list used on this platform.
func PlatformBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa, malgo.BackendPulseaudio}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi, malgo.BackendWinmm}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// New initializes a miniaudio context and enumerates its devices.
func New(opts ...Option) (*Driver, error) {
	d := &Driver{
		backends:     PlatformBackends(),
		periodFrames: DefaultPeriodFrames,
		log:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}

	ctx, err := malgo.InitContext(d.backends, malgo.ContextConfig{}, func(message string) {
		d.log.Debug("miniaudio", logger.String("message", message))
	})
	if err != nil {
		return nil, host.NewDriverError("init context", host.ResultNoDriver, err)
	}
	d.ctx = ctx

	if err := d.enumerate(); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return d, nil
}

// enumerate lists playback devices first, then capture devices. miniaudio
// does not report channel counts before a device is opened, so every entry
// carries the wildcard count.
func (d *Driver) enumerate() error {
	var entries []entry
	for _, kind := range []malgo.DeviceType{malgo.Playback, malgo.Capture} {
		infos, err := d.ctx.Devices(kind)
		if err != nil {
			return host.NewDriverError("enumerate devices", host.ResultError, err)
		}
		for _, info := range infos {
			caps := host.Capabilities{
				Name:   info.Name(),
				HostID: info.ID.String(),
			}
			if kind == malgo.Playback {
				caps.OutputChannels = host.WildcardChannels
				caps.IsDefaultOutput = info.IsDefault == 1
			} else {
				caps.InputChannels = host.WildcardChannels
				caps.IsDefaultInput = info.IsDefault == 1
			}
			entries = append(entries, entry{kind: kind, info: info, caps: caps})
		}
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	d.log.Debug("devices enumerated", logger.Int("count", len(entries)))
	return nil
}

// Name implements host.Driver.
func (d *Driver) Name() string { return "malgo" }

// Devices implements host.Driver.
func (d *Driver) Devices() ([]host.Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	caps := make([]host.Capabilities, len(d.entries))
	for i, e := range d.entries {
		caps[i] = e.caps
	}
	return caps, nil
}

func (d *Driver) lookup(op string, dir host.Direction, id host.DeviceID) (entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return entry{}, host.NewDriverError(op, host.ResultNoDriver, nil)
	}
	if id < 0 || int(id) >= len(d.entries) {
		return entry{}, host.NewDriverError(op, host.ResultBadDeviceID, nil)
	}
	e := d.entries[id]
	if e.caps.Channels(dir) == 0 {
		return entry{}, host.NewDriverError(op, host.ResultBadDeviceID, nil)
	}
	return e, nil
}

// deviceConfig translates desc. Extensible channel masks are not passed on;
// miniaudio picks its default channel map.
func (d *Driver) deviceConfig(e entry, desc host.FormatDescriptor) (malgo.DeviceConfig, error) {
	format, ok := formatType(desc.Format)
	if !ok || desc.Channels < 1 || desc.SampleRate <= 0 {
		return malgo.DeviceConfig{}, host.NewDriverError("configure", host.ResultBadFormat, nil)
	}

	cfg := malgo.DefaultDeviceConfig(e.kind)
	cfg.SampleRate = uint32(desc.SampleRate)
	cfg.PeriodSizeInFrames = d.periodFrames
	cfg.Alsa.NoMMap = 1
	if e.kind == malgo.Playback {
		cfg.Playback.Format = format
		cfg.Playback.Channels = uint32(desc.Channels)
		cfg.Playback.DeviceID = e.info.ID.Pointer()
	} else {
		cfg.Capture.Format = format
		cfg.Capture.Channels = uint32(desc.Channels)
		cfg.Capture.DeviceID = e.info.ID.Pointer()
	}
	return cfg, nil
}

// Query implements host.Driver by opening and closing the device.
func (d *Driver) Query(dir host.Direction, id host.DeviceID, desc host.FormatDescriptor) error {
	e, err := d.lookup("query", dir, id)
	if err != nil {
		return err
	}
	cfg, err := d.deviceConfig(e, desc)
	if err != nil {
		return err
	}
	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		return host.NewDriverError("query", host.ResultAllocated, err)
	}
	dev.Uninit()
	return nil
}

// OpenBuffered implements host.BufferedDriver.
func (d *Driver) OpenBuffered(dir host.Direction, id host.DeviceID, desc host.FormatDescriptor, ready *host.Event) (host.BufferedDevice, error) {
	e, err := d.lookup("open buffered", dir, id)
	if err != nil {
		return nil, err
	}
	cfg, err := d.deviceConfig(e, desc)
	if err != nil {
		return nil, err
	}

	dev := &Device{dir: dir, desc: desc, ready: ready}
	callbacks := malgo.DeviceCallbacks{
		Data: dev.onData,
		Stop: dev.onStop,
	}
	md, err := malgo.InitDevice(d.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, host.NewDriverError("open buffered", host.ResultAllocated, err)
	}
	dev.device = md

	d.log.Debug("device opened",
		logger.String("direction", dir.String()),
		logger.Int("device", int(id)),
		logger.String("name", e.caps.Name),
		logger.String("format", desc.String()))
	return dev, nil
}

// OpenRing implements host.RingDriver.
func (d *Driver) OpenRing(dir host.Direction, id host.DeviceID, desc host.FormatDescriptor, sizeBytes int) (host.RingDevice, error) {
	e, err := d.lookup("open ring", dir, id)
	if err != nil {
		return nil, err
	}
	if fs := desc.FrameSize(); fs == 0 || sizeBytes < fs || sizeBytes%fs != 0 {
		return nil, host.NewDriverError("open ring", host.ResultError, nil)
	}
	cfg, err := d.deviceConfig(e, desc)
	if err != nil {
		return nil, err
	}

	ring := newRingDevice(dir, desc, sizeBytes, d.periodFrames)
	md, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: ring.onData,
		Stop: ring.onStop,
	})
	if err != nil {
		return nil, host.NewDriverError("open ring", host.ResultAllocated, err)
	}
	ring.device = md

	d.log.Debug("ring device opened",
		logger.String("direction", dir.String()),
		logger.Int("device", int(id)),
		logger.String("name", e.caps.Name),
		logger.Int("size_bytes", sizeBytes))
	return ring, nil
}

// Close implements host.Driver. Open devices must be closed first.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.ctx.Uninit()
	d.ctx.Free()
	if err != nil {
		return host.NewDriverError("close", host.ResultError, err)
	}
	return nil
}

func formatType(f host.SampleFormat) (malgo.FormatType, bool) {
	switch f {
	case host.UInt8:
		return malgo.FormatU8, true
	case host.Int16:
		return malgo.FormatS16, true
	case host.Int24:
		return malgo.FormatS24, true
	case host.Int32:
		return malgo.FormatS32, true
	case host.Float32:
		return malgo.FormatF32, true
	default:
		return malgo.FormatUnknown, false
	}
}
