// Package sim is an in-process host driver. It implements both device models
// on a configurable clock so streams can run without audio hardware: buffered
// devices complete submitted buffers as time passes, ring devices move their
// cursors with the clock.
//
// Output written to devices is recorded and input is synthesized, which makes the
// driver usable for tests and for the CLI's dry runs.
package sim

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/logger"
)

// DefaultTick is how often buffered devices advance in real time mode.
const DefaultTick = time.Millisecond

// maxRecordedBytes caps the output history kept per device.
const maxRecordedBytes = 4 << 20

// InputSource synthesizes the sample for a frame and channel in [-1, 1).
type InputSource func(frame int64, channel int) float64

// SineSource returns a sine input at freq Hz.
func SineSource(freq, rate, amplitude float64) InputSource {
	return func(frame int64, _ int) float64 {
		return amplitude * math.Sin(2*math.Pi*freq*float64(frame)/rate)
	}
}

// Driver is the simulated host.
type Driver struct {
	mu sync.Mutex

	devices          []host.Capabilities
	clock            host.Clock
	tick             time.Duration
	manual           bool
	rejectExtensible bool
	rates            []float64
	formats          []host.SampleFormat
	failOpen         map[host.DeviceID]host.Result
	source           InputSource
	log              logger.Logger

	buffered []*BufferedDevice
	rings    []*RingDevice
	closed   bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithDevices replaces the default directory.
func WithDevices(devices ...host.Capabilities) Option {
	return func(d *Driver) { d.devices = devices }
}

// WithClock sets the clock devices run on.
func WithClock(c host.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithTick sets the real time advance period of buffered devices.
func WithTick(tick time.Duration) Option {
	return func(d *Driver) { d.tick = tick }
}

// Manual disables the device goroutines; buffers complete only through
// BufferedDevice.Complete.
func Manual() Option {
	return func(d *Driver) { d.manual = true }
}

// RejectExtensible makes every extensible descriptor fail with a bad format.
func RejectExtensible() Option {
	return func(d *Driver) { d.rejectExtensible = true }
}

// WithSampleRates restricts the accepted rates.
func WithSampleRates(rates ...float64) Option {
	return func(d *Driver) { d.rates = rates }
}

// WithFormats restricts the accepted sample formats.
func WithFormats(formats ...host.SampleFormat) Option {
	return func(d *Driver) { d.formats = formats }
}

// FailOpen makes opening id fail with result.
func FailOpen(id host.DeviceID, result host.Result) Option {
	return func(d *Driver) { d.failOpen[id] = result }
}

// WithInputSource sets the synthesized input.
func WithInputSource(src InputSource) Option {
	return func(d *Driver) { d.source = src }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.log = l.Module("host.sim") }
}

// DefaultDevices is the directory used without WithDevices.
func DefaultDevices() []host.Capabilities {
	return []host.Capabilities{
		{Name: "Simulated Output", HostID: "sim:0", OutputChannels: 2, IsDefaultOutput: true},
		{Name: "Simulated Input", HostID: "sim:1", InputChannels: 2, IsDefaultInput: true},
		{Name: "Simulated Surround", HostID: "sim:2", OutputChannels: 8},
		{Name: "Simulated Mixer", HostID: "sim:3", InputChannels: host.WildcardChannels, OutputChannels: host.WildcardChannels},
	}
}

// New returns a driver with the default directory on the system clock.
func New(opts ...Option) *Driver {
	d := &Driver{
		devices:  DefaultDevices(),
		tick:     DefaultTick,
		failOpen: make(map[host.DeviceID]host.Result),
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = host.NewSystemClock()
	}
	if d.source == nil {
		d.source = SineSource(440, 48000, 0.5)
	}
	return d
}

// Name implements host.Driver.
func (d *Driver) Name() string { return "sim" }

// Clock implements host.ClockProvider.
func (d *Driver) Clock() host.Clock { return d.clock }

// Devices implements host.Driver.
func (d *Driver) Devices() ([]host.Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.devices), nil
}

// Query implements host.Driver.
func (d *Driver) Query(dir host.Direction, id host.DeviceID, desc host.FormatDescriptor) error {
	return d.check("query", dir, id, desc)
}

func (d *Driver) check(op string, dir host.Direction, id host.DeviceID, desc host.FormatDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return host.NewDriverError(op, host.ResultNoDriver, nil)
	}
	if id < 0 || int(id) >= len(d.devices) {
		return host.NewDriverError(op, host.ResultBadDeviceID, nil)
	}
	reported := d.devices[id].Channels(dir)
	if reported == 0 {
		return host.NewDriverError(op, host.ResultBadDeviceID, nil)
	}
	if desc.Channels < 1 || (reported != host.WildcardChannels && desc.Channels > reported) {
		return host.NewDriverError(op, host.ResultBadFormat, nil)
	}
	if d.rejectExtensible && desc.Layout == host.LayoutExtensible {
		return host.NewDriverError(op, host.ResultBadFormat, nil)
	}
	if d.rates != nil && !slices.Contains(d.rates, desc.SampleRate) {
		return host.NewDriverError(op, host.ResultBadFormat, nil)
	}
	if d.formats != nil && !slices.Contains(d.formats, desc.Format) {
		return host.NewDriverError(op, host.ResultBadFormat, nil)
	}
	return nil
}

func (d *Driver) openCheck(op string, dir host.Direction, id host.DeviceID, desc host.FormatDescriptor) error {
	if err := d.check(op, dir, id, desc); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.failOpen[id]; ok {
		return host.NewDriverError(op, r, nil)
	}
	return nil
}

// OpenBuffered implements host.BufferedDriver.
func (d *Driver) OpenBuffered(dir host.Direction, id host.DeviceID, desc host.FormatDescriptor, ready *host.Event) (host.BufferedDevice, error) {
	if err := d.openCheck("open buffered", dir, id, desc); err != nil {
		return nil, err
	}

	dev := newBufferedDevice(d, dir, id, desc, ready)
	d.mu.Lock()
	d.buffered = append(d.buffered, dev)
	d.mu.Unlock()

	d.log.Debug("buffered device opened",
		logger.String("direction", dir.String()),
		logger.Int("device", int(id)),
		logger.String("format", desc.String()))
	return dev, nil
}

// OpenRing implements host.RingDriver.
func (d *Driver) OpenRing(dir host.Direction, id host.DeviceID, desc host.FormatDescriptor, sizeBytes int) (host.RingDevice, error) {
	if err := d.openCheck("open ring", dir, id, desc); err != nil {
		return nil, err
	}
	if sizeBytes < desc.FrameSize() || sizeBytes%desc.FrameSize() != 0 {
		return nil, host.NewDriverError("open ring", host.ResultError, nil)
	}

	ring := newRingDevice(d, dir, id, desc, sizeBytes)
	d.mu.Lock()
	d.rings = append(d.rings, ring)
	d.mu.Unlock()

	d.log.Debug("ring device opened",
		logger.String("direction", dir.String()),
		logger.Int("device", int(id)),
		logger.Int("size_bytes", sizeBytes))
	return ring, nil
}

// BufferedDevices returns every buffered device opened so far.
func (d *Driver) BufferedDevices() []*BufferedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.buffered)
}

// RingDevices returns every ring device opened so far.
func (d *Driver) RingDevices() []*RingDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.rings)
}

// Close implements host.Driver. Devices still open are not closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// ManualClock only moves when advanced.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManualClock returns a clock at zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now implements host.Clock.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
