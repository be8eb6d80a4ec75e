// Package host defines the driver abstraction the stream engines run against.
//
// A driver exposes a device directory and one or both device models:
//
//   - BufferedDriver: the caller owns a fixed set of buffers, submits them to the
//     device and is told through an Event when the device has finished with one.
//     The event engine and the blocking adapter run on this model.
//   - RingDriver: the device owns one circular buffer and reports a hardware cursor
//     and a safe cursor. The poll engine runs on this model.
package host

import "time"

// Direction selects capture or playback.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// DeviceID indexes the driver's device directory.
type DeviceID int

// NoDevice marks an unused direction or a missing default.
const NoDevice DeviceID = -1

// WildcardChannels is reported by drivers that cannot tell how many channels a
// device supports.
const WildcardChannels = 0xFFFF

// Capabilities is a raw directory entry as reported by the driver.
type Capabilities struct {
	Name            string
	HostID          string // backend specific identifier, informational
	InputChannels   int
	OutputChannels  int
	IsDefaultInput  bool
	IsDefaultOutput bool
}

// Channels returns the reported channel count for dir.
func (c Capabilities) Channels(dir Direction) int {
	if dir == Input {
		return c.InputChannels
	}
	return c.OutputChannels
}

// Driver is the part every backend implements.
type Driver interface {
	Name() string
	Devices() ([]Capabilities, error)
	// Query reports whether the device would accept desc without keeping it open.
	Query(dir Direction, id DeviceID, desc FormatDescriptor) error
	Close() error
}

// BufferedDriver opens devices that consume caller-owned buffers.
type BufferedDriver interface {
	Driver
	// OpenBuffered opens the device. The device signals ready every time it marks
	// a submitted buffer done.
	OpenBuffered(dir Direction, id DeviceID, desc FormatDescriptor, ready *Event) (BufferedDevice, error)
}

// BufferedDevice is one open device of a BufferedDriver.
//
// Submit clears the buffer's done bit and queues it. The device sets the done
// bit when it has played (output) or filled (input) the buffer. Reset stops the
// device and returns every queued buffer marked done.
type BufferedDevice interface {
	Prepare(b *Buffer) error
	Unprepare(b *Buffer) error
	Submit(b *Buffer) error
	Start() error
	Pause() error
	Reset() error
	// Position returns frames played or captured since the device was opened.
	Position() (int64, error)
	Close() error
}

// RingDriver opens devices that own a circular buffer.
type RingDriver interface {
	Driver
	OpenRing(dir Direction, id DeviceID, desc FormatDescriptor, sizeBytes int) (RingDevice, error)
}

// RingDevice is one open device of a RingDriver.
//
// For output, Cursors returns the play cursor and the write cursor; bytes between
// them are committed to the hardware. For input it returns the capture cursor and
// the read cursor; bytes before the read cursor are valid.
type RingDevice interface {
	SizeBytes() int
	Cursors() (hw, safe int, err error)
	// Lock returns the ring bytes [offset, offset+n) as at most two slices when the
	// range wraps.
	Lock(offset, n int) (first, second []byte, err error)
	Unlock(first, second []byte) error
	// SetPosition moves the play cursor of a stopped output ring.
	SetPosition(offset int) error
	Start() error
	Stop() error
	Close() error
}

// Clock reports monotonic time since an arbitrary origin.
type Clock interface {
	Now() time.Duration
}

// ClockProvider is implemented by drivers whose devices run on their own clock.
// Engines use it for cursor extrapolation and stream time.
type ClockProvider interface {
	Clock() Clock
}

// SystemClock measures wall time from its creation.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock returns a clock starting at zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// Now implements Clock.
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.origin)
}

// ClockOf returns the driver clock or a new system clock.
func ClockOf(d Driver) Clock {
	if cp, ok := d.(ClockProvider); ok {
		if c := cp.Clock(); c != nil {
			return c
		}
	}
	return NewSystemClock()
}
