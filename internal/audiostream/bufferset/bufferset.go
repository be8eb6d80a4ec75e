// Package bufferset manages the buffers of one stream direction across one or
// more devices. Buffer i of every device is advanced together, so the set
// behaves like a single ring of N buffers whose frames are split by channel.
//
// A Set is not safe for concurrent use. One goroutine (the engine or the
// blocking caller) owns the cursor; devices only flip done bits.
package bufferset

import (
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/errors"
)

// Set is the buffer ring for one direction.
type Set struct {
	dir             host.Direction
	devices         []host.BufferedDevice
	channels        []int
	sampleSize      int
	framesPerBuffer int
	silence         byte

	buffers [][]*host.Buffer // [device][buffer]

	index      int
	framesUsed int
}

// Config describes the ring to build.
type Config struct {
	Direction       host.Direction
	Devices         []host.BufferedDevice
	Channels        []int // per device
	SampleSize      int   // host bytes per sample
	FramesPerBuffer int
	BufferCount     int
	Silence         byte
}

// Open allocates and prepares the buffers. On failure every buffer prepared so
// far is unprepared in reverse order; the devices stay open and belong to the
// caller. On success the Set owns the devices.
func Open(cfg Config) (*Set, error) {
	if len(cfg.Devices) == 0 || len(cfg.Devices) != len(cfg.Channels) {
		return nil, errors.Newf("bufferset: %d devices for %d channel counts", len(cfg.Devices), len(cfg.Channels)).
			Component("audiostream.bufferset").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.BufferCount < 1 || cfg.FramesPerBuffer < 1 || cfg.SampleSize < 1 {
		return nil, errors.Newf("bufferset: invalid geometry %d x %d frames", cfg.BufferCount, cfg.FramesPerBuffer).
			Component("audiostream.bufferset").
			Category(errors.CategoryBuffer).
			Build()
	}

	s := &Set{
		dir:             cfg.Direction,
		devices:         cfg.Devices,
		channels:        cfg.Channels,
		sampleSize:      cfg.SampleSize,
		framesPerBuffer: cfg.FramesPerBuffer,
		silence:         cfg.Silence,
		buffers:         make([][]*host.Buffer, len(cfg.Devices)),
	}

	for d, dev := range cfg.Devices {
		size := cfg.FramesPerBuffer * cfg.Channels[d] * cfg.SampleSize
		s.buffers[d] = make([]*host.Buffer, 0, cfg.BufferCount)
		for range cfg.BufferCount {
			b := host.NewBuffer(size)
			b.Zero(cfg.Silence)
			if err := dev.Prepare(b); err != nil {
				_ = s.Release()
				return nil, errors.New(err).
					Component("audiostream.bufferset").
					Category(errors.CategoryBuffer).
					DeviceContext(cfg.Direction.String(), d, cfg.Channels[d]).
					Context("operation", "prepare").
					Build()
			}
			b.SetPrepared(true)
			s.buffers[d] = append(s.buffers[d], b)
		}
	}
	return s, nil
}

// Direction returns the direction of the ring.
func (s *Set) Direction() host.Direction { return s.dir }

// Count returns N.
func (s *Set) Count() int { return len(s.buffers[0]) }

// FramesPerBuffer returns the frames in one buffer.
func (s *Set) FramesPerBuffer() int { return s.framesPerBuffer }

// Frames returns the frames in the whole ring.
func (s *Set) Frames() int { return s.framesPerBuffer * s.Count() }

// DeviceCount returns the number of aggregated devices.
func (s *Set) DeviceCount() int { return len(s.devices) }

// Channels returns the total channels across devices.
func (s *Set) Channels() int {
	total := 0
	for _, c := range s.channels {
		total += c
	}
	return total
}

// Index returns the current buffer.
func (s *Set) Index() int { return s.index }

// FramesUsed returns frames consumed from the current buffer.
func (s *Set) FramesUsed() int { return s.framesUsed }

// Remaining returns frames left in the current buffer.
func (s *Set) Remaining() int { return s.framesPerBuffer - s.framesUsed }

// Full reports whether the current buffer has been consumed.
func (s *Set) Full() bool { return s.framesUsed == s.framesPerBuffer }

// Consume marks n more frames of the current buffer used.
func (s *Set) Consume(n int) {
	s.framesUsed = min(s.framesUsed+n, s.framesPerBuffer)
}

// ResetCursor rewinds to buffer 0.
func (s *Set) ResetCursor() {
	s.index = 0
	s.framesUsed = 0
}

// Done reports whether buffer i is done on every device.
func (s *Set) Done(i int) bool {
	for d := range s.buffers {
		if !s.buffers[d][i].Done() {
			return false
		}
	}
	return true
}

// CurrentDone reports whether the current buffer is done on every device.
func (s *Set) CurrentDone() bool { return s.Done(s.index) }

// NoneQueued reports whether every buffer is done, meaning the device has
// nothing left to play or fill.
func (s *Set) NoneQueued() bool {
	for i := range s.Count() {
		if !s.Done(i) {
			return false
		}
	}
	return true
}

// AvailableFrames returns frames that can be transferred without waiting: the
// rest of the current buffer plus every consecutive done buffer after it.
func (s *Set) AvailableFrames() int {
	if !s.CurrentDone() {
		return 0
	}
	frames := s.Remaining()
	n := s.Count()
	for i := (s.index + 1) % n; i != s.index && s.Done(i); i = (i + 1) % n {
		frames += s.framesPerBuffer
	}
	return frames
}

// SubmitAt queues buffer i on every device.
func (s *Set) SubmitAt(i int) error {
	for d, dev := range s.devices {
		b := s.buffers[d][i]
		b.ClearDone()
		if err := dev.Submit(b); err != nil {
			b.MarkDone()
			return s.deviceError(err, d, "submit")
		}
	}
	return nil
}

// Advance submits the current buffer and moves to the next one.
func (s *Set) Advance() error {
	err := s.SubmitAt(s.index)
	s.index = (s.index + 1) % s.Count()
	s.framesUsed = 0
	return err
}

// CatchUpInput discards all but the newest captured buffer.
func (s *Set) CatchUpInput() error {
	for range s.Count() - 1 {
		if err := s.Advance(); err != nil {
			return err
		}
	}
	return nil
}

// CatchUpOutput refills a starved output ring by repeating the previous buffer.
func (s *Set) CatchUpOutput() error {
	n := s.Count()
	for range n - 1 {
		prev := (s.index + n - 1) % n
		for d := range s.buffers {
			copy(s.buffers[d][s.index].Data, s.buffers[d][prev].Data)
		}
		if err := s.Advance(); err != nil {
			return err
		}
	}
	return nil
}

// Queue submits every buffer and rewinds the cursor. Used to start capture.
func (s *Set) Queue() error {
	for i := range s.Count() {
		if err := s.SubmitAt(i); err != nil {
			return err
		}
	}
	s.ResetCursor()
	return nil
}

// Regions returns the next frames of the current buffer, one region per device.
func (s *Set) Regions(frames int) []host.Region {
	return s.RegionsAt(s.index, s.framesUsed, frames)
}

// RegionsAt returns frames of buffer i starting at offset.
func (s *Set) RegionsAt(i, offset, frames int) []host.Region {
	regions := make([]host.Region, len(s.buffers))
	for d := range s.buffers {
		fs := s.channels[d] * s.sampleSize
		regions[d] = host.Region{
			Data:     s.buffers[d][i].Data[offset*fs : (offset+frames)*fs],
			Channels: s.channels[d],
		}
	}
	return regions
}

// ZeroRemaining pads the rest of the current buffer with silence and marks it
// full.
func (s *Set) ZeroRemaining() {
	for _, r := range s.Regions(s.Remaining()) {
		for i := range r.Data {
			r.Data[i] = s.silence
		}
	}
	s.framesUsed = s.framesPerBuffer
}

// ZeroAll fills every buffer with silence.
func (s *Set) ZeroAll() {
	for d := range s.buffers {
		for _, b := range s.buffers[d] {
			b.Zero(s.silence)
		}
	}
}

// Start starts every device.
func (s *Set) Start() error {
	return s.each("start", host.BufferedDevice.Start)
}

// Pause pauses every device.
func (s *Set) Pause() error {
	return s.each("pause", host.BufferedDevice.Pause)
}

// Reset stops every device and returns all queued buffers. Every device is
// reset even if one fails.
func (s *Set) Reset() error {
	var errs []error
	for d, dev := range s.devices {
		if err := dev.Reset(); err != nil {
			errs = append(errs, s.deviceError(err, d, "reset"))
		}
	}
	return errors.Join(errs...)
}

// Position returns the first device's position in frames.
func (s *Set) Position() (int64, error) {
	return s.devices[0].Position()
}

// Release unprepares every buffer, last device first.
func (s *Set) Release() error {
	var errs []error
	for d := len(s.buffers) - 1; d >= 0; d-- {
		for i := len(s.buffers[d]) - 1; i >= 0; i-- {
			b := s.buffers[d][i]
			if !b.Prepared() {
				continue
			}
			if err := s.devices[d].Unprepare(b); err != nil {
				errs = append(errs, s.deviceError(err, d, "unprepare"))
				continue
			}
			b.SetPrepared(false)
		}
	}
	return errors.Join(errs...)
}

// CloseDevices closes every device, last first.
func (s *Set) CloseDevices() error {
	var errs []error
	for d := len(s.devices) - 1; d >= 0; d-- {
		if err := s.devices[d].Close(); err != nil {
			errs = append(errs, s.deviceError(err, d, "close"))
		}
	}
	return errors.Join(errs...)
}

func (s *Set) each(op string, fn func(host.BufferedDevice) error) error {
	for d, dev := range s.devices {
		if err := fn(dev); err != nil {
			return s.deviceError(err, d, op)
		}
	}
	return nil
}

func (s *Set) deviceError(err error, d int, op string) error {
	return errors.New(err).
		Component("audiostream.bufferset").
		Category(errors.CategoryAudioDevice).
		DeviceContext(s.dir.String(), d, s.channels[d]).
		Context("operation", op).
		Build()
}
