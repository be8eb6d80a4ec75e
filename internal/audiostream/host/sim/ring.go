package sim

import (
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
)

// writeLead is how far the output write cursor runs ahead of the play cursor.
const writeLead = 10 * time.Millisecond

// RingDevice is a simulated device of the ring model. Cursors follow the
// driver clock while running.
type RingDevice struct {
	drv  *Driver
	dir  host.Direction
	id   host.DeviceID
	desc host.FormatDescriptor

	mu        sync.Mutex
	data      []byte
	frames    int64
	leadBytes int
	running   bool
	closed    bool
	startAt   time.Duration
	base      int64 // absolute frame position when last started or moved
	consumed  int64 // output frames already recorded, input frames already synthesized
	played    []byte
	locks     int
}

func newRingDevice(drv *Driver, dir host.Direction, id host.DeviceID, desc host.FormatDescriptor, size int) *RingDevice {
	fs := desc.FrameSize()
	r := &RingDevice{
		drv:    drv,
		dir:    dir,
		id:     id,
		desc:   desc,
		data:   make([]byte, size),
		frames: int64(size / fs),
	}
	lead := int(float64(writeLead)*desc.SampleRate/float64(time.Second)) * fs
	r.leadBytes = max(fs, min(lead, size/2/fs*fs))
	if dir == host.Output {
		silence := convert.Silence(desc.Format)
		for i := range r.data {
			r.data[i] = silence
		}
	}
	return r
}

func (r *RingDevice) positionLocked() int64 {
	if !r.running {
		return r.base
	}
	elapsed := r.drv.clock.Now() - r.startAt
	return r.base + int64(float64(elapsed)*r.desc.SampleRate/float64(time.Second))
}

// SizeBytes implements host.RingDevice.
func (r *RingDevice) SizeBytes() int { return len(r.data) }

// Cursors implements host.RingDevice.
func (r *RingDevice) Cursors() (hw, safe int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, 0, host.NewDriverError("cursors", host.ResultInvalidHandle, nil)
	}

	pos := r.positionLocked()
	fs := r.desc.FrameSize()
	hw = int(pos%r.frames) * fs

	if r.dir == host.Input {
		r.synthesizeLocked(pos)
		return hw, hw, nil
	}

	r.recordLocked(pos)
	if !r.running {
		return hw, hw, nil
	}
	return hw, (hw + r.leadBytes) % len(r.data), nil
}

// recordLocked copies output the play cursor has passed into the history.
func (r *RingDevice) recordLocked(pos int64) {
	if pos-r.consumed > r.frames {
		r.consumed = pos - r.frames
	}
	fs := r.desc.FrameSize()
	for ; r.consumed < pos; r.consumed++ {
		off := int(r.consumed%r.frames) * fs
		r.played = append(r.played, r.data[off:off+fs]...)
	}
	if over := len(r.played) - maxRecordedBytes; over > 0 {
		r.played = r.played[over:]
	}
}

// synthesizeLocked writes input frames up to the capture position.
func (r *RingDevice) synthesizeLocked(pos int64) {
	if pos-r.consumed > r.frames {
		r.consumed = pos - r.frames
	}
	fs := r.desc.FrameSize()
	size := r.desc.Format.Size()
	for ; r.consumed < pos; r.consumed++ {
		off := int(r.consumed%r.frames) * fs
		for ch := range r.desc.Channels {
			convert.PutSample(r.data[off+ch*size:], r.desc.Format, r.drv.source(r.consumed, ch))
		}
	}
}

// Lock implements host.RingDevice.
func (r *RingDevice) Lock(offset, n int) (first, second []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, host.NewDriverError("lock", host.ResultInvalidHandle, nil)
	}
	size := len(r.data)
	if offset < 0 || offset >= size || n < 0 || n > size {
		return nil, nil, host.NewDriverError("lock", host.ResultError, nil)
	}
	r.locks++
	if offset+n <= size {
		return r.data[offset : offset+n], nil, nil
	}
	return r.data[offset:], r.data[:offset+n-size], nil
}

// Unlock implements host.RingDevice.
func (r *RingDevice) Unlock(_, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == 0 {
		return host.NewDriverError("unlock", host.ResultError, nil)
	}
	r.locks--
	return nil
}

// SetPosition implements host.RingDevice.
func (r *RingDevice) SetPosition(offset int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || offset < 0 || offset >= len(r.data) {
		return host.NewDriverError("set position", host.ResultError, nil)
	}
	r.base = int64(offset / r.desc.FrameSize())
	r.consumed = r.base
	return nil
}

// Start implements host.RingDevice.
func (r *RingDevice) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return host.NewDriverError("start", host.ResultInvalidHandle, nil)
	}
	if r.running {
		return nil
	}
	r.running = true
	r.startAt = r.drv.clock.Now()
	return nil
}

// Stop implements host.RingDevice.
func (r *RingDevice) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return host.NewDriverError("stop", host.ResultInvalidHandle, nil)
	}
	if !r.running {
		return nil
	}
	r.base = r.positionLocked()
	r.running = false
	return nil
}

// Close implements host.RingDevice.
func (r *RingDevice) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return host.NewDriverError("close", host.ResultInvalidHandle, nil)
	}
	r.closed = true
	r.running = false
	return nil
}

// Direction returns the device direction.
func (r *RingDevice) Direction() host.Direction { return r.dir }

// Running reports whether the cursors are moving.
func (r *RingDevice) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Closed reports whether Close succeeded.
func (r *RingDevice) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Played returns a copy of the output the play cursor has passed, as observed
// by Cursors calls.
func (r *RingDevice) Played() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.played...)
}
