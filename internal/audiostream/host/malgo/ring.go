package malgo

import (
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
)

// RingDevice is a circular buffer serviced by the miniaudio period callback.
// The safe cursor leads the play cursor by one period, the part miniaudio may
// already have handed to the backend.
type RingDevice struct {
	dir    host.Direction
	desc   host.FormatDescriptor
	device *malgo.Device
	lead   int // bytes

	mu      sync.Mutex
	data    []byte
	cursor  int // bytes, play or capture position
	running bool
	closed  bool
	locks   int
}

func newRingDevice(dir host.Direction, desc host.FormatDescriptor, size int, periodFrames uint32) *RingDevice {
	fs := desc.FrameSize()
	r := &RingDevice{
		dir:  dir,
		desc: desc,
		data: make([]byte, size),
		lead: min(int(periodFrames)*fs, size/2/fs*fs),
	}
	if dir == host.Output {
		silence := convert.Silence(desc.Format)
		for i := range r.data {
			r.data[i] = silence
		}
	}
	return r
}

func (r *RingDevice) onData(output, input []byte, frameCount uint32) {
	n := int(frameCount) * r.desc.FrameSize()

	r.mu.Lock()
	defer r.mu.Unlock()
	size := len(r.data)
	for done := 0; done < n; {
		chunk := min(n-done, size-r.cursor)
		if r.dir == host.Output {
			copy(output[done:done+chunk], r.data[r.cursor:r.cursor+chunk])
		} else {
			copy(r.data[r.cursor:r.cursor+chunk], input[done:done+chunk])
		}
		r.cursor = (r.cursor + chunk) % size
		done += chunk
	}
}

func (r *RingDevice) onStop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
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
	if r.dir == host.Input || !r.running {
		return r.cursor, r.cursor, nil
	}
	return r.cursor, (r.cursor + r.lead) % len(r.data), nil
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
	if r.running || offset < 0 || offset >= len(r.data) || offset%r.desc.FrameSize() != 0 {
		return host.NewDriverError("set position", host.ResultError, nil)
	}
	r.cursor = offset
	return nil
}

// Start implements host.RingDevice.
func (r *RingDevice) Start() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return host.NewDriverError("start", host.ResultInvalidHandle, nil)
	}
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	if err := r.device.Start(); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return host.NewDriverError("start", host.ResultError, err)
	}
	return nil
}

// Stop implements host.RingDevice.
func (r *RingDevice) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return host.NewDriverError("stop", host.ResultInvalidHandle, nil)
	}
	running := r.running
	r.running = false
	r.mu.Unlock()

	if !running {
		return nil
	}
	if err := r.device.Stop(); err != nil {
		return host.NewDriverError("stop", host.ResultError, err)
	}
	return nil
}

// Close implements host.RingDevice.
func (r *RingDevice) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return host.NewDriverError("close", host.ResultInvalidHandle, nil)
	}
	r.closed = true
	r.running = false
	r.mu.Unlock()

	r.device.Uninit()
	return nil
}
