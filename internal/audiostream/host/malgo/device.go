package malgo

import (
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
)

// Device is one open miniaudio device exchanging caller buffers.
type Device struct {
	dir    host.Direction
	desc   host.FormatDescriptor
	ready  *host.Event
	device *malgo.Device

	mu       sync.Mutex
	queue    []*host.Buffer
	headUsed int
	running  bool
	closed   bool
	position int64
	starved  int64
}

// onData runs on the miniaudio thread once per period.
func (d *Device) onData(output, input []byte, frameCount uint32) {
	fs := d.desc.FrameSize()
	frames := int(frameCount)

	d.mu.Lock()
	completed := 0
	done := 0
	for done < frames && len(d.queue) > 0 {
		head := d.queue[0]
		take := min(len(head.Data)/fs-d.headUsed, frames-done)
		at := d.headUsed * fs
		if d.dir == host.Output {
			copy(output[done*fs:(done+take)*fs], head.Data[at:at+take*fs])
		} else {
			copy(head.Data[at:at+take*fs], input[done*fs:(done+take)*fs])
		}
		d.headUsed += take
		done += take
		if d.headUsed*fs == len(head.Data) {
			d.queue = d.queue[1:]
			d.headUsed = 0
			head.MarkDone()
			completed++
		}
	}
	d.position += int64(done)
	d.starved += int64(frames - done)
	d.mu.Unlock()

	if d.dir == host.Output && done < frames {
		silence := convert.Silence(d.desc.Format)
		for i := done * fs; i < frames*fs; i++ {
			output[i] = silence
		}
	}
	if completed > 0 {
		d.ready.Signal()
	}
}

func (d *Device) onStop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Device) checkOpen(op string) error {
	if d.closed {
		return host.NewDriverError(op, host.ResultInvalidHandle, nil)
	}
	return nil
}

// Prepare implements host.BufferedDevice.
func (d *Device) Prepare(b *host.Buffer) error {
	if len(b.Data) == 0 || len(b.Data)%d.desc.FrameSize() != 0 {
		return host.NewDriverError("prepare", host.ResultError, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkOpen("prepare")
}

// Unprepare implements host.BufferedDevice.
func (d *Device) Unprepare(b *host.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.queue {
		if q == b {
			return host.NewDriverError("unprepare", host.ResultStillPlaying, nil)
		}
	}
	return nil
}

// Submit implements host.BufferedDevice.
func (d *Device) Submit(b *host.Buffer) error {
	if !b.Prepared() {
		return host.NewDriverError("submit", host.ResultUnprepared, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen("submit"); err != nil {
		return err
	}
	b.ClearDone()
	d.queue = append(d.queue, b)
	return nil
}

// Start implements host.BufferedDevice.
func (d *Device) Start() error {
	d.mu.Lock()
	if err := d.checkOpen("start"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.mu.Unlock()

	// miniaudio calls back on its own thread; the lock must not be held here.
	if err := d.device.Start(); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return host.NewDriverError("start", host.ResultError, err)
	}
	return nil
}

// Pause implements host.BufferedDevice.
func (d *Device) Pause() error {
	d.mu.Lock()
	if err := d.checkOpen("pause"); err != nil {
		d.mu.Unlock()
		return err
	}
	running := d.running
	d.running = false
	d.mu.Unlock()

	if !running {
		return nil
	}
	if err := d.device.Stop(); err != nil {
		return host.NewDriverError("pause", host.ResultError, err)
	}
	return nil
}

// Reset implements host.BufferedDevice.
func (d *Device) Reset() error {
	if err := d.Pause(); err != nil {
		return err
	}

	d.mu.Lock()
	returned := len(d.queue)
	for _, b := range d.queue {
		b.MarkDone()
	}
	d.queue = nil
	d.headUsed = 0
	d.position = 0
	d.mu.Unlock()

	if returned > 0 {
		d.ready.Signal()
	}
	return nil
}

// Position implements host.BufferedDevice.
func (d *Device) Position() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen("position"); err != nil {
		return 0, err
	}
	return d.position, nil
}

// Close implements host.BufferedDevice.
func (d *Device) Close() error {
	d.mu.Lock()
	if err := d.checkOpen("close"); err != nil {
		d.mu.Unlock()
		return err
	}
	if len(d.queue) > 0 {
		d.mu.Unlock()
		return host.NewDriverError("close", host.ResultStillPlaying, nil)
	}
	d.closed = true
	d.running = false
	d.mu.Unlock()

	d.device.Uninit()
	return nil
}

// StarvedFrames returns frames played as silence or captured with nothing
// queued.
func (d *Device) StarvedFrames() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starved
}
