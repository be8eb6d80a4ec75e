package sim

import (
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
)

// BufferedDevice is a simulated device of the buffered model.
type BufferedDevice struct {
	drv   *Driver
	dir   host.Direction
	id    host.DeviceID
	desc  host.FormatDescriptor
	ready *host.Event

	mu        sync.Mutex
	queue     []*host.Buffer
	headUsed  int
	running   bool
	closed    bool
	last      time.Duration
	carry     float64
	position  int64
	captured  int64
	starved   int64
	completed int
	played    []byte

	quit chan struct{}
	done chan struct{}
}

func newBufferedDevice(drv *Driver, dir host.Direction, id host.DeviceID, desc host.FormatDescriptor, ready *host.Event) *BufferedDevice {
	d := &BufferedDevice{
		drv:   drv,
		dir:   dir,
		id:    id,
		desc:  desc,
		ready: ready,
		// output devices play as soon as buffers arrive, input waits for Start
		running: dir == host.Output,
		last:    drv.clock.Now(),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if drv.manual {
		close(d.done)
		return d
	}
	go d.run()
	return d
}

func (d *BufferedDevice) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.drv.tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.advance()
		}
	}
}

func (d *BufferedDevice) advance() {
	now := d.drv.clock.Now()

	d.mu.Lock()
	elapsed := now - d.last
	d.last = now
	if !d.running || d.closed {
		d.mu.Unlock()
		return
	}
	d.carry += float64(elapsed) * d.desc.SampleRate / float64(time.Second)
	frames := int(d.carry)
	d.carry -= float64(frames)
	completed := d.consumeLocked(frames)
	d.mu.Unlock()

	if completed > 0 {
		d.ready.Signal()
	}
}

// consumeLocked moves frames through the queue and returns how many buffers
// completed. Frames arriving with nothing queued are lost.
func (d *BufferedDevice) consumeLocked(frames int) int {
	completed := 0
	fs := d.desc.FrameSize()
	for frames > 0 && len(d.queue) > 0 {
		head := d.queue[0]
		need := len(head.Data)/fs - d.headUsed
		take := min(need, frames)
		d.headUsed += take
		d.position += int64(take)
		frames -= take
		if d.headUsed == len(head.Data)/fs {
			d.completeHeadLocked()
			completed++
		}
	}
	d.starved += int64(frames)
	return completed
}

func (d *BufferedDevice) completeHeadLocked() {
	head := d.queue[0]
	d.queue = d.queue[1:]
	d.headUsed = 0

	if d.dir == host.Output {
		d.played = append(d.played, head.Data...)
		if over := len(d.played) - maxRecordedBytes; over > 0 {
			d.played = d.played[over:]
		}
	} else {
		d.fillLocked(head.Data)
	}
	d.completed++
	head.MarkDone()
}

func (d *BufferedDevice) fillLocked(data []byte) {
	size := d.desc.Format.Size()
	fs := d.desc.FrameSize()
	for off := 0; off+fs <= len(data); off += fs {
		for ch := range d.desc.Channels {
			convert.PutSample(data[off+ch*size:], d.desc.Format, d.drv.source(d.captured, ch))
		}
		d.captured++
	}
}

// Complete finishes up to n queued buffers immediately and returns how many
// completed. Position advances by their length.
func (d *BufferedDevice) Complete(n int) int {
	d.mu.Lock()
	fs := d.desc.FrameSize()
	completed := 0
	for completed < n && len(d.queue) > 0 {
		d.position += int64(len(d.queue[0].Data)/fs - d.headUsed)
		d.completeHeadLocked()
		completed++
	}
	d.mu.Unlock()

	if completed > 0 {
		d.ready.Signal()
	}
	return completed
}

// Prepare implements host.BufferedDevice.
func (d *BufferedDevice) Prepare(b *host.Buffer) error {
	if len(b.Data) == 0 || len(b.Data)%d.desc.FrameSize() != 0 {
		return host.NewDriverError("prepare", host.ResultError, nil)
	}
	return d.checkOpen("prepare")
}

// Unprepare implements host.BufferedDevice.
func (d *BufferedDevice) Unprepare(b *host.Buffer) error {
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
func (d *BufferedDevice) Submit(b *host.Buffer) error {
	if !b.Prepared() {
		return host.NewDriverError("submit", host.ResultUnprepared, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return host.NewDriverError("submit", host.ResultInvalidHandle, nil)
	}
	b.ClearDone()
	d.queue = append(d.queue, b)
	return nil
}

// Start implements host.BufferedDevice.
func (d *BufferedDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return host.NewDriverError("start", host.ResultInvalidHandle, nil)
	}
	d.running = true
	d.last = d.drv.clock.Now()
	d.carry = 0
	return nil
}

// Pause implements host.BufferedDevice.
func (d *BufferedDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return host.NewDriverError("pause", host.ResultInvalidHandle, nil)
	}
	d.running = false
	return nil
}

// Reset implements host.BufferedDevice.
func (d *BufferedDevice) Reset() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return host.NewDriverError("reset", host.ResultInvalidHandle, nil)
	}
	d.running = false
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

// Position implements host.BufferedDevice. Reset rewinds it to zero.
func (d *BufferedDevice) Position() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, host.NewDriverError("position", host.ResultInvalidHandle, nil)
	}
	return d.position, nil
}

// Close implements host.BufferedDevice.
func (d *BufferedDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return host.NewDriverError("close", host.ResultInvalidHandle, nil)
	}
	if len(d.queue) > 0 {
		d.mu.Unlock()
		return host.NewDriverError("close", host.ResultStillPlaying, nil)
	}
	d.closed = true
	d.mu.Unlock()

	close(d.quit)
	<-d.done
	return nil
}

func (d *BufferedDevice) checkOpen(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return host.NewDriverError(op, host.ResultInvalidHandle, nil)
	}
	return nil
}

// Direction returns the device direction.
func (d *BufferedDevice) Direction() host.Direction { return d.dir }

// ID returns the directory index the device was opened with.
func (d *BufferedDevice) ID() host.DeviceID { return d.id }

// Descriptor returns the accepted format.
func (d *BufferedDevice) Descriptor() host.FormatDescriptor { return d.desc }

// Queued returns the number of buffers waiting on the device.
func (d *BufferedDevice) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Running reports whether the device is consuming buffers.
func (d *BufferedDevice) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Closed reports whether Close succeeded.
func (d *BufferedDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Completed returns the number of buffers finished since open.
func (d *BufferedDevice) Completed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// StarvedFrames returns frames that passed with nothing queued.
func (d *BufferedDevice) StarvedFrames() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starved
}

// Played returns a copy of the most recent output.
func (d *BufferedDevice) Played() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.played...)
}
