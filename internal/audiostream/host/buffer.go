package host

import "sync/atomic"

// Buffer is one caller-owned block exchanged with a BufferedDevice.
//
// Data is only touched by the engine while Done reports true. The done bit is
// written by the device and the engine, never concurrently for the same buffer.
type Buffer struct {
	Data []byte

	done     atomic.Bool
	prepared atomic.Bool
}

// NewBuffer allocates a buffer of size bytes. New buffers are done, meaning
// not queued.
func NewBuffer(size int) *Buffer {
	b := &Buffer{Data: make([]byte, size)}
	b.done.Store(true)
	return b
}

// Done reports whether the device has finished with the buffer.
func (b *Buffer) Done() bool { return b.done.Load() }

// MarkDone is called by devices when a buffer completes.
func (b *Buffer) MarkDone() { b.done.Store(true) }

// ClearDone marks the buffer as queued.
func (b *Buffer) ClearDone() { b.done.Store(false) }

// Prepared reports whether the buffer is registered with a device.
func (b *Buffer) Prepared() bool { return b.prepared.Load() }

// SetPrepared is called by the buffer owner after Prepare and Unprepare succeed.
func (b *Buffer) SetPrepared(v bool) { b.prepared.Store(v) }

// Zero fills the buffer with the silence byte.
func (b *Buffer) Zero(silence byte) {
	for i := range b.Data {
		b.Data[i] = silence
	}
}

// Region is a run of interleaved frames on one device.
type Region struct {
	Data     []byte
	Channels int
}
