package malgo

import (
	"testing"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream/host"
)

func TestFormatType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   host.SampleFormat
		want malgo.FormatType
		ok   bool
	}{
		{host.Float32, malgo.FormatF32, true},
		{host.Int32, malgo.FormatS32, true},
		{host.Int24, malgo.FormatS24, true},
		{host.Int16, malgo.FormatS16, true},
		{host.UInt8, malgo.FormatU8, true},
		{host.Int8, malgo.FormatUnknown, false},
	}
	for _, tt := range tests {
		got, ok := formatType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("formatType(%s) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDeviceQueueConsumesOutput(t *testing.T) {
	t.Parallel()

	ready := host.NewEvent()
	desc := host.FormatDescriptor{Format: host.Int16, Channels: 1, SampleRate: 8000}
	dev := &Device{dir: host.Output, desc: desc, ready: ready}

	b := host.NewBuffer(8)
	for i := range b.Data {
		b.Data[i] = byte(i + 1)
	}
	require.NoError(t, dev.Prepare(b))
	b.SetPrepared(true)
	require.NoError(t, dev.Submit(b))
	assert.False(t, b.Done())

	out := make([]byte, 12)
	dev.onData(out, nil, 6)
	assert.True(t, b.Done())
	assert.True(t, ready.Wait(time.Second))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0}, out)
	assert.Equal(t, int64(2), dev.StarvedFrames())

	pos, err := dev.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
}

func TestDeviceQueueFillsInput(t *testing.T) {
	t.Parallel()

	desc := host.FormatDescriptor{Format: host.UInt8, Channels: 2, SampleRate: 8000}
	dev := &Device{dir: host.Input, desc: desc, ready: host.NewEvent()}

	first, second := host.NewBuffer(4), host.NewBuffer(4)
	for _, b := range []*host.Buffer{first, second} {
		b.SetPrepared(true)
		require.NoError(t, dev.Submit(b))
	}

	dev.onData(nil, []byte{1, 2, 3, 4, 5, 6}, 3)
	assert.True(t, first.Done())
	assert.False(t, second.Done())
	assert.Equal(t, []byte{1, 2, 3, 4}, first.Data)

	require.Error(t, dev.Unprepare(second), "queued buffers cannot be unprepared")
}

func TestSubmitRequiresPrepare(t *testing.T) {
	t.Parallel()

	dev := &Device{dir: host.Output, desc: host.FormatDescriptor{Format: host.Int16, Channels: 1}, ready: host.NewEvent()}
	err := dev.Submit(host.NewBuffer(2))
	assert.Equal(t, host.ResultUnprepared, host.ResultOf(err))
}

func TestNullBackendPlayback(t *testing.T) {
	drv, err := New(WithBackends(malgo.BackendNull))
	if err != nil {
		t.Skipf("miniaudio null backend unavailable: %v", err)
	}
	defer func() { assert.NoError(t, drv.Close()) }()

	caps, err := drv.Devices()
	require.NoError(t, err)
	out := host.NoDevice
	for i, c := range caps {
		if c.OutputChannels > 0 {
			out = host.DeviceID(i)
			break
		}
	}
	if out == host.NoDevice {
		t.Skip("null backend lists no playback device")
	}

	desc := host.FormatDescriptor{Format: host.Int16, Channels: 2, SampleRate: 48000}
	require.NoError(t, drv.Query(host.Output, out, desc))

	ready := host.NewEvent()
	dev, err := drv.OpenBuffered(host.Output, out, desc, ready)
	require.NoError(t, err)

	b := host.NewBuffer(256 * 4)
	require.NoError(t, dev.Prepare(b))
	b.SetPrepared(true)
	require.NoError(t, dev.Submit(b))
	require.NoError(t, dev.Start())

	assert.Eventually(t, b.Done, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, dev.Reset())
	require.NoError(t, dev.Close())
}

func TestRingCallbackAdvancesCursor(t *testing.T) {
	t.Parallel()

	desc := host.FormatDescriptor{Format: host.Int16, Channels: 1, SampleRate: 8000}
	r := newRingDevice(host.Output, desc, 8, 1)
	assert.Equal(t, 2, r.lead)

	first, second, err := r.Lock(6, 4)
	require.NoError(t, err)
	copy(first, []byte{7, 8})
	copy(second, []byte{1, 2})
	require.NoError(t, r.Unlock(first, second))
	require.NoError(t, r.SetPosition(6))

	out := make([]byte, 4)
	r.onData(out, nil, 2)
	assert.Equal(t, []byte{7, 8, 1, 2}, out)

	hw, safe, err := r.Cursors()
	require.NoError(t, err)
	assert.Equal(t, 2, hw)
	assert.Equal(t, 2, safe, "a stopped ring has no lead")
}
