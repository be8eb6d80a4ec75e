package host

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format SampleFormat
		size   int
	}{
		{Float32, 4},
		{Int32, 4},
		{Int24, 3},
		{Int16, 2},
		{Int8, 1},
		{UInt8, 1},
		{SampleFormat(99), 0},
	}
	for _, tt := range tests {
		if got := tt.format.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.format, got, tt.size)
		}
	}
}

func TestParseSampleFormat(t *testing.T) {
	t.Parallel()

	for _, f := range []SampleFormat{Float32, Int32, Int24, Int16, Int8, UInt8} {
		got, err := ParseSampleFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseSampleFormat("float64")
	require.Error(t, err)
}

func TestFormatDescriptorSizes(t *testing.T) {
	t.Parallel()

	d := FormatDescriptor{Format: Int16, Channels: 2, SampleRate: 44100}
	assert.Equal(t, 4, d.FrameSize())
	assert.Equal(t, 176400, d.BytesPerSecond())
	assert.Contains(t, d.String(), "extensible")
}

func TestEventCoalescesSignals(t *testing.T) {
	t.Parallel()

	e := NewEvent()
	e.Signal()
	e.Signal()
	assert.True(t, e.Wait(10*time.Millisecond))
	assert.False(t, e.Wait(10*time.Millisecond), "second signal should have coalesced")

	e.Signal()
	e.Reset()
	assert.False(t, e.Wait(5*time.Millisecond))
}

func TestBufferDoneBit(t *testing.T) {
	t.Parallel()

	b := NewBuffer(8)
	assert.True(t, b.Done(), "new buffers are not queued")
	b.ClearDone()
	assert.False(t, b.Done())
	b.MarkDone()
	assert.True(t, b.Done())

	b.Zero(0x80)
	for i, v := range b.Data {
		if v != 0x80 {
			t.Fatalf("byte %d = %#x, want 0x80", i, v)
		}
	}
}

func TestResultOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ResultOK, ResultOf(nil))
	assert.Equal(t, ResultError, ResultOf(fmt.Errorf("plain")))

	de := NewDriverError("open", ResultAllocated, nil)
	wrapped := fmt.Errorf("opening device 3: %w", de)
	assert.Equal(t, ResultAllocated, ResultOf(wrapped))
	assert.Contains(t, de.Error(), "device already allocated")
}

func TestClockOfFallsBackToSystemClock(t *testing.T) {
	t.Parallel()

	c := ClockOf(nil)
	require.NotNil(t, c)
	first := c.Now()
	time.Sleep(time.Millisecond)
	assert.Greater(t, c.Now(), first)
}
