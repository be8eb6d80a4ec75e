package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
)

func TestSelectBufferSizeAndCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		baseSize  int
		requested int
		minCount  int
		maxSize   int
		wantSize  int
		wantCount int
	}{
		{"shrinks count to minimum", 64, 0, 2, 4096, 64, 2},
		{"shrinks count partially", 64, 100, 2, 4096, 64, 3},
		{"exact base latency", 64, 192, 2, 4096, 64, 4},
		{"doubles power of two", 64, 7056, 2, 17640, 2048, 5},
		{"ceiling stops doubling", 64, 7056, 2, 512, 512, 15},
		{"grows by multiples", 48, 1000, 2, 10000, 288, 5},
		{"multiples respect ceiling", 48, 1000, 2, 100, 96, 12},
		{"full duplex input minimum", 64, 0, 3, 4096, 64, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			size, count := SelectBufferSizeAndCount(tt.baseSize, tt.requested, BaseBufferCount, tt.minCount, tt.maxSize)
			if size != tt.wantSize || count != tt.wantCount {
				t.Errorf("SelectBufferSizeAndCount() = (%d, %d), want (%d, %d)", size, count, tt.wantSize, tt.wantCount)
			}
		})
	}
}

func TestSelectBufferSizeAndCountProperties(t *testing.T) {
	t.Parallel()

	const (
		base     = 64
		maxSize  = 4096
		minCount = MinOutputBufferCount
	)

	prev := 0
	for requested := 0; requested <= 40000; requested += 7 {
		size, count := SelectBufferSizeAndCount(base, requested, BaseBufferCount, minCount, maxSize)
		realized := size * (count - 1)

		require.GreaterOrEqual(t, count, minCount, "requested %d", requested)
		require.LessOrEqual(t, size, maxSize, "requested %d", requested)
		require.Zero(t, size%base, "requested %d", requested)
		require.GreaterOrEqual(t, realized, requested, "requested %d", requested)
		require.GreaterOrEqual(t, realized, prev, "realized latency decreased at requested %d", requested)
		prev = realized
	}
}

func TestReselectBufferCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 11, ReselectBufferCount(1024, 9600, BaseBufferCount, MinOutputBufferCount))
	assert.Equal(t, 2, ReselectBufferCount(1024, 0, BaseBufferCount, MinOutputBufferCount))
	assert.Equal(t, 3, ReselectBufferCount(1024, 0, BaseBufferCount, MinInputBufferCountFullDuplex))
	assert.Equal(t, 4, ReselectBufferCount(1024, 3072, BaseBufferCount, MinOutputBufferCount))
}

func int16Dir(channels int, latency time.Duration) *DirectionRequest {
	return &DirectionRequest{Channels: channels, SampleSize: 2, Latency: latency}
}

func TestCalculateOutputOnlyScenario(t *testing.T) {
	t.Parallel()

	plans, err := Calculate(Request{
		SampleRate: 44100,
		Output:     int16Dir(2, 40*time.Millisecond),
	})
	require.NoError(t, err)

	assert.Equal(t, Plan{FramesPerBuffer: 512, BufferCount: 5}, plans.Output)
	assert.Equal(t, Plan{}, plans.Input)
	assert.GreaterOrEqual(t, plans.Output.Latency(44100), 40*time.Millisecond)
	assert.LessOrEqual(t, plans.Output.FramesPerBuffer*4, maxBufferBytes(44100, 4))
}

func TestCalculateFullDuplexReconcilesOnSmallerSize(t *testing.T) {
	t.Parallel()

	plans, err := Calculate(Request{
		SampleRate: 48000,
		Input:      int16Dir(1, 20*time.Millisecond),
		Output:     int16Dir(2, 50*time.Millisecond),
	})
	require.NoError(t, err)

	assert.Equal(t, Plan{FramesPerBuffer: 256, BufferCount: 5}, plans.Input)
	assert.Equal(t, Plan{FramesPerBuffer: 256, BufferCount: 11}, plans.Output)
	assert.GreaterOrEqual(t, plans.Output.Latency(48000), 50*time.Millisecond)
}

func TestCalculateExplicitOutputOnly(t *testing.T) {
	t.Parallel()

	out := int16Dir(2, 0)
	out.LowLevel, out.FramesPerBuffer, out.BufferCount = true, 480, 3

	plans, err := Calculate(Request{
		SampleRate: 48000,
		Input:      int16Dir(1, 20*time.Millisecond),
		Output:     out,
	})
	require.NoError(t, err)
	assert.Equal(t, Plan{FramesPerBuffer: 480, BufferCount: 3}, plans.Output)
	assert.Equal(t, Plan{FramesPerBuffer: 480, BufferCount: MinInputBufferCountFullDuplex}, plans.Input)
}

func TestCalculateErrors(t *testing.T) {
	t.Parallel()

	lowLevel := func(channels, frames, count int) *DirectionRequest {
		d := int16Dir(channels, 0)
		d.LowLevel, d.FramesPerBuffer, d.BufferCount = true, frames, count
		return d
	}

	tests := []struct {
		name    string
		req     Request
		wantErr error
		// early reports whether CheckExplicit refuses the request without a
		// sample size.
		early bool
	}{
		{
			name:    "zero buffer count",
			req:     Request{SampleRate: 48000, Output: lowLevel(2, 256, 0)},
			wantErr: streamerr.ErrIncompatibleBufferParameters,
			early:   true,
		},
		{
			name:    "zero frames per buffer",
			req:     Request{SampleRate: 48000, Input: lowLevel(2, 0, 3)},
			wantErr: streamerr.ErrIncompatibleBufferParameters,
			early:   true,
		},
		{
			name:    "sizes not multiples",
			req:     Request{SampleRate: 48000, Input: lowLevel(2, 256, 3), Output: lowLevel(2, 384, 3)},
			wantErr: streamerr.ErrIncompatibleBufferParameters,
			early:   true,
		},
		{
			name:    "host size not multiple of user size",
			req:     Request{SampleRate: 48000, FramesPerBuffer: 100, Output: lowLevel(2, 250, 3)},
			wantErr: streamerr.ErrIncompatibleBufferParameters,
			early:   true,
		},
		{
			name:    "explicit buffer above hard maximum",
			req:     Request{SampleRate: 48000, Output: lowLevel(2, 16384, 2)},
			wantErr: streamerr.ErrBufferTooBig,
		},
		{
			name:    "user buffer above hard maximum",
			req:     Request{SampleRate: 48000, FramesPerBuffer: 20000, Output: int16Dir(2, 0)},
			wantErr: streamerr.ErrBufferTooBig,
		},
		{
			name:    "ceiling below one frame",
			req:     Request{SampleRate: 5, Output: int16Dir(2, 0)},
			wantErr: streamerr.ErrBufferTooSmall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Calculate(tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			err = CheckExplicit(tt.req)
			if tt.early {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckExplicitIgnoresSampleSize(t *testing.T) {
	t.Parallel()

	in := &DirectionRequest{Channels: 2, LowLevel: true, FramesPerBuffer: 256, BufferCount: 3}
	out := &DirectionRequest{Channels: 2, LowLevel: true, FramesPerBuffer: 512, BufferCount: 2}
	require.NoError(t, CheckExplicit(Request{SampleRate: 48000, FramesPerBuffer: 128, Input: in, Output: out}))
	require.NoError(t, CheckExplicit(Request{SampleRate: 48000, Output: int16Dir(2, 0)}))
}

// A user buffer longer than the 0.1 s ceiling but under the hard maximum is
// used as the host buffer size unchanged.
func TestCalculateKeepsUserBufferAboveCeiling(t *testing.T) {
	t.Parallel()

	out := int16Dir(4, 200*time.Millisecond)
	plans, err := Calculate(Request{SampleRate: 8000, FramesPerBuffer: 1000, Output: out})
	require.NoError(t, err)
	assert.Equal(t, 1000, plans.Output.FramesPerBuffer)
	assert.Greater(t, plans.Output.FramesPerBuffer*8, maxBufferBytes(8000, 8))
	assert.GreaterOrEqual(t, plans.Output.BufferCount, MinOutputBufferCount)
}

func TestCalculateExplicitMultiples(t *testing.T) {
	t.Parallel()

	in := int16Dir(2, 0)
	in.LowLevel, in.FramesPerBuffer, in.BufferCount = true, 256, 3
	out := int16Dir(2, 0)
	out.LowLevel, out.FramesPerBuffer, out.BufferCount = true, 512, 2

	plans, err := Calculate(Request{SampleRate: 48000, Input: in, Output: out})
	require.NoError(t, err)
	assert.Equal(t, 256, plans.Input.FramesPerBuffer)
	assert.Equal(t, 512, plans.Output.FramesPerBuffer)
}

func TestCalculateMultiDeviceUsesWidestDevice(t *testing.T) {
	t.Parallel()

	out := &DirectionRequest{Channels: 6, DeviceChannels: []int{2, 4}, SampleSize: 2, Latency: 40 * time.Millisecond}
	assert.Equal(t, 8, out.frameSize())

	_, err := Calculate(Request{SampleRate: 48000, Output: out})
	require.NoError(t, err)
}

func TestRingPlan(t *testing.T) {
	t.Parallel()

	unspecified := RingPlan(RingRequest{SampleRate: 48000, MinLatency: 120 * time.Millisecond})
	assert.Equal(t, 5760, unspecified.Frames)
	assert.Equal(t, 30*time.Millisecond, unspecified.TimerPeriod)
	assert.InDelta(t, float64(144*time.Millisecond), float64(unspecified.StopTimeout), float64(time.Microsecond))

	fixed := RingPlan(RingRequest{SampleRate: 48000, FramesPerBuffer: 256, MinLatency: 120 * time.Millisecond})
	assert.Equal(t, 256*24, fixed.Frames)
	assert.InDelta(t, float64(256*23)/48000, fixed.OutputLatency.Seconds(), 1e-6)

	suggested := RingPlan(RingRequest{SampleRate: 48000, OutputLatency: 200 * time.Millisecond, MinLatency: 120 * time.Millisecond})
	assert.Equal(t, 9600, suggested.Frames)

	tiny := RingPlan(RingRequest{SampleRate: 48000, MinLatency: 10 * time.Millisecond})
	assert.Equal(t, minTimerPeriod, tiny.TimerPeriod)

	huge := RingPlan(RingRequest{SampleRate: 8000, MinLatency: 2 * time.Second})
	assert.Equal(t, maxTimerPeriod, huge.TimerPeriod)
}

func TestMinLatency(t *testing.T) {
	t.Setenv(MinLatencyEnvVar, "200")
	assert.Equal(t, 200*time.Millisecond, MinLatency(0))
	assert.Equal(t, 50*time.Millisecond, MinLatency(50*time.Millisecond))

	t.Setenv(MinLatencyEnvVar, "fast")
	assert.Equal(t, DefaultMinLatency, MinLatency(0))
}
