package audiostream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/host/sim"
	"github.com/tphakala/audiostream/internal/audiostream/latency"
	"github.com/tphakala/audiostream/internal/logger"
)

// newManualPollEngine builds an output engine on a 100 frame stereo int16 ring
// at 1 kHz, driven by a manual clock.
func newManualPollEngine(t *testing.T, cb Callback) (*pollEngine, *sim.ManualClock) {
	t.Helper()

	clk := sim.NewManualClock()
	drv := sim.New(sim.WithClock(clk))
	t.Cleanup(func() { _ = drv.Close() })

	desc := host.FormatDescriptor{Layout: host.LayoutMinimal, Format: host.Int16, Channels: 2, SampleRate: 1000}
	dev, err := drv.OpenRing(host.Output, 0, desc, 400)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	ring := latency.RingPlan(latency.RingRequest{SampleRate: 1000, MinLatency: 100 * time.Millisecond})
	require.Equal(t, 100, ring.Frames)

	layout := &sampleLayout{channels: 2, user: host.Int16, host: host.Int16}
	e, err := newPollEngine(&pollEngineConfig{
		id:       "test",
		log:      logger.Discard(),
		out:      &ringSide{dev: dev, size: 400, frameSize: 4, channels: 2},
		proc:     newProcessor(cb, 0, 1000, nil, layout, ring.Frames),
		rate:     1000,
		ring:     ring,
		clock:    clk,
		observer: NopObserver{},
	})
	require.NoError(t, err)
	return e, clk
}

func TestPollOutputSpaceFollowsPlayCursor(t *testing.T) {
	t.Parallel()

	var frames []int
	var flags []CallbackFlags
	e, clk := newManualPollEngine(t, func(_, _ []byte, n int, _ TimeInfo, f CallbackFlags) CallbackResult {
		frames = append(frames, n)
		flags = append(flags, f)
		return Continue
	})
	require.NoError(t, e.startOutput())
	assert.Equal(t, int64(100), e.framesWritten, "the silent ring counts as queued")

	clk.Advance(30 * time.Millisecond)
	_, err := e.timeSlice()
	require.NoError(t, err)
	assert.Equal(t, []int{30}, frames)
	assert.Equal(t, int64(30), e.framesPlayed)
	assert.Equal(t, int64(130), e.framesWritten)
	assert.Equal(t, 120, e.writeOffset)
	assert.Equal(t, int64(0), e.underflowCount())

	// One and a half rings without service: the cursor wrapped past the
	// write offset, which is moved to the write cursor.
	clk.Advance(150 * time.Millisecond)
	_, err = e.timeSlice()
	require.NoError(t, err)
	assert.Equal(t, int64(180), e.framesPlayed)
	assert.Equal(t, int64(1), e.underflowCount())
	require.Len(t, frames, 2)
	assert.Equal(t, 90, frames[1])
	assert.Equal(t, OutputUnderflow, flags[1])
	assert.Equal(t, 320, e.writeOffset, "write cursor 360 plus 360 bytes wraps")

	require.NoError(t, e.stopRings())
}

func TestPollTimeSliceRoundsToUserBuffers(t *testing.T) {
	t.Parallel()

	var frames []int
	e, clk := newManualPollEngine(t, func(_, _ []byte, n int, _ TimeInfo, _ CallbackFlags) CallbackResult {
		frames = append(frames, n)
		return Continue
	})
	e.proc.framesPerBuffer = 8
	require.NoError(t, e.startOutput())

	clk.Advance(30 * time.Millisecond)
	_, err := e.timeSlice()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8, 8}, frames, "30 free frames round down to 24")
	assert.Equal(t, 96, e.writeOffset)

	clk.Advance(5 * time.Millisecond)
	_, err = e.timeSlice()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8, 8, 8}, frames, "11 free frames leave one user buffer")
	require.NoError(t, e.stopRings())
}

func TestPollTickDrainsAfterStop(t *testing.T) {
	t.Parallel()

	e, clk := newManualPollEngine(t, func(_, _ []byte, _ int, _ TimeInfo, _ CallbackFlags) CallbackResult {
		return Complete
	})
	require.NoError(t, e.startOutput())

	clk.Advance(10 * time.Millisecond)
	assert.True(t, e.tick())
	assert.True(t, e.stopFlag.Load(), "Complete requests a drain")

	clk.Advance(50 * time.Millisecond)
	assert.True(t, e.tick(), "queued frames are still playing")

	clk.Advance(60 * time.Millisecond)
	assert.False(t, e.tick(), "everything written has played")
	require.NoError(t, e.stopRings())
}
