package bufferset

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream/host"
)

// fakeDevice records calls and leaves completion to the test.
type fakeDevice struct {
	queued      []*host.Buffer
	prepared    int
	failPrepare int // fail the nth Prepare, 1 based
	calls       []string
	closed      bool
}

func (f *fakeDevice) Prepare(*host.Buffer) error {
	f.prepared++
	if f.failPrepare > 0 && f.prepared == f.failPrepare {
		return fmt.Errorf("prepare %d failed", f.prepared)
	}
	return nil
}

func (f *fakeDevice) Unprepare(*host.Buffer) error {
	f.prepared--
	return nil
}

func (f *fakeDevice) Submit(b *host.Buffer) error {
	b.ClearDone()
	f.queued = append(f.queued, b)
	return nil
}

func (f *fakeDevice) Start() error {
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeDevice) Pause() error {
	f.calls = append(f.calls, "pause")
	return nil
}

func (f *fakeDevice) Reset() error {
	f.calls = append(f.calls, "reset")
	f.completeAll()
	return nil
}

func (f *fakeDevice) Position() (int64, error) { return 0, nil }

func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

// complete finishes the oldest n queued buffers.
func (f *fakeDevice) complete(n int) {
	for range min(n, len(f.queued)) {
		f.queued[0].MarkDone()
		f.queued = f.queued[1:]
	}
}

func (f *fakeDevice) completeAll() { f.complete(len(f.queued)) }

func newSet(t *testing.T, dir host.Direction, channels []int, frames, count int) (*Set, []*fakeDevice) {
	t.Helper()
	devs := make([]*fakeDevice, len(channels))
	hostDevs := make([]host.BufferedDevice, len(channels))
	for i := range channels {
		devs[i] = &fakeDevice{}
		hostDevs[i] = devs[i]
	}
	s, err := Open(Config{
		Direction:       dir,
		Devices:         hostDevs,
		Channels:        channels,
		SampleSize:      2,
		FramesPerBuffer: frames,
		BufferCount:     count,
	})
	require.NoError(t, err)
	return s, devs
}

func TestOpenRollsBackOnPrepareFailure(t *testing.T) {
	t.Parallel()

	good := &fakeDevice{}
	bad := &fakeDevice{failPrepare: 2}
	_, err := Open(Config{
		Direction:       host.Output,
		Devices:         []host.BufferedDevice{good, bad},
		Channels:        []int{2, 2},
		SampleSize:      2,
		FramesPerBuffer: 4,
		BufferCount:     3,
	})
	require.Error(t, err)
	assert.Equal(t, 0, good.prepared, "first device buffers must be unprepared")
	assert.Equal(t, 1, bad.prepared, "the failed prepare is not undone")
}

func TestOpenRejectsBadGeometry(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Devices: []host.BufferedDevice{&fakeDevice{}}, Channels: []int{2}, SampleSize: 2, FramesPerBuffer: 0, BufferCount: 2})
	require.Error(t, err)
	_, err = Open(Config{Devices: []host.BufferedDevice{&fakeDevice{}}, Channels: []int{2, 2}, SampleSize: 2, FramesPerBuffer: 4, BufferCount: 2})
	require.Error(t, err)
}

func TestAdvanceWrapsAround(t *testing.T) {
	t.Parallel()

	s, devs := newSet(t, host.Output, []int{2}, 4, 3)
	for i := range 3 {
		assert.Equal(t, i, s.Index())
		s.Consume(4)
		require.NoError(t, s.Advance())
		assert.Zero(t, s.FramesUsed())
	}
	assert.Equal(t, 0, s.Index(), "N advances return to the start")
	assert.Len(t, devs[0].queued, 3)
	assert.False(t, s.Done(0))
}

func TestDoneRequiresEveryDevice(t *testing.T) {
	t.Parallel()

	s, devs := newSet(t, host.Input, []int{1, 1}, 4, 2)
	require.NoError(t, s.Queue())
	assert.False(t, s.CurrentDone())

	devs[0].complete(1)
	assert.False(t, s.CurrentDone(), "one device done is not enough")
	devs[1].complete(1)
	assert.True(t, s.CurrentDone())
	assert.False(t, s.NoneQueued())

	devs[0].completeAll()
	devs[1].completeAll()
	assert.True(t, s.NoneQueued())
}

func TestAvailableFrames(t *testing.T) {
	t.Parallel()

	s, devs := newSet(t, host.Input, []int{2}, 4, 4)
	require.NoError(t, s.Queue())
	assert.Zero(t, s.AvailableFrames())

	devs[0].complete(2)
	assert.Equal(t, 8, s.AvailableFrames())

	s.Consume(3)
	assert.Equal(t, 5, s.AvailableFrames())

	devs[0].completeAll()
	assert.Equal(t, 13, s.AvailableFrames())
}

func TestCatchUpOutputRepeatsPreviousBuffer(t *testing.T) {
	t.Parallel()

	s, devs := newSet(t, host.Output, []int{1}, 2, 3)

	// write a recognizable pattern into buffer 0 and submit it
	copy(s.Regions(2)[0].Data, []byte{1, 2, 3, 4})
	s.Consume(2)
	require.NoError(t, s.Advance())
	devs[0].completeAll()

	require.True(t, s.NoneQueued())
	require.NoError(t, s.CatchUpOutput())

	assert.Equal(t, 0, s.Index(), "two catch-up advances from index 1")
	for i := range 3 {
		assert.Equal(t, []byte{1, 2, 3, 4}, s.buffers[0][i].Data, "buffer %d", i)
	}
	assert.Len(t, devs[0].queued, 2)
}

func TestCatchUpInputKeepsNewest(t *testing.T) {
	t.Parallel()

	s, devs := newSet(t, host.Input, []int{1}, 2, 4)
	require.NoError(t, s.Queue())
	devs[0].completeAll()

	require.NoError(t, s.CatchUpInput())
	assert.Equal(t, 3, s.Index())
	assert.True(t, s.CurrentDone(), "newest buffer stays available")
	assert.Equal(t, 2, s.AvailableFrames())
}

func TestZeroRemainingPadsPartialBuffer(t *testing.T) {
	t.Parallel()

	s, _ := newSet(t, host.Output, []int{1}, 4, 2)
	copy(s.Regions(2)[0].Data, []byte{9, 9, 9, 9})
	s.Consume(2)
	copy(s.buffers[0][0].Data[4:], []byte{7, 7, 7, 7})

	s.ZeroRemaining()
	assert.True(t, s.Full())
	assert.Equal(t, []byte{9, 9, 9, 9, 0, 0, 0, 0}, s.buffers[0][0].Data)
}

func TestReleaseAndCloseOrder(t *testing.T) {
	t.Parallel()

	s, devs := newSet(t, host.Output, []int{2, 2}, 4, 2)
	require.NoError(t, s.Start())
	require.NoError(t, s.Reset())
	require.NoError(t, s.Release())
	require.NoError(t, s.CloseDevices())

	for _, d := range devs {
		assert.Zero(t, d.prepared)
		assert.True(t, d.closed)
		assert.Equal(t, []string{"start", "reset"}, d.calls)
	}
	// a second release is a no-op
	require.NoError(t, s.Release())
	assert.Zero(t, devs[0].prepared)
}

func TestGatherScatterAcrossDevices(t *testing.T) {
	t.Parallel()

	// two frames, device A has 1 channel, device B has 2 channels, 1 byte samples
	a := host.Region{Data: []byte{0xA0, 0xA1}, Channels: 1}
	b := host.Region{Data: []byte{0xB0, 0xB1, 0xB2, 0xB3}, Channels: 2}

	dst := make([]byte, 6)
	Gather(dst, []host.Region{a, b}, 1, 2)
	assert.Equal(t, []byte{0xA0, 0xB0, 0xB1, 0xA1, 0xB2, 0xB3}, dst)

	a2 := host.Region{Data: make([]byte, 2), Channels: 1}
	b2 := host.Region{Data: make([]byte, 4), Channels: 2}
	Scatter([]host.Region{a2, b2}, dst, 1, 2)
	assert.True(t, bytes.Equal(a.Data, a2.Data))
	assert.True(t, bytes.Equal(b.Data, b2.Data))
}
