package audiostream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
)

func monoPiece(frames int, f host.SampleFormat) piece {
	return piece{
		regions: []host.Region{{Data: make([]byte, frames*f.Size()), Channels: 1}},
		frames:  frames,
	}
}

func TestProcessorSplitsIntoUserBlocks(t *testing.T) {
	t.Parallel()

	var sizes []int
	var times []time.Duration
	cb := func(_, out []byte, frames int, ti TimeInfo, _ CallbackFlags) CallbackResult {
		sizes = append(sizes, frames)
		times = append(times, ti.CurrentTime)
		for i := range frames {
			convert.PutSample(out[i*4:], host.Float32, 0.5)
		}
		return Continue
	}

	layout := &sampleLayout{channels: 1, user: host.Float32, host: host.Int16}
	p := newProcessor(cb, 4, 1000, nil, layout, 8)
	out := monoPiece(8, host.Int16)

	res := p.process(8, nil, []piece{out}, TimeInfo{}, 0)
	assert.Equal(t, Continue, res)
	assert.Equal(t, []int{4, 4}, sizes)
	assert.Equal(t, []time.Duration{0, 4 * time.Millisecond}, times)

	data := out.regions[0].Data
	for i := range 8 {
		assert.InDelta(t, 0.5, convert.Sample(data[i*2:], host.Int16), 1e-3, "frame %d", i)
	}
}

func TestProcessorSilencesAfterComplete(t *testing.T) {
	t.Parallel()

	calls := 0
	cb := func(_, out []byte, frames int, _ TimeInfo, _ CallbackFlags) CallbackResult {
		calls++
		for i := range frames {
			convert.PutSample(out[i*2:], host.Int16, 0.25)
		}
		return Complete
	}

	layout := &sampleLayout{channels: 1, user: host.Int16, host: host.Int16}
	p := newProcessor(cb, 4, 1000, nil, layout, 8)
	out := monoPiece(8, host.Int16)

	res := p.process(8, nil, []piece{out}, TimeInfo{}, 0)
	assert.Equal(t, Complete, res)
	assert.Equal(t, 1, calls)

	data := out.regions[0].Data
	assert.InDelta(t, 0.25, convert.Sample(data[0:], host.Int16), 1e-3)
	assert.InDelta(t, 0.0, convert.Sample(data[4*2:], host.Int16), 0)

	// Not called again until reset.
	p.process(8, nil, []piece{out}, TimeInfo{}, 0)
	assert.Equal(t, 1, calls)
	p.reset()
	p.process(4, nil, []piece{monoPiece(4, host.Int16)}, TimeInfo{}, 0)
	assert.Equal(t, 2, calls)
}

func TestProcessorOnlyFirstBlockSeesXrunFlags(t *testing.T) {
	t.Parallel()

	var got []CallbackFlags
	cb := func(_, _ []byte, _ int, _ TimeInfo, flags CallbackFlags) CallbackResult {
		got = append(got, flags)
		return Continue
	}
	layout := &sampleLayout{channels: 1, user: host.Int16, host: host.Int16}
	p := newProcessor(cb, 2, 1000, nil, layout, 6)

	p.process(6, nil, []piece{monoPiece(6, host.Int16)}, TimeInfo{}, OutputUnderflow|PrimingOutput)
	assert.Equal(t, []CallbackFlags{OutputUnderflow | PrimingOutput, PrimingOutput, PrimingOutput}, got)
}

func TestProcessorGathersInputAcrossPieces(t *testing.T) {
	t.Parallel()

	var captured []float64
	cb := func(in, _ []byte, frames int, _ TimeInfo, _ CallbackFlags) CallbackResult {
		for i := range frames {
			captured = append(captured, convert.Sample(in[i*4:], host.Float32))
		}
		return Continue
	}
	layout := &sampleLayout{channels: 1, user: host.Float32, host: host.Int16}
	p := newProcessor(cb, 0, 1000, layout, nil, 4)

	first, second := monoPiece(2, host.Int16), monoPiece(2, host.Int16)
	convert.PutSample(first.regions[0].Data[0:], host.Int16, 0.5)
	convert.PutSample(second.regions[0].Data[2:], host.Int16, -0.5)

	p.process(4, []piece{first, second}, nil, TimeInfo{}, 0)
	require.Len(t, captured, 4)
	assert.InDelta(t, 0.5, captured[0], 1e-3)
	assert.InDelta(t, 0.0, captured[1], 1e-3)
	assert.InDelta(t, 0.0, captured[2], 1e-3)
	assert.InDelta(t, -0.5, captured[3], 1e-3)
}

func TestCPULoadFilter(t *testing.T) {
	t.Parallel()

	c := newCPULoad(1000)
	c.store(1)
	c.start = time.Now().Add(-10 * time.Millisecond)
	c.end(10)
	assert.InDelta(t, 1.0, c.value(), 0.1)

	c.end(0)
	assert.InDelta(t, 1.0, c.value(), 0.1, "empty buffers leave the load unchanged")

	c.reset()
	assert.InDelta(t, 0.0, c.value(), 0)
}

func TestCallbackFlagsString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flags CallbackFlags
		want  string
	}{
		{0, "none"},
		{OutputUnderflow, "output_underflow"},
		{InputOverflow | PrimingOutput, "input_overflow|priming_output"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("CallbackFlags(%d).String() = %q, want %q", tt.flags, got, tt.want)
		}
	}
}

func TestParseEngineKind(t *testing.T) {
	t.Parallel()

	for _, k := range []EngineKind{EngineAuto, EngineEvent, EnginePoll} {
		got, ok := ParseEngineKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseEngineKind("turbo")
	assert.False(t, ok)
}
