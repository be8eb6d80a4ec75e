package recorder

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/host/sim"
	"github.com/tphakala/audiostream/internal/convert"
	"github.com/tphakala/audiostream/internal/logger"
)

func decode(t *testing.T, path string) *wav.Decoder {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	d := wav.NewDecoder(f)
	require.True(t, d.IsValidFile(), "valid wav header")
	return d
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no path", Config{SampleRate: 48000, Channels: 1, Format: host.Int16, BitDepth: 16}},
		{"no rate", Config{Path: filepath.Join(dir, "a.wav"), Channels: 1, Format: host.Int16, BitDepth: 16}},
		{"no channels", Config{Path: filepath.Join(dir, "b.wav"), SampleRate: 48000, Format: host.Int16, BitDepth: 16}},
		{"odd depth", Config{Path: filepath.Join(dir, "c.wav"), SampleRate: 48000, Channels: 1, Format: host.Int16, BitDepth: 12}},
	}
	for _, tt := range tests {
		if _, err := New(tt.cfg, nil); err == nil {
			t.Errorf("%s: New() succeeded", tt.name)
		}
	}
}

func TestPushWritesFrames(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "take.wav")

	r, err := New(Config{Path: path, SampleRate: 8000, Channels: 2, Format: host.Int16, BitDepth: 16}, logger.Discard())
	require.NoError(t, err)
	r.Start(context.Background())

	block := make([]byte, 100*4)
	for i := range 200 {
		convert.PutSample(block[i*2:], host.Int16, 0.5)
	}
	for range 10 {
		r.Push(block, 100)
	}
	require.NoError(t, r.Close())

	assert.EqualValues(t, 1000, r.Written())
	assert.Zero(t, r.Dropped())

	d := decode(t, path)
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	assert.EqualValues(t, 8000, d.SampleRate)
	assert.EqualValues(t, 2, d.NumChans)
	require.Len(t, buf.Data, 2000)
	assert.Equal(t, 16384, buf.Data[0])
	assert.Equal(t, 16384, buf.Data[1999])
}

func TestPushDropsWhenFull(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "full.wav")

	// One second at 10 Hz mono int16 holds 10 frames; the writer is not started.
	r, err := New(Config{Path: path, SampleRate: 10, Channels: 1, Format: host.Int16, BitDepth: 16, BufferSeconds: 1}, nil)
	require.NoError(t, err)

	block := make([]byte, 8*2)
	r.Push(block, 8)
	r.Push(block, 8)
	assert.EqualValues(t, 8, r.Dropped())

	// Short buffers are ignored.
	r.Push(block[:3], 8)
	assert.EqualValues(t, 8, r.Dropped())

	require.NoError(t, r.Close())
	assert.Zero(t, r.Written())
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	r, err := New(Config{Path: filepath.Join(t.TempDir(), "x.wav"), SampleRate: 16000, Channels: 1, Format: host.Float32, BitDepth: 24}, nil)
	require.NoError(t, err)
	r.Start(context.Background())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestRecordsSimulatedInput(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sim.wav")

	api, err := audiostream.NewHostAPI(sim.New(), audiostream.WithLogger(logger.Discard()))
	require.NoError(t, err)
	defer func() { _ = api.Close() }()

	r, err := New(Config{Path: path, SampleRate: 48000, Channels: 2, Format: host.Float32, BitDepth: 16}, nil)
	require.NoError(t, err)
	r.Start(context.Background())

	var calls atomic.Int64
	s, err := api.OpenStream(context.Background(), audiostream.StreamConfig{
		Input: &audiostream.Parameters{
			Device:           api.DefaultInputDevice(),
			Channels:         2,
			Format:           host.Float32,
			SuggestedLatency: 20 * time.Millisecond,
		},
		SampleRate: 48000,
		Callback: r.Tee(func(_, _ []byte, _ int, _ audiostream.TimeInfo, _ audiostream.CallbackFlags) audiostream.CallbackResult {
			calls.Add(1)
			return audiostream.Continue
		}),
	})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return r.Written() >= 4800 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Close())
	require.NoError(t, r.Close())
	assert.Positive(t, calls.Load())

	d := decode(t, path)
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	peak := 0
	for _, v := range buf.Data {
		peak = max(peak, v)
	}
	assert.Greater(t, peak, 3000, "recorded the simulated sine")
}
