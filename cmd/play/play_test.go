package play

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
)

func writeWAV(t *testing.T, path string, rate, channels, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = (i % 200) * 100
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func simRuntime() *app.Runtime {
	return app.NewRuntime(&conf.Settings{Audio: conf.AudioSettings{
		Backend: app.BackendSim,
		Engine:  "auto",
		Output:  conf.DeviceSettings{Device: "default", Latency: 0.05},
	}})
}

func TestRunPlaysWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, path, 48000, 2, 4800)

	frames, err := Run(context.Background(), simRuntime(), path)
	require.NoError(t, err)
	assert.EqualValues(t, 4800, frames)
}

func TestRunRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file"), 0o600))

	_, err := Run(context.Background(), simRuntime(), path)
	require.Error(t, err)

	_, err = Run(context.Background(), simRuntime(), filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}
