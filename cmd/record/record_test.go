package record

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
)

func TestRunWritesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")
	rt := app.NewRuntime(&conf.Settings{
		Audio: conf.AudioSettings{
			Backend:    app.BackendSim,
			SampleRate: 16000,
			Format:     "int16",
			Engine:     "auto",
			Input:      conf.DeviceSettings{Device: "default", Channels: 1, Latency: 0.02},
		},
		Recorder: conf.RecorderSettings{Path: path, BufferSeconds: 2, BitDepth: 16},
	})

	res, err := Run(context.Background(), rt, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Positive(t, res.Frames)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	d := wav.NewDecoder(f)
	require.True(t, d.IsValidFile())
	assert.EqualValues(t, 16000, d.SampleRate)
	assert.EqualValues(t, 1, d.NumChans)
}

func TestRunRequiresInput(t *testing.T) {
	rt := app.NewRuntime(&conf.Settings{
		Audio: conf.AudioSettings{
			Backend: app.BackendSim, SampleRate: 16000, Format: "int16", Engine: "auto",
		},
		Recorder: conf.RecorderSettings{Path: filepath.Join(t.TempDir(), "x.wav"), BitDepth: 16},
	})
	_, err := Run(context.Background(), rt, time.Millisecond)
	require.Error(t, err)
}
