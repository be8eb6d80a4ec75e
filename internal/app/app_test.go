package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/logger"
)

func simSettings() *conf.Settings {
	return &conf.Settings{
		Audio: conf.AudioSettings{
			Backend:    BackendSim,
			SampleRate: 48000,
			Format:     "float32",
			Engine:     "auto",
			Input:      conf.DeviceSettings{Device: "default", Channels: 1},
			Output:     conf.DeviceSettings{Device: "default", Channels: 2},
		},
	}
}

func openSim(t *testing.T) *audiostream.HostAPI {
	t.Helper()
	api, err := OpenHost(simSettings(), logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = api.Close() })
	return api
}

func TestNewDriverRejectsUnknownBackend(t *testing.T) {
	_, err := NewDriver("jack", logger.Discard())
	require.Error(t, err)
}

func TestResolveDevice(t *testing.T) {
	api := openSim(t)
	devices := api.Devices()
	require.NotEmpty(t, devices)

	tests := []struct {
		dir      host.Direction
		selector string
		want     host.DeviceID
		wantErr  bool
	}{
		{host.Output, "default", api.DefaultOutputDevice(), false},
		{host.Input, "", api.DefaultInputDevice(), false},
		{host.Output, "0", 0, false},
		{host.Output, "99", host.NoDevice, true},
		{host.Output, "no such device", host.NoDevice, true},
	}
	for _, tt := range tests {
		got, err := ResolveDevice(api, tt.dir, tt.selector)
		if (err != nil) != tt.wantErr {
			t.Errorf("ResolveDevice(%s, %q) error = %v, wantErr %v", tt.dir, tt.selector, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveDevice(%s, %q) = %d, want %d", tt.dir, tt.selector, got, tt.want)
		}
	}

	// A name substring matches case-insensitively.
	out := devices[api.DefaultOutputDevice()]
	got, err := ResolveDevice(api, host.Output, out.Name)
	require.NoError(t, err)
	assert.Equal(t, out.ID, got)
}

func TestStreamConfig(t *testing.T) {
	api := openSim(t)
	s := simSettings()
	s.Audio.Output.Latency = 0.05
	s.Audio.Input.BufferCount = 4
	s.Audio.Input.FramesPerBuffer = 256
	s.Audio.NeverThrottle = true

	cfg, err := StreamConfig(api, &s.Audio, true, true, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg.Input)
	require.NotNil(t, cfg.Output)
	assert.Equal(t, host.Float32, cfg.Output.Format)
	assert.Equal(t, 50*time.Millisecond, cfg.Output.SuggestedLatency)
	assert.Equal(t, audiostream.UseLowLevelLatencyParameters, cfg.Input.Flags)
	assert.Equal(t, 256, cfg.Input.FramesPerBuffer)
	assert.Equal(t, audiostream.NeverThrottle, cfg.Flags)

	cfg, err = StreamConfig(api, &s.Audio, false, true, nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.Input)

	s.Audio.Format = "float64"
	_, err = StreamConfig(api, &s.Audio, false, true, nil)
	require.Error(t, err)
}

func TestParametersDisabledDirection(t *testing.T) {
	api := openSim(t)
	p, err := Parameters(api, host.Input, conf.DeviceSettings{Channels: 0}, host.Int16)
	require.NoError(t, err)
	assert.Nil(t, p)
}
