package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/errors"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	settings, err := load(viper.New(), []string{t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "auto", settings.Audio.Backend)
	assert.InDelta(t, 48000.0, settings.Audio.SampleRate, 0)
	assert.Equal(t, "float32", settings.Audio.Format)
	assert.Equal(t, 2, settings.Audio.Output.Channels)
	assert.Equal(t, "default", settings.Audio.Input.Device)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	yamlText := `
audio:
  backend: sim
  samplerate: 44100
  engine: poll
  output:
    channels: 6
    latency: 0.04
logging:
  default_level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlText), 0o600))

	settings, err := load(viper.New(), []string{dir})
	require.NoError(t, err)

	assert.Equal(t, "sim", settings.Audio.Backend)
	assert.Equal(t, "poll", settings.Audio.Engine)
	assert.InDelta(t, 44100.0, settings.Audio.SampleRate, 0)
	assert.Equal(t, 6, settings.Audio.Output.Channels)
	assert.InDelta(t, 0.04, settings.Audio.Output.Latency, 1e-9)
	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("AUDIOSTREAM_BACKEND", "sim")
	t.Setenv(MinLatencyEnvVar, "80")

	settings, err := load(viper.New(), []string{t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "sim", settings.Audio.Backend)
	assert.Equal(t, 80, settings.Audio.MinLatencyMsec)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("AUDIOSTREAM_ENGINE", "turbo")

	_, err := load(viper.New(), []string{t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIOSTREAM_ENGINE")
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		v := viper.New()
		setDefaultConfig(v)
		s := &Settings{}
		require.NoError(t, v.Unmarshal(s))
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"bad backend", func(s *Settings) { s.Audio.Backend = "alsa" }, true},
		{"bad rate", func(s *Settings) { s.Audio.SampleRate = 10 }, true},
		{"no channels", func(s *Settings) { s.Audio.Input.Channels = 0; s.Audio.Output.Channels = 0 }, true},
		{"half low level params", func(s *Settings) { s.Audio.Output.BufferCount = 3 }, true},
		{"full low level params", func(s *Settings) { s.Audio.Output.BufferCount = 3; s.Audio.Output.FramesPerBuffer = 256 }, false},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, true},
		{"bad bit depth", func(s *Settings) { s.Recorder.BitDepth = 12 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsCategory(err, errors.CategoryValidation) {
				t.Errorf("expected validation category, got %v", err)
			}
		})
	}
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	t.Parallel()

	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	require.NoError(t, v.Unmarshal(settings))
	settings.Audio.Backend = "sim"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, settings))

	loaded, err := load(viper.New(), []string{filepath.Dir(path)})
	require.NoError(t, err)
	assert.Equal(t, "sim", loaded.Audio.Backend)
}
