package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
)

func TestConfigPrintsAndSaves(t *testing.T) {
	settings := &conf.Settings{Audio: conf.AudioSettings{Backend: "sim", SampleRate: 44100}}
	rt := app.NewRuntime(settings)

	cmd := Command(rt)
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "backend: sim")

	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")
	cmd = Command(rt)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--save", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back conf.Settings
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.InDelta(t, 44100, back.Audio.SampleRate, 0)
}
