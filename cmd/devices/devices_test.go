package devices

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
)

func TestDevicesListsSimulatedDirectory(t *testing.T) {
	settings := &conf.Settings{Audio: conf.AudioSettings{Backend: app.BackendSim}}
	cmd := Command(app.NewRuntime(settings))

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--probe"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "Backend: sim")
	assert.Contains(t, text, "ID")
	assert.Contains(t, text, "rates:")
	assert.Contains(t, text, "48000")
}

func TestChannels(t *testing.T) {
	tests := []struct {
		n          int
		unverified bool
		want       string
	}{
		{0, false, "0"},
		{2, false, "2"},
		{2, true, "2?"},
	}
	for _, tt := range tests {
		if got := channels(tt.n, tt.unverified); got != tt.want {
			t.Errorf("channels(%d, %v) = %q, want %q", tt.n, tt.unverified, got, tt.want)
		}
	}
}
