package latency

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
)

func simRuntime(engine string) *app.Runtime {
	return app.NewRuntime(&conf.Settings{Audio: conf.AudioSettings{
		Backend:    app.BackendSim,
		SampleRate: 48000,
		Format:     "float32",
		Engine:     engine,
		Input:      conf.DeviceSettings{Device: "default", Channels: 1},
		Output:     conf.DeviceSettings{Device: "default", Channels: 2, Latency: 0.05},
	}})
}

func TestLatencyCommand(t *testing.T) {
	tests := []struct {
		engine string
		args   []string
		want   []string
	}{
		{"event", nil, []string{"Engine:      event", "Output:      2 channels on 1 device(s)"}},
		{"event", []string{"--input", "--output"}, []string{"Input:       1 channels", "Output:"}},
		{"poll", nil, []string{"Engine:      poll", "Ring:"}},
	}
	for _, tt := range tests {
		cmd := Command(simRuntime(tt.engine))
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(tt.args)
		require.NoError(t, cmd.Execute(), tt.engine)
		for _, w := range tt.want {
			assert.Contains(t, out.String(), w)
		}
	}
}
