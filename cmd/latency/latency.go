// Package latency prints the buffering negotiated for the configured stream.
package latency

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	plan "github.com/tphakala/audiostream/internal/audiostream/latency"
)

// Command creates the latency command.
func Command(rt *app.Runtime) *cobra.Command {
	var input, output bool
	cmd := &cobra.Command{
		Use:   "latency",
		Short: "Show the negotiated buffering",
		Long:  "Open the configured stream without starting it and print the host buffers and latencies it was given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !input && !output {
				output = true
			}
			api, err := rt.OpenHost()
			if err != nil {
				return err
			}
			defer api.Close()

			cfg, err := app.StreamConfig(api, &rt.Settings.Audio, input, output, silence)
			if err != nil {
				return err
			}
			s, err := api.OpenStream(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			return render(cmd.OutOrStdout(), api, &cfg, s, rt.Settings.Audio.MinLatencyMsec)
		},
	}
	cmd.Flags().BoolVar(&input, "input", false, "Include the input direction")
	cmd.Flags().BoolVar(&output, "output", false, "Include the output direction (default when neither is given)")
	return cmd
}

func silence(_, out []byte, _ int, _ audiostream.TimeInfo, _ audiostream.CallbackFlags) audiostream.CallbackResult {
	clear(out)
	return audiostream.Continue
}

func render(w io.Writer, api *audiostream.HostAPI, cfg *audiostream.StreamConfig, s *audiostream.Stream, minLatencyMsec int) error {
	info := s.Info()
	fmt.Fprintf(w, "Backend:     %s\n", api.Driver().Name())
	fmt.Fprintf(w, "Engine:      %s\n", s.Engine())
	fmt.Fprintf(w, "Sample rate: %g Hz\n", info.SampleRate)
	if cfg.Input != nil {
		fmt.Fprintf(w, "Input:       %d channels on %d device(s), latency %v\n",
			cfg.Input.Channels, s.DeviceCount(host.Input), info.InputLatency)
	}
	if cfg.Output != nil {
		fmt.Fprintf(w, "Output:      %d channels on %d device(s), latency %v\n",
			cfg.Output.Channels, s.DeviceCount(host.Output), info.OutputLatency)
	}

	if s.Engine() != audiostream.EnginePoll {
		return nil
	}
	req := plan.RingRequest{
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
		MinLatency:      plan.MinLatency(time.Duration(minLatencyMsec) * time.Millisecond),
	}
	if cfg.Input != nil {
		req.InputLatency = cfg.Input.SuggestedLatency
	}
	if cfg.Output != nil {
		req.OutputLatency = cfg.Output.SuggestedLatency
	}
	ring := plan.RingPlan(req)
	fmt.Fprintf(w, "Ring:        %d frames, timer %v, stop timeout %v\n", ring.Frames, ring.TimerPeriod, ring.StopTimeout)
	return nil
}
