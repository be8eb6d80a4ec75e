// Package tone plays a sine through a callback stream.
package tone

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// Options of the tone command.
type Options struct {
	Frequency float64
	Amplitude float64
	Duration  time.Duration
}

// Command creates the tone command.
func Command(rt *app.Runtime) *cobra.Command {
	opts := Options{}
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a sine tone",
		Long:  "Play a sine tone on the configured output using the callback API. Stops after --duration or on interrupt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := Run(cmd.Context(), rt, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "played %d frames in %d callbacks, %d underflows, cpu load %.3f\n",
				stats.Frames, stats.Callbacks, stats.Underflows, stats.CPULoad)
			return nil
		},
	}
	cmd.Flags().Float64Var(&opts.Frequency, "freq", 440, "Tone frequency in Hz")
	cmd.Flags().Float64Var(&opts.Amplitude, "amplitude", 0.2, "Peak amplitude between 0 and 1")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 3*time.Second, "How long to play, 0 plays until interrupted")
	return cmd
}

// Stats summarises a finished run.
type Stats struct {
	Frames     int64
	Callbacks  int64
	Underflows int64
	CPULoad    float64
}

// oscillator writes a sine into interleaved output of any format.
type oscillator struct {
	step      float64
	phase     float64
	amplitude float64
	channels  int
	sampleLen int
	format    host.SampleFormat

	frames    int64
	callbacks int64
}

func (o *oscillator) callback(_, out []byte, frames int, _ audiostream.TimeInfo, _ audiostream.CallbackFlags) audiostream.CallbackResult {
	for i := range frames {
		v := o.amplitude * math.Sin(o.phase)
		o.phase += o.step
		if o.phase >= 2*math.Pi {
			o.phase -= 2 * math.Pi
		}
		for c := range o.channels {
			convert.PutSample(out[(i*o.channels+c)*o.sampleLen:], o.format, v)
		}
	}
	o.frames += int64(frames)
	o.callbacks++
	return audiostream.Continue
}

// Run plays the tone until the duration elapses or ctx ends.
func Run(ctx context.Context, rt *app.Runtime, opts Options) (Stats, error) {
	if opts.Frequency <= 0 || opts.Amplitude < 0 || opts.Amplitude > 1 {
		return Stats{}, errors.Newf("invalid tone %g Hz at amplitude %g", opts.Frequency, opts.Amplitude).
			Component("tone").
			Category(errors.CategoryValidation).
			Build()
	}

	api, err := rt.OpenHost()
	if err != nil {
		return Stats{}, err
	}
	defer api.Close()

	osc := &oscillator{amplitude: opts.Amplitude}
	cfg, err := app.StreamConfig(api, &rt.Settings.Audio, false, true, osc.callback)
	if err != nil {
		return Stats{}, err
	}
	if cfg.Output == nil {
		return Stats{}, errors.Newf("no output channels configured").
			Component("tone").
			Category(errors.CategoryConfiguration).
			Build()
	}
	osc.step = 2 * math.Pi * opts.Frequency / cfg.SampleRate
	osc.channels = cfg.Output.Channels
	osc.sampleLen = cfg.Output.Format.Size()
	osc.format = cfg.Output.Format

	s, err := api.OpenStream(ctx, cfg)
	if err != nil {
		return Stats{}, err
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		return Stats{}, err
	}
	rt.Log.Info("playing tone",
		logger.String("stream_id", s.ID()),
		logger.Float64("frequency", opts.Frequency),
		logger.Duration("latency", s.Info().OutputLatency))

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	<-ctx.Done()

	if err := s.Stop(); err != nil {
		return Stats{}, err
	}
	// The callback goroutine has exited once Stop returns.
	return Stats{
		Frames:     osc.frames,
		Callbacks:  osc.callbacks,
		Underflows: s.UnderflowCount(),
		CPULoad:    s.CPULoad(),
	}, nil
}
