// Package record captures the configured input to a WAV file.
package record

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/recorder"
)

// Command creates the record command.
func Command(rt *app.Runtime) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record input to a WAV file",
		Long:  "Capture the configured input device to a WAV file. Stops after --duration or on interrupt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := Run(cmd.Context(), rt, duration)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d frames to %s (%d dropped)\n",
				res.Frames, rt.Settings.Recorder.Path, res.Dropped)
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "How long to record, 0 records until interrupted")
	cmd.Flags().StringVarP(&rt.Settings.Recorder.Path, "out", "o", viper.GetString("recorder.path"), "Output WAV file")
	cmd.Flags().IntVar(&rt.Settings.Recorder.BitDepth, "bits", viper.GetInt("recorder.bitdepth"), "Bit depth of the file (16, 24 or 32)")
	return cmd
}

// Result summarises a recording.
type Result struct {
	Frames  int64
	Dropped int64
}

// Run records until the duration elapses or ctx ends.
func Run(ctx context.Context, rt *app.Runtime, duration time.Duration) (Result, error) {
	api, err := rt.OpenHost()
	if err != nil {
		return Result{}, err
	}
	defer api.Close()

	// The callback is attached after the recorder exists.
	cfg, err := app.StreamConfig(api, &rt.Settings.Audio, true, false, nil)
	if err != nil {
		return Result{}, err
	}
	if cfg.Input == nil {
		return Result{}, errors.Newf("no input channels configured").
			Component("record").
			Category(errors.CategoryConfiguration).
			Build()
	}

	rec, err := recorder.New(recorder.Config{
		Path:          rt.Settings.Recorder.Path,
		SampleRate:    int(cfg.SampleRate),
		Channels:      cfg.Input.Channels,
		Format:        cfg.Input.Format,
		BitDepth:      rt.Settings.Recorder.BitDepth,
		BufferSeconds: rt.Settings.Recorder.BufferSeconds,
	}, rt.Log)
	if err != nil {
		return Result{}, err
	}
	cfg.Callback = rec.Callback()

	s, err := api.OpenStream(ctx, cfg)
	if err != nil {
		_ = rec.Close()
		return Result{}, err
	}

	rec.Start(ctx)
	if err := s.Start(); err != nil {
		_ = s.Close()
		_ = rec.Close()
		return Result{}, err
	}
	rt.Log.Info("recording",
		logger.String("stream_id", s.ID()),
		logger.String("path", rt.Settings.Recorder.Path),
		logger.Duration("latency", s.Info().InputLatency))

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	<-ctx.Done()

	stopErr := s.Stop()
	closeErr := s.Close()
	recErr := rec.Close()
	if err := errors.Join(stopErr, closeErr, recErr); err != nil {
		return Result{}, err
	}
	return Result{Frames: rec.Written(), Dropped: rec.Dropped()}, nil
}
