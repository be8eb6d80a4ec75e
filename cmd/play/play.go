// Package play plays a WAV file through the blocking write API.
package play

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
	"github.com/tphakala/audiostream/internal/convert"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// chunkFrames is how many frames are decoded and written per Write call.
const chunkFrames = 1024

// Command creates the play command.
func Command(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "play [file.wav]",
		Short: "Play a WAV file",
		Long:  "Play a PCM WAV file on the configured output device. The file's rate and channel count are used.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frames, err := Run(cmd.Context(), rt, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "played %d frames\n", frames)
			return nil
		},
	}
}

// Run plays path and returns the frames written. It stops early when ctx ends.
func Run(ctx context.Context, rt *app.Runtime, path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, errors.New(err).
			Component("play").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return 0, errors.Newf("%s is not a valid WAV file", path).
			Component("play").
			Category(errors.CategoryValidation).
			Build()
	}
	rate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)

	api, err := rt.OpenHost()
	if err != nil {
		return 0, err
	}
	defer api.Close()

	audioSettings := rt.Settings.Audio
	audioSettings.SampleRate = float64(rate)
	audioSettings.Format = host.Float32.String()
	audioSettings.Output.Channels = channels
	// Blocking writes are served by the event engine.
	audioSettings.Engine = audiostream.EngineEvent.String()

	cfg, err := app.StreamConfig(api, &audioSettings, false, true, nil)
	if err != nil {
		return 0, err
	}
	s, err := api.OpenStream(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	rt.Log.Info("playing file",
		logger.String("path", path),
		logger.Int("sample_rate", rate),
		logger.Int("channels", channels),
		logger.Int("bit_depth", bitDepth))

	if err := s.Start(); err != nil {
		return 0, err
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, chunkFrames*channels),
		Format: &audio.Format{SampleRate: rate, NumChannels: channels},
	}
	out := make([]byte, chunkFrames*channels*host.Float32.Size())

	var written int64
	for ctx.Err() == nil {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			_ = s.Abort()
			return written, errors.New(err).
				Component("play").
				Category(errors.CategoryFileIO).
				FileContext(path, 0).
				Context("operation", "decode").
				Build()
		}
		if n == 0 {
			break
		}
		frames := n / channels
		convert.FromInts(out, host.Float32, buf.Data[:frames*channels], bitDepth)
		if err := s.Write(out, frames); err != nil && !errors.Is(err, streamerr.ErrOutputUnderflowed) {
			_ = s.Abort()
			return written, err
		}
		written += int64(frames)
	}

	if ctx.Err() != nil {
		return written, s.Abort()
	}
	return written, s.Stop()
}
