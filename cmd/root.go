// Package cmd wires the command line tools.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiostream/cmd/config"
	"github.com/tphakala/audiostream/cmd/devices"
	"github.com/tphakala/audiostream/cmd/latency"
	"github.com/tphakala/audiostream/cmd/play"
	"github.com/tphakala/audiostream/cmd/record"
	"github.com/tphakala/audiostream/cmd/tone"
	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(rt *app.Runtime) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "audiostream",
		Short:         "Real-time audio stream tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, rt.Settings); err != nil {
		rt.Log.Error("error setting up flags", logger.Error(err))
	}

	configCmd := config.Command(rt)
	rootCmd.AddCommand(
		devices.Command(rt),
		latency.Command(rt),
		tone.Command(rt),
		record.Command(rt),
		play.Command(rt),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("metrics-listen") {
			rt.Settings.Telemetry.Enabled = true
		}
		if err := conf.ValidateSettings(rt.Settings); err != nil {
			return err
		}
		// Dumping the config must not bind the metrics port.
		if cmd.Name() == configCmd.Name() {
			return nil
		}
		return rt.Init(cmd.Context())
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.Backend, "backend", viper.GetString("audio.backend"), "Audio backend (auto, malgo, sim)")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.Engine, "engine", viper.GetString("audio.engine"), "Stream engine (auto, event, poll)")
	rootCmd.PersistentFlags().Float64Var(&settings.Audio.SampleRate, "rate", viper.GetFloat64("audio.samplerate"), "Sample rate in Hz")
	rootCmd.PersistentFlags().IntVar(&settings.Audio.FramesPerBuffer, "frames", viper.GetInt("audio.framesperbuffer"), "Frames per callback, 0 lets the host choose")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.Format, "format", viper.GetString("audio.format"), "Sample format of the stream")
	rootCmd.PersistentFlags().StringVar(&settings.Telemetry.Listen, "metrics-listen", viper.GetString("telemetry.listen"), "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&settings.Telemetry.Enabled, "metrics", viper.GetBool("telemetry.enabled"), "Enable the Prometheus metrics endpoint")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
