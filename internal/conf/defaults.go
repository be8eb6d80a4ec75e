// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/audiostream/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.samplerate", 48000.0)
	v.SetDefault("audio.framesperbuffer", 0)
	v.SetDefault("audio.format", "float32")
	v.SetDefault("audio.engine", "auto")
	v.SetDefault("audio.primewithcallback", false)
	v.SetDefault("audio.neverthrottle", false)
	v.SetDefault("audio.minlatencymsec", 0)

	v.SetDefault("audio.input.device", "default")
	v.SetDefault("audio.input.channels", 1)
	v.SetDefault("audio.input.latency", 0.0)
	v.SetDefault("audio.input.buffercount", 0)
	v.SetDefault("audio.input.framesperbuffer", 0)

	v.SetDefault("audio.output.device", "default")
	v.SetDefault("audio.output.channels", 2)
	v.SetDefault("audio.output.latency", 0.0)
	v.SetDefault("audio.output.buffercount", 0)
	v.SetDefault("audio.output.framesperbuffer", 0)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "127.0.0.1:9464")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("recorder.path", "capture.wav")
	v.SetDefault("recorder.bufferseconds", 2)
	v.SetDefault("recorder.bitdepth", 16)
}
