package conf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/audiostream/internal/errors"
)

const (
	minSampleRate     = 1000
	maxSampleRate     = 384000
	maxMinLatencyMsec = 5000
	maxChannels       = 64
	maxLatencySeconds = 10.0
)

var (
	validBackends = []string{"auto", "malgo", "sim"}
	validEngines  = []string{"auto", "event", "poll"}
	validFormats  = []string{"float32", "int32", "int24", "int16", "int8", "uint8"}
	validBitDepth = []int{16, 24, 32}
)

// ValidationError collects every problem found in one pass.
type ValidationError struct {
	Errors []string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(v.Errors, "; "))
}

// ValidateSettings checks ranges and enumerations. All problems are reported together.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.Telemetry.Enabled && settings.Telemetry.Listen == "" {
		ve.Errors = append(ve.Errors, "telemetry.listen must be set when telemetry is enabled")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn must be set when sentry is enabled")
	}
	if settings.Recorder.BufferSeconds < 1 {
		ve.Errors = append(ve.Errors, fmt.Sprintf("recorder.bufferseconds must be at least 1, got %d", settings.Recorder.BufferSeconds))
	}
	if !slices.Contains(validBitDepth, settings.Recorder.BitDepth) {
		ve.Errors = append(ve.Errors, fmt.Sprintf("recorder.bitdepth must be one of %v, got %d", validBitDepth, settings.Recorder.BitDepth))
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateAudioSettings(a *AudioSettings) error {
	var problems []string

	if !slices.Contains(validBackends, a.Backend) {
		problems = append(problems, fmt.Sprintf("audio.backend %q must be one of %s", a.Backend, strings.Join(validBackends, ", ")))
	}
	if !slices.Contains(validEngines, a.Engine) {
		problems = append(problems, fmt.Sprintf("audio.engine %q must be one of %s", a.Engine, strings.Join(validEngines, ", ")))
	}
	if !slices.Contains(validFormats, a.Format) {
		problems = append(problems, fmt.Sprintf("audio.format %q must be one of %s", a.Format, strings.Join(validFormats, ", ")))
	}
	if a.SampleRate < minSampleRate || a.SampleRate > maxSampleRate {
		problems = append(problems, fmt.Sprintf("audio.samplerate must be between %d and %d, got %g", minSampleRate, maxSampleRate, a.SampleRate))
	}
	if a.FramesPerBuffer < 0 {
		problems = append(problems, fmt.Sprintf("audio.framesperbuffer must be non-negative, got %d", a.FramesPerBuffer))
	}
	if a.MinLatencyMsec < 0 || a.MinLatencyMsec > maxMinLatencyMsec {
		problems = append(problems, fmt.Sprintf("audio.minlatencymsec must be between 0 and %d, got %d", maxMinLatencyMsec, a.MinLatencyMsec))
	}
	if a.Input.Channels == 0 && a.Output.Channels == 0 {
		problems = append(problems, "at least one of audio.input.channels and audio.output.channels must be positive")
	}

	problems = append(problems, validateDeviceSettings("audio.input", &a.Input)...)
	problems = append(problems, validateDeviceSettings("audio.output", &a.Output)...)

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func validateDeviceSettings(prefix string, d *DeviceSettings) []string {
	var problems []string
	if d.Channels < 0 || d.Channels > maxChannels {
		problems = append(problems, fmt.Sprintf("%s.channels must be between 0 and %d, got %d", prefix, maxChannels, d.Channels))
	}
	if d.Latency < 0 || d.Latency > maxLatencySeconds {
		problems = append(problems, fmt.Sprintf("%s.latency must be between 0 and %g seconds, got %g", prefix, maxLatencySeconds, d.Latency))
	}
	if d.BufferCount < 0 || d.FramesPerBuffer < 0 {
		problems = append(problems, prefix+" buffer parameters must be non-negative")
	}
	if (d.BufferCount > 0) != (d.FramesPerBuffer > 0) {
		problems = append(problems, prefix+".buffercount and framesperbuffer must be set together")
	}
	return problems
}
