// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// MinLatencyEnvVar overrides the poll engine latency floor in milliseconds.
const MinLatencyEnvVar = "AUDIOSTREAM_MIN_LATENCY_MSEC"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "AUDIOSTREAM_DEBUG", validateEnvBool},
		{"logging.default_level", "AUDIOSTREAM_LOG_LEVEL", validateEnvLogLevel},

		{"audio.backend", "AUDIOSTREAM_BACKEND", validateEnvOneOf(validBackends)},
		{"audio.samplerate", "AUDIOSTREAM_SAMPLE_RATE", validateEnvSampleRate},
		{"audio.framesperbuffer", "AUDIOSTREAM_FRAMES_PER_BUFFER", validateEnvNonNegativeInt},
		{"audio.format", "AUDIOSTREAM_FORMAT", validateEnvOneOf(validFormats)},
		{"audio.engine", "AUDIOSTREAM_ENGINE", validateEnvOneOf(validEngines)},
		{"audio.minlatencymsec", MinLatencyEnvVar, validateEnvMinLatency},
		{"audio.input.device", "AUDIOSTREAM_INPUT_DEVICE", nil},
		{"audio.output.device", "AUDIOSTREAM_OUTPUT_DEVICE", nil},

		{"telemetry.enabled", "AUDIOSTREAM_METRICS_ENABLED", validateEnvBool},
		{"telemetry.listen", "AUDIOSTREAM_METRICS_LISTEN", nil},
		{"sentry.enabled", "AUDIOSTREAM_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "AUDIOSTREAM_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every variable and validates the ones that are set.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	return validateEnvOneOf([]string{"trace", "debug", "info", "warn", "error"})(value)
}

func validateEnvOneOf(valid []string) func(string) error {
	return func(value string) error {
		if slices.Contains(valid, value) {
			return nil
		}
		return fmt.Errorf("must be one of: %s", strings.Join(valid, ", "))
	}
}

func validateEnvSampleRate(value string) error {
	rate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid sample rate: %w", err)
	}
	if rate < minSampleRate || rate > maxSampleRate {
		return fmt.Errorf("sample rate must be between %g and %g, got %g", float64(minSampleRate), float64(maxSampleRate), rate)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvMinLatency(value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid minimum latency: %w", err)
	}
	if ms < 1 || ms > maxMinLatencyMsec {
		return fmt.Errorf("minimum latency must be between 1 and %d ms, got %d", maxMinLatencyMsec, ms)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}
