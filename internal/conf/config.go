// Package conf loads audiostream settings from a yaml file, environment variables
// and command line flags through viper.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

const (
	configName = "config"
	configType = "yaml"
	appDirName = "audiostream"
	osWindows  = "windows"
)

// Settings is the root of the configuration tree
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Audio     AudioSettings        `mapstructure:"audio" yaml:"audio"`
	Telemetry TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Sentry    SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	Recorder  RecorderSettings     `mapstructure:"recorder" yaml:"recorder"`
}

// AudioSettings configures the stream the CLI opens
type AudioSettings struct {
	Backend           string         `mapstructure:"backend" yaml:"backend"`                     // auto, malgo or sim
	SampleRate        float64        `mapstructure:"samplerate" yaml:"samplerate"`               // frames per second
	FramesPerBuffer   int            `mapstructure:"framesperbuffer" yaml:"framesperbuffer"`     // 0 lets the host choose
	Format            string         `mapstructure:"format" yaml:"format"`                       // float32, int32, int24, int16, int8, uint8
	Engine            string         `mapstructure:"engine" yaml:"engine"`                       // auto, event or poll
	PrimeWithCallback bool           `mapstructure:"primewithcallback" yaml:"primewithcallback"` // fill initial output from the callback
	NeverThrottle     bool           `mapstructure:"neverthrottle" yaml:"neverthrottle"`         // never lower the processing goroutine priority
	MinLatencyMsec    int            `mapstructure:"minlatencymsec" yaml:"minlatencymsec"`       // poll engine latency floor, 0 = built-in default
	Input             DeviceSettings `mapstructure:"input" yaml:"input"`
	Output            DeviceSettings `mapstructure:"output" yaml:"output"`
}

// DeviceSettings selects one direction's device
type DeviceSettings struct {
	Device          string  `mapstructure:"device" yaml:"device"`                   // "default", a device index or a name substring
	Channels        int     `mapstructure:"channels" yaml:"channels"`               // 0 disables the direction
	Latency         float64 `mapstructure:"latency" yaml:"latency"`                 // suggested latency in seconds, 0 = device default
	BufferCount     int     `mapstructure:"buffercount" yaml:"buffercount"`         // explicit host buffer count, 0 = negotiated
	FramesPerBuffer int     `mapstructure:"framesperbuffer" yaml:"framesperbuffer"` // explicit host buffer size, 0 = negotiated
}

// TelemetrySettings controls the Prometheus endpoint
type TelemetrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// SentrySettings controls error reporting
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// RecorderSettings configures capture to WAV
type RecorderSettings struct {
	Path          string `mapstructure:"path" yaml:"path"`
	BufferSeconds int    `mapstructure:"bufferseconds" yaml:"bufferseconds"`
	BitDepth      int    `mapstructure:"bitdepth" yaml:"bitdepth"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, environment variables and bound flags.
func Load() (*Settings, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return nil, err
	}

	settings, err := load(viper.GetViper(), configPaths)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

func load(v *viper.Viper, configPaths []string) (*Settings, error) {
	if err := initViper(v, configPaths); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults, binds the environment and reads the first config file found.
// A missing config file is not an error.
func initViper(v *viper.Viper, configPaths []string) error {
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	return nil
}

// GetSettings returns the settings from the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	paths := []string{"."}
	switch runtime.GOOS {
	case osWindows:
		paths = append(paths, filepath.Join(homeDir, "AppData", "Roaming", appDirName))
	default:
		paths = append(paths,
			filepath.Join(homeDir, ".config", appDirName),
			filepath.Join("/etc", appDirName))
	}
	return paths, nil
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			FileContext(configPath, 0).
			Build()
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			FileContext(configPath, int64(len(yamlData))).
			Build()
	}

	return nil
}
