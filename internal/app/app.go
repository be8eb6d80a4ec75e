// Package app builds host APIs and stream configurations from settings. It is
// shared by the command line tools.
package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	hostmalgo "github.com/tphakala/audiostream/internal/audiostream/host/malgo"
	"github.com/tphakala/audiostream/internal/audiostream/host/sim"
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// Backend names accepted by NewDriver.
const (
	BackendAuto  = "auto"
	BackendMalgo = "malgo"
	BackendSim   = "sim"
)

// NewDriver creates the driver for backend. Auto tries malgo and falls back to
// the simulated driver when no audio system can be initialised.
func NewDriver(backend string, log logger.Logger) (host.Driver, error) {
	switch backend {
	case BackendSim:
		return sim.New(sim.WithLogger(log)), nil
	case BackendMalgo:
		drv, err := hostmalgo.New(hostmalgo.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return drv, nil
	case BackendAuto, "":
		drv, err := hostmalgo.New(hostmalgo.WithLogger(log))
		if err == nil {
			return drv, nil
		}
		log.Warn("no audio backend available, using simulated devices", logger.Error(err))
		return sim.New(sim.WithLogger(log)), nil
	default:
		return nil, errors.Newf("unknown backend %q", backend).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OpenHost creates the driver and host API for settings.
func OpenHost(settings *conf.Settings, log logger.Logger, observer audiostream.Observer) (*audiostream.HostAPI, error) {
	drv, err := NewDriver(settings.Audio.Backend, log)
	if err != nil {
		return nil, err
	}

	opts := []audiostream.Option{
		audiostream.WithLogger(log),
		audiostream.WithMinLatency(time.Duration(settings.Audio.MinLatencyMsec) * time.Millisecond),
	}
	if observer != nil {
		opts = append(opts, audiostream.WithObserver(observer))
	}
	api, err := audiostream.NewHostAPI(drv, opts...)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	return api, nil
}

// ResolveDevice maps a device setting to an id. "default" or an empty value
// selects the default device for dir, a number is taken as an index and
// anything else matches the first device whose name contains it.
func ResolveDevice(api *audiostream.HostAPI, dir host.Direction, selector string) (host.DeviceID, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" || strings.EqualFold(selector, "default") {
		id := api.DefaultOutputDevice()
		if dir == host.Input {
			id = api.DefaultInputDevice()
		}
		if id == host.NoDevice {
			return host.NoDevice, notFound(dir, selector)
		}
		return id, nil
	}

	if n, err := strconv.Atoi(selector); err == nil {
		if _, err := api.Device(host.DeviceID(n)); err != nil {
			return host.NoDevice, err
		}
		return host.DeviceID(n), nil
	}

	needle := strings.ToLower(selector)
	for _, d := range api.Devices() {
		if d.MaxChannels(dir) > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
			return d.ID, nil
		}
	}
	return host.NoDevice, notFound(dir, selector)
}

func notFound(dir host.Direction, selector string) error {
	return errors.Newf("no %s device matches %q", dir, selector).
		Component("app").
		Category(errors.CategoryNotFound).
		Context("direction", dir.String()).
		Build()
}

// Parameters builds the parameters of one direction, or nil when the
// direction has no channels configured.
func Parameters(api *audiostream.HostAPI, dir host.Direction, ds conf.DeviceSettings, format host.SampleFormat) (*audiostream.Parameters, error) {
	if ds.Channels == 0 {
		return nil, nil
	}
	id, err := ResolveDevice(api, dir, ds.Device)
	if err != nil {
		return nil, err
	}

	p := &audiostream.Parameters{
		Device:   id,
		Channels: ds.Channels,
		Format:   format,
	}
	if ds.BufferCount > 0 && ds.FramesPerBuffer > 0 {
		p.Flags |= audiostream.UseLowLevelLatencyParameters
		p.BufferCount = ds.BufferCount
		p.FramesPerBuffer = ds.FramesPerBuffer
	}
	if ds.Latency > 0 {
		p.SuggestedLatency = time.Duration(ds.Latency * float64(time.Second))
	} else {
		p.SuggestedLatency, _ = api.DefaultLatencies(dir)
	}
	return p, nil
}

// StreamConfig builds the stream configuration for the directions requested.
// Directions not requested are left nil even when configured.
func StreamConfig(api *audiostream.HostAPI, a *conf.AudioSettings, input, output bool, cb audiostream.Callback) (audiostream.StreamConfig, error) {
	format, err := host.ParseSampleFormat(a.Format)
	if err != nil {
		return audiostream.StreamConfig{}, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	engine, ok := audiostream.ParseEngineKind(a.Engine)
	if !ok {
		return audiostream.StreamConfig{}, errors.Newf("unknown engine %q", a.Engine).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	cfg := audiostream.StreamConfig{
		SampleRate:      a.SampleRate,
		FramesPerBuffer: a.FramesPerBuffer,
		Callback:        cb,
		Engine:          engine,
	}
	if a.PrimeWithCallback {
		cfg.Flags |= audiostream.PrimeOutputBuffersUsingCallback
	}
	if a.NeverThrottle {
		cfg.Flags |= audiostream.NeverThrottle
	}
	if input {
		if cfg.Input, err = Parameters(api, host.Input, a.Input, format); err != nil {
			return cfg, err
		}
	}
	if output {
		if cfg.Output, err = Parameters(api, host.Output, a.Output, format); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
