package audiostream

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/tphakala/audiostream/internal/audiostream/bufferset"
	"github.com/tphakala/audiostream/internal/audiostream/format"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/latency"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
	"github.com/tphakala/audiostream/internal/convert"
	"github.com/tphakala/audiostream/internal/logger"
)

// cleanup runs undo steps in reverse order of registration.
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c *cleanup) run() {
	for _, fn := range slices.Backward(*c) {
		fn()
	}
	*c = nil
}

// openedDirection is one direction after its devices were opened.
type openedDirection struct {
	params   *Parameters
	bindings []DeviceBinding
	format   host.SampleFormat // negotiated host format, equal on every device
}

// OpenStream negotiates formats and buffering and opens every device of cfg.
// Nothing is left open when it fails.
func (h *HostAPI) OpenStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if err := h.checkConfig(&cfg); err != nil {
		return nil, err
	}

	kind, err := h.resolveEngine(cfg.Engine, cfg.Callback == nil)
	if err != nil {
		return nil, err
	}

	infos := h.Devices()
	var inBindings, outBindings []DeviceBinding
	if cfg.Input != nil {
		if inBindings, err = checkParameters(host.Input, cfg.Input, infos); err != nil {
			return nil, err
		}
	}
	if cfg.Output != nil {
		if outBindings, err = checkParameters(host.Output, cfg.Output, infos); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	log := h.log.With(logger.String("stream_id", id))

	var s *Stream
	switch kind {
	case EnginePoll:
		s, err = h.openPoll(ctx, id, log, &cfg, inBindings, outBindings)
	default:
		s, err = h.openEvent(ctx, id, log, &cfg, inBindings, outBindings)
	}
	if err != nil {
		log.Debug("stream open failed", logger.Error(err))
		return nil, err
	}

	h.observer.StreamOpened(id, kind, s.info)
	log.Info("stream opened",
		logger.String("engine", kind.String()),
		logger.Float64("sample_rate", cfg.SampleRate),
		logger.Int("frames_per_buffer", cfg.FramesPerBuffer),
		logger.Duration("input_latency", s.info.InputLatency),
		logger.Duration("output_latency", s.info.OutputLatency),
		logger.Bool("blocking", cfg.Callback == nil))
	return s, nil
}

func (h *HostAPI) checkConfig(cfg *StreamConfig) error {
	if cfg.Input == nil && cfg.Output == nil {
		return streamerr.New(streamerr.ErrInvalidChannelCount).
			Context("reason", "no direction").
			Build()
	}
	if cfg.SampleRate <= 0 {
		return streamerr.New(streamerr.ErrInvalidSampleRate).
			Context("sample_rate", cfg.SampleRate).
			Build()
	}
	if cfg.FramesPerBuffer < 0 {
		return streamerr.New(streamerr.ErrIncompatibleBufferParameters).
			Context("frames_per_buffer", cfg.FramesPerBuffer).
			Build()
	}
	if cfg.Flags&^validStreamFlags != 0 {
		return streamerr.New(streamerr.ErrInvalidFlag).
			Context("flags", uint32(cfg.Flags)).
			Build()
	}
	return nil
}

// resolveEngine picks the engine the driver can run. Blocking streams need
// the buffered model.
func (h *HostAPI) resolveEngine(kind EngineKind, blocking bool) (EngineKind, error) {
	_, buffered := h.driver.(host.BufferedDriver)
	_, ring := h.driver.(host.RingDriver)

	if kind == EngineAuto {
		switch {
		case buffered:
			kind = EngineEvent
		case ring:
			kind = EnginePoll
		}
	}

	switch {
	case kind == EngineEvent && buffered:
		return kind, nil
	case kind == EnginePoll && ring && !blocking:
		return kind, nil
	case kind == EnginePoll && ring && blocking:
		return 0, streamerr.New(streamerr.ErrCanNotUseBlockingAPIOnCallbackStream).
			Context("engine", kind.String()).
			Context("reason", "blocking streams need a buffered driver").
			Build()
	default:
		return 0, streamerr.New(streamerr.ErrInvalidFlag).
			Context("engine", kind.String()).
			Context("driver", h.driver.Name()).
			Build()
	}
}

func (cfg *StreamConfig) throttle(p ...*Parameters) bool {
	if cfg.Flags&NeverThrottle != 0 {
		return false
	}
	for _, x := range p {
		if x != nil && x.Flags&DontThrottleOverloadedProcessingThread != 0 {
			return false
		}
	}
	return true
}

// channelMask picks the speaker mask for one device. Devices of a multi-device
// stream carry slices of a wider layout, so they are opened direct-out.
func channelMask(p *Parameters, channels int) host.ChannelMask {
	if p.Flags&UseMultipleDevices != 0 {
		return host.ChannelMaskDirectOut
	}
	if p.Flags&UseChannelMask != 0 {
		return p.ChannelMask
	}
	return format.DefaultChannelMask(channels)
}

// openBuffered opens every binding of one direction, all sharing ready.
func (h *HostAPI) openBuffered(ctx context.Context, drv host.BufferedDriver, dir host.Direction,
	p *Parameters, bindings []DeviceBinding, rate float64, ready *host.Event, undo *cleanup) ([]host.BufferedDevice, host.SampleFormat, error) {
	devices := make([]host.BufferedDevice, 0, len(bindings))
	var hostFormat host.SampleFormat

	for i, b := range bindings {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		var dev host.BufferedDevice
		desc, err := h.negotiator.Open(dir, b.Device, b.Channels, p.Format, rate,
			channelMask(p, b.Channels),
			func(d host.FormatDescriptor) error {
				var openErr error
				dev, openErr = drv.OpenBuffered(dir, b.Device, d, ready)
				return openErr
			})
		if err != nil {
			return nil, 0, err
		}
		undo.add(func() { _ = dev.Close() })

		if i == 0 {
			hostFormat = desc.Format
		} else if desc.Format != hostFormat {
			return nil, 0, streamerr.New(streamerr.ErrSampleFormatNotSupported).
				DeviceContext(dir.String(), int(b.Device), b.Channels).
				Context("host_format", desc.Format.String()).
				Context("first_device_format", hostFormat.String()).
				Build()
		}

		h.log.Debug("device opened",
			logger.String("direction", dir.String()),
			logger.Int("device", int(b.Device)),
			logger.String("descriptor", desc.String()))
		devices = append(devices, dev)
	}
	return devices, hostFormat, nil
}

func directionRequest(p *Parameters, bindings []DeviceBinding, hostFormat host.SampleFormat) *latency.DirectionRequest {
	req := &latency.DirectionRequest{
		Channels:   p.Channels,
		SampleSize: hostFormat.Size(),
		Latency:    p.SuggestedLatency,
	}
	if len(bindings) > 1 {
		for _, b := range bindings {
			req.DeviceChannels = append(req.DeviceChannels, b.Channels)
		}
	}
	if p.Flags&UseLowLevelLatencyParameters != 0 {
		req.LowLevel = true
		req.FramesPerBuffer = p.FramesPerBuffer
		req.BufferCount = p.BufferCount
	}
	return req
}

func bufferRequest(cfg *StreamConfig, inBindings, outBindings []DeviceBinding, inFormat, outFormat host.SampleFormat) latency.Request {
	req := latency.Request{SampleRate: cfg.SampleRate, FramesPerBuffer: cfg.FramesPerBuffer}
	if cfg.Input != nil {
		req.Input = directionRequest(cfg.Input, inBindings, inFormat)
	}
	if cfg.Output != nil {
		req.Output = directionRequest(cfg.Output, outBindings, outFormat)
	}
	return req
}

func bindingChannels(bindings []DeviceBinding) []int {
	out := make([]int, len(bindings))
	for i, b := range bindings {
		out[i] = b.Channels
	}
	return out
}

func (h *HostAPI) openEvent(ctx context.Context, id string, log logger.Logger, cfg *StreamConfig,
	inBindings, outBindings []DeviceBinding) (_ *Stream, err error) {
	drv := h.driver.(host.BufferedDriver)

	var inUndo, outUndo cleanup
	defer func() {
		if err != nil {
			outUndo.run()
			inUndo.run()
		}
	}()

	// Only the byte limits need the host format.
	if err = latency.CheckExplicit(bufferRequest(cfg, inBindings, outBindings, 0, 0)); err != nil {
		return nil, err
	}

	var (
		inDevs, outDevs     []host.BufferedDevice
		inFormat, outFormat host.SampleFormat
		inReady, outReady   *host.Event
	)
	if cfg.Input != nil {
		inReady = host.NewEvent()
		if inDevs, inFormat, err = h.openBuffered(ctx, drv, host.Input, cfg.Input, inBindings, cfg.SampleRate, inReady, &inUndo); err != nil {
			return nil, err
		}
	}
	if cfg.Output != nil {
		outReady = host.NewEvent()
		if outDevs, outFormat, err = h.openBuffered(ctx, drv, host.Output, cfg.Output, outBindings, cfg.SampleRate, outReady, &outUndo); err != nil {
			return nil, err
		}
	}

	plans, err := latency.Calculate(bufferRequest(cfg, inBindings, outBindings, inFormat, outFormat))
	if err != nil {
		return nil, err
	}

	var inSet, outSet *bufferset.Set
	var inLayout, outLayout *sampleLayout
	maxFrames := 0
	info := StreamInfo{SampleRate: cfg.SampleRate}

	if cfg.Input != nil {
		inSet, err = bufferset.Open(bufferset.Config{
			Direction:       host.Input,
			Devices:         inDevs,
			Channels:        bindingChannels(inBindings),
			SampleSize:      inFormat.Size(),
			FramesPerBuffer: plans.Input.FramesPerBuffer,
			BufferCount:     plans.Input.BufferCount,
			Silence:         convert.Silence(inFormat),
		})
		if err != nil {
			return nil, err
		}
		// The set owns the devices from here on.
		inUndo = cleanup{func() {
			_ = inSet.Release()
			_ = inSet.CloseDevices()
		}}
		inLayout = &sampleLayout{channels: cfg.Input.Channels, user: cfg.Input.Format, host: inFormat}
		maxFrames = plans.Input.FramesPerBuffer
		info.InputLatency = plans.Input.Latency(cfg.SampleRate)
	}
	if cfg.Output != nil {
		outSet, err = bufferset.Open(bufferset.Config{
			Direction:       host.Output,
			Devices:         outDevs,
			Channels:        bindingChannels(outBindings),
			SampleSize:      outFormat.Size(),
			FramesPerBuffer: plans.Output.FramesPerBuffer,
			BufferCount:     plans.Output.BufferCount,
			Silence:         convert.Silence(outFormat),
		})
		if err != nil {
			return nil, err
		}
		outUndo = cleanup{func() {
			_ = outSet.Release()
			_ = outSet.CloseDevices()
		}}
		outLayout = &sampleLayout{channels: cfg.Output.Channels, user: cfg.Output.Format, host: outFormat}
		maxFrames = max(maxFrames, plans.Output.FramesPerBuffer)
		info.OutputLatency = plans.Output.Latency(cfg.SampleRate)
	}

	log.Debug("buffers negotiated",
		logger.Int("input_frames_per_buffer", plans.Input.FramesPerBuffer),
		logger.Int("input_buffer_count", plans.Input.BufferCount),
		logger.Int("output_frames_per_buffer", plans.Output.FramesPerBuffer),
		logger.Int("output_buffer_count", plans.Output.BufferCount))

	proc := newProcessor(cfg.Callback, cfg.FramesPerBuffer, cfg.SampleRate, inLayout, outLayout, maxFrames)
	eng := newEventEngine(&eventEngineConfig{
		id:       id,
		log:      log,
		in:       inSet,
		out:      outSet,
		inReady:  inReady,
		outReady: outReady,
		proc:     proc,
		rate:     cfg.SampleRate,
		clock:    h.clock,
		observer: h.observer,
		prime:    cfg.Flags&PrimeOutputBuffersUsingCallback != 0,
		throttle: cfg.throttle(cfg.Input, cfg.Output),
	})

	s := h.newStream(id, log, EngineEvent, eng, info, cfg)
	if cfg.Callback == nil {
		s.blocking = eng
	}
	return s, nil
}

func (h *HostAPI) openPoll(ctx context.Context, id string, log logger.Logger, cfg *StreamConfig,
	inBindings, outBindings []DeviceBinding) (_ *Stream, err error) {
	drv := h.driver.(host.RingDriver)

	for _, bindings := range [][]DeviceBinding{inBindings, outBindings} {
		if len(bindings) > 1 {
			return nil, streamerr.New(streamerr.ErrInvalidFlag).
				Context("engine", EnginePoll.String()).
				Context("reason", "one device per direction").
				Build()
		}
	}

	ringReq := latency.RingRequest{
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
		MinLatency:      latency.MinLatency(h.minLatency),
	}
	if cfg.Input != nil {
		ringReq.InputLatency = cfg.Input.SuggestedLatency
	}
	if cfg.Output != nil {
		ringReq.OutputLatency = cfg.Output.SuggestedLatency
	}
	ring := latency.RingPlan(ringReq)

	var undo cleanup
	defer func() {
		if err != nil {
			undo.run()
		}
	}()

	openSide := func(dir host.Direction, p *Parameters, b DeviceBinding) (*ringSide, *sampleLayout, error) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		var dev host.RingDevice
		desc, err := h.negotiator.Open(dir, b.Device, b.Channels, p.Format, cfg.SampleRate,
			channelMask(p, b.Channels),
			func(d host.FormatDescriptor) error {
				var openErr error
				dev, openErr = drv.OpenRing(dir, b.Device, d, ring.Frames*d.FrameSize())
				return openErr
			})
		if err != nil {
			return nil, nil, err
		}
		undo.add(func() { _ = dev.Close() })

		side := &ringSide{
			dev:       dev,
			size:      dev.SizeBytes(),
			frameSize: desc.FrameSize(),
			channels:  b.Channels,
		}
		layout := &sampleLayout{channels: p.Channels, user: p.Format, host: desc.Format}
		return side, layout, nil
	}

	var inSide, outSide *ringSide
	var inLayout, outLayout *sampleLayout
	info := StreamInfo{SampleRate: cfg.SampleRate}
	if cfg.Input != nil {
		if inSide, inLayout, err = openSide(host.Input, cfg.Input, inBindings[0]); err != nil {
			return nil, err
		}
		info.InputLatency = ring.OutputLatency
	}
	if cfg.Output != nil {
		if outSide, outLayout, err = openSide(host.Output, cfg.Output, outBindings[0]); err != nil {
			return nil, err
		}
		info.OutputLatency = ring.OutputLatency
	}

	log.Debug("ring negotiated",
		logger.Int("frames", ring.Frames),
		logger.Duration("timer_period", ring.TimerPeriod),
		logger.Duration("stop_timeout", ring.StopTimeout))

	proc := newProcessor(cfg.Callback, cfg.FramesPerBuffer, cfg.SampleRate, inLayout, outLayout, ring.Frames)
	eng, err := newPollEngine(&pollEngineConfig{
		id:       id,
		log:      log,
		in:       inSide,
		out:      outSide,
		proc:     proc,
		rate:     cfg.SampleRate,
		ring:     ring,
		clock:    h.clock,
		observer: h.observer,
		prime:    cfg.Flags&PrimeOutputBuffersUsingCallback != 0,
	})
	if err != nil {
		return nil, streamerr.Unanticipated(err).Context("operation", "ring_cursors").Build()
	}

	return h.newStream(id, log, EnginePoll, eng, info, cfg), nil
}

func (h *HostAPI) newStream(id string, log logger.Logger, kind EngineKind, eng engine, info StreamInfo, cfg *StreamConfig) *Stream {
	return &Stream{
		id:       id,
		log:      log,
		kind:     kind,
		engine:   eng,
		info:     info,
		clock:    h.clock,
		observer: h.observer,
		hasIn:    cfg.Input != nil,
		hasOut:   cfg.Output != nil,
		state:    StateStopped,
	}
}
