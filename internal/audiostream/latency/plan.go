package latency

import (
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
)

// DirectionRequest describes one direction of a buffered stream.
type DirectionRequest struct {
	Channels       int           // total channels of the direction
	DeviceChannels []int         // per device counts when several devices are aggregated
	SampleSize     int           // host bytes per sample
	Latency        time.Duration // suggested latency

	// Explicit host buffers, used as given when LowLevel is set.
	LowLevel        bool
	FramesPerBuffer int
	BufferCount     int
}

// Request is the input of Calculate. A nil direction is unused.
type Request struct {
	SampleRate      float64
	FramesPerBuffer int // user buffer size, 0 when unspecified
	Input           *DirectionRequest
	Output          *DirectionRequest
}

// Plan is the negotiated host buffering for one direction.
type Plan struct {
	FramesPerBuffer int
	BufferCount     int
}

// Frames returns the ring size in frames.
func (p Plan) Frames() int {
	return p.FramesPerBuffer * p.BufferCount
}

// Latency is the realized latency at rate.
func (p Plan) Latency(rate float64) time.Duration {
	if p.BufferCount < 1 || rate <= 0 {
		return 0
	}
	frames := p.FramesPerBuffer * (p.BufferCount - 1)
	return time.Duration(float64(frames) / rate * float64(time.Second))
}

// Plans holds both directions. An unused direction is the zero Plan.
type Plans struct {
	Input  Plan
	Output Plan
}

// frameSize uses the widest device because every device gets the same frame count.
func (d *DirectionRequest) frameSize() int {
	channels := d.Channels
	if len(d.DeviceChannels) > 0 {
		channels = 0
		for _, c := range d.DeviceChannels {
			channels = max(channels, c)
		}
	}
	return channels * d.SampleSize
}

func maxBufferBytes(rate float64, frameSize int) int {
	return min(int(MaxHostBufferSeconds*rate)*frameSize, MaxHostBufferBytes)
}

func latencyFrames(d time.Duration, rate float64) int {
	return int(float64(d) * rate / float64(time.Second))
}

// checkGeometry validates explicit buffers without looking at the sample size.
func (d *DirectionRequest) checkGeometry(userFrames int) error {
	if d.BufferCount <= 0 || d.FramesPerBuffer <= 0 {
		return streamerr.New(streamerr.ErrIncompatibleBufferParameters).
			Context("buffer_count", d.BufferCount).
			Context("frames_per_buffer", d.FramesPerBuffer).
			Build()
	}
	if userFrames > 0 && d.FramesPerBuffer%userFrames != 0 {
		return streamerr.New(streamerr.ErrIncompatibleBufferParameters).
			Context("frames_per_buffer", d.FramesPerBuffer).
			Context("user_frames_per_buffer", userFrames).
			Build()
	}
	return nil
}

func (d *DirectionRequest) checkLowLevel(userFrames int) error {
	if err := d.checkGeometry(userFrames); err != nil {
		return err
	}
	if d.FramesPerBuffer*d.frameSize() > MaxHostBufferBytes {
		return streamerr.New(streamerr.ErrBufferTooBig).
			Context("frames_per_buffer", d.FramesPerBuffer).
			Context("max_bytes", MaxHostBufferBytes).
			Build()
	}
	return nil
}

// checkMultiple requires the larger of two explicit duplex sizes to be a
// multiple of the smaller.
func checkMultiple(inFrames, outFrames int) error {
	small, large := min(inFrames, outFrames), max(inFrames, outFrames)
	if large%small != 0 {
		return streamerr.New(streamerr.ErrIncompatibleBufferParameters).
			Context("input_frames_per_buffer", inFrames).
			Context("output_frames_per_buffer", outFrames).
			Build()
	}
	return nil
}

// CheckExplicit runs the checks on explicit host buffers that do not need the
// negotiated sample format, so a request can be refused before any device is
// opened. SampleSize is ignored.
func CheckExplicit(req Request) error {
	in, out := req.Input, req.Output
	for _, d := range []*DirectionRequest{in, out} {
		if d == nil || !d.LowLevel {
			continue
		}
		if err := d.checkGeometry(req.FramesPerBuffer); err != nil {
			return err
		}
	}
	if in != nil && out != nil && in.LowLevel && out.LowLevel {
		return checkMultiple(in.FramesPerBuffer, out.FramesPerBuffer)
	}
	return nil
}

// selectPlan runs the size and count search for a direction without explicit
// parameters.
func selectPlan(d *DirectionRequest, rate float64, userFrames, minCount int) (Plan, error) {
	fs := d.frameSize()
	if fs <= 0 {
		return Plan{}, streamerr.New(streamerr.ErrInvalidChannelCount).
			Context("channels", d.Channels).
			Build()
	}
	maxSize := maxBufferBytes(rate, fs)
	if maxSize < fs {
		return Plan{}, streamerr.New(streamerr.ErrBufferTooSmall).
			Context("max_bytes", maxSize).
			Context("frame_size", fs).
			Build()
	}

	baseFrames := userFrames
	if baseFrames == 0 {
		baseFrames = MinFramesWhenUnspecified
	}
	if baseFrames*fs > MaxHostBufferBytes {
		return Plan{}, streamerr.New(streamerr.ErrBufferTooBig).
			Context("frames_per_buffer", baseFrames).
			Context("max_bytes", MaxHostBufferBytes).
			Build()
	}
	size, count := SelectBufferSizeAndCount(
		baseFrames*fs,
		latencyFrames(d.Latency, rate)*fs,
		BaseBufferCount,
		minCount,
		maxSize)

	return Plan{FramesPerBuffer: size / fs, BufferCount: count}, nil
}

// Calculate negotiates both directions of a buffered stream.
//
// In full duplex the directions end up with equal buffer sizes unless both were
// given explicitly, in which case the larger must be a multiple of the smaller.
func Calculate(req Request) (Plans, error) {
	var plans Plans
	in, out := req.Input, req.Output
	rate := req.SampleRate

	if in != nil {
		if in.LowLevel {
			if err := in.checkLowLevel(req.FramesPerBuffer); err != nil {
				return Plans{}, err
			}
			plans.Input = Plan{FramesPerBuffer: in.FramesPerBuffer, BufferCount: in.BufferCount}
		} else {
			minCount := MinInputBufferCountHalfDuplex
			if out != nil {
				minCount = MinInputBufferCountFullDuplex
			}
			p, err := selectPlan(in, rate, req.FramesPerBuffer, minCount)
			if err != nil {
				return Plans{}, err
			}
			plans.Input = p
		}
	}

	if out == nil {
		return plans, nil
	}

	if out.LowLevel {
		if err := out.checkLowLevel(req.FramesPerBuffer); err != nil {
			return Plans{}, err
		}
		plans.Output = Plan{FramesPerBuffer: out.FramesPerBuffer, BufferCount: out.BufferCount}

		if in != nil && plans.Input.FramesPerBuffer != plans.Output.FramesPerBuffer {
			if in.LowLevel {
				if err := checkMultiple(plans.Input.FramesPerBuffer, plans.Output.FramesPerBuffer); err != nil {
					return Plans{}, err
				}
			} else {
				plans.Input.FramesPerBuffer = plans.Output.FramesPerBuffer
				plans.Input.BufferCount = max(
					latencyFrames(in.Latency, rate)/plans.Input.FramesPerBuffer+1,
					MinInputBufferCountFullDuplex)
			}
		}
		return plans, nil
	}

	p, err := selectPlan(out, rate, req.FramesPerBuffer, MinOutputBufferCount)
	if err != nil {
		return Plans{}, err
	}
	plans.Output = p

	if in == nil || plans.Input.FramesPerBuffer == plans.Output.FramesPerBuffer {
		return plans, nil
	}

	// Reconcile on the smaller size.
	if plans.Input.FramesPerBuffer < plans.Output.FramesPerBuffer {
		fs := out.frameSize()
		frames := plans.Input.FramesPerBuffer
		plans.Output = Plan{
			FramesPerBuffer: frames,
			BufferCount: ReselectBufferCount(frames*fs, latencyFrames(out.Latency, rate)*fs,
				BaseBufferCount, MinOutputBufferCount),
		}
	} else {
		fs := in.frameSize()
		frames := plans.Output.FramesPerBuffer
		plans.Input = Plan{
			FramesPerBuffer: frames,
			BufferCount: ReselectBufferCount(frames*fs, latencyFrames(in.Latency, rate)*fs,
				BaseBufferCount, MinInputBufferCountFullDuplex),
		}
	}

	return plans, nil
}
