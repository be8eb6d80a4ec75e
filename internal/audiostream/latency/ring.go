package latency

import (
	"os"
	"strconv"
	"time"
)

// MinLatencyEnvVar overrides the poll engine latency floor in milliseconds.
const MinLatencyEnvVar = "AUDIOSTREAM_MIN_LATENCY_MSEC"

// DefaultMinLatency is the poll engine latency floor without an override.
const DefaultMinLatency = 120 * time.Millisecond

const (
	minTimerPeriod = 10 * time.Millisecond
	maxTimerPeriod = 100 * time.Millisecond
)

// MinLatency resolves the poll engine latency floor: a positive configured value
// wins, then the environment, then DefaultMinLatency.
func MinLatency(configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	if v := os.Getenv(MinLatencyEnvVar); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return DefaultMinLatency
}

// RingRequest is the input of RingPlan.
type RingRequest struct {
	SampleRate      float64
	FramesPerBuffer int // user buffer size, 0 when unspecified
	InputLatency    time.Duration
	OutputLatency   time.Duration
	MinLatency      time.Duration
}

// Ring describes the circular buffer of a poll engine stream.
type Ring struct {
	Frames        int
	OutputLatency time.Duration
	TimerPeriod   time.Duration
	StopTimeout   time.Duration
}

// RingPlan sizes the ring. A suggested latency larger than zero replaces the floor.
// With a fixed user buffer size the ring holds enough whole user buffers for the
// latency plus one more.
func RingPlan(req RingRequest) Ring {
	rate := req.SampleRate
	minFrames := latencyFrames(req.MinLatency, rate)
	if user := latencyFrames(max(req.InputLatency, req.OutputLatency), rate); user > 0 {
		minFrames = user
	}

	var r Ring
	if req.FramesPerBuffer == 0 {
		r.Frames = minFrames
		r.OutputLatency = framesToDuration(minFrames-1, rate)
	} else {
		fpb := req.FramesPerBuffer
		buffers := max((minFrames+fpb-1)/fpb, 1) + 1
		r.Frames = fpb * buffers
		r.OutputLatency = framesToDuration(fpb*(buffers-1), rate)
	}

	r.TimerPeriod = time.Duration(int(1000*float64(r.Frames/4)/rate)) * time.Millisecond
	r.TimerPeriod = min(max(r.TimerPeriod, minTimerPeriod), maxTimerPeriod)
	r.StopTimeout = time.Duration(1.2 * float64(r.Frames) / rate * float64(time.Second))
	return r
}

func framesToDuration(frames int, rate float64) time.Duration {
	if rate <= 0 || frames <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / rate * float64(time.Second))
}
