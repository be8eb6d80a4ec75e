package audiostream

import (
	"strings"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/format"
	"github.com/tphakala/audiostream/internal/audiostream/host"
)

// CallbackResult tells the engine what to do after a callback.
type CallbackResult int

const (
	// Continue keeps the stream running.
	Continue CallbackResult = iota
	// Complete plays out what is queued and then deactivates the stream.
	Complete
	// Abort deactivates the stream without draining.
	Abort
)

func (r CallbackResult) String() string {
	switch r {
	case Continue:
		return "continue"
	case Complete:
		return "complete"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// CallbackFlags report xruns and priming to the callback.
type CallbackFlags uint32

const (
	InputUnderflow CallbackFlags = 1 << iota
	InputOverflow
	OutputUnderflow
	OutputOverflow
	PrimingOutput
)

var callbackFlagNames = []struct {
	flag CallbackFlags
	name string
}{
	{InputUnderflow, "input_underflow"},
	{InputOverflow, "input_overflow"},
	{OutputUnderflow, "output_underflow"},
	{OutputOverflow, "output_overflow"},
	{PrimingOutput, "priming_output"},
}

func (f CallbackFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, n := range callbackFlagNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// TimeInfo carries stream times for the first frame of a callback.
type TimeInfo struct {
	InputBufferADCTime  time.Duration
	CurrentTime         time.Duration
	OutputBufferDACTime time.Duration
}

// Callback processes one block of interleaved frames in the caller's sample
// formats. in is nil for output only streams and out is nil for input only
// streams. The callback runs on the engine goroutine and must not block.
type Callback func(in, out []byte, frames int, t TimeInfo, flags CallbackFlags) CallbackResult

// HostFlags select host specific behavior per direction.
type HostFlags uint32

const (
	// UseLowLevelLatencyParameters takes BufferCount and FramesPerBuffer as given.
	UseLowLevelLatencyParameters HostFlags = 1 << iota
	// UseMultipleDevices spreads the channels over Bindings.
	UseMultipleDevices
	// UseChannelMask passes ChannelMask to the device instead of the default.
	UseChannelMask
	// DontThrottleOverloadedProcessingThread disables throttling under overload.
	DontThrottleOverloadedProcessingThread

	validHostFlags = UseLowLevelLatencyParameters | UseMultipleDevices | UseChannelMask |
		DontThrottleOverloadedProcessingThread
)

// StreamFlags modify a whole stream.
type StreamFlags uint32

const (
	// PrimeOutputBuffersUsingCallback fills the initial output from the callback
	// instead of silence.
	PrimeOutputBuffersUsingCallback StreamFlags = 1 << iota
	// NeverThrottle disables throttling under overload.
	NeverThrottle

	validStreamFlags = PrimeOutputBuffersUsingCallback | NeverThrottle
)

// EngineKind selects the processing engine.
type EngineKind int

const (
	// EngineAuto uses the event engine when the driver supports it, else the poll engine.
	EngineAuto EngineKind = iota
	EngineEvent
	EnginePoll
)

func (k EngineKind) String() string {
	switch k {
	case EngineAuto:
		return "auto"
	case EngineEvent:
		return "event"
	case EnginePoll:
		return "poll"
	default:
		return "unknown"
	}
}

// ParseEngineKind maps a configuration value to an EngineKind.
func ParseEngineKind(s string) (EngineKind, bool) {
	for _, k := range []EngineKind{EngineAuto, EngineEvent, EnginePoll} {
		if k.String() == s {
			return k, true
		}
	}
	return EngineAuto, false
}

// DeviceBinding assigns part of a direction's channels to one device.
type DeviceBinding = format.Binding

// DeviceInfo describes one directory entry.
type DeviceInfo = format.DeviceInfo

// Parameters describe one direction of a stream.
type Parameters struct {
	Device           host.DeviceID
	Channels         int
	Format           host.SampleFormat
	SuggestedLatency time.Duration
	Flags            HostFlags

	// Used with UseMultipleDevices instead of Device.
	Bindings []DeviceBinding
	// Used with UseLowLevelLatencyParameters instead of SuggestedLatency.
	FramesPerBuffer int
	BufferCount     int
	// Used with UseChannelMask.
	ChannelMask host.ChannelMask
}

// bindings returns the devices the direction is spread over.
func (p *Parameters) bindings() []DeviceBinding {
	if p.Flags&UseMultipleDevices != 0 {
		return p.Bindings
	}
	return []DeviceBinding{{Device: p.Device, Channels: p.Channels}}
}

// StreamConfig is the input of HostAPI.OpenStream. A nil Callback opens a
// blocking stream driven by Read and Write.
type StreamConfig struct {
	Input           *Parameters
	Output          *Parameters
	SampleRate      float64
	FramesPerBuffer int // 0 lets the engine choose
	Flags           StreamFlags
	Callback        Callback
	Engine          EngineKind
}

// StreamInfo reports the negotiated latencies.
type StreamInfo struct {
	InputLatency  time.Duration
	OutputLatency time.Duration
	SampleRate    float64
}

// State is the lifecycle state of a Stream.
type State int32

const (
	StateStopped State = iota
	StatePriming
	StateActive
	StateDraining
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePriming:
		return "priming"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}
