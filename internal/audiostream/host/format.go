package host

import "fmt"

// SampleFormat is the in-memory representation of one sample.
type SampleFormat int

const (
	Float32 SampleFormat = iota
	Int32
	Int24 // packed, 3 bytes little endian
	Int16
	Int8
	UInt8
)

// Size returns bytes per sample.
func (f SampleFormat) Size() int {
	switch f {
	case Float32, Int32:
		return 4
	case Int24:
		return 3
	case Int16:
		return 2
	case Int8, UInt8:
		return 1
	default:
		return 0
	}
}

// Bits returns the valid bits per sample.
func (f SampleFormat) Bits() int {
	return f.Size() * 8
}

func (f SampleFormat) String() string {
	switch f {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int24:
		return "int24"
	case Int16:
		return "int16"
	case Int8:
		return "int8"
	case UInt8:
		return "uint8"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

// ParseSampleFormat maps the names returned by String back to formats.
func ParseSampleFormat(s string) (SampleFormat, error) {
	for _, f := range []SampleFormat{Float32, Int32, Int24, Int16, Int8, UInt8} {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

// Layout is the descriptor flavour offered to the driver.
type Layout int

const (
	// LayoutExtensible carries valid bits and a channel mask.
	LayoutExtensible Layout = iota
	// LayoutMinimal carries only format, channels and rate.
	LayoutMinimal
)

func (l Layout) String() string {
	if l == LayoutExtensible {
		return "extensible"
	}
	return "minimal"
}

// ChannelMask assigns speaker positions to channels, lowest bit first.
type ChannelMask uint32

// Speaker positions.
const (
	SpeakerFrontLeft          ChannelMask = 0x1
	SpeakerFrontRight         ChannelMask = 0x2
	SpeakerFrontCenter        ChannelMask = 0x4
	SpeakerLowFrequency       ChannelMask = 0x8
	SpeakerBackLeft           ChannelMask = 0x10
	SpeakerBackRight          ChannelMask = 0x20
	SpeakerFrontLeftOfCenter  ChannelMask = 0x40
	SpeakerFrontRightOfCenter ChannelMask = 0x80
	SpeakerBackCenter         ChannelMask = 0x100
	SpeakerSideLeft           ChannelMask = 0x200
	SpeakerSideRight          ChannelMask = 0x400
)

// Common layouts.
const (
	ChannelMaskDirectOut ChannelMask = 0
	ChannelMaskMono                  = SpeakerFrontCenter
	ChannelMaskStereo                = SpeakerFrontLeft | SpeakerFrontRight
	ChannelMaskQuad                  = SpeakerFrontLeft | SpeakerFrontRight | SpeakerBackLeft | SpeakerBackRight
	ChannelMask5Point1               = SpeakerFrontLeft | SpeakerFrontRight | SpeakerFrontCenter | SpeakerLowFrequency | SpeakerBackLeft | SpeakerBackRight
	ChannelMask7Point1               = ChannelMask5Point1 | SpeakerFrontLeftOfCenter | SpeakerFrontRightOfCenter
)

// FormatDescriptor describes the stream format for one device.
type FormatDescriptor struct {
	Layout      Layout
	Format      SampleFormat
	Channels    int
	SampleRate  float64
	ValidBits   int         // extensible only
	ChannelMask ChannelMask // extensible only
}

// FrameSize returns bytes per frame.
func (d FormatDescriptor) FrameSize() int {
	return d.Channels * d.Format.Size()
}

// BytesPerSecond returns the data rate rounded to whole frames per second.
func (d FormatDescriptor) BytesPerSecond() int {
	return int(d.SampleRate+0.5) * d.FrameSize()
}

func (d FormatDescriptor) String() string {
	if d.Layout == LayoutExtensible {
		return fmt.Sprintf("%s %dch %s %gHz mask=%#x", d.Layout, d.Channels, d.Format, d.SampleRate, uint32(d.ChannelMask))
	}
	return fmt.Sprintf("%s %dch %s %gHz", d.Layout, d.Channels, d.Format, d.SampleRate)
}
