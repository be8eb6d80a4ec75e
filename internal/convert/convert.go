// Package convert translates PCM samples between the sample formats a stream
// caller and a host device may use. All conversion goes through float64 in the
// range [-1, 1) so integer round trips of the same width are exact.
package convert

import (
	"encoding/binary"
	"math"

	"github.com/tphakala/audiostream/internal/audiostream/host"
)

// Converter translates interleaved samples from one format to another.
type Converter interface {
	Convert(dst []byte, dstFormat host.SampleFormat, src []byte, srcFormat host.SampleFormat, samples int)
}

// PCM is the default Converter.
type PCM struct{}

// Convert implements Converter.
func (PCM) Convert(dst []byte, dstFormat host.SampleFormat, src []byte, srcFormat host.SampleFormat, samples int) {
	Convert(dst, dstFormat, src, srcFormat, samples)
}

// Convert writes samples from src in srcFormat to dst in dstFormat.
func Convert(dst []byte, dstFormat host.SampleFormat, src []byte, srcFormat host.SampleFormat, samples int) {
	if dstFormat == srcFormat {
		copy(dst[:samples*dstFormat.Size()], src[:samples*srcFormat.Size()])
		return
	}
	ds, ss := dstFormat.Size(), srcFormat.Size()
	for i := range samples {
		PutSample(dst[i*ds:], dstFormat, Sample(src[i*ss:], srcFormat))
	}
}

// Silence returns the byte that fills a silent buffer of format f.
func Silence(f host.SampleFormat) byte {
	if f == host.UInt8 {
		return 0x80
	}
	return 0
}

// Sample decodes the first sample of b.
func Sample(b []byte, f host.SampleFormat) float64 {
	switch f {
	case host.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case host.Int32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31)
	case host.Int24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / (1 << 23)
	case host.Int16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / (1 << 15)
	case host.Int8:
		return float64(int8(b[0])) / (1 << 7)
	case host.UInt8:
		return (float64(b[0]) - 128) / (1 << 7)
	default:
		return 0
	}
}

// PutSample encodes v into the first sample of b, clamping to the format range.
func PutSample(b []byte, f host.SampleFormat, v float64) {
	switch f {
	case host.Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case host.Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(scale(v, 32))))
	case host.Int24:
		s := int32(scale(v, 24))
		b[0], b[1], b[2] = byte(s), byte(s>>8), byte(s>>16)
	case host.Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(scale(v, 16))))
	case host.Int8:
		b[0] = byte(int8(scale(v, 8)))
	case host.UInt8:
		b[0] = byte(scale(v, 8) + 128)
	}
}

// scale maps v to a signed integer of bits width with clamping.
func scale(v float64, bits uint) int64 {
	full := float64(int64(1) << (bits - 1))
	s := math.Round(v * full)
	switch {
	case s > full-1:
		return int64(full - 1)
	case s < -full:
		return int64(-full)
	default:
		return int64(s)
	}
}

// ToInts decodes samples into integers of bitDepth bits, the representation
// the WAV encoder expects.
func ToInts(dst []int, src []byte, f host.SampleFormat, bitDepth int) {
	ss := f.Size()
	for i := range dst {
		dst[i] = int(scale(Sample(src[i*ss:], f), uint(bitDepth)))
	}
}

// FromInts encodes integers of bitDepth bits into samples of format f.
func FromInts(dst []byte, f host.SampleFormat, src []int, bitDepth int) {
	ss := f.Size()
	full := float64(int64(1) << (bitDepth - 1))
	for i, v := range src {
		PutSample(dst[i*ss:], f, float64(v)/full)
	}
}
