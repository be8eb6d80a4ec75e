// Package latency turns requested latencies into host buffer sizes and counts.
//
// Sizes are computed in bytes so the byte ceiling applies directly, then converted
// back to frames. Realized latency is framesPerBuffer × (bufferCount − 1) because
// one buffer is always held by the engine.
package latency

import "time"

// Buffered engine limits.
const (
	MinOutputBufferCount          = 2
	MinInputBufferCountFullDuplex = 3
	MinInputBufferCountHalfDuplex = 2
	MinFramesWhenUnspecified      = 16
	MaxHostBufferSeconds          = 0.1
	MaxHostBufferBytes            = 32 * 1024
	BaseBufferCount               = 4
)

// Default suggested latencies reported for buffered devices.
const (
	DefaultLowLatency  = 200 * time.Millisecond
	DefaultHighLatency = 2 * DefaultLowLatency
)

// SelectBufferSizeAndCount picks a buffer size that is a multiple of baseSize and
// a count such that size × (count − 1) reaches requested. The size never grows
// past maxSize; once it stops growing the count makes up the rest. baseSize itself
// is kept even when it exceeds maxSize.
func SelectBufferSizeAndCount(baseSize, requested, baseCount, minCount, maxSize int) (size, count int) {
	multiplier := 1
	count = baseCount

	latency := baseSize * multiplier * (count - 1)

	switch {
	case latency > requested:
		next := baseSize * multiplier * (count - 2)
		for count > minCount && next >= requested {
			count--
			next = baseSize * multiplier * (count - 2)
		}

	case latency < requested:
		if isPowerOfTwo(baseSize) {
			nextSize := baseSize * multiplier * 2
			nextLatency := nextSize * (count - 1)
			for nextSize <= maxSize && nextLatency < requested {
				multiplier *= 2
				nextSize = baseSize * multiplier * 2
				nextLatency = nextSize * (count - 1)
			}
		} else {
			nextSize := baseSize * (multiplier + 1)
			nextLatency := nextSize * (count - 1)
			for nextSize <= maxSize && nextLatency < requested {
				multiplier++
				nextSize = baseSize * (multiplier + 1)
				nextLatency = nextSize * (count - 1)
			}
		}

		latency = baseSize * multiplier * (count - 1)
		for latency < requested {
			count++
			latency = baseSize * multiplier * (count - 1)
		}
	}

	return baseSize * multiplier, count
}

// ReselectBufferCount adjusts only the count for a fixed size.
func ReselectBufferCount(size, requested, baseCount, minCount int) int {
	count := baseCount
	latency := size * (count - 1)

	switch {
	case latency > requested:
		next := size * (count - 2)
		for count > minCount && next >= requested {
			count--
			next = size * (count - 2)
		}
	case latency < requested:
		for latency < requested {
			count++
			latency = size * (count - 1)
		}
	}
	return count
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
