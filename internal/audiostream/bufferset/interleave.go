package bufferset

import "github.com/tphakala/audiostream/internal/audiostream/host"

// Gather interleaves frames from per-device regions into dst, devices in order.
// dst holds frames × total channels samples.
func Gather(dst []byte, regions []host.Region, sampleSize, frames int) {
	if len(regions) == 1 {
		copy(dst, regions[0].Data[:frames*regions[0].Channels*sampleSize])
		return
	}

	total := totalChannels(regions)
	dstFrame := total * sampleSize
	offset := 0
	for _, r := range regions {
		fs := r.Channels * sampleSize
		for f := range frames {
			copy(dst[f*dstFrame+offset:f*dstFrame+offset+fs], r.Data[f*fs:(f+1)*fs])
		}
		offset += fs
	}
}

// Scatter is the inverse of Gather.
func Scatter(regions []host.Region, src []byte, sampleSize, frames int) {
	if len(regions) == 1 {
		copy(regions[0].Data[:frames*regions[0].Channels*sampleSize], src)
		return
	}

	total := totalChannels(regions)
	srcFrame := total * sampleSize
	offset := 0
	for _, r := range regions {
		fs := r.Channels * sampleSize
		for f := range frames {
			copy(r.Data[f*fs:(f+1)*fs], src[f*srcFrame+offset:f*srcFrame+offset+fs])
		}
		offset += fs
	}
}

func totalChannels(regions []host.Region) int {
	total := 0
	for _, r := range regions {
		total += r.Channels
	}
	return total
}
