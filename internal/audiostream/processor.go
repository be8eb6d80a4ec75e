package audiostream

import (
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/bufferset"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
)

// sampleLayout is the caller and host representation of one direction.
type sampleLayout struct {
	channels int
	user     host.SampleFormat
	host     host.SampleFormat
}

func (l *sampleLayout) userFrameSize() int { return l.channels * l.user.Size() }
func (l *sampleLayout) hostFrameSize() int { return l.channels * l.host.Size() }

// piece is a run of frames in host memory, one region per device.
type piece struct {
	regions []host.Region
	frames  int
}

// processor moves frames between host regions and the callback. It converts to
// the caller's formats, interleaves across devices and, with a fixed user
// buffer size, splits the host frames into callback sized blocks.
//
// After the callback returns anything other than Continue it is not called
// again until reset, and the remaining output is silence.
type processor struct {
	callback        Callback
	framesPerBuffer int
	rate            float64
	conv            convert.Converter
	in, out         *sampleLayout

	inUser, outUser []byte
	inHost, outHost []byte

	result CallbackResult
}

func newProcessor(cb Callback, framesPerBuffer int, rate float64, in, out *sampleLayout, maxFrames int) *processor {
	p := &processor{
		callback:        cb,
		framesPerBuffer: framesPerBuffer,
		rate:            rate,
		conv:            convert.PCM{},
		in:              in,
		out:             out,
	}
	if in != nil {
		p.inUser = make([]byte, maxFrames*in.userFrameSize())
		p.inHost = make([]byte, maxFrames*in.hostFrameSize())
	}
	if out != nil {
		p.outUser = make([]byte, maxFrames*out.userFrameSize())
		p.outHost = make([]byte, maxFrames*out.hostFrameSize())
	}
	return p
}

func (p *processor) reset() {
	p.result = Continue
}

// process runs the callback over frames. in and out each cover exactly frames
// frames; an empty in on an input stream delivers silence.
func (p *processor) process(frames int, in, out []piece, t TimeInfo, flags CallbackFlags) CallbackResult {
	if frames <= 0 {
		return p.result
	}

	if p.in != nil {
		if len(in) == 0 {
			fill(p.inUser[:frames*p.in.userFrameSize()], convert.Silence(p.in.user))
		} else {
			p.gather(in, frames)
		}
	}

	block := p.framesPerBuffer
	if block == 0 {
		block = frames
	}
	for done := 0; done < frames; done += block {
		n := min(block, frames-done)
		var inBlock, outBlock []byte
		if p.in != nil {
			fs := p.in.userFrameSize()
			inBlock = p.inUser[done*fs : (done+n)*fs]
		}
		if p.out != nil {
			fs := p.out.userFrameSize()
			outBlock = p.outUser[done*fs : (done+n)*fs]
		}

		if p.result != Continue {
			if outBlock != nil {
				fill(outBlock, convert.Silence(p.out.user))
			}
			continue
		}

		offset := p.framesDuration(done)
		bt := t
		bt.CurrentTime += offset
		if p.in != nil {
			bt.InputBufferADCTime += offset
		}
		if p.out != nil {
			bt.OutputBufferDACTime += offset
		}
		p.result = p.callback(inBlock, outBlock, n, bt, flags)
		flags &= PrimingOutput
	}

	if p.out != nil {
		p.scatter(out, frames)
	}
	return p.result
}

func (p *processor) gather(in []piece, frames int) {
	size := p.in.host.Size()
	fs := p.in.hostFrameSize()
	offset := 0
	for _, pc := range in {
		bufferset.Gather(p.inHost[offset*fs:], pc.regions, size, pc.frames)
		offset += pc.frames
	}
	p.conv.Convert(p.inUser, p.in.user, p.inHost, p.in.host, frames*p.in.channels)
}

func (p *processor) scatter(out []piece, frames int) {
	size := p.out.host.Size()
	fs := p.out.hostFrameSize()
	p.conv.Convert(p.outHost, p.out.host, p.outUser, p.out.user, frames*p.out.channels)
	offset := 0
	for _, pc := range out {
		bufferset.Scatter(pc.regions, p.outHost[offset*fs:(offset+pc.frames)*fs], size, pc.frames)
		offset += pc.frames
	}
}

// readInto converts frames of captured host audio into dst.
func (p *processor) readInto(dst []byte, regions []host.Region, frames int) {
	bufferset.Gather(p.inHost, regions, p.in.host.Size(), frames)
	p.conv.Convert(dst, p.in.user, p.inHost, p.in.host, frames*p.in.channels)
}

// writeFrom converts frames of src into host regions.
func (p *processor) writeFrom(regions []host.Region, src []byte, frames int) {
	fs := p.out.hostFrameSize()
	p.conv.Convert(p.outHost, p.out.host, src, p.out.user, frames*p.out.channels)
	bufferset.Scatter(regions, p.outHost[:frames*fs], p.out.host.Size(), frames)
}

// outSilence is the host silence byte of the output.
func (p *processor) outSilence() byte {
	return convert.Silence(p.out.host)
}

func (p *processor) framesDuration(frames int) time.Duration {
	return framesToDuration(frames, p.rate)
}

func framesToDuration(frames int, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) * float64(time.Second) / rate)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
