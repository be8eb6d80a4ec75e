package audiostream

import (
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
	"github.com/tphakala/audiostream/internal/logger"
)

// blockingState counts xruns seen by the blocking calls since Start.
type blockingState struct {
	overflows  int
	underflows int
}

// read copies frames of captured audio into dst, waiting for the device as
// needed. A starved ring is caught up and reported with ErrInputOverflowed
// after the transfer completes.
func (e *eventEngine) read(dst []byte, frames int) error {
	in := e.in
	fs := e.proc.in.userFrameSize()
	wait := e.ringDuration() / 2
	overflowed := false

	for done := 0; done < frames; {
		if !in.CurrentDone() {
			e.inReady.Wait(wait)
			continue
		}

		if in.FramesUsed() == 0 && in.NoneQueued() {
			if err := in.CatchUpInput(); err != nil {
				return err
			}
			overflowed = true
			e.blockingXruns.overflows++
			e.xruns.catchUp(host.Input, "overflow")
		}

		n := min(in.Remaining(), frames-done)
		e.proc.readInto(dst[done*fs:(done+n)*fs], in.Regions(n), n)
		in.Consume(n)
		done += n
		if in.Full() {
			if err := in.Advance(); err != nil {
				return err
			}
		}
	}

	if overflowed {
		return streamerr.New(streamerr.ErrInputOverflowed).
			Context("frames", frames).
			Build()
	}
	return nil
}

// write copies frames from src into output buffers, waiting for the device as
// needed. A starved ring is caught up and reported with ErrOutputUnderflowed.
func (e *eventEngine) write(src []byte, frames int) error {
	out := e.out
	fs := e.proc.out.userFrameSize()
	wait := e.ringDuration() / 2
	underflowed := false

	for done := 0; done < frames; {
		if !out.CurrentDone() {
			e.outReady.Wait(wait)
			continue
		}

		if out.NoneQueued() {
			if out.FramesUsed() == 0 {
				if err := out.CatchUpOutput(); err != nil {
					return err
				}
			}
			underflowed = true
			e.underflows.Add(1)
			e.blockingXruns.underflows++
			e.xruns.catchUp(host.Output, "underflow")
		}

		n := min(out.Remaining(), frames-done)
		e.proc.writeFrom(out.Regions(n), src[done*fs:(done+n)*fs], n)
		out.Consume(n)
		done += n
		if out.Full() {
			if err := out.Advance(); err != nil {
				return err
			}
		}
	}

	if underflowed {
		return streamerr.New(streamerr.ErrOutputUnderflowed).
			Context("frames", frames).
			Build()
	}
	return nil
}

func (e *eventEngine) readAvailable() int {
	return e.in.AvailableFrames()
}

func (e *eventEngine) writeAvailable() int {
	return e.out.AvailableFrames()
}

func (e *eventEngine) logBlockingXruns() {
	if e.blockingXruns.overflows == 0 && e.blockingXruns.underflows == 0 {
		return
	}
	e.log.Info("blocking stream xruns",
		logger.String("stream_id", e.id),
		logger.Int("input_overflows", e.blockingXruns.overflows),
		logger.Int("output_underflows", e.blockingXruns.underflows))
}
