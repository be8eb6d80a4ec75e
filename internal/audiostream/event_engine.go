package audiostream

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/bufferset"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

const minStopTimeout = time.Second

// eventEngine drives buffered devices. With a callback it runs a worker
// goroutine woken by the devices' ready events; without one it backs the
// blocking Read and Write calls.
type eventEngine struct {
	id  string
	log logger.Logger

	in, out       *bufferset.Set
	inReady       *host.Event
	outReady      *host.Event
	abortEvent    *host.Event
	proc          *processor
	rate          float64
	clock         host.Clock
	cpu           *cpuLoad
	observer      Observer
	xruns         *xrunLog
	prime         bool
	throttle      bool
	finished      func()
	finishedMu    sync.Mutex
	underflows    atomic.Int64
	stopFlag      atomic.Bool
	abortFlag     atomic.Bool
	active        atomic.Bool
	done          chan struct{}
	pendingFlags  CallbackFlags // worker owned
	blockingXruns blockingState
	prioritize    func(threadPriority) error
}

type eventEngineConfig struct {
	id       string
	log      logger.Logger
	in, out  *bufferset.Set
	inReady  *host.Event
	outReady *host.Event
	proc     *processor
	rate     float64
	clock    host.Clock
	observer Observer
	prime    bool
	throttle bool
}

func newEventEngine(cfg *eventEngineConfig) *eventEngine {
	log := cfg.log.Module("event")
	return &eventEngine{
		id:         cfg.id,
		log:        log,
		in:         cfg.in,
		out:        cfg.out,
		inReady:    cfg.inReady,
		outReady:   cfg.outReady,
		abortEvent: host.NewEvent(),
		proc:       cfg.proc,
		rate:       cfg.rate,
		clock:      cfg.clock,
		cpu:        newCPULoad(cfg.rate),
		observer:   cfg.observer,
		xruns:      newXrunLog(cfg.id, log, cfg.observer),
		prime:      cfg.prime,
		throttle:   cfg.throttle,
		prioritize: setThreadPriority,
	}
}

func (e *eventEngine) callbackMode() bool {
	return e.proc != nil && e.proc.callback != nil
}

// ringDuration is the playout time of the longest ring.
func (e *eventEngine) ringDuration() time.Duration {
	frames := 0
	if e.in != nil {
		frames = e.in.Frames()
	}
	if e.out != nil {
		frames = max(frames, e.out.Frames())
	}
	return framesToDuration(frames, e.rate)
}

func (e *eventEngine) stopTimeout() time.Duration {
	return max(e.ringDuration()*3/2, minStopTimeout)
}

func (e *eventEngine) setFinishedCallback(fn func()) {
	e.finishedMu.Lock()
	e.finished = fn
	e.finishedMu.Unlock()
}

func (e *eventEngine) start() (err error) {
	e.proc.reset()
	e.stopFlag.Store(false)
	e.abortFlag.Store(false)
	e.pendingFlags = 0
	e.blockingXruns = blockingState{}

	defer func() {
		if err != nil {
			e.abortFlag.Store(true)
			e.abortEvent.Signal()
			if resetErr := e.resetDevices(); resetErr != nil {
				e.log.Warn("device reset after failed start", logger.Error(resetErr))
			}
			if e.done != nil {
				<-e.done
			}
			e.active.Store(false)
		}
	}()

	if e.in != nil {
		if err := e.in.Queue(); err != nil {
			return err
		}
	}

	primeResult := Continue
	if e.out != nil {
		if err := e.out.Pause(); err != nil {
			return err
		}
		primeResult, err = e.primeOutput()
		if err != nil {
			return err
		}
	}

	switch primeResult {
	case Complete:
		e.stopFlag.Store(true)
	case Abort:
		e.abortFlag.Store(true)
	}

	if e.inReady != nil {
		e.inReady.Reset()
	}
	if e.outReady != nil {
		e.outReady.Reset()
	}
	e.abortEvent.Reset()

	e.done = nil
	e.active.Store(true)
	if e.callbackMode() {
		e.done = make(chan struct{})
		go e.run(e.done)
	}

	if e.in != nil {
		if err := e.in.Start(); err != nil {
			return err
		}
	}
	if e.out != nil {
		if err := e.out.Start(); err != nil {
			return err
		}
	}
	return nil
}

// primeOutput fills and submits every output buffer while the devices are paused.
func (e *eventEngine) primeOutput() (CallbackResult, error) {
	result := Continue
	usePrime := e.prime && e.callbackMode()
	flags := PrimingOutput
	if e.in != nil {
		flags |= InputUnderflow
	}

	fpb := e.out.FramesPerBuffer()
	for i := range e.out.Count() {
		if usePrime {
			out := []piece{{regions: e.out.RegionsAt(i, 0, fpb), frames: fpb}}
			result = e.proc.process(fpb, nil, out, TimeInfo{CurrentTime: e.clock.Now()}, flags)
		} else {
			e.zeroBuffer(i)
		}
		if err := e.out.SubmitAt(i); err != nil {
			return result, err
		}
	}
	e.out.ResetCursor()
	return result, nil
}

func (e *eventEngine) zeroBuffer(i int) {
	silence := e.proc.outSilence()
	for _, r := range e.out.RegionsAt(i, 0, e.out.FramesPerBuffer()) {
		fill(r.Data, silence)
	}
}

// run is the worker. It owns both cursors until it returns.
func (e *eventEngine) run(done chan struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.setPriority(priorityHigh)
	throttled := false

	var inC, outC <-chan struct{}
	if e.in != nil {
		inC = e.inReady.C()
	}
	if e.out != nil {
		outC = e.outReady.C()
	}

	wait := e.ringDuration() / 2
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for finished := false; !finished; {
		timer.Reset(wait)
		select {
		case <-e.abortEvent.C():
		case <-inC:
		case <-outC:
		case <-timer.C:
		}

		switch {
		case e.abortFlag.Load():
			finished = true
		case e.stopFlag.Load():
			if e.out == nil || e.out.NoneQueued() {
				finished = true
			}
		default:
			finished = e.processAvailable(&throttled)
		}

		if throttled && (finished || e.stopFlag.Load() || e.abortFlag.Load()) {
			e.setPriority(priorityHigh)
			throttled = false
		}
	}

	e.active.Store(false)
	e.cpu.reset()

	e.finishedMu.Lock()
	fn := e.finished
	e.finishedMu.Unlock()
	if fn != nil {
		fn()
	}
}

// processAvailable handles every buffer that is ready. It returns true when
// the worker should exit.
func (e *eventEngine) processAvailable(throttled *bool) bool {
	for !e.stopFlag.Load() && !e.abortFlag.Load() {
		if err := e.proactiveCatchUp(); err != nil {
			e.log.Error("catch-up failed", logger.Error(err))
			return true
		}

		inReady := e.in == nil || e.in.CurrentDone()
		outReady := e.out == nil || e.out.CurrentDone()
		if !inReady || !outReady {
			return false
		}

		finished, err := e.processBuffers()
		if err != nil {
			e.log.Error("buffer processing failed", logger.Error(err))
			return true
		}
		if finished {
			return true
		}

		if e.throttle {
			e.applyThrottle(throttled)
		}
	}
	return false
}

func (e *eventEngine) proactiveCatchUp() error {
	if e.in != nil && e.in.FramesUsed() == 0 && e.in.NoneQueued() {
		if err := e.in.CatchUpInput(); err != nil {
			return err
		}
		e.pendingFlags |= InputOverflow
		e.xruns.catchUp(host.Input, "overflow")
	}
	if e.out != nil && e.out.FramesUsed() == 0 && e.out.NoneQueued() {
		if err := e.out.CatchUpOutput(); err != nil {
			return err
		}
		e.pendingFlags |= OutputUnderflow
		e.underflows.Add(1)
		e.xruns.catchUp(host.Output, "underflow")
	}
	return nil
}

// processBuffers runs the callback over the current buffers and advances the
// directions that filled up.
func (e *eventEngine) processBuffers() (finished bool, err error) {
	frames := 0
	var inPieces, outPieces []piece
	switch {
	case e.in != nil && e.out != nil:
		frames = min(e.in.Remaining(), e.out.Remaining())
	case e.in != nil:
		frames = e.in.Remaining()
	default:
		frames = e.out.Remaining()
	}
	if e.in != nil {
		inPieces = []piece{{regions: e.in.Regions(frames), frames: frames}}
	}
	if e.out != nil {
		outPieces = []piece{{regions: e.out.Regions(frames), frames: frames}}
	}

	flags := e.pendingFlags
	t := e.timeInfo()
	e.cpu.begin()
	result := e.proc.process(frames, inPieces, outPieces, t, flags)
	e.cpu.end(frames)
	e.pendingFlags = 0
	e.observer.Callback(e.id, frames, flags, e.cpu.value())

	switch result {
	case Abort:
		e.abortFlag.Store(true)
		finished = true
	case Complete:
		e.stopFlag.Store(true)
	}

	if e.in != nil {
		e.in.Consume(frames)
		if e.in.Full() {
			if e.in.NoneQueued() {
				// Catching up submits the buffer just read along with the stale ones.
				err = e.in.CatchUpInput()
				e.pendingFlags |= InputOverflow
				e.xruns.catchUp(host.Input, "overflow")
			} else {
				err = e.in.Advance()
			}
			if err != nil {
				return true, err
			}
		}
	}

	if e.out != nil {
		e.out.Consume(frames)
		stopping := e.stopFlag.Load()
		if stopping && e.out.FramesUsed() > 0 && !e.out.Full() {
			e.out.ZeroRemaining()
		}
		if e.out.Full() {
			underflowed := e.out.NoneQueued()
			if err := e.out.Advance(); err != nil {
				return true, err
			}
			if underflowed && !finished && !stopping {
				if err := e.out.CatchUpOutput(); err != nil {
					return true, err
				}
				e.pendingFlags |= OutputUnderflow
				e.underflows.Add(1)
				e.xruns.catchUp(host.Output, "underflow")
			}
		}
	}
	return finished, nil
}

func (e *eventEngine) applyThrottle(throttled *bool) {
	if e.cpu.value() > 1 {
		if !*throttled {
			e.setPriority(priorityThrottled)
			*throttled = true
		}
		fpb := 0
		if e.out != nil {
			fpb = e.out.FramesPerBuffer()
		} else {
			fpb = e.in.FramesPerBuffer()
		}
		time.Sleep(framesToDuration(fpb, e.rate) / 4)
		return
	}
	if *throttled {
		e.setPriority(priorityHigh)
		*throttled = false
	}
}

func (e *eventEngine) setPriority(p threadPriority) {
	if err := e.prioritize(p); err != nil {
		e.log.Debug("thread priority unchanged",
			logger.String("priority", p.String()),
			logger.Error(err))
	}
}

// timeInfo derives buffer times from the output position. The ring distance
// between the play position and the write cursor is the time until the next
// written frame reaches the DAC.
func (e *eventEngine) timeInfo() TimeInfo {
	now := e.clock.Now()
	t := TimeInfo{CurrentTime: now}
	if e.in != nil {
		t.InputBufferADCTime = now - framesToDuration(e.in.Frames(), e.rate)
	}
	if e.out != nil {
		t.OutputBufferDACTime = now
		if pos, err := e.out.Position(); err == nil {
			ring := e.out.Frames()
			play := int(pos % int64(ring))
			write := e.out.Index()*e.out.FramesPerBuffer() + e.out.FramesUsed()
			t.OutputBufferDACTime = now + framesToDuration((write-play+ring)%ring, e.rate)
		}
	}
	return t
}

func (e *eventEngine) waitDone(timeout time.Duration) bool {
	if e.done == nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return true
	case <-timer.C:
		return false
	}
}

func (e *eventEngine) stop() error {
	var err error
	if e.callbackMode() {
		e.stopFlag.Store(true)
		timeout := e.stopTimeout()
		if !e.waitDone(timeout) {
			e.log.Warn("worker did not drain in time, aborting",
				logger.String("stream_id", e.id),
				logger.Duration("timeout", timeout))
			e.abortFlag.Store(true)
			e.abortEvent.Signal()
			if !e.waitDone(timeout) {
				err = streamerr.New(streamerr.ErrTimedOut).
					Context("operation", "stop").
					Timing("stop_timeout", timeout).
					Build()
			}
		}
	} else {
		err = e.drainBlocking()
		e.logBlockingXruns()
	}

	if resetErr := e.resetDevices(); resetErr != nil && err == nil {
		err = streamerr.Unanticipated(resetErr).Context("operation", "stop").Build()
	}
	e.active.Store(false)
	return err
}

// drainBlocking submits a partly written output buffer and waits for the
// device to play everything queued.
func (e *eventEngine) drainBlocking() error {
	if e.out == nil {
		return nil
	}
	if e.out.FramesUsed() > 0 {
		e.out.ZeroRemaining()
		if err := e.out.Advance(); err != nil {
			return err
		}
	}

	count := e.out.Count()
	perBuffer := max(e.ringDuration()/time.Duration(count)+time.Millisecond, minStopTimeout)
	for waits := 0; !e.out.NoneQueued(); waits++ {
		if waits > count {
			return streamerr.New(streamerr.ErrTimedOut).
				Context("operation", "stop").
				Context("queued", count).
				Build()
		}
		e.outReady.Wait(perBuffer)
	}
	return nil
}

func (e *eventEngine) abort() error {
	e.abortFlag.Store(true)
	e.abortEvent.Signal()
	resetErr := e.resetDevices()

	var err error
	if e.callbackMode() {
		timeout := e.stopTimeout()
		if !e.waitDone(timeout) {
			err = streamerr.New(streamerr.ErrTimedOut).
				Context("operation", "abort").
				Timing("abort_timeout", timeout).
				Build()
		} else {
			// The worker may have submitted buffers before it saw the flag.
			resetErr = errors.Join(resetErr, e.resetDevices())
		}
	}
	if resetErr != nil && err == nil {
		err = streamerr.Unanticipated(resetErr).Context("operation", "abort").Build()
	}
	e.active.Store(false)
	return err
}

// resetDevices resets output first so nothing more is played, then input.
func (e *eventEngine) resetDevices() error {
	var errs []error
	if e.out != nil {
		errs = append(errs, e.out.Reset())
	}
	if e.in != nil {
		errs = append(errs, e.in.Reset())
	}
	return errors.Join(errs...)
}

func (e *eventEngine) workerRunning() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *eventEngine) isActive() bool {
	return e.active.Load()
}

// close releases buffers then devices, output before input. The engine must
// be stopped.
func (e *eventEngine) close() error {
	var errs []error
	e.abortEvent.Reset()
	if e.out != nil {
		errs = append(errs, e.out.Release())
	}
	if e.in != nil {
		errs = append(errs, e.in.Release())
	}
	if e.out != nil {
		errs = append(errs, e.out.CloseDevices())
	}
	if e.in != nil {
		errs = append(errs, e.in.CloseDevices())
	}
	return errors.Join(errs...)
}

func (e *eventEngine) cpuLoad() float64 {
	return e.cpu.value()
}

func (e *eventEngine) underflowCount() int64 {
	return e.underflows.Load()
}

func (e *eventEngine) deviceCount(dir host.Direction) int {
	if dir == host.Input && e.in != nil {
		return e.in.DeviceCount()
	}
	if dir == host.Output && e.out != nil {
		return e.out.DeviceCount()
	}
	return 0
}
