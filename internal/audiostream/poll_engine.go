package audiostream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/latency"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

const stopPollInterval = 10 * time.Millisecond

// ringSide is one direction of a poll engine stream.
type ringSide struct {
	dev       host.RingDevice
	size      int // bytes
	frameSize int
	channels  int
}

func (r *ringSide) pieces(offset, frames int) ([]piece, [2][]byte, error) {
	first, second, err := r.dev.Lock(offset, frames*r.frameSize)
	if err != nil {
		return nil, [2][]byte{}, err
	}
	locked := [2][]byte{first, second}
	ps := []piece{{
		regions: []host.Region{{Data: first, Channels: r.channels}},
		frames:  len(first) / r.frameSize,
	}}
	if len(second) > 0 {
		ps = append(ps, piece{
			regions: []host.Region{{Data: second, Channels: r.channels}},
			frames:  len(second) / r.frameSize,
		})
	}
	return ps, locked, nil
}

// pollEngine drives ring devices from a ticker, transferring whatever the
// cursors allow on each tick.
type pollEngine struct {
	id  string
	log logger.Logger

	in, out  *ringSide
	proc     *processor
	rate     float64
	ring     latency.Ring
	clock    host.Clock
	cpu      *cpuLoad
	observer Observer
	prime    bool

	// output cursor tracking, ticker owned while running
	writeOffset   int
	prevPlay      int
	prevTime      time.Duration
	ringTime      time.Duration
	framesWritten int64
	framesPlayed  int64
	outRunning    bool
	readOffset    int
	pendingFlags  CallbackFlags

	underflows atomic.Int64
	stopFlag   atomic.Bool
	abortFlag  atomic.Bool
	active     atomic.Bool

	finishedMu sync.Mutex
	finished   func()

	quit chan struct{}
	done chan struct{}
}

type pollEngineConfig struct {
	id       string
	log      logger.Logger
	in, out  *ringSide
	proc     *processor
	rate     float64
	ring     latency.Ring
	clock    host.Clock
	observer Observer
	prime    bool
}

func newPollEngine(cfg *pollEngineConfig) (*pollEngine, error) {
	e := &pollEngine{
		id:       cfg.id,
		log:      cfg.log.Module("poll"),
		in:       cfg.in,
		out:      cfg.out,
		proc:     cfg.proc,
		rate:     cfg.rate,
		ring:     cfg.ring,
		clock:    cfg.clock,
		cpu:      newCPULoad(cfg.rate),
		observer: cfg.observer,
		prime:    cfg.prime,
		ringTime: framesToDuration(cfg.ring.Frames, cfg.rate),
	}
	if e.out != nil {
		_, write, err := e.out.dev.Cursors()
		if err != nil {
			return nil, err
		}
		e.writeOffset = write
		e.framesWritten = int64(write / e.out.frameSize)
	}
	return e, nil
}

func (e *pollEngine) setFinishedCallback(fn func()) {
	e.finishedMu.Lock()
	e.finished = fn
	e.finishedMu.Unlock()
}

// queryOutputSpace returns the bytes that can be written at writeOffset and
// updates the played frame count. When the play cursor wrapped more than once
// since the last query, the clock tells how far it really went.
func (e *pollEngine) queryOutputSpace() (int, error) {
	size := e.out.size
	play, write, err := e.out.dev.Cursors()
	if err != nil {
		return 0, err
	}

	gap := unwrap(write-play, size)

	if e.outRunning {
		now := e.clock.Now()
		elapsed := now - e.prevTime
		e.prevTime = now

		played := unwrap(play-e.prevPlay, size)
		e.prevPlay = play

		expected := 0
		if e.ringTime > 0 {
			expected = int(float64(elapsed) * float64(size) / float64(e.ringTime))
		}
		if wrapped := (expected - played) / size; wrapped > 0 {
			play += wrapped * size
			played += wrapped * size
		}
		e.framesPlayed += int64(played / e.out.frameSize)
	}

	empty := play - e.writeOffset
	if empty < 0 {
		empty += size
	}
	if empty > size-gap {
		if e.outRunning {
			e.underflows.Add(1)
			e.pendingFlags |= OutputUnderflow
		}
		e.writeOffset = write
		empty = size - gap
	}
	return empty, nil
}

func unwrap(n, size int) int {
	if n < 0 {
		return n + size
	}
	return n
}

// timeSlice transfers the frames both directions allow.
func (e *pollEngine) timeSlice() (CallbackResult, error) {
	framesIn, framesOut := 0, 0
	if e.in != nil {
		_, read, err := e.in.dev.Cursors()
		if err != nil {
			return Continue, err
		}
		framesIn = unwrap(read-e.readOffset, e.in.size) / e.in.frameSize
	}
	if e.out != nil {
		empty, err := e.queryOutputSpace()
		if err != nil {
			return Continue, err
		}
		framesOut = empty / e.out.frameSize
	}

	var frames int
	switch {
	case e.in != nil && e.out != nil:
		frames = min(framesIn, framesOut)
	case e.in != nil:
		frames = framesIn
	default:
		frames = framesOut
	}
	if fpb := e.proc.framesPerBuffer; fpb > 0 {
		frames -= frames % fpb
	}
	if frames == 0 {
		return Continue, nil
	}

	now := e.clock.Now()
	t := TimeInfo{CurrentTime: now}
	var inPieces, outPieces []piece
	var inLocked, outLocked [2][]byte
	var err error

	if e.in != nil {
		t.InputBufferADCTime = now - framesToDuration(framesIn, e.rate)
		inPieces, inLocked, err = e.in.pieces(e.readOffset, frames)
		if err != nil {
			return Continue, err
		}
	}
	if e.out != nil {
		queued := (e.out.size - framesOut*e.out.frameSize) / e.out.frameSize
		t.OutputBufferDACTime = now + framesToDuration(queued, e.rate)
		outPieces, outLocked, err = e.out.pieces(e.writeOffset, frames)
		if err != nil {
			if e.in != nil {
				_ = e.in.dev.Unlock(inLocked[0], inLocked[1])
			}
			return Continue, err
		}
	}

	flags := e.pendingFlags
	e.cpu.begin()
	result := e.proc.process(frames, inPieces, outPieces, t, flags)
	e.cpu.end(frames)
	e.pendingFlags = 0
	e.observer.Callback(e.id, frames, flags, e.cpu.value())

	var errs []error
	if e.in != nil {
		e.readOffset = (e.readOffset + frames*e.in.frameSize) % e.in.size
		errs = append(errs, e.in.dev.Unlock(inLocked[0], inLocked[1]))
	}
	if e.out != nil {
		e.writeOffset = (e.writeOffset + frames*e.out.frameSize) % e.out.size
		e.framesWritten += int64(frames)
		errs = append(errs, e.out.dev.Unlock(outLocked[0], outLocked[1]))
	}
	return result, errors.Join(errs...)
}

// zeroAvailableOutput fills the writable space with silence without counting
// it as written.
func (e *pollEngine) zeroAvailableOutput() error {
	empty, err := e.queryOutputSpace()
	if err != nil || empty == 0 {
		return err
	}
	first, second, err := e.out.dev.Lock(e.writeOffset, empty)
	if err != nil {
		return err
	}
	silence := e.proc.outSilence()
	fill(first, silence)
	fill(second, silence)
	e.writeOffset = (e.writeOffset + empty) % e.out.size
	return e.out.dev.Unlock(first, second)
}

// tick runs one timer period and reports whether the stream is still active.
func (e *pollEngine) tick() bool {
	if e.abortFlag.Load() {
		return false
	}

	if e.stopFlag.Load() {
		if e.out == nil {
			return false
		}
		if err := e.zeroAvailableOutput(); err != nil {
			e.log.Error("zeroing output failed", logger.Error(err))
			return false
		}
		return e.framesPlayed < e.framesWritten
	}

	result, err := e.timeSlice()
	if err != nil {
		e.log.Error("time slice failed", logger.Error(err))
		e.stopFlag.Store(true)
		return true
	}
	switch result {
	case Abort:
		e.abortFlag.Store(true)
		e.stopFlag.Store(true)
	case Complete:
		e.stopFlag.Store(true)
	}
	return true
}

func (e *pollEngine) run(quit, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.ring.TimerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if !e.tick() {
				e.deactivate()
				return
			}
		}
	}
}

func (e *pollEngine) deactivate() {
	e.active.Store(false)
	e.cpu.reset()

	e.finishedMu.Lock()
	fn := e.finished
	e.finishedMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (e *pollEngine) start() (err error) {
	e.proc.reset()
	e.stopFlag.Store(false)
	e.abortFlag.Store(false)
	e.pendingFlags = 0

	defer func() {
		if err != nil {
			_ = e.stopRings()
		}
	}()

	if e.in != nil {
		_, read, err := e.in.dev.Cursors()
		if err != nil {
			return err
		}
		e.readOffset = read
		if err := e.in.dev.Start(); err != nil {
			return err
		}
	}

	if e.out != nil {
		if err := e.startOutput(); err != nil {
			return err
		}
	}

	e.active.Store(true)
	e.quit = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(e.quit, e.done)
	return nil
}

func (e *pollEngine) startOutput() error {
	if err := e.out.dev.SetPosition(0); err != nil {
		return err
	}
	play, write, err := e.out.dev.Cursors()
	if err != nil {
		return err
	}
	// A write offset on the play cursor means the whole ring is queued, so the
	// initial ring counts as written for the drain on stop.
	pending := unwrap(write-play, e.out.size)
	if pending == 0 {
		pending = e.out.size
	}
	e.writeOffset = write
	e.framesWritten = int64(pending / e.out.frameSize)
	e.framesPlayed = 0
	e.prevPlay = 0
	e.outRunning = false

	if e.prime {
		result, err := e.timeSlice()
		if err != nil {
			return err
		}
		if result != Continue {
			e.stopFlag.Store(true)
		}
	} else {
		first, second, err := e.out.dev.Lock(0, e.out.size)
		if err != nil {
			return err
		}
		silence := e.proc.outSilence()
		fill(first, silence)
		fill(second, silence)
		if err := e.out.dev.Unlock(first, second); err != nil {
			return err
		}
	}

	e.prevTime = e.clock.Now()
	if err := e.out.dev.Start(); err != nil {
		return err
	}
	e.outRunning = true
	return nil
}

// stopTicker ends the ticker goroutine and waits up to timeout for it. The
// done channel is kept until the goroutine has exited.
func (e *pollEngine) stopTicker(timeout time.Duration) bool {
	if e.quit != nil {
		close(e.quit)
		e.quit = nil
	}
	if e.done == nil {
		return true
	}
	timer := time.NewTimer(max(timeout, stopPollInterval))
	defer timer.Stop()
	select {
	case <-e.done:
		e.done = nil
		return true
	case <-timer.C:
		return false
	}
}

func (e *pollEngine) stopRings() error {
	var errs []error
	if e.out != nil {
		errs = append(errs, e.out.dev.Stop())
		e.outRunning = false
	}
	if e.in != nil {
		errs = append(errs, e.in.dev.Stop())
	}
	return errors.Join(errs...)
}

func (e *pollEngine) stop() error {
	e.stopFlag.Store(true)

	var err error
	// The drain is only observed on a tick, hence the extra period.
	timeout := max(e.ring.StopTimeout+e.ring.TimerPeriod, minStopTimeout)
	deadline := time.Now().Add(timeout)
	for e.active.Load() && time.Now().Before(deadline) {
		time.Sleep(stopPollInterval)
	}

	if !e.stopTicker(time.Until(deadline)) {
		// The callback still runs inside a tick and owns the rings. They are
		// stopped by the next abort once it returns.
		e.active.Store(false)
		return streamerr.New(streamerr.ErrTimedOut).
			Context("operation", "stop").
			Timing("stop_timeout", timeout).
			Build()
	}
	if e.active.Load() {
		err = streamerr.New(streamerr.ErrTimedOut).
			Context("operation", "stop").
			Timing("stop_timeout", timeout).
			Build()
	}
	if stopErr := e.stopRings(); stopErr != nil && err == nil {
		err = streamerr.Unanticipated(stopErr).Context("operation", "stop").Build()
	}
	e.active.Store(false)
	return err
}

func (e *pollEngine) abort() error {
	e.abortFlag.Store(true)
	return e.stop()
}

func (e *pollEngine) workerRunning() bool {
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

func (e *pollEngine) isActive() bool {
	return e.active.Load()
}

func (e *pollEngine) close() error {
	var errs []error
	if e.out != nil {
		errs = append(errs, e.out.dev.Close())
	}
	if e.in != nil {
		errs = append(errs, e.in.dev.Close())
	}
	return errors.Join(errs...)
}

func (e *pollEngine) cpuLoad() float64 {
	return e.cpu.value()
}

func (e *pollEngine) underflowCount() int64 {
	return e.underflows.Load()
}

func (e *pollEngine) deviceCount(dir host.Direction) int {
	if (dir == host.Input && e.in != nil) || (dir == host.Output && e.out != nil) {
		return 1
	}
	return 0
}
