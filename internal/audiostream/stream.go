package audiostream

import (
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/streamerr"
	"github.com/tphakala/audiostream/internal/logger"
)

// engine is the processing backend of a stream.
type engine interface {
	start() error
	stop() error
	abort() error
	isActive() bool
	close() error
	cpuLoad() float64
	underflowCount() int64
	deviceCount(dir host.Direction) int
	setFinishedCallback(fn func())
	// workerRunning reports whether a processing goroutine is still alive.
	workerRunning() bool
}

var (
	_ engine = (*eventEngine)(nil)
	_ engine = (*pollEngine)(nil)
)

// Stream is an open audio stream. Lifecycle methods are safe for concurrent
// use; Read and Write must not be called concurrently with each other or with
// Stop, Abort and Close.
type Stream struct {
	id       string
	log      logger.Logger
	kind     EngineKind
	engine   engine
	blocking *eventEngine // set for streams without a callback
	info     StreamInfo
	clock    host.Clock
	observer Observer
	hasIn    bool
	hasOut   bool

	mu     sync.Mutex
	state  State
	closed bool
	stuck  error // set while a timed out worker still holds the buffers
}

// ID returns the stream identifier used in logs and metrics.
func (s *Stream) ID() string { return s.id }

// Engine returns the engine driving the stream.
func (s *Stream) Engine() EngineKind { return s.kind }

// Info returns the negotiated latencies and rate.
func (s *Stream) Info() StreamInfo { return s.info }

// Time returns the stream clock.
func (s *Stream) Time() time.Duration { return s.clock.Now() }

// CPULoad returns the filtered callback load, 0 for blocking streams.
func (s *Stream) CPULoad() float64 { return s.engine.cpuLoad() }

// UnderflowCount returns the output underflows detected since open.
func (s *Stream) UnderflowCount() int64 { return s.engine.underflowCount() }

// DeviceCount returns how many devices back dir.
func (s *Stream) DeviceCount(dir host.Direction) int { return s.engine.deviceCount(dir) }

// State returns the lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetFinishedCallback registers fn to run when processing ends, whether by
// Stop, Abort or a callback result. It can only be changed while stopped.
func (s *Stream) SetFinishedCallback(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return streamerr.New(streamerr.ErrStreamClosed).Build()
	}
	if s.state != StateStopped {
		return streamerr.New(streamerr.ErrStreamIsNotStopped).Build()
	}
	s.engine.setFinishedCallback(fn)
	return nil
}

// Start begins processing.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.state != StateStopped {
		return streamerr.New(streamerr.ErrStreamIsNotStopped).Build()
	}
	if err := s.releaseStuck(); err != nil {
		return err
	}

	s.state = StatePriming
	if err := s.engine.start(); err != nil {
		s.state = StateStopped
		s.log.Error("stream start failed",
			logger.String("stream_id", s.id),
			logger.Error(err))
		return err
	}
	s.state = StateActive
	s.observer.StreamStarted(s.id)
	s.log.Debug("stream started",
		logger.String("stream_id", s.id),
		logger.String("engine", s.kind.String()))
	return nil
}

// Stop plays out queued output and stops. If the engine does not drain in
// time the stream is aborted; if that also times out ErrTimedOut is returned.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.state == StateStopped {
		return streamerr.New(streamerr.ErrStreamIsStopped).Build()
	}

	s.state = StateDraining
	return s.halt(s.engine.stop)
}

// Abort stops immediately, discarding queued output.
func (s *Stream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.state == StateStopped {
		return streamerr.New(streamerr.ErrStreamIsStopped).Build()
	}

	s.state = StateAborting
	return s.halt(s.engine.abort)
}

func (s *Stream) halt(fn func() error) error {
	began := time.Now()
	err := fn()
	took := time.Since(began)
	s.state = StateStopped
	if err != nil && s.engine.workerRunning() {
		s.stuck = err
	}
	s.observer.StreamStopped(s.id, took, err)
	if err != nil {
		s.log.Warn("stream stop failed",
			logger.String("stream_id", s.id),
			logger.Duration("took", took),
			logger.Error(err))
		return err
	}
	s.log.Debug("stream stopped",
		logger.String("stream_id", s.id),
		logger.Duration("took", took))
	return nil
}

// releaseStuck returns the stop error while a timed out worker is alive, and
// once it exited stops the devices it may have left running.
func (s *Stream) releaseStuck() error {
	if s.stuck == nil {
		return nil
	}
	if s.engine.workerRunning() {
		return s.stuck
	}
	s.stuck = nil
	// The late worker may have queued buffers after the last reset.
	if err := s.engine.abort(); err != nil {
		s.log.Warn("reset after late worker exit failed", logger.Error(err))
	}
	return nil
}

// Close aborts a running stream and releases every buffer and device.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return streamerr.New(streamerr.ErrStreamClosed).Build()
	}

	if s.state != StateStopped {
		s.state = StateAborting
		if err := s.halt(s.engine.abort); err != nil && s.stuck == nil {
			s.log.Warn("abort before close failed", logger.Error(err))
		}
	}
	if err := s.releaseStuck(); err != nil {
		return err
	}

	err := s.engine.close()
	s.closed = true
	s.observer.StreamClosed(s.id)
	if err != nil {
		return streamerr.Unanticipated(err).Context("operation", "close").Build()
	}
	s.log.Debug("stream closed", logger.String("stream_id", s.id))
	return nil
}

// IsStopped reports whether the stream is stopped. A stream whose callback
// returned Complete is inactive but not stopped until Stop is called.
func (s *Stream) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStopped
}

// IsActive reports whether the engine is processing.
func (s *Stream) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateStopped && s.engine.isActive()
}

// Read blocks until frames frames of input are copied into buf, which holds
// interleaved samples in the input format.
func (s *Stream) Read(buf []byte, frames int) error {
	e, err := s.blockingEngine()
	if err != nil {
		return err
	}
	if !s.hasIn {
		return streamerr.New(streamerr.ErrCanNotReadFromAnOutputOnlyStream).Build()
	}
	if err := s.checkRunning(); err != nil {
		return err
	}
	if len(buf) < frames*e.proc.in.userFrameSize() {
		return streamerr.New(streamerr.ErrBufferTooSmall).
			Context("frames", frames).
			Context("bytes", len(buf)).
			Build()
	}
	return e.read(buf, frames)
}

// Write blocks until frames frames from buf are queued for output.
func (s *Stream) Write(buf []byte, frames int) error {
	e, err := s.blockingEngine()
	if err != nil {
		return err
	}
	if !s.hasOut {
		return streamerr.New(streamerr.ErrCanNotWriteToAnInputOnlyStream).Build()
	}
	if err := s.checkRunning(); err != nil {
		return err
	}
	if len(buf) < frames*e.proc.out.userFrameSize() {
		return streamerr.New(streamerr.ErrBufferTooSmall).
			Context("frames", frames).
			Context("bytes", len(buf)).
			Build()
	}
	return e.write(buf, frames)
}

// ReadAvailable returns the frames Read can return without waiting.
func (s *Stream) ReadAvailable() (int, error) {
	e, err := s.blockingEngine()
	if err != nil {
		return 0, err
	}
	if !s.hasIn {
		return 0, streamerr.New(streamerr.ErrCanNotReadFromAnOutputOnlyStream).Build()
	}
	return e.readAvailable(), nil
}

// WriteAvailable returns the frames Write can accept without waiting.
func (s *Stream) WriteAvailable() (int, error) {
	e, err := s.blockingEngine()
	if err != nil {
		return 0, err
	}
	if !s.hasOut {
		return 0, streamerr.New(streamerr.ErrCanNotWriteToAnInputOnlyStream).Build()
	}
	return e.writeAvailable(), nil
}

func (s *Stream) blockingEngine() (*eventEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.blocking == nil {
		return nil, streamerr.New(streamerr.ErrCanNotUseBlockingAPIOnCallbackStream).Build()
	}
	return s.blocking, nil
}

func (s *Stream) checkRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return streamerr.New(streamerr.ErrStreamIsStopped).Build()
	}
	return nil
}

func (s *Stream) checkOpen() error {
	if s.closed {
		return streamerr.New(streamerr.ErrStreamClosed).Build()
	}
	return nil
}
