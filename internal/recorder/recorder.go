// Package recorder writes the input of a stream to a WAV file.
//
// The stream callback only copies samples into a ring buffer and never waits
// for the disk; a writer goroutine drains the ring into the WAV encoder. When
// the ring is full the block is dropped and counted.
package recorder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/convert"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

const (
	defaultBufferSeconds = 2
	drainInterval        = 50 * time.Millisecond
)

// Config describes the recording.
type Config struct {
	Path          string
	SampleRate    int
	Channels      int
	Format        host.SampleFormat // format of the callback input
	BitDepth      int               // 16, 24 or 32 bits in the file
	BufferSeconds int
}

// Recorder records one input stream.
type Recorder struct {
	cfg       Config
	frameSize int
	log       logger.Logger

	ring    *ringbuffer.RingBuffer
	file    *os.File
	encoder *wav.Encoder

	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64

	closeOnce sync.Once
	err       error
}

func validate(cfg *Config) error {
	switch {
	case cfg.Path == "":
		return errors.Newf("recorder: empty output path").
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	case cfg.SampleRate <= 0 || cfg.Channels < 1:
		return errors.Newf("recorder: invalid stream %d Hz x %d channels", cfg.SampleRate, cfg.Channels).
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	case cfg.BitDepth != 16 && cfg.BitDepth != 24 && cfg.BitDepth != 32:
		return errors.Newf("recorder: unsupported bit depth %d", cfg.BitDepth).
			Component("recorder").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// New creates the output file. Nothing is written before Start.
func New(cfg Config, log logger.Logger) (*Recorder, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = defaultBufferSeconds
	}
	if log == nil {
		log = logger.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			FileContext(filepath.Dir(cfg.Path), 0).
			Context("operation", "create_directory").
			Build()
	}
	file, err := os.Create(cfg.Path)
	if err != nil {
		return nil, errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			FileContext(cfg.Path, 0).
			Context("operation", "create_file").
			Build()
	}

	frameSize := cfg.Channels * cfg.Format.Size()
	return &Recorder{
		cfg:       cfg,
		frameSize: frameSize,
		log:       log.Module("recorder"),
		ring:      ringbuffer.New(cfg.BufferSeconds * cfg.SampleRate * frameSize),
		file:      file,
		encoder:   wav.NewEncoder(file, cfg.SampleRate, cfg.BitDepth, cfg.Channels, 1),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the writer goroutine. It runs until ctx ends or Close.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.drain(ctx)
	r.log.Info("recording started",
		logger.String("path", r.cfg.Path),
		logger.Int("sample_rate", r.cfg.SampleRate),
		logger.Int("channels", r.cfg.Channels),
		logger.Int("bit_depth", r.cfg.BitDepth))
}

// Callback returns a stream callback that records the input. It can be
// chained in front of another callback with Tee.
func (r *Recorder) Callback() audiostream.Callback {
	return func(in, _ []byte, frames int, _ audiostream.TimeInfo, _ audiostream.CallbackFlags) audiostream.CallbackResult {
		r.Push(in, frames)
		return audiostream.Continue
	}
}

// Tee records the input and then runs next.
func (r *Recorder) Tee(next audiostream.Callback) audiostream.Callback {
	return func(in, out []byte, frames int, t audiostream.TimeInfo, flags audiostream.CallbackFlags) audiostream.CallbackResult {
		r.Push(in, frames)
		return next(in, out, frames, t, flags)
	}
}

// Push queues frames of interleaved input. Blocks that do not fit are dropped
// whole.
func (r *Recorder) Push(in []byte, frames int) {
	n := frames * r.frameSize
	if n == 0 || len(in) < n {
		return
	}
	if r.ring.Free() < n {
		r.dropped.Add(int64(frames))
		return
	}
	if _, err := r.ring.Write(in[:n]); err != nil {
		r.dropped.Add(int64(frames))
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Recorder) drain(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	buf := make([]byte, r.ring.Capacity())
	ints := make([]int, len(buf)/r.cfg.Format.Size())
	for {
		select {
		case <-ctx.Done():
			r.flush(buf, ints)
			return
		case <-r.wake:
		case <-ticker.C:
		}
		if err := r.flush(buf, ints); err != nil {
			r.err = err
			r.log.Error("recording failed", logger.Error(err))
			return
		}
	}
}

// flush writes every whole frame in the ring to the encoder.
func (r *Recorder) flush(buf []byte, ints []int) error {
	n := r.ring.Length() / r.frameSize * r.frameSize
	if n == 0 {
		return nil
	}
	read, err := r.ring.Read(buf[:n])
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return err
	}

	samples := read / r.cfg.Format.Size()
	convert.ToInts(ints[:samples], buf[:read], r.cfg.Format, r.cfg.BitDepth)
	err = r.encoder.Write(&audio.IntBuffer{
		Data:           ints[:samples],
		Format:         &audio.Format{SampleRate: r.cfg.SampleRate, NumChannels: r.cfg.Channels},
		SourceBitDepth: r.cfg.BitDepth,
	})
	if err != nil {
		return errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			FileContext(r.cfg.Path, 0).
			Context("operation", "encode").
			Build()
	}
	r.written.Add(int64(read / r.frameSize))
	return nil
}

// Close stops the writer, flushes what is buffered and finalizes the file.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}
		var errs []error
		if r.err != nil {
			errs = append(errs, r.err)
		}
		if err := r.encoder.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := r.file.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := errors.Join(errs...); err != nil {
			r.err = err
		}
		r.log.Info("recording closed",
			logger.String("path", r.cfg.Path),
			logger.Int64("frames", r.written.Load()),
			logger.Int64("dropped_frames", r.dropped.Load()))
	})
	return r.err
}

// Dropped returns the frames lost because the ring was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the frames handed to the encoder.
func (r *Recorder) Written() int64 { return r.written.Load() }
