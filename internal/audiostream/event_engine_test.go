package audiostream

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/audiostream/host/sim"
)

// flagLog records the flags of every callback.
type flagLog struct {
	mu    sync.Mutex
	flags []CallbackFlags
}

func (l *flagLog) callback(_, _ []byte, _ int, _ TimeInfo, f CallbackFlags) CallbackResult {
	l.mu.Lock()
	l.flags = append(l.flags, f)
	l.mu.Unlock()
	return Continue
}

func (l *flagLog) snapshot() []CallbackFlags {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.flags)
}

// fixedBuffers asks for three host buffers of 256 frames.
func fixedBuffers(device host.DeviceID) *Parameters {
	return &Parameters{
		Device:          device,
		Channels:        2,
		Format:          host.Int16,
		Flags:           UseLowLevelLatencyParameters,
		FramesPerBuffer: 256,
		BufferCount:     3,
	}
}

func TestEventEngineOutputCatchUp(t *testing.T) {
	t.Parallel()
	api, drv := newTestAPI(t, []sim.Option{sim.Manual()})

	var log flagLog
	s, err := api.OpenStream(context.Background(), StreamConfig{
		Output:          fixedBuffers(0),
		SampleRate:      48000,
		FramesPerBuffer: 256,
		Callback:        log.callback,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	dev := drv.BufferedDevices()[0]
	require.Equal(t, 3, dev.Queued())
	assert.Empty(t, log.snapshot(), "silence primes the ring without the callback")

	// The device plays everything queued before the worker gets to run.
	require.Equal(t, 3, dev.Complete(3))

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, OutputUnderflow, log.snapshot()[0])
	assert.Equal(t, int64(1), s.UnderflowCount())
	// Two repeated buffers plus the one just filled.
	require.Eventually(t, func() bool { return dev.Queued() == 3 }, 2*time.Second, 5*time.Millisecond)

	// One more buffer played on time carries no flag.
	require.Equal(t, 1, dev.Complete(1))
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, CallbackFlags(0), log.snapshot()[1])

	require.NoError(t, s.Abort())
	require.NoError(t, s.Close())
}

func TestEventEngineInputCatchUp(t *testing.T) {
	t.Parallel()
	api, drv := newTestAPI(t, []sim.Option{sim.Manual()})

	var log flagLog
	s, err := api.OpenStream(context.Background(), StreamConfig{
		Input:           fixedBuffers(1),
		SampleRate:      48000,
		FramesPerBuffer: 256,
		Callback:        log.callback,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	dev := drv.BufferedDevices()[0]
	require.Equal(t, 3, dev.Queued())

	// Every buffer filled before the worker read one: only the newest is kept.
	require.Equal(t, 3, dev.Complete(3))

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, InputOverflow, log.snapshot()[0])
	require.Eventually(t, func() bool { return dev.Queued() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), s.UnderflowCount())

	require.NoError(t, s.Abort())
	require.NoError(t, s.Close())
}

func TestEventEnginePrimesWithCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    *Parameters
		flags CallbackFlags
	}{
		{"output only", nil, PrimingOutput},
		{"full duplex", fixedBuffers(1), PrimingOutput | InputUnderflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api, drv := newTestAPI(t, []sim.Option{sim.Manual()})

			var log flagLog
			s, err := api.OpenStream(context.Background(), StreamConfig{
				Input:           tt.in,
				Output:          fixedBuffers(0),
				SampleRate:      48000,
				FramesPerBuffer: 256,
				Flags:           PrimeOutputBuffersUsingCallback,
				Callback:        log.callback,
			})
			require.NoError(t, err)
			require.NoError(t, s.Start())

			assert.Equal(t, []CallbackFlags{tt.flags, tt.flags, tt.flags}, log.snapshot(),
				"every output buffer is filled by the callback before the device starts")
			for _, dev := range drv.BufferedDevices() {
				assert.Equal(t, 3, dev.Queued(), "%s device", dev.Direction())
			}

			require.NoError(t, s.Abort())
			require.NoError(t, s.Close())
		})
	}
}

// priorityLog records the priorities the worker asks for.
type priorityLog struct {
	mu  sync.Mutex
	set []threadPriority
}

func (l *priorityLog) prioritize(p threadPriority) error {
	l.mu.Lock()
	l.set = append(l.set, p)
	l.mu.Unlock()
	return nil
}

func (l *priorityLog) snapshot() []threadPriority {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.set)
}

func TestEventEngineThrottlesOverloadedWorker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		flags    StreamFlags
		throttle bool
	}{
		{"overload lowers priority", 0, true},
		{"never throttle", NeverThrottle, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api, _ := newTestAPI(t, nil)

			var calls atomic.Int64
			s, err := api.OpenStream(context.Background(), StreamConfig{
				Output:          stereoOut(20 * time.Millisecond),
				SampleRate:      48000,
				FramesPerBuffer: 64,
				Flags:           tt.flags,
				// 64 frames last 1.3 ms, so the callback alone is about three
				// times the real time budget.
				Callback: func(_, _ []byte, _ int, _ TimeInfo, _ CallbackFlags) CallbackResult {
					calls.Add(1)
					time.Sleep(4 * time.Millisecond)
					return Continue
				},
			})
			require.NoError(t, err)

			var log priorityLog
			s.engine.(*eventEngine).prioritize = log.prioritize

			require.NoError(t, s.Start())
			require.Eventually(t, func() bool { return s.CPULoad() > 1 }, 3*time.Second, 5*time.Millisecond)
			if tt.throttle {
				require.Eventually(t, func() bool {
					return slices.Contains(log.snapshot(), priorityThrottled)
				}, 3*time.Second, 5*time.Millisecond)
			} else {
				before := calls.Load()
				require.Eventually(t, func() bool { return calls.Load() > before+5 }, 3*time.Second, 5*time.Millisecond)
			}

			require.NoError(t, s.Abort())
			set := log.snapshot()
			require.NotEmpty(t, set)
			assert.Equal(t, priorityHigh, set[0], "the worker starts at high priority")
			assert.Equal(t, tt.throttle, slices.Contains(set, priorityThrottled))
			if tt.throttle {
				assert.Equal(t, priorityHigh, set[len(set)-1], "priority is restored on exit")
			}
			require.NoError(t, s.Close())
		})
	}
}
