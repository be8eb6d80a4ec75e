package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
)

func newTestStreamMetrics(t *testing.T) (*StreamMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewStreamMetrics(reg)
	require.NoError(t, err)
	return m, reg
}

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestStreamLifecycleMetrics(t *testing.T) {
	t.Parallel()
	m, reg := newTestStreamMetrics(t)

	m.StreamOpened("s1", audiostream.EngineEvent, audiostream.StreamInfo{OutputLatency: 40 * time.Millisecond})
	assert.InDelta(t, 1, testutil.ToFloat64(m.OpenStreams.WithLabelValues("event")), 0)
	assert.InDelta(t, 0.04, testutil.ToFloat64(m.Latency.WithLabelValues("s1", "output")), 1e-9)
	assert.Nil(t, family(t, reg, "audiostream_callbacks_total"), "no callbacks yet")

	m.StreamStarted("s1")
	assert.InDelta(t, 1, testutil.ToFloat64(m.Active.WithLabelValues("s1")), 0)

	m.Callback("s1", 256, 0, 0.25)
	m.Callback("s1", 256, audiostream.OutputUnderflow|audiostream.PrimingOutput, 0.5)
	m.CatchUp("s1", host.Output)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Callbacks.WithLabelValues("s1")), 0)
	assert.InDelta(t, 512, testutil.ToFloat64(m.Frames.WithLabelValues("s1")), 0)
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.CPULoad.WithLabelValues("s1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Xruns.WithLabelValues("s1", "output_underflow")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Xruns), "priming is not an xrun")
	assert.InDelta(t, 1, testutil.ToFloat64(m.CatchUps.WithLabelValues("s1", "output")), 0)

	m.StreamStopped("s1", 30*time.Millisecond, nil)
	m.StreamStopped("s1", 2*time.Second, errors.New("timed out"))
	assert.InDelta(t, 0, testutil.ToFloat64(m.Active.WithLabelValues("s1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.StopFailures), 0)

	stops := family(t, reg, "audiostream_stop_duration_seconds")
	require.NotNil(t, stops)
	require.Len(t, stops.GetMetric(), 1)
	assert.Equal(t, "event", stops.GetMetric()[0].GetLabel()[0].GetValue())
	assert.EqualValues(t, 2, stops.GetMetric()[0].GetHistogram().GetSampleCount())

	m.StreamClosed("s1")
	assert.InDelta(t, 0, testutil.ToFloat64(m.OpenStreams.WithLabelValues("event")), 0)
	assert.Equal(t, 0, testutil.CollectAndCount(m.Callbacks))
	assert.Equal(t, 0, testutil.CollectAndCount(m.Latency))
}

func TestStreamSeriesAreIndependent(t *testing.T) {
	t.Parallel()
	m, _ := newTestStreamMetrics(t)

	m.StreamOpened("a", audiostream.EnginePoll, audiostream.StreamInfo{})
	m.StreamOpened("b", audiostream.EngineEvent, audiostream.StreamInfo{InputLatency: time.Millisecond})
	m.Callback("a", 10, audiostream.InputOverflow, 0)
	m.Callback("b", 20, 0, 0)
	m.StreamClosed("a")

	assert.Equal(t, 1, testutil.CollectAndCount(m.Callbacks))
	assert.InDelta(t, 20, testutil.ToFloat64(m.Frames.WithLabelValues("b")), 0)
	assert.Equal(t, 0, testutil.CollectAndCount(m.Xruns))
	assert.InDelta(t, 0, testutil.ToFloat64(m.OpenStreams.WithLabelValues("poll")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.OpenStreams.WithLabelValues("event")), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := NewStreamMetrics(reg)
	require.NoError(t, err)
	_, err = NewStreamMetrics(reg)
	require.Error(t, err)
}

func TestSystemCollector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cpu     func() (float64, error)
		mem     func() (float64, error)
		wantCPU bool
		wantMem bool
	}{
		{"both", func() (float64, error) { return 12.5, nil }, func() (float64, error) { return 40, nil }, true, true},
		{"cpu fails", func() (float64, error) { return 0, errors.New("no stat") }, func() (float64, error) { return 40, nil }, false, true},
		{"mem fails", func() (float64, error) { return 3, nil }, func() (float64, error) { return 0, errors.New("no meminfo") }, true, false},
	}
	for _, tt := range tests {
		c := newSystemCollector()
		c.cpuSample = tt.cpu
		c.memSample = tt.mem

		reg := prometheus.NewRegistry()
		require.NoError(t, reg.Register(c))

		if got := family(t, reg, "audiostream_host_cpu_percent") != nil; got != tt.wantCPU {
			t.Errorf("%s: cpu series present = %v, want %v", tt.name, got, tt.wantCPU)
		}
		if got := family(t, reg, "audiostream_host_memory_percent") != nil; got != tt.wantMem {
			t.Errorf("%s: memory series present = %v, want %v", tt.name, got, tt.wantMem)
		}
	}
}
