// Package metrics provides Prometheus metrics for audio streams.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/host"
)

// xrunKinds maps the callback flags counted as xruns to their label values.
var xrunKinds = []struct {
	flag  audiostream.CallbackFlags
	label string
}{
	{audiostream.InputUnderflow, "input_underflow"},
	{audiostream.InputOverflow, "input_overflow"},
	{audiostream.OutputUnderflow, "output_underflow"},
	{audiostream.OutputOverflow, "output_overflow"},
}

// StreamMetrics records stream activity. It implements audiostream.Observer.
type StreamMetrics struct {
	OpenStreams   *prometheus.GaugeVec
	Active        *prometheus.GaugeVec
	Callbacks     *prometheus.CounterVec
	Frames        *prometheus.CounterVec
	Xruns         *prometheus.CounterVec
	CatchUps      *prometheus.CounterVec
	CPULoad       *prometheus.GaugeVec
	Latency       *prometheus.GaugeVec
	StopDuration  *prometheus.HistogramVec
	StopFailures  prometheus.Counter
	registry      prometheus.Registerer
	mu            sync.Mutex
	engineByID    map[string]string
	collectorList []prometheus.Collector
}

var _ audiostream.Observer = (*StreamMetrics)(nil)

// NewStreamMetrics creates the stream metrics and registers them.
func NewStreamMetrics(registry prometheus.Registerer) (*StreamMetrics, error) {
	m := &StreamMetrics{registry: registry, engineByID: make(map[string]string)}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register stream metrics: %w", err)
	}
	return m, nil
}

func (m *StreamMetrics) initMetrics() {
	m.OpenStreams = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audiostream_open_streams",
		Help: "Number of open streams by engine",
	}, []string{"engine"})

	m.Active = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audiostream_stream_active",
		Help: "Whether a stream is started (1) or stopped (0)",
	}, []string{"stream_id"})

	m.Callbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiostream_callbacks_total",
		Help: "Total number of user callback invocations",
	}, []string{"stream_id"})

	m.Frames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiostream_frames_total",
		Help: "Total number of frames passed to the user callback",
	}, []string{"stream_id"})

	m.Xruns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiostream_xruns_total",
		Help: "Total number of callbacks flagged with an underflow or overflow",
	}, []string{"stream_id", "kind"})

	m.CatchUps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiostream_catch_ups_total",
		Help: "Total number of times the engine skipped ahead to catch up with the hardware",
	}, []string{"stream_id", "direction"})

	m.CPULoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audiostream_cpu_load_ratio",
		Help: "Filtered ratio of callback time to buffer duration",
	}, []string{"stream_id"})

	m.Latency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audiostream_latency_seconds",
		Help: "Negotiated stream latency",
	}, []string{"stream_id", "direction"})

	m.StopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audiostream_stop_duration_seconds",
		Help:    "Time taken to stop or abort a stream",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"engine"})

	m.StopFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiostream_stop_failures_total",
		Help: "Total number of stops that returned an error",
	})

	m.collectorList = []prometheus.Collector{
		m.OpenStreams, m.Active, m.Callbacks, m.Frames, m.Xruns,
		m.CatchUps, m.CPULoad, m.Latency, m.StopDuration, m.StopFailures,
	}
}

// StreamOpened records a new stream.
func (m *StreamMetrics) StreamOpened(id string, engine audiostream.EngineKind, info audiostream.StreamInfo) {
	m.mu.Lock()
	m.engineByID[id] = engine.String()
	m.mu.Unlock()

	m.OpenStreams.WithLabelValues(engine.String()).Inc()
	m.Active.WithLabelValues(id).Set(0)
	if info.InputLatency > 0 {
		m.Latency.WithLabelValues(id, host.Input.String()).Set(info.InputLatency.Seconds())
	}
	if info.OutputLatency > 0 {
		m.Latency.WithLabelValues(id, host.Output.String()).Set(info.OutputLatency.Seconds())
	}
}

// StreamStarted marks the stream active.
func (m *StreamMetrics) StreamStarted(id string) {
	m.Active.WithLabelValues(id).Set(1)
}

// StreamStopped marks the stream stopped and records how long it took.
func (m *StreamMetrics) StreamStopped(id string, took time.Duration, err error) {
	m.Active.WithLabelValues(id).Set(0)
	m.StopDuration.WithLabelValues(m.engine(id)).Observe(took.Seconds())
	if err != nil {
		m.StopFailures.Inc()
	}
}

// Callback counts one callback invocation.
func (m *StreamMetrics) Callback(id string, frames int, flags audiostream.CallbackFlags, cpuLoad float64) {
	m.Callbacks.WithLabelValues(id).Inc()
	m.Frames.WithLabelValues(id).Add(float64(frames))
	m.CPULoad.WithLabelValues(id).Set(cpuLoad)
	if flags == 0 {
		return
	}
	for _, k := range xrunKinds {
		if flags&k.flag != 0 {
			m.Xruns.WithLabelValues(id, k.label).Inc()
		}
	}
}

// CatchUp counts one catch-up on dir.
func (m *StreamMetrics) CatchUp(id string, dir host.Direction) {
	m.CatchUps.WithLabelValues(id, dir.String()).Inc()
}

// StreamClosed drops the per-stream series.
func (m *StreamMetrics) StreamClosed(id string) {
	m.mu.Lock()
	engine, ok := m.engineByID[id]
	delete(m.engineByID, id)
	m.mu.Unlock()
	if ok {
		m.OpenStreams.WithLabelValues(engine).Dec()
	}

	labels := prometheus.Labels{"stream_id": id}
	m.Active.DeletePartialMatch(labels)
	m.Callbacks.DeletePartialMatch(labels)
	m.Frames.DeletePartialMatch(labels)
	m.Xruns.DeletePartialMatch(labels)
	m.CatchUps.DeletePartialMatch(labels)
	m.CPULoad.DeletePartialMatch(labels)
	m.Latency.DeletePartialMatch(labels)
}

func (m *StreamMetrics) engine(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engineByID[id]; ok {
		return e
	}
	return "unknown"
}

// Describe implements the prometheus.Collector interface.
func (m *StreamMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectorList {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *StreamMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectorList {
		c.Collect(ch)
	}
}
