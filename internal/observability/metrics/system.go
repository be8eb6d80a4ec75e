package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/audiostream/internal/logger"
)

// SystemCollector samples host CPU and memory usage on each scrape. Audio
// dropouts usually correlate with host load, so these sit next to the stream
// series.
type SystemCollector struct {
	cpuPercent  *prometheus.Desc
	memPercent  *prometheus.Desc
	logicalCPUs *prometheus.Desc

	// Replaced in tests.
	cpuSample func() (float64, error)
	memSample func() (float64, error)
}

// NewSystemCollector creates the collector and registers it.
func NewSystemCollector(registry prometheus.Registerer) (*SystemCollector, error) {
	c := newSystemCollector()
	if err := registry.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

func newSystemCollector() *SystemCollector {
	return &SystemCollector{
		cpuPercent: prometheus.NewDesc("audiostream_host_cpu_percent",
			"Host CPU utilisation since the previous scrape", nil, nil),
		memPercent: prometheus.NewDesc("audiostream_host_memory_percent",
			"Host memory in use", nil, nil),
		logicalCPUs: prometheus.NewDesc("audiostream_host_logical_cpus",
			"Number of logical CPUs", nil, nil),
		cpuSample: sampleCPU,
		memSample: sampleMemory,
	}
}

func sampleCPU() (float64, error) {
	// A zero interval compares against the previous call.
	p, err := cpu.Percent(0, false)
	if err != nil || len(p) == 0 {
		return 0, err
	}
	return p[0], nil
}

func sampleMemory() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// Describe implements the prometheus.Collector interface.
func (c *SystemCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuPercent
	ch <- c.memPercent
	ch <- c.logicalCPUs
}

// Collect implements the prometheus.Collector interface. Failed samples are
// logged and left out of the scrape.
func (c *SystemCollector) Collect(ch chan<- prometheus.Metric) {
	if v, err := c.cpuSample(); err != nil {
		log.Debug("cpu sample failed", logger.Error(err))
	} else {
		ch <- prometheus.MustNewConstMetric(c.cpuPercent, prometheus.GaugeValue, v)
	}
	if v, err := c.memSample(); err != nil {
		log.Debug("memory sample failed", logger.Error(err))
	} else {
		ch <- prometheus.MustNewConstMetric(c.memPercent, prometheus.GaugeValue, v)
	}
	if n, err := cpu.Counts(true); err == nil {
		ch <- prometheus.MustNewConstMetric(c.logicalCPUs, prometheus.GaugeValue, float64(n))
	}
}
