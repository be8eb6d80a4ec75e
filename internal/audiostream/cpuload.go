package audiostream

import (
	"math"
	"sync/atomic"
	"time"
)

// cpuLoad is a low pass filtered ratio of callback time to the real time the
// processed frames represent. A value above 1 means the callback cannot keep up.
type cpuLoad struct {
	rate  float64
	start time.Time
	bits  atomic.Uint64
}

func newCPULoad(rate float64) *cpuLoad {
	return &cpuLoad{rate: rate}
}

func (c *cpuLoad) begin() {
	c.start = time.Now()
}

func (c *cpuLoad) end(frames int) {
	if frames <= 0 || c.rate <= 0 {
		return
	}
	elapsed := time.Since(c.start).Seconds()
	ratio := elapsed / (float64(frames) / c.rate)
	c.store(0.9*c.value() + 0.09999*ratio)
}

func (c *cpuLoad) value() float64 {
	return math.Float64frombits(c.bits.Load())
}

func (c *cpuLoad) store(v float64) {
	c.bits.Store(math.Float64bits(v))
}

func (c *cpuLoad) reset() {
	c.store(0)
}
