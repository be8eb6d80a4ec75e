package audiostream

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/logger"
)

const (
	xrunLogInterval = time.Second
	xrunLogBurst    = 3
)

// xrunLog reports catch-ups to the observer every time and to the log at a
// limited rate, so a stream that keeps starving does not flood the log.
type xrunLog struct {
	id       string
	log      logger.Logger
	observer Observer
	limiter  *rate.Limiter
	skipped  int
}

func newXrunLog(id string, log logger.Logger, observer Observer) *xrunLog {
	return &xrunLog{
		id:       id,
		log:      log,
		observer: observer,
		limiter:  rate.NewLimiter(rate.Every(xrunLogInterval), xrunLogBurst),
	}
}

func (x *xrunLog) catchUp(dir host.Direction, kind string) {
	x.observer.CatchUp(x.id, dir)
	if !x.limiter.Allow() {
		x.skipped++
		return
	}
	x.log.Warn("buffer ring starved, caught up",
		logger.String("stream_id", x.id),
		logger.String("direction", dir.String()),
		logger.String("xrun", kind),
		logger.Int("suppressed", x.skipped))
	x.skipped = 0
}
