package audiostream

import (
	"time"

	"github.com/tphakala/audiostream/internal/audiostream/host"
)

// Observer receives stream lifecycle and processing events. Callback and
// CatchUp run on the engine goroutine and must not block.
type Observer interface {
	StreamOpened(id string, engine EngineKind, info StreamInfo)
	StreamStarted(id string)
	StreamStopped(id string, took time.Duration, err error)
	Callback(id string, frames int, flags CallbackFlags, cpuLoad float64)
	CatchUp(id string, dir host.Direction)
	StreamClosed(id string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StreamOpened(string, EngineKind, StreamInfo)  {}
func (NopObserver) StreamStarted(string)                         {}
func (NopObserver) StreamStopped(string, time.Duration, error)   {}
func (NopObserver) Callback(string, int, CallbackFlags, float64) {}
func (NopObserver) CatchUp(string, host.Direction)               {}
func (NopObserver) StreamClosed(string)                          {}
