package host

import "time"

// Event is an auto-reset signal. Signals coalesce until the next wait.
type Event struct {
	ch chan struct{}
}

// NewEvent returns an unsignalled event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Signal sets the event without blocking.
func (e *Event) Signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// C is the channel to select on. Receiving resets the event.
func (e *Event) C() <-chan struct{} {
	return e.ch
}

// Reset clears a pending signal.
func (e *Event) Reset() {
	select {
	case <-e.ch:
	default:
	}
}

// Wait blocks until the event is signalled or timeout elapses.
func (e *Event) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	}
}
