//go:build linux

package audiostream

import "golang.org/x/sys/unix"

// niceValue maps a priority to a nice value for the calling thread. Raising
// above normal needs CAP_SYS_NICE; without it the call fails and the thread
// keeps running at normal priority.
func niceValue(p threadPriority) int {
	switch p {
	case priorityHigh:
		return -10
	case priorityThrottled:
		return 10
	default:
		return 0
	}
}

// setThreadPriority applies p to the calling OS thread. The goroutine must be
// locked to its thread.
func setThreadPriority(p threadPriority) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), niceValue(p))
}
