//go:build !linux

package audiostream

func setThreadPriority(threadPriority) error {
	return nil
}
