package audiostream

type threadPriority int

const (
	priorityNormal threadPriority = iota
	priorityHigh
	priorityThrottled
)

func (p threadPriority) String() string {
	switch p {
	case priorityHigh:
		return "high"
	case priorityThrottled:
		return "throttled"
	default:
		return "normal"
	}
}
