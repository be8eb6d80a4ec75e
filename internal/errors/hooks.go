package errors

import "sync"

// ErrorHook is called for every error built while reporting is active.
type ErrorHook func(ee *EnhancedError)

var (
	hooksMu    sync.RWMutex
	errorHooks []ErrorHook
)

// AddErrorHook registers a hook that observes every built error.
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	hooksMu.Lock()
	errorHooks = append(errorHooks, hook)
	hooksMu.Unlock()
	updateActiveReporting()
}

// ClearErrorHooks removes all registered hooks.
func ClearErrorHooks() {
	hooksMu.Lock()
	errorHooks = nil
	hooksMu.Unlock()
	updateActiveReporting()
}

func runErrorHooks(ee *EnhancedError) {
	hooksMu.RLock()
	hooks := errorHooks
	hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}
}

func updateActiveReporting() {
	hooksMu.RLock()
	active := len(errorHooks) > 0
	hooksMu.RUnlock()

	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		active = true
	}
	hasActiveReporting.Store(active)
}
