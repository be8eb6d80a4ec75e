package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/audiostream/internal/errors"
)

// ErrorMetrics counts built errors by component and category.
type ErrorMetrics struct {
	Errors *prometheus.CounterVec
}

// NewErrorMetrics creates the error counter and registers it.
func NewErrorMetrics(registry prometheus.Registerer) (*ErrorMetrics, error) {
	m := &ErrorMetrics{
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostream_errors_total",
			Help: "Total number of errors by component and category",
		}, []string{"component", "category"}),
	}
	if err := registry.Register(m.Errors); err != nil {
		return nil, fmt.Errorf("failed to register error metrics: %w", err)
	}
	return m, nil
}

// Hook returns an error hook feeding the counter.
func (m *ErrorMetrics) Hook() errors.ErrorHook {
	return func(ee *errors.EnhancedError) {
		m.Errors.WithLabelValues(ee.GetComponent(), string(ee.Category)).Inc()
	}
}
