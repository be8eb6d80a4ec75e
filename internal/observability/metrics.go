// Package observability exposes the stream and host metrics over HTTP.
package observability

import (
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Streams  *metrics.StreamMetrics
	System   *metrics.SystemCollector
	Errors   *metrics.ErrorMetrics
}

// NewMetrics creates a registry with the stream, host and Go runtime
// collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	streams, err := metrics.NewStreamMetrics(registry)
	if err != nil {
		return nil, errors.New(err).
			Component("observability").
			Category(errors.CategorySystem).
			Context("collector", "streams").
			Build()
	}

	system, err := metrics.NewSystemCollector(registry)
	if err != nil {
		return nil, errors.New(err).
			Component("observability").
			Category(errors.CategorySystem).
			Context("collector", "system").
			Build()
	}

	errorMetrics, err := metrics.NewErrorMetrics(registry)
	if err != nil {
		return nil, errors.New(err).
			Component("observability").
			Category(errors.CategorySystem).
			Context("collector", "errors").
			Build()
	}

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.New(err).
			Component("observability").
			Category(errors.CategorySystem).
			Context("collector", "go").
			Build()
	}

	return &Metrics{
		registry: registry,
		Streams:  streams,
		System:   system,
		Errors:   errorMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
