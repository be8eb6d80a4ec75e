package app

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/conf"
	"github.com/tphakala/audiostream/internal/cpuspec"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
	"github.com/tphakala/audiostream/internal/observability"
)

const sentryFlushTimeout = 2 * time.Second

// Runtime carries what every command needs: settings, the logger and the
// optional metrics and error reporting.
type Runtime struct {
	Settings *conf.Settings
	Log      logger.Logger

	central  *logger.CentralLogger
	metrics  *observability.Metrics
	sentryOn bool
	wg       sync.WaitGroup
}

// NewRuntime returns a runtime for settings. Logging is discarded until Init.
func NewRuntime(settings *conf.Settings) *Runtime {
	return &Runtime{Settings: settings, Log: logger.Discard()}
}

// Init sets up logging, error reporting and, when enabled, the metrics
// endpoint. The endpoint runs until ctx is done.
func (r *Runtime) Init(ctx context.Context) error {
	cfg := r.Settings.Logging
	if r.Settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return err
	}
	logger.SetGlobal(central)
	r.central = central
	r.Log = central.Module("cmd")
	r.Log.Debug("host cpu", cpuspec.Get().Fields()...)

	if r.Settings.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              r.Settings.Sentry.DSN,
			AttachStacktrace: true,
		}); err != nil {
			return errors.New(err).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("operation", "sentry_init").
				Build()
		}
		errors.SetTelemetryReporter(errors.NewSentryReporter(true))
		r.sentryOn = true
	}

	if !r.Settings.Telemetry.Enabled {
		return nil
	}
	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	endpoint, err := observability.NewEndpoint(r.Settings.Telemetry.Listen, m)
	if err != nil {
		return err
	}
	if err := endpoint.Start(ctx, &r.wg); err != nil {
		return err
	}
	errors.AddErrorHook(m.Errors.Hook())
	r.metrics = m
	return nil
}

// Observer returns the stream observer, a no-op unless metrics are enabled.
func (r *Runtime) Observer() audiostream.Observer {
	if r.metrics == nil {
		return audiostream.NopObserver{}
	}
	return r.metrics.Streams
}

// OpenHost opens the configured backend.
func (r *Runtime) OpenHost() (*audiostream.HostAPI, error) {
	return OpenHost(r.Settings, r.Log, r.Observer())
}

// Shutdown waits for the metrics endpoint, whose context must already be
// done, and flushes error reports.
func (r *Runtime) Shutdown() {
	r.wg.Wait()
	if r.sentryOn {
		sentry.Flush(sentryFlushTimeout)
	}
	if r.central != nil {
		_ = r.central.Close()
	}
}
