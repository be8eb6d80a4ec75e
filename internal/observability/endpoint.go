package observability

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server.
const ShutdownTimeout = 5 * time.Second

// Endpoint serves /metrics and the pprof routes.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	listener      net.Listener
}

// NewEndpoint creates an endpoint listening on listen.
func NewEndpoint(listen string, metrics *Metrics) (*Endpoint, error) {
	if listen == "" {
		return nil, errors.Newf("metrics listen address is empty").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Endpoint{
		listenAddress: listen,
		metrics:       metrics,
	}, nil
}

// Start binds the listener and serves until ctx is done. The server goroutine
// is tracked by wg.
func (e *Endpoint) Start(ctx context.Context, wg *sync.WaitGroup) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	RegisterDebugHandlers(mux)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("observability").
			Category(errors.CategoryNetwork).
			Context("address", e.listenAddress).
			Build()
	}
	e.listener = ln
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})
	wg.Go(func() {
		e.gracefulShutdown(ctx)
	})
	return nil
}

// Addr returns the bound address once started.
func (e *Endpoint) Addr() string {
	if e.listener == nil {
		return e.listenAddress
	}
	return e.listener.Addr().String()
}

func (e *Endpoint) gracefulShutdown(ctx context.Context) {
	<-ctx.Done()
	log.Info("stopping metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// Metrics returns the Metrics instance served by this endpoint.
func (e *Endpoint) Metrics() *Metrics {
	return e.metrics
}
