package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsReadTimeout       = 10 * time.Second
	metricsWriteTimeout      = 10 * time.Second
	metricsIdleTimeout       = 120 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

// Server exposes /metrics and, when a health check is set, /health,
// /healthz and /readyz.
type Server struct {
	mux    *http.ServeMux
	health *HealthCheck
}

// NewServer builds the observability mux. health may be nil.
func NewServer(collector *Collector, health *HealthCheck) *Server {
	if collector == nil {
		collector = Global()
	}
	s := &Server{mux: http.NewServeMux(), health: health}
	s.mux.Handle("/metrics", collector.Handler())
	if health != nil {
		s.mux.Handle("/health", health.Handler())
		s.mux.Handle("/healthz", health.LivenessHandler())
		s.mux.Handle("/readyz", health.ReadinessHandler())
	}
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := newHTTPServer(addr, s.mux)
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
		ReadTimeout:       metricsReadTimeout,
		WriteTimeout:      metricsWriteTimeout,
		IdleTimeout:       metricsIdleTimeout,
	}
}
