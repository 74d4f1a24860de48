// pkg/httpserver/server.go
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YaganovValera/livefeed/pkg/logger"
)

// ReadyChecker returns nil if the service is ready to serve.
type ReadyChecker func() error

// HTTPServer serves until its context is cancelled.
type HTTPServer interface {
	Start(ctx context.Context) error
	Handler() http.Handler
}

// RouteFunc mounts additional routes on the root router.
type RouteFunc func(r chi.Router)

type server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// New builds a server exposing metrics, health and readiness endpoints plus
// whatever the given RouteFuncs mount.
func New(cfg Config, check ReadyChecker, log *logger.Logger, routes ...RouteFunc) (HTTPServer, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("http-server")

	r := chi.NewRouter()
	r.Use(
		RecoverMiddleware(log),
		RequestIDMiddleware(),
		CORSMiddleware(),
		MetricsMiddleware(),
	)

	r.Handle(cfg.MetricsPath, promhttp.Handler())
	r.Get(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get(cfg.ReadyzPath, func(w http.ResponseWriter, _ *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("NOT READY: %v", err)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})
	for _, mount := range routes {
		mount(r)
	}

	return &server{
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log,
	}, nil
}

// Handler exposes the router, mostly for httptest.
func (s *server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs ListenAndServe and shuts down gracefully on ctx.Done().
// A cancelled context is a clean stop and yields nil.
func (s *server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("http: starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpserver: listen: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("http: shutdown signal received")
	case err := <-errCh:
		serveErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http: graceful shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("http: server stopped gracefully")
	return serveErr
}
