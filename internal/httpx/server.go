// Package httpx is the shared HTTP scaffolding every bugbot service builds
// its router on: health/metrics endpoints, CORS, admin-token auth,
// otelhttp tracing, and a graceful-shutdown server wrapper.
package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bugbot-labs/bugbot/internal/config"
)

// Server wraps an *http.Server with the lifecycle every bugbot daemon
// shares: a chi router seeded with health/metrics/CORS/tracing, and a
// Run method that blocks until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
type Server struct {
	Router          chi.Router
	httpServer      *http.Server
	logger          *slog.Logger
	name            string
	shutdownTimeout time.Duration
}

// NewServer builds a Server bound to addr. serviceName is used both as the
// otelhttp span prefix and in startup/shutdown log lines, so every
// service's logs are greppable by name.
func NewServer(serviceName, addr string, cfg *config.API, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	if cfg != nil && len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	maxBody := int64(1 << 20)
	if cfg != nil && cfg.MaxBodyBytes > 0 {
		maxBody = cfg.MaxBodyBytes
	}
	r.Use(limitBody(maxBody))

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	shutdownTimeout := 10 * time.Second
	if cfg != nil && cfg.ShutdownTimeout.Duration > 0 {
		shutdownTimeout = cfg.ShutdownTimeout.Duration
	}

	traced := otelhttp.NewHandler(r, serviceName)

	return &Server{
		Router: r,
		name:   serviceName,
		logger: logger,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           traced,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, at which
// point it drains in-flight requests before returning.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer.BaseContext = func(_ net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "service", s.name, "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down", "service", s.name)
		if err := s.httpServer.Shutdown(shutCtx); err != nil {
			return err
		}
		return nil
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func limitBody(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
