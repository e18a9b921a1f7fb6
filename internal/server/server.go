// Package server exposes the harvester over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

const readHeaderTimeout = 10 * time.Second

// Service is what the HTTP layer needs from the harvester.
type Service interface {
	LoginToWeb(ctx context.Context, override schemas.Credentials) ([]schemas.CookieRecord, error)
	Status(ctx context.Context) schemas.StatusReport
}

// Server hosts the HTTP API.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	svc        Service
	limiter    *rate.Limiter
	httpServer *http.Server
}

// New creates a Server. Nothing listens until Serve.
func New(cfg *config.Config, svc Service, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		svc:     svc,
		limiter: newLimiter(cfg.Server),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// newLimiter converts the per-minute login rate into a token bucket.
func newLimiter(cfg config.ServerConfig) *rate.Limiter {
	if cfg.LoginRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.LoginRate/60), cfg.LoginBurst)
}

// Handler builds the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(assignRequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	if s.cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "Not Found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		if allowed := allowedMethods(r, req.URL.Path); len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
		}
		s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method Not Allowed"})
	})

	metricsPath := s.cfg.Server.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.Handler())

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/validate-cookies", s.handleValidateCookies)
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/login-to-web", s.handleLogin)
		r.Post("/login-to-web", s.handleLogin)
	})
	return r
}

var routableMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// allowedMethods lists the methods routes has a handler for at path.
func allowedMethods(routes chi.Routes, path string) []string {
	var allowed []string
	for _, method := range routableMethods {
		if routes.Match(chi.NewRouteContext(), method, path) {
			allowed = append(allowed, method)
		}
	}
	return allowed
}

// Serve listens until ctx ends, then drains in-flight requests within the
// configured shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting.", zap.String("address", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server.")
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTP server stopped.")
	return nil
}

// assignRequestID fills in a UUID request ID when the caller sent none, so
// middleware.RequestID adopts it instead of generating its own format.
func assignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(middleware.RequestIDHeader) == "" {
			r.Header.Set(middleware.RequestIDHeader, uuid.NewString())
		}
		w.Header().Set(middleware.RequestIDHeader, r.Header.Get(middleware.RequestIDHeader))
		next.ServeHTTP(w, r)
	})
}

// cors adds the CORS headers to every response and answers preflight
// requests directly.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.Server.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("Login request rejected by rate limiter.", zap.String("request_id", middleware.GetReqID(r.Context())))
			w.Header().Set("Retry-After", "60")
			s.writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error:   "Too Many Requests",
				Message: "login rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
