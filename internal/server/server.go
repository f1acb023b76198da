// Package server is the HTTP surface: health, metrics, the buy path
// endpoint, price conversion, and the order event websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/nftbook/internal/domain"
	"github.com/alanyoungcy/nftbook/internal/server/handler"
	"github.com/alanyoungcy/nftbook/internal/server/middleware"
	"github.com/alanyoungcy/nftbook/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards /api routes other than health; empty disables auth.
	APIKey    string
	RateLimit int
}

// Handlers are the optional route groups. Nil groups are not registered.
type Handlers struct {
	Health  *handler.HealthHandler
	Execute *handler.ExecuteHandler
	Prices  *handler.PriceHandler
	Sources *handler.SourceHandler
}

// Server is the HTTP + websocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in the middleware chain.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
		mux.HandleFunc("GET /api/ready", handlers.Health.Ready)
	}
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	api := http.NewServeMux()
	if handlers.Execute != nil {
		api.HandleFunc("POST /api/execute/buy", handlers.Execute.Buy)
	}
	if handlers.Prices != nil {
		api.HandleFunc("GET /api/prices/{currency}", handlers.Prices.Convert)
	}
	if handlers.Sources != nil {
		api.HandleFunc("GET /api/sources", handlers.Sources.List)
	}
	var apiHandler http.Handler = api
	apiHandler = middleware.Auth(cfg.APIKey)(apiHandler)
	apiHandler = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(apiHandler)
	mux.Handle("/api/", apiHandler)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
