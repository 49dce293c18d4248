// Package server provides the admin HTTP server of a framekv node.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/devrev/framekv/internal/config"
	"github.com/devrev/framekv/internal/gossip"
	"github.com/devrev/framekv/internal/metrics"
	"github.com/devrev/framekv/internal/middleware"
	"github.com/devrev/framekv/internal/network"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Membership is the gossip view served on /members.
type Membership interface {
	Members() []gossip.Member
}

// Server represents the admin HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	network    *network.Network
	members    Membership
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        config.AdminConfig
}

// NewServer creates the admin server for n. members and m may be nil.
func NewServer(cfg config.AdminConfig, n *network.Network, members Membership, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	s := &Server{
		router:  router,
		network: n,
		members: members,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger, s.metrics),
	}
	if s.cfg.RateLimit {
		rl := middleware.NewRateLimiter(s.cfg.RequestsPerSecond, s.cfg.BurstSize, s.logger)
		chain = append(chain, rl.Limit)
	}
	s.router.Use(middleware.Chain(chain...))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/directory", s.handleDirectory).Methods(http.MethodGet)
	s.router.HandleFunc("/members", s.handleMembers).Methods(http.MethodGet)
	s.router.HandleFunc("/kv/{home:[0-9]+}/{name}", s.handleValue).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	s.listener = ln
	s.logger.Info("Starting admin server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}
