// Package api serves the panel's HTTP JSON interface: chain listings and the
// add, delete and raw rule mutations, each backed by a single iptables call.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/denniswebb/iptpanel/internal/iptables"
	"github.com/denniswebb/iptpanel/internal/metrics"
)

const (
	defaultCommandTimeout = 30 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// RuleManager is the subset of iptables.Manager used by the handlers.
type RuleManager interface {
	List(ctx context.Context, table string, chain string) ([]string, error)
	Add(ctx context.Context, spec iptables.AddSpec) (string, error)
	Delete(ctx context.Context, spec iptables.DeleteSpec) (string, error)
	AddRaw(ctx context.Context, spec iptables.RawSpec) (string, error)
}

// Config holds the server settings.
type Config struct {
	Listen         string
	CORSOrigin     string
	CommandTimeout time.Duration
}

// Server exposes RuleManager over HTTP.
type Server struct {
	cfg     Config
	rules   RuleManager
	metrics *metrics.Metrics
	health  *metrics.HealthChecker
	logger  *slog.Logger

	// mutations holds one slot so that at most one add/delete/raw command
	// runs at a time.
	mutations *semaphore.Weighted
}

// NewServer creates a Server. A nil logger falls back to slog.Default.
func NewServer(cfg Config, rules RuleManager, m *metrics.Metrics, health *metrics.HealthChecker, logger *slog.Logger) *Server {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	if health == nil {
		health = metrics.NewHealthChecker()
	}
	return &Server{
		cfg:       cfg,
		rules:     rules,
		metrics:   m,
		health:    health,
		logger:    logger.With(slog.String("component", "api")),
		mutations: semaphore.NewWeighted(1),
	}
}

// Handler returns the routed handler with request id and CORS middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.observeMiddleware)

	router.HandleFunc("/iptables", s.handleList).Methods(http.MethodGet).Name("list")
	router.HandleFunc("/iptables/add", s.handleAdd).Methods(http.MethodPost).Name("add")
	router.HandleFunc("/iptables/delete", s.handleDelete).Methods(http.MethodPost).Name("delete")
	router.HandleFunc("/iptables/add-raw", s.handleAddRaw).Methods(http.MethodPost).Name("add_raw")
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet).Name("metrics")
	router.Handle("/healthz", s.health.Handler()).Methods(http.MethodGet).Name("healthz")

	return requestIDMiddleware(corsMiddleware(s.cfg.CORSOrigin)(router))
}

// CheckIptables runs one listing to confirm iptables is reachable and
// records the outcome on the health checker.
func (s *Server) CheckIptables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	_, err := s.rules.List(ctx, iptables.TableFilter, "INPUT")
	s.health.RecordListing(err)
	if err != nil {
		return fmt.Errorf("check iptables: %w", err)
	}
	return nil
}

// Start listens on cfg.Listen and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.CheckIptables(ctx); err != nil {
		s.logger.Warn("startup listing failed; health stays unready until a listing succeeds", slog.Any("error", err))
	}

	s.health.SetListening()
	s.logger.Info("server started", slog.String("listen", ln.Addr().String()))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	s.logger.Info("server stopped")
	return err
}
