// Package server hosts the relay broker behind its HTTP API: the
// event-stream transport, the user directory, and the signaling
// endpoints, plus the operational admin listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/OpenSourceInternetV2/grimwire/internal/config"
	"github.com/OpenSourceInternetV2/grimwire/internal/relay"
	"github.com/OpenSourceInternetV2/grimwire/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires dependencies and hosts the HTTP listeners.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	accounts store.Accounts
	broker   *relay.Broker
	promReg  *prometheus.Registry

	httpSrv   *http.Server
	adminHTTP *http.Server
	ready     atomic.Bool
}

// New constructs a server with its dependencies. The broker and its
// metrics are owned by the server for the process lifetime.
func New(cfg config.Config, logger *zap.Logger, accounts store.Accounts) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &Server{
		cfg:      cfg,
		log:      logger,
		accounts: accounts,
		broker:   relay.NewBroker(logger, accounts, relay.Options{Metrics: relay.NewMetrics(reg)}),
		promReg:  reg,
	}
}

// Start boots the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.HTTPAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddress, err)
	}

	s.startAdminServer()

	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// No write timeout: relay streams stay open for hours.
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("http server listening", zap.String("address", s.cfg.HTTPAddress))
	s.ready.Store(true)
	err = s.httpSrv.Serve(lis)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Signup is the only unauthenticated operation.
	r.Post("/users", s.handleCreateUser)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Head("/users", s.handleNoContent)
		r.Get("/users", s.handleListUsers)
		r.Head("/users/{userID}", s.handleNoContent)
		r.Get("/users/{userID}", s.handleUser)
		r.Patch("/users/{userID}", s.handleUpdateUser)
		r.Post("/users/{userID}", s.handleBroadcast)
	})

	return r
}

func (s *Server) startAdminServer() {
	if s.cfg.Admin.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown attempts a graceful stop before forcing termination. Open
// relay streams do not drain on their own, so the forced close is the
// signal that ends them; each handler runs its own teardown on exit.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		users, relays := s.broker.Counts()
		s.log.Warn("graceful shutdown timed out; forcing stop",
			zap.Int("users_online", users),
			zap.Int("relays_open", relays))
		_ = s.httpSrv.Close()
		return
	}
	s.log.Info("http server stopped")
}
