package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PayRpc/translate-engine/internal/config"
	"github.com/PayRpc/translate-engine/internal/dispatch"
	"github.com/PayRpc/translate-engine/internal/executorpool"
	"github.com/PayRpc/translate-engine/internal/progresshub"
	"github.com/PayRpc/translate-engine/internal/taskqueue"
	"github.com/PayRpc/translate-engine/internal/taskstore"
)

// Server is the process-wide HTTP boundary. One Server wraps one Loop,
// one Queue, and one Pool, both shared process-wide singletons, plus
// the durable store and optional progress hub.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	store taskstore.Store
	queue *taskqueue.Queue
	pool  *executorpool.Pool
	loop  *dispatch.Loop
	hub   *progresshub.Hub

	clock  Clock
	router *mux.Router
	srv    *http.Server
}

// New wires a Server over the given components. hub may be nil if
// EnableProgressHub is off.
func New(cfg config.Config, logger *zap.Logger, store taskstore.Store, queue *taskqueue.Queue, pool *executorpool.Pool, loop *dispatch.Loop, hub *progresshub.Hub) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		queue:  queue,
		pool:   pool,
		loop:   loop,
		hub:    hub,
		clock:  RealClock{},
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/tasks", s.handleTranslateUnary).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/tasks/stream", s.handleTranslateStream).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/tasks/batch", s.handleTranslateBatch).Methods(http.MethodPost)

	s.router.HandleFunc("/v1/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/tasks", s.handleListTasks).Methods(http.MethodGet)

	if s.hub != nil {
		s.router.HandleFunc("/v1/tasks/{id}/ws", s.hub.ServeWS).Methods(http.MethodGet)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.logger, http.StatusOK, map[string]any{
		"status":     "ok",
		"queue_len":  s.queue.Len(),
		"pool_free":  s.pool.FreeCount(),
		"pool_total": s.pool.Total(),
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts it down gracefully: listener construction, a background
// shutdown watcher, and a bounded-timeout Shutdown.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.APIReadTimeout,
		WriteTimeout: s.cfg.APIWriteTimeout,
		IdleTimeout:  s.cfg.APIIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: failed to bind %s: %w", addr, err)
	}
	s.logger.Info("translation server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutdown signal received, draining HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}()

	if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server error: %w", err)
	}
	s.logger.Info("translation server stopped", zap.String("addr", addr))
	return nil
}
