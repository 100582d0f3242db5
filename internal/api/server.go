// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/config"
	"github.com/xkilldash9x/tabrelay/internal/observability"
)

// Server hosts the session API over HTTP.
type Server struct {
	cfg        config.Interface
	logger     *zap.Logger
	dispatcher *Dispatcher
	handlers   *Handlers
	httpServer *http.Server
}

// NewServer builds the router and HTTP server around dispatcher.
func NewServer(cfg config.Interface, logger *zap.Logger, dispatcher *Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger.Named("server"),
		dispatcher: dispatcher,
		handlers:   NewHandlers(logger, dispatcher),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Server().ListenAddr,
		Handler: s.Router(),
	}
	return s
}

// Router returns the fully wired chi router.
func (s *Server) Router() http.Handler {
	serverCfg := s.cfg.Server()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger.Named("access")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(serverCfg.RequestTimeout))
	if serverCfg.CORSOrigin != "" {
		r.Use(corsMiddleware(serverCfg.CORSOrigin))
	}

	s.handlers.RegisterRoutes(r, serverCfg.MetricsEnabled)
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests and
// shuts down every session and the browser.
func (s *Server) Start(ctx context.Context) error {
	defer observability.Sync()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.shutdownSessions()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Server starting", zap.String("address", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		s.shutdownSessions()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server().ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	<-serveErr

	if err := s.dispatcher.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Session shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("Server stopped.")
	return nil
}

func (s *Server) shutdownSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server().ShutdownTimeout)
	defer cancel()
	if err := s.dispatcher.Shutdown(ctx); err != nil {
		s.logger.Error("Session shutdown error", zap.Error(err))
	}
}
