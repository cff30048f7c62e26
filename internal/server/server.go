// Package server provides HTTP server initialization and lifecycle management
// for a Charles session.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/config"
	"github.com/scrypster/charles/internal/session"
	"github.com/scrypster/charles/web/handlers"
)

// Controller is the session surface the server exposes. *session.Session
// implements it.
type Controller interface {
	handlers.SessionController
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
}

// Server is a running HTTP server.
type Server struct {
	Addr string
	Hub  *handlers.WebSocketHub

	done chan struct{}
}

// Done is closed once the server has shut down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Start initializes and starts the HTTP server. It returns once the listener
// is bound; Addr holds the actual address, which matters for port 0.
// The server shuts down gracefully when ctx is done. searcher may be nil.
func Start(ctx context.Context, cfg *config.Config, sess Controller, searcher handlers.Searcher, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	wsHub := handlers.NewWebSocketHub(sess, cfg.Server.AllowedOrigins, logger.Named("ws"))
	go wsHub.Run()
	unsubscribe := sess.Subscribe(wsHub.PublishSnapshot)

	apiMux := http.NewServeMux()
	handlers.NewAPIHandlers(sess, searcher, logger.Named("api")).Register(apiMux)

	rateLimiter := handlers.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.Health)
	mux.Handle("/api/", handlers.RateLimitMiddleware(handlers.RequireAuth(apiMux, cfg), rateLimiter))
	mux.Handle("/ws", handlers.RequireAuth(wsHub, cfg))

	handler := handlers.SecurityHeaders(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		unsubscribe()
		wsHub.Stop()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s := &Server{
		Addr: listener.Addr().String(),
		Hub:  wsHub,
		done: make(chan struct{}),
	}

	serveErr := make(chan struct{})
	go func() {
		defer close(serveErr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	go func() {
		defer close(s.done)
		select {
		case <-ctx.Done():
		case <-serveErr:
		}
		unsubscribe()
		wsHub.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("server listening", zap.String("addr", s.Addr))
	return s, nil
}
