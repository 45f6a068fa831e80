// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the hosting side of the AgentVault A2A
// protocol: task state management, the JSON-RPC router with its SSE
// bridge, and an HTTP server that ties them to an agent handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-json-experiment/json"

	a2a "github.com/ruFFaa/agentvault"
)

const (
	defaultAddr            = ":8080"
	defaultRPCPath         = "/a2a/"
	defaultShutdownTimeout = 10 * time.Second
)

// Server hosts an agent behind the A2A protocol. It serves the JSON-RPC
// endpoint, the well-known agent card, and optionally a metrics endpoint.
type Server struct {
	addr            string
	rpcPath         string
	card            a2a.AgentCard
	handler         AgentHandler
	store           *TaskStore
	logger          *slog.Logger
	metrics         *Metrics
	bearerSecret    []byte
	heartbeat       time.Duration
	shutdownTimeout time.Duration

	httpServer *http.Server
}

// NewServer assembles a Server for the given card and handler.
func NewServer(card a2a.AgentCard, handler AgentHandler, opts ...ServerOption) (*Server, error) {
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("agent card: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("agent handler cannot be nil")
	}

	s := &Server{
		addr:            defaultAddr,
		rpcPath:         defaultRPCPath,
		card:            card,
		handler:         handler,
		logger:          slog.Default(),
		heartbeat:       defaultHeartbeatInterval,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewTaskStore(WithStoreLogger(s.logger))
	}

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
		// Streaming responses rule out a server-wide write timeout.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Store exposes the task store, e.g. for handlers that resume tasks out
// of band.
func (s *Server) Store() *TaskStore { return s.store }

// Routes builds the chi mux serving the RPC endpoint, the well-known
// card, and optionally /metrics. The card stays outside the auth
// middleware so discovery works without credentials. Useful on its own
// for embedding the agent in a larger mux.
func (s *Server) Routes() http.Handler {
	routerOpts := []RouterOption{
		WithRouterLogger(s.logger),
		WithHeartbeatInterval(s.heartbeat),
	}
	if s.metrics != nil {
		routerOpts = append(routerOpts, WithRouterMetrics(s.metrics))
	}
	rpc := NewProtocolRouter(s.store, s.handler, routerOpts...)

	mux := chi.NewRouter()
	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.Recoverer)
	if s.metrics != nil {
		mux.Use(s.metrics.Middleware)
		mux.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	mux.Get(a2a.AgentCardWellKnownPath, s.handleAgentCard)

	mux.Group(func(g chi.Router) {
		if len(s.bearerSecret) > 0 {
			g.Use(BearerAuth(s.bearerSecret, s.logger))
		}
		g.Handle(s.rpcPath, rpc)
	})

	return mux
}

// handleAgentCard serves the agent's discovery document.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	payload, err := json.Marshal(s.card)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "encoding agent card failed",
			slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		s.logger.DebugContext(r.Context(), "writing agent card failed",
			slog.Any("error", err))
	}
}

// ListenAndServe serves until the context is canceled or the listener
// fails, then drains in-flight requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("a2a server listening",
			slog.String("addr", s.addr), slog.String("rpc_path", s.rpcPath))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("a2a server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
