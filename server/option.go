// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"time"
)

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRPCPath sets the path the JSON-RPC endpoint is mounted at.
func WithRPCPath(path string) ServerOption {
	return func(s *Server) {
		if path != "" {
			s.rpcPath = path
		}
	}
}

// WithLogger sets the [*slog.Logger] used by the server and, unless one
// is supplied explicitly, its task store.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTaskStore supplies a pre-built task store, e.g. one backed by a
// repository.
func WithTaskStore(store *TaskStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithMetrics enables Prometheus instrumentation and the /metrics
// endpoint.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithBearerSecret requires JWT bearer authentication on the RPC
// endpoint, verified against the given HMAC secret.
func WithBearerSecret(secret []byte) ServerOption {
	return func(s *Server) {
		s.bearerSecret = secret
	}
}

// WithHeartbeat sets the idle heartbeat period for event streams.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for in-flight
// requests.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}
