// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// BearerAuth returns middleware that requires a signed JWT bearer token
// on every request. Tokens are verified with HMAC-SHA256 against the
// shared secret, including the standard time-based claims. The well-known
// card endpoint is expected to be mounted outside this middleware so
// discovery stays unauthenticated.
func BearerAuth(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="a2a"`)
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse([]byte(raw),
				jwt.WithKey(jwa.HS256(), secret),
				jwt.WithValidate(true),
			)
			if err != nil {
				logger.DebugContext(r.Context(), "bearer token rejected",
					slog.Any("error", err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="a2a", error="invalid_token"`)
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}

			if sub, ok := token.Subject(); ok && sub != "" {
				logger.DebugContext(r.Context(), "request authenticated",
					slog.String("subject", sub))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
