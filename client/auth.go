// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"

	a2a "github.com/ruFFaa/agentvault"
)

// KeyManager resolves credentials by service identifier. It is an external
// collaborator; the client only depends on this lookup contract.
type KeyManager interface {
	// GetKey returns the static API key registered for the service.
	GetKey(ctx context.Context, serviceID string) (string, error)

	// GetOAuthClientID returns the OAuth2 client id for the service.
	GetOAuthClientID(ctx context.Context, serviceID string) (string, error)

	// GetOAuthClientSecret returns the OAuth2 client secret for the service.
	GetOAuthClientSecret(ctx context.Context, serviceID string) (string, error)
}

// CacheExpiryBuffer is subtracted from a token's lifetime before it is
// considered reusable, so a token is never presented right at its expiry.
const CacheExpiryBuffer = 60 * time.Second

// defaultTokenTTL is assumed when a token response omits expires_in.
const defaultTokenTTL = 3600 * time.Second

// tokenCacheEntry is one cached client-credentials token.
type tokenCacheEntry struct {
	accessToken string
	expiresAt   time.Time
	scopes      []string
}

// live reports whether the entry may still be presented at time now.
func (e *tokenCacheEntry) live(now time.Time) bool {
	return now.Before(e.expiresAt.Add(-CacheExpiryBuffer))
}

// AuthResolver turns an agent card's declared authentication schemes into
// HTTP headers. It owns the OAuth2 token cache; one resolver instance is
// shared by all calls of the client that constructed it.
type AuthResolver struct {
	hc     *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]*tokenCacheEntry
}

// NewAuthResolver creates an AuthResolver backed by the given HTTP client
// for token requests.
func NewAuthResolver(hc *http.Client, logger *slog.Logger) *AuthResolver {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthResolver{
		hc:     hc,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]*tokenCacheEntry),
	}
}

// Resolve produces the HTTP auth headers for one call against the agent
// described by card. Exactly one declared scheme is used, selected by
// [a2a.AgentCard.SelectAuthScheme]. Failures are *AuthenticationError.
func (r *AuthResolver) Resolve(ctx context.Context, card *a2a.AgentCard, km KeyManager) (http.Header, error) {
	scheme := card.SelectAuthScheme()
	headers := make(http.Header)

	switch scheme.Scheme {
	case a2a.AuthSchemeNone:
		return headers, nil

	case a2a.AuthSchemeAPIKey, a2a.AuthSchemeBearer:
		serviceID := scheme.ServiceIdentifier
		if serviceID == "" {
			serviceID = card.Name
		}
		key, err := km.GetKey(ctx, serviceID)
		if err != nil || key == "" {
			return nil, &AuthenticationError{
				Reason: fmt.Sprintf("no key for service %q", serviceID),
				Err:    err,
			}
		}
		if scheme.Scheme == a2a.AuthSchemeAPIKey {
			headers.Set("X-Api-Key", key)
		} else {
			headers.Set("Authorization", "Bearer "+key)
		}
		return headers, nil

	case a2a.AuthSchemeOAuth2:
		token, err := r.oauthToken(ctx, card, scheme, km)
		if err != nil {
			return nil, err
		}
		headers.Set("Authorization", "Bearer "+token)
		return headers, nil

	default:
		return nil, &AuthenticationError{
			Reason: fmt.Sprintf("unsupported auth scheme %q", scheme.Scheme),
		}
	}
}

// Invalidate drops any cached token for the card's selected oauth2 scheme,
// forcing the next Resolve to perform a fresh token request. It is used
// for the single 401-driven refresh-and-retry.
func (r *AuthResolver) Invalidate(ctx context.Context, card *a2a.AgentCard, km KeyManager) {
	scheme := card.SelectAuthScheme()
	if scheme.Scheme != a2a.AuthSchemeOAuth2 {
		return
	}
	clientID, err := km.GetOAuthClientID(ctx, r.oauthServiceID(card, scheme))
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, cacheKey(scheme.TokenURL, clientID, scheme.Scopes))
	r.mu.Unlock()
}

func (r *AuthResolver) oauthServiceID(card *a2a.AgentCard, scheme a2a.AuthScheme) string {
	if scheme.ServiceIdentifier != "" {
		return scheme.ServiceIdentifier
	}
	return card.Name
}

// oauthToken returns a live access token, from cache when possible.
func (r *AuthResolver) oauthToken(ctx context.Context, card *a2a.AgentCard, scheme a2a.AuthScheme, km KeyManager) (string, error) {
	serviceID := r.oauthServiceID(card, scheme)

	clientID, err := km.GetOAuthClientID(ctx, serviceID)
	if err != nil || clientID == "" {
		return "", &AuthenticationError{
			Reason: fmt.Sprintf("no OAuth client id for service %q", serviceID),
			Err:    err,
		}
	}

	key := cacheKey(scheme.TokenURL, clientID, scheme.Scopes)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.cache[key]; ok && entry.live(r.now()) {
		return entry.accessToken, nil
	}

	clientSecret, err := km.GetOAuthClientSecret(ctx, serviceID)
	if err != nil || clientSecret == "" {
		return "", &AuthenticationError{
			Reason: fmt.Sprintf("no OAuth client secret for service %q", serviceID),
			Err:    err,
		}
	}

	entry, err := r.requestToken(ctx, scheme, clientID, clientSecret)
	if err != nil {
		return "", err
	}
	r.cache[key] = entry

	r.logger.DebugContext(ctx, "obtained OAuth token",
		slog.String("token_url", scheme.TokenURL),
		slog.Time("expires_at", entry.expiresAt))

	return entry.accessToken, nil
}

// tokenResponse is the subset of RFC 6749 token responses the resolver
// consumes.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitzero"`
	Scope       string `json:"scope,omitzero"`
}

// requestToken performs one client-credentials grant. Callers hold r.mu.
func (r *AuthResolver) requestToken(ctx context.Context, scheme a2a.AuthScheme, clientID, clientSecret string) (*tokenCacheEntry, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	if len(scheme.Scopes) > 0 {
		form.Set("scope", strings.Join(scheme.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scheme.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthenticationError{Reason: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, &AuthenticationError{Reason: "token request to " + scheme.TokenURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthenticationError{
			Reason: fmt.Sprintf("token endpoint returned HTTP %d: %s", resp.StatusCode, truncateBody(body)),
		}
	}

	var tr tokenResponse
	if err := json.UnmarshalRead(resp.Body, &tr); err != nil {
		return nil, &AuthenticationError{Reason: "decode token response", Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &AuthenticationError{Reason: "token response missing access_token"}
	}

	ttl := defaultTokenTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}

	return &tokenCacheEntry{
		accessToken: tr.AccessToken,
		expiresAt:   r.now().Add(ttl),
		scopes:      scheme.Scopes,
	}, nil
}

// cacheKey builds the token cache key from token endpoint, client id, and
// the sorted scope set.
func cacheKey(tokenURL, clientID string, scopes []string) string {
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return tokenURL + "|" + clientID + "|" + strings.Join(sorted, " ")
}
