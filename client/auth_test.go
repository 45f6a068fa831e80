// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	a2a "github.com/ruFFaa/agentvault"
)

// fakeKeyManager is a KeyManager backed by in-memory maps.
type fakeKeyManager struct {
	keys    map[string]string
	ids     map[string]string
	secrets map[string]string
}

func (f *fakeKeyManager) GetKey(_ context.Context, serviceID string) (string, error) {
	key, ok := f.keys[serviceID]
	if !ok {
		return "", fmt.Errorf("no key for %q", serviceID)
	}
	return key, nil
}

func (f *fakeKeyManager) GetOAuthClientID(_ context.Context, serviceID string) (string, error) {
	id, ok := f.ids[serviceID]
	if !ok {
		return "", fmt.Errorf("no client id for %q", serviceID)
	}
	return id, nil
}

func (f *fakeKeyManager) GetOAuthClientSecret(_ context.Context, serviceID string) (string, error) {
	secret, ok := f.secrets[serviceID]
	if !ok {
		return "", fmt.Errorf("no client secret for %q", serviceID)
	}
	return secret, nil
}

func oauthCard(tokenURL string) *a2a.AgentCard {
	return &a2a.AgentCard{
		Name: "oauth-agent",
		URL:  "https://agent.example/a2a/",
		Auth: []a2a.AuthScheme{{
			Scheme:            a2a.AuthSchemeOAuth2,
			ServiceIdentifier: "svc",
			TokenURL:          tokenURL,
			Scopes:            []string{"tasks:write", "tasks:read"},
		}},
	}
}

func TestAuthResolver_None(t *testing.T) {
	t.Parallel()

	r := NewAuthResolver(nil, nil)
	card := &a2a.AgentCard{Name: "open", URL: "https://open.example"}

	headers, err := r.Resolve(context.Background(), card, &fakeKeyManager{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(headers) != 0 {
		t.Errorf("Resolve() headers = %v, want empty", headers)
	}
}

func TestAuthResolver_APIKeyAndBearer(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		scheme     a2a.AuthScheme
		wantHeader string
		wantValue  string
	}{
		"api_key": {
			scheme:     a2a.AuthScheme{Scheme: a2a.AuthSchemeAPIKey, ServiceIdentifier: "svc"},
			wantHeader: "X-Api-Key",
			wantValue:  "sekrit",
		},
		"bearer": {
			scheme:     a2a.AuthScheme{Scheme: a2a.AuthSchemeBearer, ServiceIdentifier: "svc"},
			wantHeader: "Authorization",
			wantValue:  "Bearer sekrit",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := NewAuthResolver(nil, nil)
			card := &a2a.AgentCard{Name: "a", URL: "https://a.example", Auth: []a2a.AuthScheme{tt.scheme}}
			km := &fakeKeyManager{keys: map[string]string{"svc": "sekrit"}}

			headers, err := r.Resolve(context.Background(), card, km)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := headers.Get(tt.wantHeader); got != tt.wantValue {
				t.Errorf("header %s = %q, want %q", tt.wantHeader, got, tt.wantValue)
			}
		})
	}
}

func TestAuthResolver_ServiceIDFallsBackToCardName(t *testing.T) {
	t.Parallel()

	r := NewAuthResolver(nil, nil)
	card := &a2a.AgentCard{
		Name: "named-agent",
		URL:  "https://a.example",
		Auth: []a2a.AuthScheme{{Scheme: a2a.AuthSchemeAPIKey}},
	}
	km := &fakeKeyManager{keys: map[string]string{"named-agent": "k"}}

	headers, err := r.Resolve(context.Background(), card, km)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := headers.Get("X-Api-Key"); got != "k" {
		t.Errorf("X-Api-Key = %q, want %q", got, "k")
	}
}

func TestAuthResolver_MissingKey(t *testing.T) {
	t.Parallel()

	r := NewAuthResolver(nil, nil)
	card := &a2a.AgentCard{
		Name: "a",
		URL:  "https://a.example",
		Auth: []a2a.AuthScheme{{Scheme: a2a.AuthSchemeAPIKey, ServiceIdentifier: "missing"}},
	}

	_, err := r.Resolve(context.Background(), card, &fakeKeyManager{})
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Resolve() error = %v, want *AuthenticationError", err)
	}
}

func TestAuthResolver_OAuthTokenCache(t *testing.T) {
	t.Parallel()

	var tokenRequests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		if got := r.PostForm.Get("client_id"); got != "cid" {
			t.Errorf("client_id = %q, want cid", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":3600}`, tokenRequests.Load())
	}))
	defer ts.Close()

	km := &fakeKeyManager{
		ids:     map[string]string{"svc": "cid"},
		secrets: map[string]string{"svc": "csecret"},
	}
	card := oauthCard(ts.URL)

	r := NewAuthResolver(nil, nil)
	current := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	ctx := context.Background()

	// Two calls within the validity window issue exactly one token request.
	h1, err := r.Resolve(ctx, card, km)
	if err != nil {
		t.Fatalf("Resolve() #1 error = %v", err)
	}
	h2, err := r.Resolve(ctx, card, km)
	if err != nil {
		t.Fatalf("Resolve() #2 error = %v", err)
	}
	if got := tokenRequests.Load(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}
	if h1.Get("Authorization") != "Bearer tok-1" || h2.Get("Authorization") != "Bearer tok-1" {
		t.Errorf("cached token not reused: %q vs %q", h1.Get("Authorization"), h2.Get("Authorization"))
	}

	// A call after expiry issues a second token request.
	current = current.Add(3600*time.Second - CacheExpiryBuffer + time.Second)
	h3, err := r.Resolve(ctx, card, km)
	if err != nil {
		t.Fatalf("Resolve() #3 error = %v", err)
	}
	if got := tokenRequests.Load(); got != 2 {
		t.Fatalf("token requests after expiry = %d, want 2", got)
	}
	if h3.Get("Authorization") != "Bearer tok-2" {
		t.Errorf("Authorization = %q, want Bearer tok-2", h3.Get("Authorization"))
	}
}

func TestAuthResolver_Invalidate(t *testing.T) {
	t.Parallel()

	var tokenRequests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	}))
	defer ts.Close()

	km := &fakeKeyManager{
		ids:     map[string]string{"svc": "cid"},
		secrets: map[string]string{"svc": "csecret"},
	}
	card := oauthCard(ts.URL)
	r := NewAuthResolver(nil, nil)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, card, km); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	r.Invalidate(ctx, card, km)
	if _, err := r.Resolve(ctx, card, km); err != nil {
		t.Fatalf("Resolve() after Invalidate error = %v", err)
	}
	if got := tokenRequests.Load(); got != 2 {
		t.Errorf("token requests = %d, want 2 after invalidation", got)
	}
}

func TestAuthResolver_TokenEndpointFailure(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusBadRequest)
	}))
	defer ts.Close()

	km := &fakeKeyManager{
		ids:     map[string]string{"svc": "cid"},
		secrets: map[string]string{"svc": "csecret"},
	}
	r := NewAuthResolver(nil, nil)

	_, err := r.Resolve(context.Background(), oauthCard(ts.URL), km)
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Resolve() error = %v, want *AuthenticationError", err)
	}
}

func TestCacheKey_ScopeOrderInsensitive(t *testing.T) {
	t.Parallel()

	k1 := cacheKey("https://t/token", "cid", []string{"b", "a"})
	k2 := cacheKey("https://t/token", "cid", []string{"a", "b"})
	if k1 != k2 {
		t.Errorf("cacheKey() order sensitive: %q vs %q", k1, k2)
	}

	k3 := cacheKey("https://t/token", "cid", []string{"a"})
	if k1 == k3 {
		t.Error("cacheKey() collided for different scope sets")
	}
}
