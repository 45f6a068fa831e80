// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"
)

// AgentCardWellKnownPath is the conventional location an agent publishes
// its card at, relative to its base URL.
const AgentCardWellKnownPath = "/.well-known/agent.json"

// AuthSchemeKind names a supported authentication scheme.
type AuthSchemeKind string

const (
	// AuthSchemeNone requests no authentication headers.
	AuthSchemeNone AuthSchemeKind = "none"

	// AuthSchemeAPIKey sends a static key in the X-Api-Key header.
	AuthSchemeAPIKey AuthSchemeKind = "apiKey"

	// AuthSchemeBearer sends a static key as a bearer token.
	AuthSchemeBearer AuthSchemeKind = "bearer"

	// AuthSchemeOAuth2 performs a client-credentials grant and sends the
	// resulting access token as a bearer token.
	AuthSchemeOAuth2 AuthSchemeKind = "oauth2"
)

// AuthScheme describes one authentication scheme declared by an agent card.
type AuthScheme struct {
	Scheme            AuthSchemeKind `json:"scheme"`
	ServiceIdentifier string         `json:"service_identifier,omitzero"`
	TokenURL          string         `json:"token_url,omitzero"`
	Scopes            []string       `json:"scopes,omitzero"`
}

// Validate ensures the scheme descriptor is structurally sound.
func (s AuthScheme) Validate() error {
	switch s.Scheme {
	case AuthSchemeNone, AuthSchemeAPIKey, AuthSchemeBearer:
		return nil
	case AuthSchemeOAuth2:
		if s.TokenURL == "" {
			return fmt.Errorf("oauth2 scheme requires token_url")
		}
		return nil
	default:
		return fmt.Errorf("unknown auth scheme: %q", s.Scheme)
	}
}

// AgentCard describes a remote agent: its endpoint and the authentication
// schemes it accepts. Cards are external read-only input to the client.
type AgentCard struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitzero"`
	URL         string       `json:"url"`
	Auth        []AuthScheme `json:"auth,omitzero"`
}

// Validate ensures the card is structurally sound.
func (c *AgentCard) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent card name cannot be empty")
	}
	if c.URL == "" {
		return fmt.Errorf("agent card URL cannot be empty")
	}
	for i, s := range c.Auth {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("auth scheme at index %d: %w", i, err)
		}
	}
	return nil
}

// schemePriority orders scheme kinds for selection; lower wins.
var schemePriority = map[AuthSchemeKind]int{
	AuthSchemeOAuth2: 0,
	AuthSchemeAPIKey: 1,
	AuthSchemeBearer: 2,
	AuthSchemeNone:   3,
}

// SelectAuthScheme picks exactly one scheme for a call: oauth2 over apiKey
// over bearer over none, first declared match within the winning kind.
// A card with no declared schemes defaults to none.
func (c *AgentCard) SelectAuthScheme() AuthScheme {
	if len(c.Auth) == 0 {
		return AuthScheme{Scheme: AuthSchemeNone}
	}
	best := -1
	for i, s := range c.Auth {
		p, ok := schemePriority[s.Scheme]
		if !ok {
			continue
		}
		if best == -1 || p < schemePriority[c.Auth[best].Scheme] {
			best = i
		}
	}
	if best == -1 {
		return AuthScheme{Scheme: AuthSchemeNone}
	}
	return c.Auth[best]
}
