// Package auth verifies authenticate calls against the methods the agent
// advertised at initialize time.
package auth

import (
	"context"
	"crypto/subtle"
	"sync"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/protocol"
)

// Authenticator validates one authenticate call. Implementations must be
// safe for concurrent use across connections.
type Authenticator interface {
	// MethodID names the advertised auth method this validator serves.
	MethodID() string
	// Authenticate accepts or rejects credentials. A rejection is an
	// ACPError with an auth code, surfaced to the client as-is.
	Authenticate(ctx context.Context, params protocol.AuthenticateParams) error
}

// secureCompare is a constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BearerAuthenticator validates static bearer tokens.
type BearerAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewBearerAuthenticator creates a validator accepting the given tokens.
func NewBearerAuthenticator(tokens ...string) *BearerAuthenticator {
	a := &BearerAuthenticator{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		a.tokens[t] = struct{}{}
	}
	return a
}

func (a *BearerAuthenticator) MethodID() string { return "bearer" }

// AddToken registers another accepted token.
func (a *BearerAuthenticator) AddToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = struct{}{}
}

// RevokeToken removes a token.
func (a *BearerAuthenticator) RevokeToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}

func (a *BearerAuthenticator) Authenticate(ctx context.Context, params protocol.AuthenticateParams) error {
	if params.Token == "" {
		return acperrors.AuthFailed("missing token")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for token := range a.tokens {
		if secureCompare(token, params.Token) {
			return nil
		}
	}
	return acperrors.AuthFailed("unknown token")
}

// APIKeyValidator checks one api key, for deployments where keys live in
// an external store.
type APIKeyValidator func(ctx context.Context, apiKey string) error

// APIKeyAuthenticator validates api keys via a callback, with a static
// key set as the default backend.
type APIKeyAuthenticator struct {
	validate APIKeyValidator
}

// NewAPIKeyAuthenticator creates a validator accepting the given keys.
func NewAPIKeyAuthenticator(keys ...string) *APIKeyAuthenticator {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return &APIKeyAuthenticator{
		validate: func(ctx context.Context, apiKey string) error {
			for k := range set {
				if secureCompare(k, apiKey) {
					return nil
				}
			}
			return acperrors.AuthFailed("unknown api key")
		},
	}
}

// NewAPIKeyAuthenticatorFunc creates a validator delegating to a callback.
func NewAPIKeyAuthenticatorFunc(validate APIKeyValidator) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{validate: validate}
}

func (a *APIKeyAuthenticator) MethodID() string { return "api_key" }

func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, params protocol.AuthenticateParams) error {
	if params.APIKey == "" {
		return acperrors.AuthFailed("missing api key")
	}
	return a.validate(ctx, params.APIKey)
}

// Multi dispatches on the method_id the client chose.
type Multi struct {
	byMethod map[string]Authenticator
}

// NewMulti combines several validators. The client picks one by its
// advertised method id.
func NewMulti(authenticators ...Authenticator) *Multi {
	m := &Multi{byMethod: make(map[string]Authenticator, len(authenticators))}
	for _, a := range authenticators {
		m.byMethod[a.MethodID()] = a
	}
	return m
}

func (m *Multi) MethodID() string { return "multi" }

func (m *Multi) Authenticate(ctx context.Context, params protocol.AuthenticateParams) error {
	a, ok := m.byMethod[params.MethodID]
	if !ok {
		return acperrors.AuthFailed("unsupported auth method: " + params.MethodID)
	}
	return a.Authenticate(ctx, params)
}
