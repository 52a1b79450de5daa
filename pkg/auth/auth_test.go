package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/protocol"
)

func TestBearerAuthenticator(t *testing.T) {
	a := NewBearerAuthenticator("tok-good")
	ctx := context.Background()

	require.NoError(t, a.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "bearer", Token: "tok-good"}))

	err := a.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "bearer", Token: "tok-bad"})
	require.Error(t, err)
	assert.True(t, acperrors.IsCode(err, acperrors.CodeAuthFailed))

	err = a.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "bearer"})
	require.Error(t, err, "empty token must be rejected")
}

func TestBearerRevoke(t *testing.T) {
	a := NewBearerAuthenticator()
	ctx := context.Background()

	a.AddToken("tok-1")
	require.NoError(t, a.Authenticate(ctx, protocol.AuthenticateParams{Token: "tok-1"}))

	a.RevokeToken("tok-1")
	require.Error(t, a.Authenticate(ctx, protocol.AuthenticateParams{Token: "tok-1"}))
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator("key-1", "key-2")
	ctx := context.Background()

	require.NoError(t, a.Authenticate(ctx, protocol.AuthenticateParams{APIKey: "key-2"}))
	require.Error(t, a.Authenticate(ctx, protocol.AuthenticateParams{APIKey: "key-3"}))
	require.Error(t, a.Authenticate(ctx, protocol.AuthenticateParams{}))
}

func TestAPIKeyCallback(t *testing.T) {
	called := ""
	a := NewAPIKeyAuthenticatorFunc(func(ctx context.Context, apiKey string) error {
		called = apiKey
		return nil
	})
	require.NoError(t, a.Authenticate(context.Background(), protocol.AuthenticateParams{APIKey: "external"}))
	assert.Equal(t, "external", called)
}

func TestMultiDispatchesOnMethodID(t *testing.T) {
	m := NewMulti(
		NewBearerAuthenticator("tok"),
		NewAPIKeyAuthenticator("key"),
	)
	ctx := context.Background()

	require.NoError(t, m.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "bearer", Token: "tok"}))
	require.NoError(t, m.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "api_key", APIKey: "key"}))

	err := m.Authenticate(ctx, protocol.AuthenticateParams{MethodID: "oauth", Token: "tok"})
	require.Error(t, err)
	assert.True(t, acperrors.IsCode(err, acperrors.CodeAuthFailed))
}
