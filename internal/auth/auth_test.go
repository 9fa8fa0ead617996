package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("client", "shh")

	token, err := svc.GenerateToken(Credentials{APIKey: "client", APISecret: "shh"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "client", claims.ClientID)
	assert.Equal(t, []string{PermissionTrade}, claims.Permissions)
}

func TestGenerateTokenBadCredentials(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("client", "shh")

	_, err := svc.GenerateToken(Credentials{APIKey: "client", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(Credentials{APIKey: "nobody", APISecret: "shh"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolverCredentialsCarryResolve(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterResolverCredentials("oracle", "shh")

	token, err := svc.GenerateToken(Credentials{APIKey: "oracle", APISecret: "shh"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Contains(t, claims.Permissions, PermissionResolve)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials("client", "shh")
	token, err := issuer.GenerateToken(Credentials{APIKey: "client", APISecret: "shh"})
	require.NoError(t, err)

	verifier := NewService("secret-b")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
