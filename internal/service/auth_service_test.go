package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/docuflow/scan-ingest/pkg/errors"
)

func TestAuthServiceRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret", "scan-ingest", nil)

	token, err := svc.IssueToken("case-management", time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "case-management", claims.ServiceName)
}

func TestAuthServiceRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", "scan-ingest", nil)
	verifier := NewAuthService("secret-b", "scan-ingest", nil)

	token, err := issuer.IssueToken("case-management", time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	svc := NewAuthService("test-secret", "scan-ingest", nil)

	token, err := svc.IssueToken("case-management", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRejectsWrongIssuer(t *testing.T) {
	issuer := NewAuthService("test-secret", "someone-else", nil)
	verifier := NewAuthService("test-secret", "scan-ingest", nil)

	token, err := issuer.IssueToken("case-management", time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRejectsGarbage(t *testing.T) {
	svc := NewAuthService("test-secret", "scan-ingest", nil)
	_, err := svc.ValidateToken("not-a-token")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
