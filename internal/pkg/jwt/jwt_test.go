package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RoundTrip(t *testing.T) {
	svc := New("secret", time.Hour)

	token, err := svc.GenerateToken("user", "42")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user", claims.OwnerKind)
	assert.Equal(t, "42", claims.Subject)
}

func TestService_Rejects(t *testing.T) {
	svc := New("secret", time.Hour)

	_, err := svc.GenerateToken("", "42")
	assert.Error(t, err)

	other, err := New("other", time.Hour).GenerateToken("user", "42")
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.Error(t, err)

	expired, err := New("secret", -time.Minute).GenerateToken("user", "42")
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.Error(t, err)
}
