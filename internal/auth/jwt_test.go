package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	userID := uuid.New()

	token, err := GenerateToken(userID, "Ada", "test-secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, "test-secret")
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, "Ada", claims.DisplayName)
	require.Equal(t, "syncpad", claims.Issuer)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken(uuid.New(), "", "secret-a", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "secret-b")
	require.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken(uuid.New(), "", "test-secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, "test-secret")
	require.Error(t, err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("not-a-token", "test-secret")
	require.Error(t, err)
}
