package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	InitJWT([]byte("test-secret"), time.Hour)

	tokenString, err := GenerateToken("judge-1", "judge")
	require.NoError(t, err)

	token, err := TokenAuth.Decode(tokenString)
	require.NoError(t, err)

	claims, err := token.AsMap(t.Context())
	require.NoError(t, err)

	id, err := GetUserIDFromClaims(claims)
	require.NoError(t, err)
	role, err := GetUserRoleFromClaims(claims)
	require.NoError(t, err)
	assert.Equal(t, "judge-1", id)
	assert.Equal(t, "judge", role)
}

func TestClaimsMissing(t *testing.T) {
	_, err := GetUserIDFromClaims(map[string]interface{}{"user_id": 7})
	assert.Error(t, err)
	_, err = GetUserRoleFromClaims(map[string]interface{}{})
	assert.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("s3cret", hash))
	assert.False(t, CheckPasswordHash("guess", hash))
}
