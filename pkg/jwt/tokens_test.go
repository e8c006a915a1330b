package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("user-1", "Ada", "secret", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := Parse(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, "inkpost", claims.Issuer)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("user-1", "Ada", "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "other-secret")
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := GenerateToken("user-1", "Ada", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, "secret")
	assert.Error(t, err)
}
