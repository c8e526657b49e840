package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("inspector-7", "inspector", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "inspector-7", claims.UserID)
	assert.Equal(t, "inspector", claims.Role)
}

func TestJWTRejectsWrongSecretAndExpired(t *testing.T) {
	token, err := GenerateJWT("u", "viewer", "secret", time.Hour)
	require.NoError(t, err)
	_, err = ParseJWT(token, "other")
	assert.Error(t, err)

	expired, err := GenerateJWT("u", "viewer", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(expired, "secret")
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", ExtractToken(r))
}

func TestCheckKey(t *testing.T) {
	hash, err := HashKey("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckKey("s3cret", hash))
	assert.False(t, CheckKey("wrong", hash))
	assert.False(t, CheckKey("s3cret", ""))
}
