package utils

import (
	"testing"

	"RouterGate/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	SetJWTConfig(&config.JWTConfig{Secret: "test-secret", ExpireDuration: 60})

	tok, err := GenerateToken("ops", 7, 3, RoleAdmin)
	require.NoError(t, err)

	claims, err := ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.UserName)
	assert.EqualValues(t, 7, claims.UserID)
	assert.EqualValues(t, 3, claims.TenantID)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestParseToken_Rejects(t *testing.T) {
	SetJWTConfig(&config.JWTConfig{Secret: "test-secret", ExpireDuration: 60})

	_, err := ParseToken("not-a-token")
	assert.Error(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{UserID: 1})
	s, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = ParseToken(s)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{UserID: 1})
	s, err = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(s)
	assert.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", h)
	assert.True(t, CheckPasswordHash("s3cret!", h))
	assert.False(t, CheckPasswordHash("wrong", h))
	assert.False(t, CheckPasswordHash("s3cret!", "not-a-hash"))
}
