package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

func signedToken(t *testing.T, key *rsa.PrivateKey, expiresAt time.Time) string {
	t.Helper()
	claims := &domain.CustomClaims{
		UserID: "op-1",
		Scopes: map[string]bool{domain.ScopeDevtools: true},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestVerifyTokenAcceptsBearerPrefix(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey)

	raw := signedToken(t, key, time.Now().Add(time.Hour))

	for _, header := range []string{raw, "Bearer " + raw, "  Bearer " + raw + "  "} {
		claims, err := v.VerifyToken(header)
		require.NoError(t, err, "header %q", header)
		assert.Equal(t, "op-1", claims.UserID)
		assert.True(t, claims.Scopes[domain.ScopeDevtools])
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey)

	t.Run("expired", func(t *testing.T) {
		raw := signedToken(t, key, time.Now().Add(-time.Minute))
		_, err := v.VerifyToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		raw := signedToken(t, other, time.Now().Add(time.Hour))
		_, err = v.VerifyToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("symmetric alg", func(t *testing.T) {
		// HS256-токен, "подписанный" публичным ключом как секретом
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "op-1"}).
			SignedString([]byte("shared"))
		require.NoError(t, err)
		_, err = v.VerifyToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.VerifyToken("Bearer not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestParseRSAKeysRejectEmptyPEM(t *testing.T) {
	_, err := ParseRSAPublicKey(nil)
	require.Error(t, err)
	_, err = ParseRSAPrivateKey([]byte{})
	require.Error(t, err)
}
