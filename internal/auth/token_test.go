package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService(t *testing.T) {
	t.Run("empty secret is rejected", func(t *testing.T) {
		_, err := NewTokenService("")
		assert.Error(t, err)
	})

	t.Run("round trip keeps subject and email", func(t *testing.T) {
		svc, err := NewTokenService("test-secret")
		require.NoError(t, err)

		token, err := svc.NewToken("user-1", "alice@x.com")
		require.NoError(t, err)

		caller, err := svc.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", caller.ID)
		assert.Equal(t, "alice@x.com", caller.Email)
	})

	t.Run("token signed with another secret fails", func(t *testing.T) {
		issuer, _ := NewTokenService("secret-a")
		verifier, _ := NewTokenService("secret-b")

		token, err := issuer.NewToken("user-1", "alice@x.com")
		require.NoError(t, err)

		_, err = verifier.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		svc, _ := NewTokenService("test-secret")
		issuedAt := time.Now().Add(-48 * time.Hour)
		svc.now = func() time.Time { return issuedAt }
		token, err := svc.NewToken("user-1", "alice@x.com")
		require.NoError(t, err)

		svc.now = time.Now
		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("non HMAC tokens are refused", func(t *testing.T) {
		svc, _ := NewTokenService("test-secret")
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"})
		raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(raw)
		assert.Error(t, err)
	})

	t.Run("garbage is refused", func(t *testing.T) {
		svc, _ := NewTokenService("test-secret")
		_, err := svc.ValidateToken("not-a-jwt")
		assert.Error(t, err)
	})
}
