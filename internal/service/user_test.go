package service

import (
	"context"
	"testing"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/auth"
	"cloudshare-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService(t *testing.T) (*UserService, *auth.TokenService) {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret")
	require.NoError(t, err)
	return NewUserService(repository.NewInMemoryStore(), tokens), tokens
}

func TestUserService(t *testing.T) {
	ctx := context.Background()

	t.Run("register then login", func(t *testing.T) {
		svc, tokens := newUserService(t)

		user, err := svc.Register(ctx, " Alice@X.com ", "Str0ng!pass", "Alice")
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", user.Email)
		assert.NotEqual(t, "Str0ng!pass", user.PasswordHash)

		token, loggedIn, err := svc.Login(ctx, "ALICE@x.com", "Str0ng!pass")
		require.NoError(t, err)
		assert.Equal(t, user.ID, loggedIn.ID)

		caller, err := tokens.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, caller.ID)
		assert.Equal(t, "alice@x.com", caller.Email)
	})

	t.Run("weak passwords are refused", func(t *testing.T) {
		svc, _ := newUserService(t)
		for _, pw := range []string{"short1!", "alllowercase1!", "NoDigits!!", "NoSpecial123"} {
			_, err := svc.Register(ctx, "bob@x.com", pw, "Bob")
			assert.True(t, apperr.Is(err, apperr.KindValidation), pw)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, _ := newUserService(t)
		_, err := svc.Register(ctx, "bob@x.com", "Str0ng!pass", "Bob")
		require.NoError(t, err)

		_, err = svc.Register(ctx, "BOB@x.com", "Str0ng!pass", "Bob")
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))
	})

	t.Run("bad credentials look the same", func(t *testing.T) {
		svc, _ := newUserService(t)
		_, err := svc.Register(ctx, "bob@x.com", "Str0ng!pass", "Bob")
		require.NoError(t, err)

		_, _, err = svc.Login(ctx, "bob@x.com", "wrong")
		assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

		_, _, errUnknown := svc.Login(ctx, "nobody@x.com", "Str0ng!pass")
		assert.True(t, apperr.Is(errUnknown, apperr.KindUnauthorized))
		assert.Equal(t, apperr.MessageOf(err), apperr.MessageOf(errUnknown))
	})

	t.Run("get by id", func(t *testing.T) {
		svc, _ := newUserService(t)
		user, err := svc.Register(ctx, "bob@x.com", "Str0ng!pass", "Bob")
		require.NoError(t, err)

		got, err := svc.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob@x.com", got.Email)

		_, err = svc.GetUserByID(ctx, "missing")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}
