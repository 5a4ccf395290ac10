package access

import (
	"testing"

	"cloudshare-backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestAccessDecision(t *testing.T) {
	file := &models.Entity{
		ID:         "f1",
		Kind:       models.KindFile,
		OwnerID:    "owner",
		SharedWith: []string{"friend"},
	}

	owner := &models.Caller{ID: "owner", Email: "owner@x.com"}
	friend := &models.Caller{ID: "friend", Email: "friend@x.com"}
	stranger := &models.Caller{ID: "stranger", Email: "stranger@x.com"}

	t.Run("owner reads and writes", func(t *testing.T) {
		assert.True(t, CanRead(file, owner))
		assert.True(t, CanWrite(file, owner))
	})

	t.Run("shared user only reads", func(t *testing.T) {
		assert.True(t, CanRead(file, friend))
		assert.False(t, CanWrite(file, friend))
	})

	t.Run("strangers and anonymous get nothing", func(t *testing.T) {
		assert.False(t, CanRead(file, stranger))
		assert.False(t, CanWrite(file, stranger))
		assert.False(t, CanRead(file, nil))
		assert.False(t, CanWrite(file, nil))
	})

	t.Run("empty caller id never matches", func(t *testing.T) {
		orphan := &models.Entity{OwnerID: ""}
		assert.False(t, CanWrite(orphan, &models.Caller{}))
	})

	t.Run("link allow-list does not grant write", func(t *testing.T) {
		link := &models.ShareLink{Scope: models.ScopeRestricted, AllowedUsers: []string{"stranger"}}
		assert.True(t, link.Allows(stranger))
		assert.False(t, CanWrite(file, stranger))
	})
}
