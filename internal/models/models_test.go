package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShareLinkState(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	two := 2

	t.Run("active by default", func(t *testing.T) {
		l := &ShareLink{}
		assert.Equal(t, LinkActive, l.State(now))
	})

	t.Run("revoked wins over expiry and exhaustion", func(t *testing.T) {
		l := &ShareLink{RevokedAt: &past, ExpiresAt: &past, MaxAccess: &two, AccessCount: 2}
		assert.Equal(t, LinkRevoked, l.State(now))
	})

	t.Run("expired wins over exhaustion", func(t *testing.T) {
		l := &ShareLink{ExpiresAt: &past, MaxAccess: &two, AccessCount: 5}
		assert.Equal(t, LinkExpired, l.State(now))
	})

	t.Run("expiry instant itself is still active", func(t *testing.T) {
		l := &ShareLink{ExpiresAt: &now}
		assert.Equal(t, LinkActive, l.State(now))
	})

	t.Run("exhausted at the ceiling", func(t *testing.T) {
		l := &ShareLink{ExpiresAt: &future, MaxAccess: &two, AccessCount: 2}
		assert.Equal(t, LinkExhausted, l.State(now))
	})
}

func TestShareLinkAllows(t *testing.T) {
	l := &ShareLink{
		Scope:         ScopeRestricted,
		AllowedUsers:  []string{"u-carol"},
		AllowedEmails: []string{"bob@x.com"},
	}

	assert.False(t, l.Allows(nil))
	assert.False(t, l.Allows(&Caller{ID: "u-alice", Email: "alice@x.com"}))
	assert.True(t, l.Allows(&Caller{ID: "u-bob", Email: "Bob@X.com"}))
	assert.True(t, l.Allows(&Caller{ID: "u-carol"}))
}

func TestEntityHelpers(t *testing.T) {
	e := &Entity{Kind: KindFolder, Name: "2024", ParentPath: "/Docs/", SharedWith: []string{"u2"}}
	assert.True(t, e.IsFolder())
	assert.Equal(t, "/Docs/2024/", e.FullPath())
	assert.True(t, e.IsSharedWith("u2"))
	assert.False(t, e.IsSharedWith("u3"))
}
