package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFile(owner, parent, name, blobKey string) *models.Entity {
	return &models.Entity{
		Kind:       models.KindFile,
		Name:       name,
		ParentPath: parent,
		OwnerID:    owner,
		BlobKey:    blobKey,
		SizeBytes:  10,
		CreatedAt:  time.Now(),
	}
}

func TestInMemoryStore_Entities(t *testing.T) {
	ctx := context.Background()

	t.Run("path is unique per owner", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/", "a.txt", "u1/a.txt")))

		err := s.CreateEntity(ctx, newFile("u1", "/", "a.txt", "u1/a.txt"))
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))

		// Same path, different owner
		assert.NoError(t, s.CreateEntity(ctx, newFile("u2", "/", "a.txt", "u2/a.txt")))
	})

	t.Run("create assigns an id and caller copy is detached", func(t *testing.T) {
		s := NewInMemoryStore()
		e := newFile("u1", "/", "a.txt", "u1/a.txt")
		require.NoError(t, s.CreateEntity(ctx, e))
		require.NotEmpty(t, e.ID)

		e.Name = "mutated"
		stored, err := s.GetEntityByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", stored.Name)
	})

	t.Run("ensure folder is idempotent and refuses files", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Docs"))
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Docs"))

		children, err := s.ListChildren(ctx, "u1", "/")
		require.NoError(t, err)
		assert.Len(t, children, 1)

		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/", "report", "u1/report")))
		err = s.EnsureFolder(ctx, "u1", "/", "report")
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))
	})

	t.Run("concurrent ensure folder creates exactly one", func(t *testing.T) {
		s := NewInMemoryStore()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Docs"))
			}()
		}
		wg.Wait()

		children, err := s.ListChildren(ctx, "u1", "/")
		require.NoError(t, err)
		assert.Len(t, children, 1)
	})

	t.Run("children list folders first then by name", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/", "b.txt", "k1")))
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/", "a.txt", "k2")))
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Zeta"))
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Alpha"))
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/Alpha/", "inner.txt", "k3")))

		children, err := s.ListChildren(ctx, "u1", "/")
		require.NoError(t, err)

		var names []string
		for _, c := range children {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"Alpha", "Zeta", "a.txt", "b.txt"}, names)
	})

	t.Run("descendants match by parent path prefix", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Docs"))
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/Docs/", "2024"))
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/Docs/2024/", "r.pdf", "k1")))
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Docs2"))
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/Docs2/", "other.pdf", "k2")))

		desc, err := s.ListDescendants(ctx, "u1", "/Docs/")
		require.NoError(t, err)
		assert.Len(t, desc, 2)
	})

	t.Run("move to a taken location fails", func(t *testing.T) {
		s := NewInMemoryStore()
		a := newFile("u1", "/", "a.txt", "k1")
		require.NoError(t, s.CreateEntity(ctx, a))
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/", "b.txt", "k2")))

		err := s.UpdateEntityLocation(ctx, a.ID, "/", "b.txt", time.Now())
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))

		require.NoError(t, s.UpdateEntityLocation(ctx, a.ID, "/", "c.txt", time.Now()))
		_, err = s.GetEntityByPath(ctx, "u1", "/", "a.txt")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		moved, err := s.GetEntityByPath(ctx, "u1", "/", "c.txt")
		require.NoError(t, err)
		assert.Equal(t, a.ID, moved.ID)
	})

	t.Run("shared with is a set", func(t *testing.T) {
		s := NewInMemoryStore()
		e := newFile("u1", "/", "a.txt", "k1")
		require.NoError(t, s.CreateEntity(ctx, e))

		require.NoError(t, s.AddSharedWith(ctx, e.ID, "u2", "u3"))
		require.NoError(t, s.AddSharedWith(ctx, e.ID, "u2"))
		shared, err := s.ListSharedWith(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, shared, 1)
		assert.ElementsMatch(t, []string{"u2", "u3"}, shared[0].SharedWith)

		require.NoError(t, s.RemoveSharedWith(ctx, e.ID, "u2"))
		shared, err = s.ListSharedWith(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, shared)
	})

	t.Run("blob references and size totals", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.CreateEntity(ctx, newFile("u1", "/", "a.txt", "shared-key")))
		require.NoError(t, s.CreateEntity(ctx, newFile("u2", "/", "a.txt", "shared-key")))
		require.NoError(t, s.EnsureFolder(ctx, "u1", "/", "Docs"))

		n, err := s.CountBlobReferences(ctx, "shared-key")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		total, err := s.SumFileSizes(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), total)
	})

	t.Run("delete frees the path", func(t *testing.T) {
		s := NewInMemoryStore()
		e := newFile("u1", "/", "a.txt", "k1")
		require.NoError(t, s.CreateEntity(ctx, e))
		require.NoError(t, s.DeleteEntity(ctx, e.ID))

		assert.True(t, apperr.Is(s.DeleteEntity(ctx, e.ID), apperr.KindNotFound))
		assert.NoError(t, s.CreateEntity(ctx, newFile("u1", "/", "a.txt", "k1")))
	})
}

func TestInMemoryStore_ShareLinks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("access count never passes the ceiling", func(t *testing.T) {
		s := NewInMemoryStore()
		limit := 3
		require.NoError(t, s.CreateShareLink(ctx, &models.ShareLink{Token: "t1", MaxAccess: &limit, CreatedAt: now}))

		var wg sync.WaitGroup
		var mu sync.Mutex
		granted := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.RecordShareLinkAccess(ctx, "t1", "", now)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		link, err := s.GetShareLinkByToken(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 3, granted)
		assert.Equal(t, 3, link.AccessCount)
	})

	t.Run("returns the new count", func(t *testing.T) {
		s := NewInMemoryStore()
		limit := 1
		require.NoError(t, s.CreateShareLink(ctx, &models.ShareLink{Token: "t1", MaxAccess: &limit, CreatedAt: now}))

		count, ok, err := s.RecordShareLinkAccess(ctx, "t1", "", now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, count)

		count, ok, err = s.RecordShareLinkAccess(ctx, "t1", "", now)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, count)
	})

	t.Run("unknown token is not found", func(t *testing.T) {
		s := NewInMemoryStore()
		_, _, err := s.RecordShareLinkAccess(ctx, "missing", "", now)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.True(t, apperr.Is(s.RevokeShareLink(ctx, "missing", now), apperr.KindNotFound))
	})

	t.Run("revoke keeps the first timestamp", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.CreateShareLink(ctx, &models.ShareLink{Token: "t1", CreatedAt: now}))

		require.NoError(t, s.RevokeShareLink(ctx, "t1", now))
		require.NoError(t, s.RevokeShareLink(ctx, "t1", now.Add(time.Hour)))

		link, err := s.GetShareLinkByToken(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, link.RevokedAt)
		assert.True(t, link.RevokedAt.Equal(now))
	})

	t.Run("unseen drops links once accessed or revoked", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.CreateShareLink(ctx, &models.ShareLink{Token: "t1", AllowedUsers: []string{"u2"}, CreatedAt: now}))
		require.NoError(t, s.CreateShareLink(ctx, &models.ShareLink{Token: "t2", AllowedUsers: []string{"u2"}, CreatedAt: now.Add(time.Minute)}))
		require.NoError(t, s.CreateShareLink(ctx, &models.ShareLink{Token: "t3", AllowedUsers: []string{"u3"}, CreatedAt: now}))

		unseen, err := s.ListUnseenShareLinks(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, unseen, 2)
		assert.Equal(t, "t2", unseen[0].Token)

		_, _, err = s.RecordShareLinkAccess(ctx, "t1", "u2", now)
		require.NoError(t, err)
		require.NoError(t, s.RevokeShareLink(ctx, "t2", now))

		unseen, err = s.ListUnseenShareLinks(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, unseen)
	})

	t.Run("duplicate token is rejected", func(t *testing.T) {
		s := NewInMemoryStore()
		require.NoError(t, s.CreateShareLink(ctx, &models.ShareLink{Token: "t1"}))
		err := s.CreateShareLink(ctx, &models.ShareLink{Token: "t1"})
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))
	})
}
