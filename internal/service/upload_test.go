package service

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

func TestUploadService_Preflight(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u1 := env.addUser(t, "u1@x.com")

	tests := []struct {
		name string
		req  UploadRequest
		kind apperr.Kind
	}{
		{
			name: "no files",
			req:  UploadRequest{},
			kind: apperr.KindValidation,
		},
		{
			name: "relative path count mismatch",
			req: UploadRequest{
				Files:         []UploadFile{{OriginalName: "a.txt"}, {OriginalName: "b.txt"}},
				RelativePaths: []string{"a.txt"},
			},
			kind: apperr.KindValidation,
		},
		{
			name: "traversal in a later item",
			req: UploadRequest{
				Files:         []UploadFile{{OriginalName: "a.txt"}, {OriginalName: "b.txt"}},
				RelativePaths: []string{"ok/a.txt", "../b.txt"},
			},
			kind: apperr.KindInvalidPath,
		},
		{
			name: "empty base name",
			req: UploadRequest{
				Files:         []UploadFile{{OriginalName: "a.txt"}},
				RelativePaths: []string{"//"},
			},
			kind: apperr.KindInvalidPath,
		},
		{
			name: "bad parent path",
			req: UploadRequest{
				Files:      []UploadFile{{OriginalName: "a.txt"}},
				ParentPath: "/x/../y",
			},
			kind: apperr.KindInvalidPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.uploads.UploadBatch(ctx, u1, tt.req)
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
		})
	}

	// Nothing touched storage
	assert.Equal(t, 0, env.blobs.puts)
	all, err := env.files.ListAll(ctx, u1)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUploadService_Paths(t *testing.T) {
	ctx := context.Background()

	t.Run("folder upload materializes directories", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")

		res, err := env.uploads.UploadBatch(ctx, u1, UploadRequest{
			Files: []UploadFile{
				{OriginalName: "a.jpg", MimeType: "image/jpeg", Body: []byte("a")},
				{OriginalName: "b.jpg", MimeType: "image/jpeg", Body: []byte("bb")},
			},
			RelativePaths: []string{"Photos\\2024\\a.jpg", "Photos/b.jpg"},
		})
		require.NoError(t, err)
		require.Len(t, res.Created, 2)

		assert.Equal(t, "/Photos/2024/", res.Created[0].ParentPath)
		assert.Equal(t, u1.ID+"/Photos/2024/a.jpg", res.Created[0].BlobKey)
		assert.Equal(t, int64(2), res.Created[1].SizeBytes)
		assert.True(t, env.blobs.has(res.Created[0].BlobKey))

		photos, err := env.folders.ListChildren(ctx, u1, "/Photos/")
		require.NoError(t, err)
		assert.Equal(t, []string{"2024", "b.jpg"}, names(photos))
	})

	t.Run("parent path prefixes relative items only", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")

		res, err := env.uploads.UploadBatch(ctx, u1, UploadRequest{
			Files:         []UploadFile{{OriginalName: "a.txt"}, {OriginalName: "b.txt"}},
			RelativePaths: []string{"sub/a.txt", "/top/b.txt"},
			ParentPath:    "Work",
		})
		require.NoError(t, err)
		assert.Equal(t, "/Work/sub/", res.Created[0].ParentPath)
		assert.Equal(t, "/top/", res.Created[1].ParentPath)
	})

	t.Run("original name is used without relative paths", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")

		res, err := env.uploads.UploadBatch(ctx, u1, UploadRequest{
			Files:      []UploadFile{{OriginalName: "notes.md", Body: []byte("n")}},
			ParentPath: "/Docs/",
		})
		require.NoError(t, err)
		assert.Equal(t, "/Docs/", res.Created[0].ParentPath)
		assert.Equal(t, "notes.md", res.Created[0].Name)
		assert.Equal(t, "", res.Created[0].MimeType)
	})

	t.Run("existing name is refused before the blob is written", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")
		first := env.upload(t, u1, "a.txt", "original")
		puts := env.blobs.puts

		_, err := env.uploads.UploadBatch(ctx, u1, UploadRequest{
			Files: []UploadFile{{OriginalName: "a.txt", Body: []byte("overwrite")}},
		})
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))
		assert.Equal(t, puts, env.blobs.puts)
		assert.Equal(t, []byte("original"), env.blobs.objects[first.BlobKey])
	})

	t.Run("a key freed by a move is not reused", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")
		first := env.upload(t, u1, "a.txt", "first")
		_, err := env.folders.Rename(ctx, u1, first.ID, "old.txt")
		require.NoError(t, err)

		second := env.upload(t, u1, "a.txt", "second")
		assert.NotEqual(t, first.BlobKey, second.BlobKey)
		assert.Equal(t, []byte("first"), env.blobs.objects[first.BlobKey])
	})

	t.Run("partial failure keeps earlier items", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")
		env.blobs.failPutAt = 2

		res, err := env.uploads.UploadBatch(ctx, u1, UploadRequest{
			Files: []UploadFile{
				{OriginalName: "a.txt", Body: []byte("a")},
				{OriginalName: "b.txt", Body: []byte("b")},
				{OriginalName: "c.txt", Body: []byte("c")},
			},
		})
		assert.True(t, apperr.Is(err, apperr.KindBlob))
		require.NotNil(t, res)
		require.Len(t, res.Created, 1)
		assert.Equal(t, "a.txt", res.Created[0].Name)

		root, err := env.folders.ListChildren(ctx, u1, "/")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt"}, names(root))
	})
}

// gatedBlobStore holds each Put until a second one arrives or the wait runs out
type gatedBlobStore struct {
	*fakeBlobStore
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (g *gatedBlobStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	g.mu.Lock()
	g.arrived++
	if g.arrived == 2 {
		close(g.release)
	}
	g.mu.Unlock()

	select {
	case <-g.release:
	case <-time.After(200 * time.Millisecond):
	}
	return g.fakeBlobStore.Put(ctx, key, body, contentType)
}

func TestUploadService_ConcurrentSamePath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u1 := env.addUser(t, "u1@x.com")

	blobs := &gatedBlobStore{fakeBlobStore: env.blobs, release: make(chan struct{})}
	uploads := NewUploadService(env.store, blobs, env.folders, env.links)

	bodies := []string{"first", "second"}
	errs := make([]error, len(bodies))
	var wg sync.WaitGroup
	for i, body := range bodies {
		wg.Add(1)
		go func(i int, body string) {
			defer wg.Done()
			_, errs[i] = uploads.UploadBatch(ctx, u1, UploadRequest{
				Files: []UploadFile{{OriginalName: "r.txt", Body: []byte(body)}},
			})
		}(i, body)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "both uploads succeeded")
			winner = i
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindDuplicate))
	}
	require.NotEqual(t, -1, winner)

	entity, err := env.store.GetEntityByPath(ctx, u1.ID, "/", "r.txt")
	require.NoError(t, err)
	stored := env.blobs.objects[entity.BlobKey]
	assert.Equal(t, bodies[winner], string(stored))
	assert.Equal(t, int64(len(stored)), entity.SizeBytes)
}

func TestUploadService_Share(t *testing.T) {
	ctx := context.Background()

	t.Run("public link expires with the clock", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")

		res, err := env.uploads.UploadBatch(ctx, u1, UploadRequest{
			Files: []UploadFile{{OriginalName: "report.pdf", MimeType: "application/pdf", Body: []byte("pdf")}},
			Share: &UploadShareOptions{Scope: models.ScopePublic, ExpiresIn: 24 * time.Hour},
		})
		require.NoError(t, err)
		require.NotNil(t, res.ShareLink)
		token := res.ShareLink.Link.Token

		access, err := env.links.Access(ctx, token, "", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, access.DownloadURL)

		env.clock.Advance(25 * time.Hour)
		_, err = env.links.Access(ctx, token, "", nil)
		assert.True(t, apperr.Is(err, apperr.KindGone))
	})

	t.Run("restricted upload shares every file and links the first", func(t *testing.T) {
		env := newTestEnv(t)
		u1 := env.addUser(t, "u1@x.com")
		bob := env.addUser(t, "bob@x.com")

		res, err := env.uploads.UploadBatch(ctx, u1, UploadRequest{
			Files: []UploadFile{
				{OriginalName: "a.txt", Body: []byte("a")},
				{OriginalName: "b.txt", Body: []byte("b")},
			},
			Share: &UploadShareOptions{
				Scope:  models.ScopeRestricted,
				Emails: []string{"BOB@x.com", "u1@x.com", "ghost@x.com"},
			},
		})
		require.NoError(t, err)

		shared, err := env.files.SharedWithMe(ctx, bob)
		require.NoError(t, err)
		assert.Len(t, shared, 2)

		link := res.ShareLink.Link
		assert.Equal(t, res.Created[0].ID, link.FileID)
		assert.Equal(t, models.ScopeRestricted, link.Scope)
		assert.Equal(t, []string{bob.ID}, link.AllowedUsers)
		assert.ElementsMatch(t, []string{"bob@x.com", "u1@x.com", "ghost@x.com"}, link.AllowedEmails)

		unseen, err := env.links.Unseen(ctx, bob)
		require.NoError(t, err)
		assert.Len(t, unseen, 1)
	})
}
