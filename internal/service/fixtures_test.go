package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/repository"

	"github.com/stretchr/testify/require"
)

// fakeBlobStore keeps objects in memory. Setting the fail fields makes the
// next calls fail with that error.
type fakeBlobStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failPut    error
	failDelete error
	failSign   error
	failPutAt  int // 1-based put number that fails, 0 disables
	puts       int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.puts++
	if f.failPut != nil || (f.failPutAt != 0 && f.puts == f.failPutAt) {
		return apperr.Wrap(apperr.KindBlob, fmt.Errorf("put %s", key), "failed to upload file")
	}
	f.objects[key] = append([]byte(nil), body...)
	return nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDelete != nil {
		return f.failDelete
	}
	if _, ok := f.objects[key]; !ok {
		return apperr.Newf(apperr.KindNotFound, "object '%s' not found", key)
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSign != nil {
		return "", f.failSign
	}
	return fmt.Sprintf("https://blobs.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (f *fakeBlobStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store   *repository.InMemoryStore
	blobs   *fakeBlobStore
	clock   *fakeClock
	folders *FolderService
	files   *FileService
	links   *ShareLinkService
	uploads *UploadService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewInMemoryStore()
	blobs := newFakeBlobStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	folders := NewFolderService(store)
	folders.now = clock.Now
	links := NewShareLinkService(store, blobs, "https://cloudshare.test/")
	links.now = clock.Now
	uploads := NewUploadService(store, blobs, folders, links)
	uploads.now = clock.Now

	return &testEnv{
		store:   store,
		blobs:   blobs,
		clock:   clock,
		folders: folders,
		files:   NewFileService(store, blobs, 0),
		links:   links,
		uploads: uploads,
	}
}

// addUser stores an account and returns it as a caller
func (e *testEnv) addUser(t *testing.T, email string) *models.Caller {
	t.Helper()
	user := &models.User{Email: email, Name: email, PasswordHash: "x", CreatedAt: e.clock.Now()}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return &models.Caller{ID: user.ID, Email: user.Email}
}

// upload stores one file at relPath for the caller
func (e *testEnv) upload(t *testing.T, caller *models.Caller, relPath string, body string) *models.Entity {
	t.Helper()
	res, err := e.uploads.UploadBatch(context.Background(), caller, UploadRequest{
		Files:         []UploadFile{{OriginalName: relPath, MimeType: "text/plain", Body: []byte(body)}},
		RelativePaths: []string{relPath},
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	return res.Created[0]
}

func intPtr(n int) *int { return &n }
