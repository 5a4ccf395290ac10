package service

import (
	"context"
	"log"
	"sort"
	"strings"

	"cloudshare-backend/internal/access"
	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/repository"
)

// DefaultStorageLimit is reported when no per-deployment limit is configured
const DefaultStorageLimit int64 = 15 * 1024 * 1024 * 1024

// FileService handles direct (non link) operations on a user's entities
type FileService struct {
	store        repository.Store
	blobs        BlobStore
	storageLimit int64
}

// NewFileService creates a new file service
func NewFileService(store repository.Store, blobs BlobStore, storageLimit int64) *FileService {
	if storageLimit <= 0 {
		storageLimit = DefaultStorageLimit
	}
	return &FileService{store: store, blobs: blobs, storageLimit: storageLimit}
}

// Download is a short lived retrieval handle for a readable file
type Download struct {
	URL    string         `json:"downloadUrl"`
	Entity *models.Entity `json:"file"`
}

// ShareTarget identifies a user by ID or, when ID is empty, by email
type ShareTarget struct {
	UserID string
	Email  string
}

// StorageUsage is the sum of sizes report. The limit is informational.
type StorageUsage struct {
	UsedBytes  int64   `json:"used"`
	LimitBytes int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ListAll returns every entity the caller owns, newest first
func (s *FileService) ListAll(ctx context.Context, caller *models.Caller) ([]*models.Entity, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	return s.store.ListEntitiesByOwner(ctx, caller.ID)
}

// SharedWithMe returns entities other users shared directly with the caller
func (s *FileService) SharedWithMe(ctx context.Context, caller *models.Caller) ([]*models.Entity, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	return s.store.ListSharedWith(ctx, caller.ID)
}

func (s *FileService) Download(ctx context.Context, caller *models.Caller, id string) (*Download, error) {
	entity, err := s.store.GetEntityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(entity, caller) {
		return nil, apperr.New(apperr.KindForbidden, "access denied")
	}
	if entity.IsFolder() {
		return nil, apperr.New(apperr.KindValidation, "folders cannot be downloaded")
	}

	url, err := s.blobs.SignedGetURL(ctx, entity.BlobKey, accessURLLifetime)
	if err != nil {
		return nil, err
	}
	return &Download{URL: url, Entity: entity}, nil
}

// PreviewURL returns a signed URL for an image the caller owns
func (s *FileService) PreviewURL(ctx context.Context, caller *models.Caller, id string) (string, error) {
	entity, err := s.store.GetEntityByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !access.CanWrite(entity, caller) {
		return "", apperr.New(apperr.KindForbidden, "file not found or access denied")
	}
	if entity.IsFolder() || !strings.HasPrefix(entity.MimeType, "image/") {
		return "", apperr.New(apperr.KindValidation, "file is not an image")
	}
	return s.blobs.SignedGetURL(ctx, entity.BlobKey, previewURLLifetime)
}

// Delete removes a file or folder. A non-empty folder is refused unless
// recursive is set, in which case its contents go first, deepest first.
func (s *FileService) Delete(ctx context.Context, caller *models.Caller, id string, recursive bool) error {
	entity, err := s.store.GetEntityByID(ctx, id)
	if err != nil {
		return err
	}
	if !access.CanWrite(entity, caller) {
		return apperr.New(apperr.KindForbidden, "file not found or access denied")
	}

	if !entity.IsFolder() {
		return s.deleteFile(ctx, entity)
	}

	descendants, err := s.store.ListDescendants(ctx, entity.OwnerID, entity.FullPath())
	if err != nil {
		return err
	}
	if len(descendants) > 0 && !recursive {
		return apperr.Newf(apperr.KindConflict, "folder '%s' is not empty", entity.Name)
	}

	sort.SliceStable(descendants, func(i, j int) bool {
		return depth(descendants[i]) > depth(descendants[j])
	})
	for _, d := range descendants {
		if d.IsFolder() {
			err = s.store.DeleteEntity(ctx, d.ID)
		} else {
			err = s.deleteFile(ctx, d)
		}
		if err != nil {
			return err
		}
	}
	return s.store.DeleteEntity(ctx, entity.ID)
}

// deleteFile removes the blob and then the record. The record survives any
// blob failure. Blobs still referenced by another record are kept.
func (s *FileService) deleteFile(ctx context.Context, file *models.Entity) error {
	refs, err := s.store.CountBlobReferences(ctx, file.BlobKey)
	if err != nil {
		return err
	}
	if refs <= 1 {
		if err := s.blobs.Delete(ctx, file.BlobKey); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			log.Printf("Error deleting blob for entity %s: %v", file.ID, err)
			return err
		}
	}
	return s.store.DeleteEntity(ctx, file.ID)
}

func depth(e *models.Entity) int {
	return strings.Count(e.ParentPath, "/")
}

// Share grants the target user read access to the caller's entity
func (s *FileService) Share(ctx context.Context, caller *models.Caller, id string, target ShareTarget) (*models.User, error) {
	entity, user, err := s.resolveShare(ctx, caller, id, target)
	if err != nil {
		return nil, err
	}
	if user.ID == entity.OwnerID {
		return nil, apperr.New(apperr.KindValidation, "cannot share a file with its owner")
	}
	if err := s.store.AddSharedWith(ctx, entity.ID, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// Unshare removes the target user from the entity's shared list
func (s *FileService) Unshare(ctx context.Context, caller *models.Caller, id string, target ShareTarget) (*models.User, error) {
	entity, user, err := s.resolveShare(ctx, caller, id, target)
	if err != nil {
		return nil, err
	}
	if err := s.store.RemoveSharedWith(ctx, entity.ID, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *FileService) resolveShare(ctx context.Context, caller *models.Caller, id string, target ShareTarget) (*models.Entity, *models.User, error) {
	entity, err := s.store.GetEntityByID(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil, apperr.New(apperr.KindForbidden, "file not found or access denied")
		}
		return nil, nil, err
	}
	if !access.CanWrite(entity, caller) {
		return nil, nil, apperr.New(apperr.KindForbidden, "file not found or access denied")
	}

	var user *models.User
	switch {
	case target.UserID != "":
		user, err = s.store.GetUserByID(ctx, target.UserID)
	case target.Email != "":
		user, err = s.store.GetUserByEmail(ctx, normalizeEmail(target.Email))
	default:
		return nil, nil, apperr.New(apperr.KindValidation, "target user or email is required")
	}
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil, apperr.New(apperr.KindNotFound, "target user not found")
		}
		return nil, nil, err
	}
	return entity, user, nil
}

// StorageUsage sums the sizes of the caller's files
func (s *FileService) StorageUsage(ctx context.Context, caller *models.Caller) (*StorageUsage, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	used, err := s.store.SumFileSizes(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	return &StorageUsage{
		UsedBytes:  used,
		LimitBytes: s.storageLimit,
		Percentage: float64(used) / float64(s.storageLimit) * 100,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
