package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/repository"
	"cloudshare-backend/internal/vfs"
)

const defaultContentType = "application/octet-stream"

// UploadFile is one file of a batch as delivered by the transport
type UploadFile struct {
	OriginalName string
	MimeType     string
	Body         []byte
}

// UploadShareOptions asks for a link to be created with the upload
type UploadShareOptions struct {
	Scope     models.LinkScope
	Emails    []string
	ExpiresIn time.Duration
	Password  string
}

// UploadRequest is a batch upload. RelativePaths, when present, pairs
// one path with each file.
type UploadRequest struct {
	Files         []UploadFile
	RelativePaths []string
	ParentPath    string
	Share         *UploadShareOptions
	Encryption    *models.Encryption
}

// UploadResult lists what was created. On a mid batch failure it is returned
// together with the error and holds the items stored before the failure.
type UploadResult struct {
	Created   []*models.Entity
	ShareLink *CreatedLink
}

type plannedUpload struct {
	file       UploadFile
	parentPath string
	name       string
}

// UploadService stores batches of files in the caller's tree
type UploadService struct {
	store   repository.Store
	blobs   BlobStore
	folders *FolderService
	links   *ShareLinkService
	now     func() time.Time
}

// NewUploadService creates a new upload service
func NewUploadService(store repository.Store, blobs BlobStore, folders *FolderService, links *ShareLinkService) *UploadService {
	return &UploadService{
		store:   store,
		blobs:   blobs,
		folders: folders,
		links:   links,
		now:     time.Now,
	}
}

// UploadBatch validates the whole batch, then stores each file in order.
// Earlier items are not rolled back when a later one fails.
func (s *UploadService) UploadBatch(ctx context.Context, caller *models.Caller, req UploadRequest) (*UploadResult, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	plan, err := planUpload(req)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{Created: []*models.Entity{}}
	for i, item := range plan {
		entity, err := s.storeOne(ctx, caller.ID, item, req.Encryption)
		if err != nil {
			log.Printf("Upload of item %d for user %s stopped: %v", i, caller.ID, err)
			return result, err
		}
		result.Created = append(result.Created, entity)
	}

	if req.Share != nil {
		link, err := s.shareUploaded(ctx, caller, result.Created, req.Share)
		if err != nil {
			return result, err
		}
		result.ShareLink = link
	}
	return result, nil
}

// planUpload resolves every path before any I/O happens
func planUpload(req UploadRequest) ([]plannedUpload, error) {
	if len(req.Files) == 0 {
		return nil, apperr.New(apperr.KindValidation, "no files uploaded")
	}
	if len(req.RelativePaths) != 0 && len(req.RelativePaths) != len(req.Files) {
		return nil, apperr.Newf(apperr.KindValidation, "relativePaths length mismatch: %d paths for %d files",
			len(req.RelativePaths), len(req.Files))
	}

	prefix, err := vfs.NormalizeDir(req.ParentPath)
	if err != nil {
		return nil, err
	}

	plan := make([]plannedUpload, 0, len(req.Files))
	for i, f := range req.Files {
		rel := f.OriginalName
		if len(req.RelativePaths) != 0 && req.RelativePaths[i] != "" {
			rel = req.RelativePaths[i]
		}
		if !strings.HasPrefix(rel, "/") {
			rel = prefix + rel
		}

		parent, name, err := vfs.Normalize(rel)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidPath, err, fmt.Sprintf("invalid filename for index %d", i))
		}
		plan = append(plan, plannedUpload{file: f, parentPath: parent, name: name})
	}
	return plan, nil
}

// storeOne claims the path with the entity record before any blob I/O, so a
// rejected duplicate never writes over the accepted file's blob. When the
// put fails the claimed record is removed again.
func (s *UploadService) storeOne(ctx context.Context, ownerID string, item plannedUpload, enc *models.Encryption) (*models.Entity, error) {
	if err := s.folders.EnsureFolders(ctx, ownerID, item.parentPath); err != nil {
		return nil, err
	}

	key, err := s.blobKey(ctx, ownerID, item.parentPath, item.name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entity := &models.Entity{
		Kind:         models.KindFile,
		Name:         item.name,
		ParentPath:   item.parentPath,
		OwnerID:      ownerID,
		BlobKey:      key,
		OriginalName: item.file.OriginalName,
		MimeType:     item.file.MimeType,
		SizeBytes:    int64(len(item.file.Body)),
		Encryption:   enc,
		SharedWith:   []string{},
		AccessLevel:  models.AccessPrivate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateEntity(ctx, entity); err != nil {
		return nil, err
	}

	contentType := item.file.MimeType
	if contentType == "" {
		contentType = defaultContentType
	}
	if err := s.blobs.Put(ctx, key, item.file.Body, contentType); err != nil {
		if delErr := s.store.DeleteEntity(ctx, entity.ID); delErr != nil {
			log.Printf("Failed to release '%s%s' after blob upload error: %v", item.parentPath, item.name, delErr)
		}
		return nil, err
	}
	return entity, nil
}

// blobKey returns the deterministic key unless another record already uses
// it, which happens once files are moved or renamed.
func (s *UploadService) blobKey(ctx context.Context, ownerID, parentPath, name string) (string, error) {
	key := vfs.BlobKeyFor(ownerID, parentPath, name)
	refs, err := s.store.CountBlobReferences(ctx, key)
	if err != nil {
		return "", err
	}
	if refs == 0 {
		return key, nil
	}

	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return "", apperr.Wrap(apperr.KindBlob, err, "failed to derive blob key")
	}
	return key + "." + hex.EncodeToString(suffix), nil
}

// shareUploaded applies the share option: restricted uploads are also shared
// directly with matching users, and one link covers the first file only.
func (s *UploadService) shareUploaded(ctx context.Context, caller *models.Caller, created []*models.Entity, opts *UploadShareOptions) (*CreatedLink, error) {
	linkOpts := CreateLinkOptions{
		Scope:     models.ScopePublic,
		ExpiresIn: opts.ExpiresIn,
		Password:  opts.Password,
	}

	if opts.Scope == models.ScopeRestricted {
		emails := uniqueStrings(opts.Emails, normalizeEmail)
		linkOpts.Scope = models.ScopeRestricted
		linkOpts.AllowedEmails = emails

		if len(emails) > 0 {
			users, err := s.store.GetUsersByEmails(ctx, emails)
			if err != nil {
				return nil, err
			}
			var ids []string
			for _, u := range users {
				if u.ID != caller.ID {
					ids = append(ids, u.ID)
				}
			}
			if len(ids) > 0 {
				for _, e := range created {
					if err := s.store.AddSharedWith(ctx, e.ID, ids...); err != nil {
						return nil, err
					}
					e.SharedWith = append(e.SharedWith, ids...)
				}
			}
			linkOpts.AllowedUserIDs = ids
		}
	}

	return s.links.Create(ctx, caller, created[0].ID, linkOpts)
}
