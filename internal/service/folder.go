package service

import (
	"context"
	"time"

	"cloudshare-backend/internal/access"
	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/repository"
	"cloudshare-backend/internal/vfs"
)

// FolderService maintains the virtual folder hierarchy
type FolderService struct {
	store repository.EntityStore
	now   func() time.Time
}

// NewFolderService creates a new folder service
func NewFolderService(store repository.EntityStore) *FolderService {
	return &FolderService{store: store, now: time.Now}
}

// EnsureFolders materializes every folder along dir for the owner. It is
// safe to call concurrently for overlapping paths.
func (s *FolderService) EnsureFolders(ctx context.Context, ownerID, dir string) error {
	for _, level := range vfs.Ancestors(dir) {
		if err := s.store.EnsureFolder(ctx, ownerID, level[0], level[1]); err != nil {
			return err
		}
	}
	return nil
}

// CreateFolder creates name under parentPath, materializing missing parents
func (s *FolderService) CreateFolder(ctx context.Context, caller *models.Caller, parentPath, name string) (*models.Entity, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	parent, err := vfs.NormalizeDir(parentPath)
	if err != nil {
		return nil, err
	}
	if err := vfs.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.EnsureFolders(ctx, caller.ID, parent); err != nil {
		return nil, err
	}

	now := s.now()
	folder := &models.Entity{
		Kind:        models.KindFolder,
		Name:        name,
		ParentPath:  parent,
		OwnerID:     caller.ID,
		SharedWith:  []string{},
		AccessLevel: models.AccessPrivate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateEntity(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// ListChildren lists one directory level of the caller's tree
func (s *FolderService) ListChildren(ctx context.Context, caller *models.Caller, dir string) ([]*models.Entity, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	parent, err := vfs.NormalizeDir(dir)
	if err != nil {
		return nil, err
	}
	return s.store.ListChildren(ctx, caller.ID, parent)
}

// Move places the entity inside targetFolderID. An empty target means the root.
func (s *FolderService) Move(ctx context.Context, caller *models.Caller, entityID, targetFolderID string) (*models.Entity, error) {
	entity, err := s.writable(ctx, caller, entityID)
	if err != nil {
		return nil, err
	}

	targetDir := vfs.Root
	if targetFolderID != "" {
		target, err := s.store.GetEntityByID(ctx, targetFolderID)
		if err != nil {
			return nil, err
		}
		if !access.CanWrite(target, caller) {
			return nil, apperr.New(apperr.KindForbidden, "target folder not found or access denied")
		}
		if !target.IsFolder() {
			return nil, apperr.New(apperr.KindValidation, "target must be a folder")
		}
		targetDir = target.FullPath()
	}

	return s.relocate(ctx, entity, targetDir, entity.Name)
}

// Rename changes the entity name in place
func (s *FolderService) Rename(ctx context.Context, caller *models.Caller, entityID, newName string) (*models.Entity, error) {
	if err := vfs.ValidateName(newName); err != nil {
		return nil, err
	}
	entity, err := s.writable(ctx, caller, entityID)
	if err != nil {
		return nil, err
	}
	return s.relocate(ctx, entity, entity.ParentPath, newName)
}

func (s *FolderService) writable(ctx context.Context, caller *models.Caller, entityID string) (*models.Entity, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	entity, err := s.store.GetEntityByID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite(entity, caller) {
		return nil, apperr.New(apperr.KindForbidden, "file not found or access denied")
	}
	return entity, nil
}

// relocate moves entity to (parentPath, name). For folders every descendant
// parent path is rewritten. The rewrite is not atomic across records.
func (s *FolderService) relocate(ctx context.Context, entity *models.Entity, parentPath, name string) (*models.Entity, error) {
	if entity.ParentPath == parentPath && entity.Name == name {
		return entity, nil
	}

	var (
		oldDir      string
		newDir      string
		descendants []*models.Entity
	)
	if entity.IsFolder() {
		oldDir = entity.FullPath()
		newDir = vfs.FolderPath(parentPath, name)
		if vfs.IsWithin(parentPath, oldDir) {
			return nil, apperr.New(apperr.KindInvalidPath, "cannot move a folder into itself")
		}
		var err error
		descendants, err = s.store.ListDescendants(ctx, entity.OwnerID, oldDir)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	if err := s.store.UpdateEntityLocation(ctx, entity.ID, parentPath, name, now); err != nil {
		return nil, err
	}
	for _, d := range descendants {
		if err := s.store.UpdateEntityLocation(ctx, d.ID, vfs.Rebase(d.ParentPath, oldDir, newDir), d.Name, now); err != nil {
			return nil, err
		}
	}

	entity.ParentPath = parentPath
	entity.Name = name
	entity.UpdatedAt = now
	return entity, nil
}
