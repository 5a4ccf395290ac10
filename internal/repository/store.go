package repository

import (
	"context"
	"sort"
	"time"

	"cloudshare-backend/internal/models"
)

// UserStore defines the account operations
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUsersByEmails(ctx context.Context, emails []string) ([]*models.User, error)
}

// EntityStore defines the virtual filesystem operations.
// (owner, parentPath, name) is unique; violations return apperr.KindDuplicate.
type EntityStore interface {
	CreateEntity(ctx context.Context, entity *models.Entity) error
	// EnsureFolder inserts the folder if absent. It fails with KindDuplicate
	// only when a file already occupies the name.
	EnsureFolder(ctx context.Context, ownerID, parentPath, name string) error
	GetEntityByID(ctx context.Context, id string) (*models.Entity, error)
	GetEntityByPath(ctx context.Context, ownerID, parentPath, name string) (*models.Entity, error)
	// ListChildren returns folders first, then files, each sorted by name.
	ListChildren(ctx context.Context, ownerID, parentPath string) ([]*models.Entity, error)
	// ListEntitiesByOwner returns every entity of the owner, newest first.
	ListEntitiesByOwner(ctx context.Context, ownerID string) ([]*models.Entity, error)
	ListSharedWith(ctx context.Context, userID string) ([]*models.Entity, error)
	// ListDescendants returns every entity whose parent path starts with dir.
	ListDescendants(ctx context.Context, ownerID, dir string) ([]*models.Entity, error)
	CountBlobReferences(ctx context.Context, blobKey string) (int64, error)
	AddSharedWith(ctx context.Context, id string, userIDs ...string) error
	RemoveSharedWith(ctx context.Context, id, userID string) error
	UpdateEntityLocation(ctx context.Context, id, parentPath, name string, at time.Time) error
	DeleteEntity(ctx context.Context, id string) error
	SumFileSizes(ctx context.Context, ownerID string) (int64, error)
}

// ShareLinkStore defines the share link operations. Links are never deleted.
type ShareLinkStore interface {
	CreateShareLink(ctx context.Context, link *models.ShareLink) error
	GetShareLinkByToken(ctx context.Context, token string) (*models.ShareLink, error)
	// RecordShareLinkAccess atomically increments the access counter unless the
	// ceiling was reached, and adds seenBy (when not empty) to the seen set.
	// It returns the new count, or false when the ceiling blocked the increment.
	RecordShareLinkAccess(ctx context.Context, token, seenBy string, at time.Time) (int, bool, error)
	RevokeShareLink(ctx context.Context, token string, at time.Time) error
	ListShareLinksByCreator(ctx context.Context, userID string) ([]*models.ShareLink, error)
	// ListUnseenShareLinks returns live links naming userID in AllowedUsers
	// that userID has not accessed yet.
	ListUnseenShareLinks(ctx context.Context, userID string) ([]*models.ShareLink, error)
}

// Store aggregates every store interface.
// Makes dependency injection easier
type Store interface {
	UserStore
	EntityStore
	ShareLinkStore
}

// sortChildren applies the listing order: folders before files, then by name.
func sortChildren(entities []*models.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.IsFolder() != b.IsFolder() {
			return a.IsFolder()
		}
		return a.Name < b.Name
	})
}
