package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"

	"github.com/google/uuid"
)

// InMemoryStore is an in-memory implementation of the Store interface
type InMemoryStore struct {
	mu           sync.RWMutex
	usersByID    map[string]*models.User
	usersByEmail map[string]*models.User
	entitiesByID map[string]*models.Entity
	entityByPath map[pathKey]string
	linksByToken map[string]*models.ShareLink
}

type pathKey struct {
	owner, parent, name string
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		usersByID:    make(map[string]*models.User),
		usersByEmail: make(map[string]*models.User),
		entitiesByID: make(map[string]*models.Entity),
		entityByPath: make(map[pathKey]string),
		linksByToken: make(map[string]*models.ShareLink),
	}
}

// --- UserStore ---

func (s *InMemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[user.Email]; exists {
		return apperr.Newf(apperr.KindDuplicate, "user '%s' already exists", user.Email)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	u := *user
	s.usersByID[u.ID] = &u
	s.usersByEmail[u.Email] = &u
	return nil
}

func (s *InMemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByEmail[email]
	if !exists {
		return nil, apperr.Newf(apperr.KindNotFound, "user '%s' not found", email)
	}
	u := *user
	return &u, nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByID[id]
	if !exists {
		return nil, apperr.Newf(apperr.KindNotFound, "user with ID '%s' not found", id)
	}
	u := *user
	return &u, nil
}

func (s *InMemoryStore) GetUsersByEmails(ctx context.Context, emails []string) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := []*models.User{}
	for _, email := range emails {
		if user, ok := s.usersByEmail[email]; ok {
			u := *user
			users = append(users, &u)
		}
	}
	return users, nil
}

// --- EntityStore ---

func (s *InMemoryStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pathKey{entity.OwnerID, entity.ParentPath, entity.Name}
	if _, exists := s.entityByPath[key]; exists {
		return apperr.Newf(apperr.KindDuplicate, "'%s%s' already exists", entity.ParentPath, entity.Name)
	}

	entity.ID = uuid.NewString()
	if entity.SharedWith == nil {
		entity.SharedWith = []string{}
	}
	s.entitiesByID[entity.ID] = cloneEntity(entity)
	s.entityByPath[key] = entity.ID
	return nil
}

func (s *InMemoryStore) EnsureFolder(ctx context.Context, ownerID, parentPath, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pathKey{ownerID, parentPath, name}
	if id, exists := s.entityByPath[key]; exists {
		if !s.entitiesByID[id].IsFolder() {
			return apperr.Newf(apperr.KindDuplicate, "a file named '%s%s' already exists", parentPath, name)
		}
		return nil
	}

	now := time.Now()
	folder := &models.Entity{
		ID:          uuid.NewString(),
		Kind:        models.KindFolder,
		Name:        name,
		ParentPath:  parentPath,
		OwnerID:     ownerID,
		SharedWith:  []string{},
		AccessLevel: models.AccessPrivate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.entitiesByID[folder.ID] = folder
	s.entityByPath[key] = folder.ID
	return nil
}

func (s *InMemoryStore) GetEntityByID(ctx context.Context, id string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, exists := s.entitiesByID[id]
	if !exists {
		return nil, apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	return cloneEntity(entity), nil
}

func (s *InMemoryStore) GetEntityByPath(ctx context.Context, ownerID, parentPath, name string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.entityByPath[pathKey{ownerID, parentPath, name}]
	if !exists {
		return nil, apperr.Newf(apperr.KindNotFound, "'%s%s' not found", parentPath, name)
	}
	return cloneEntity(s.entitiesByID[id]), nil
}

func (s *InMemoryStore) ListChildren(ctx context.Context, ownerID, parentPath string) ([]*models.Entity, error) {
	children := s.filterEntities(func(e *models.Entity) bool {
		return e.OwnerID == ownerID && e.ParentPath == parentPath
	})
	sortChildren(children)
	return children, nil
}

func (s *InMemoryStore) ListEntitiesByOwner(ctx context.Context, ownerID string) ([]*models.Entity, error) {
	entities := s.filterEntities(func(e *models.Entity) bool { return e.OwnerID == ownerID })
	sortNewestFirst(entities)
	return entities, nil
}

func (s *InMemoryStore) ListSharedWith(ctx context.Context, userID string) ([]*models.Entity, error) {
	entities := s.filterEntities(func(e *models.Entity) bool { return e.IsSharedWith(userID) })
	sortNewestFirst(entities)
	return entities, nil
}

func (s *InMemoryStore) ListDescendants(ctx context.Context, ownerID, dir string) ([]*models.Entity, error) {
	return s.filterEntities(func(e *models.Entity) bool {
		return e.OwnerID == ownerID && strings.HasPrefix(e.ParentPath, dir)
	}), nil
}

func (s *InMemoryStore) CountBlobReferences(ctx context.Context, blobKey string) (int64, error) {
	refs := s.filterEntities(func(e *models.Entity) bool {
		return e.Kind == models.KindFile && e.BlobKey == blobKey
	})
	return int64(len(refs)), nil
}

func (s *InMemoryStore) AddSharedWith(ctx context.Context, id string, userIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, exists := s.entitiesByID[id]
	if !exists {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	for _, userID := range userIDs {
		if !entity.IsSharedWith(userID) {
			entity.SharedWith = append(entity.SharedWith, userID)
		}
	}
	entity.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) RemoveSharedWith(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, exists := s.entitiesByID[id]
	if !exists {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	kept := entity.SharedWith[:0]
	for _, existing := range entity.SharedWith {
		if existing != userID {
			kept = append(kept, existing)
		}
	}
	entity.SharedWith = kept
	entity.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) UpdateEntityLocation(ctx context.Context, id, parentPath, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, exists := s.entitiesByID[id]
	if !exists {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}

	oldKey := pathKey{entity.OwnerID, entity.ParentPath, entity.Name}
	newKey := pathKey{entity.OwnerID, parentPath, name}
	if oldKey == newKey {
		return nil
	}
	if _, taken := s.entityByPath[newKey]; taken {
		return apperr.Newf(apperr.KindDuplicate, "'%s%s' already exists", parentPath, name)
	}

	delete(s.entityByPath, oldKey)
	s.entityByPath[newKey] = id
	entity.ParentPath = parentPath
	entity.Name = name
	entity.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, exists := s.entitiesByID[id]
	if !exists {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	delete(s.entityByPath, pathKey{entity.OwnerID, entity.ParentPath, entity.Name})
	delete(s.entitiesByID, id)
	return nil
}

func (s *InMemoryStore) SumFileSizes(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	for _, e := range s.filterEntities(func(e *models.Entity) bool {
		return e.OwnerID == ownerID && e.Kind == models.KindFile
	}) {
		total += e.SizeBytes
	}
	return total, nil
}

func (s *InMemoryStore) filterEntities(keep func(*models.Entity) bool) []*models.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Empty slice instead of nil, for JSON consistency
	out := []*models.Entity{}
	for _, e := range s.entitiesByID {
		if keep(e) {
			out = append(out, cloneEntity(e))
		}
	}
	return out
}

// --- ShareLinkStore ---

func (s *InMemoryStore) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.linksByToken[link.Token]; exists {
		return apperr.New(apperr.KindDuplicate, "share link token collision")
	}
	s.linksByToken[link.Token] = cloneLink(link)
	return nil
}

func (s *InMemoryStore) GetShareLinkByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, exists := s.linksByToken[token]
	if !exists {
		return nil, apperr.New(apperr.KindNotFound, "share link not found")
	}
	return cloneLink(link), nil
}

func (s *InMemoryStore) RecordShareLinkAccess(ctx context.Context, token, seenBy string, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.linksByToken[token]
	if !exists {
		return 0, false, apperr.New(apperr.KindNotFound, "share link not found")
	}
	if link.MaxAccess != nil && link.AccessCount >= *link.MaxAccess {
		return link.AccessCount, false, nil
	}

	link.AccessCount++
	if seenBy != "" && !containsString(link.SeenBy, seenBy) {
		link.SeenBy = append(link.SeenBy, seenBy)
	}
	link.UpdatedAt = at
	return link.AccessCount, true, nil
}

func (s *InMemoryStore) RevokeShareLink(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, exists := s.linksByToken[token]
	if !exists {
		return apperr.New(apperr.KindNotFound, "share link not found")
	}
	if link.RevokedAt == nil {
		revokedAt := at
		link.RevokedAt = &revokedAt
		link.UpdatedAt = at
	}
	return nil
}

func (s *InMemoryStore) ListShareLinksByCreator(ctx context.Context, userID string) ([]*models.ShareLink, error) {
	return s.filterLinks(func(l *models.ShareLink) bool { return l.CreatedBy == userID }), nil
}

func (s *InMemoryStore) ListUnseenShareLinks(ctx context.Context, userID string) ([]*models.ShareLink, error) {
	return s.filterLinks(func(l *models.ShareLink) bool {
		return l.RevokedAt == nil && containsString(l.AllowedUsers, userID) && !containsString(l.SeenBy, userID)
	}), nil
}

func (s *InMemoryStore) filterLinks(keep func(*models.ShareLink) bool) []*models.ShareLink {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.ShareLink{}
	for _, l := range s.linksByToken {
		if keep(l) {
			out = append(out, cloneLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneEntity(e *models.Entity) *models.Entity {
	c := *e
	c.SharedWith = append([]string{}, e.SharedWith...)
	if e.Encryption != nil {
		enc := *e.Encryption
		c.Encryption = &enc
	}
	return &c
}

func cloneLink(l *models.ShareLink) *models.ShareLink {
	c := *l
	c.AllowedUsers = append([]string{}, l.AllowedUsers...)
	c.AllowedEmails = append([]string{}, l.AllowedEmails...)
	c.SeenBy = append([]string{}, l.SeenBy...)
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	if l.RevokedAt != nil {
		t := *l.RevokedAt
		c.RevokedAt = &t
	}
	if l.MaxAccess != nil {
		n := *l.MaxAccess
		c.MaxAccess = &n
	}
	if l.Encryption != nil {
		enc := *l.Encryption
		c.Encryption = &enc
	}
	return &c
}

func sortNewestFirst(entities []*models.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].CreatedAt.After(entities[j].CreatedAt)
	})
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
