package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"cloudshare-backend/internal/access"
	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

const tokenBytes = 32

// CreateLinkOptions are the caller supplied gates of a new link
type CreateLinkOptions struct {
	Scope          models.LinkScope
	AllowedEmails  []string
	AllowedUserIDs []string
	Password       string
	ExpiresIn      time.Duration // zero means never
	MaxAccess      *int
}

// CreatedLink is a new link together with its shareable URL
type CreatedLink struct {
	Link     *models.ShareLink
	ShareURL string
}

// OwnerInfo is the public face of a file owner
type OwnerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LinkMetadata is the display metadata returned alongside a download handle
type LinkMetadata struct {
	Name         string             `json:"name"`
	OriginalName string             `json:"originalName"`
	MimeType     string             `json:"mimetype"`
	SizeBytes    int64              `json:"size"`
	Encryption   *models.Encryption `json:"encryption,omitempty"`
	Owner        *OwnerInfo         `json:"owner,omitempty"`
}

// AccessResult is what a successful link access yields
type AccessResult struct {
	DownloadURL string       `json:"downloadUrl"`
	Metadata    LinkMetadata `json:"metadata"`
	AccessCount int          `json:"accessCount"`
}

// LinkSummary describes one of the caller's links
type LinkSummary struct {
	Link     *models.ShareLink `json:"link"`
	State    models.LinkState  `json:"state"`
	ShareURL string            `json:"shareUrl"`
}

// UnseenLink is a restricted link naming the caller that they have not opened
type UnseenLink struct {
	Token     string         `json:"token"`
	File      *models.Entity `json:"file,omitempty"`
	CreatedBy *OwnerInfo     `json:"createdBy,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt *time.Time     `json:"expiresAt"`
}

// ShareLinkService runs the share link lifecycle: create, gated access, revoke
type ShareLinkService struct {
	store   repository.Store
	blobs   BlobStore
	baseURL string
	now     func() time.Time
}

// NewShareLinkService creates a new share link service
func NewShareLinkService(store repository.Store, blobs BlobStore, baseURL string) *ShareLinkService {
	return &ShareLinkService{
		store:   store,
		blobs:   blobs,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// ShareURL renders the public URL of a token
func (s *ShareLinkService) ShareURL(token string) string {
	return fmt.Sprintf("%s/share/%s", s.baseURL, token)
}

// Create issues a new link to a file the caller owns
func (s *ShareLinkService) Create(ctx context.Context, caller *models.Caller, fileID string, opts CreateLinkOptions) (*CreatedLink, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	file, err := s.store.GetEntityByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite(file, caller) {
		return nil, apperr.New(apperr.KindForbidden, "access denied - you do not own this file")
	}
	if file.IsFolder() {
		return nil, apperr.New(apperr.KindValidation, "folder links are not supported")
	}
	if opts.MaxAccess != nil && *opts.MaxAccess < 1 {
		return nil, apperr.New(apperr.KindValidation, "maxAccess must be at least 1")
	}
	if opts.ExpiresIn < 0 {
		return nil, apperr.New(apperr.KindValidation, "expiresIn must not be negative")
	}

	now := s.now()
	link := &models.ShareLink{
		FileID:        file.ID,
		CreatedBy:     caller.ID,
		Scope:         models.ScopePublic,
		AllowedUsers:  []string{},
		AllowedEmails: []string{},
		SeenBy:        []string{},
		MaxAccess:     opts.MaxAccess,
		Encryption:    file.Encryption,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if opts.Scope == models.ScopeRestricted {
		link.Scope = models.ScopeRestricted
		link.AllowedEmails = uniqueStrings(opts.AllowedEmails, normalizeEmail)
		link.AllowedUsers = uniqueStrings(opts.AllowedUserIDs, strings.TrimSpace)
	}
	if opts.ExpiresIn > 0 {
		expiresAt := now.Add(opts.ExpiresIn)
		link.ExpiresAt = &expiresAt
	}
	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Error hashing share link password: %v", err)
			return nil, apperr.Wrap(apperr.KindStore, err, "internal error while processing password")
		}
		link.PasswordHash = string(hash)
	}

	// A collision on 256 random bits means a broken RNG; retry once anyway
	for attempt := 0; ; attempt++ {
		link.Token, err = newToken()
		if err != nil {
			return nil, err
		}
		err = s.store.CreateShareLink(ctx, link)
		if err == nil || !apperr.Is(err, apperr.KindDuplicate) || attempt == 1 {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	return &CreatedLink{Link: link, ShareURL: s.ShareURL(link.Token)}, nil
}

// Access evaluates every gate against the stored link and, when all pass,
// records the access and returns a short lived download handle.
func (s *ShareLinkService) Access(ctx context.Context, token, password string, caller *models.Caller) (*AccessResult, error) {
	link, err := s.store.GetShareLinkByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkGates(link, password); err != nil {
		return nil, err
	}
	if link.Scope == models.ScopeRestricted && !link.Allows(caller) {
		return nil, apperr.New(apperr.KindForbidden, "not allowed for this link")
	}

	file, err := s.linkedFile(ctx, link)
	if err != nil {
		return nil, err
	}

	// An access is counted only once a download URL exists
	url, err := s.blobs.SignedGetURL(ctx, file.BlobKey, accessURLLifetime)
	if err != nil {
		return nil, err
	}

	seenBy := ""
	if caller != nil {
		seenBy = caller.ID
	}
	count, recorded, err := s.store.RecordShareLinkAccess(ctx, link.Token, seenBy, s.now())
	if err != nil {
		return nil, err
	}
	if !recorded {
		return nil, apperr.New(apperr.KindForbidden, "max access limit reached")
	}

	return &AccessResult{
		DownloadURL: url,
		Metadata: LinkMetadata{
			Name:         file.Name,
			OriginalName: file.OriginalName,
			MimeType:     file.MimeType,
			SizeBytes:    file.SizeBytes,
			Encryption:   link.Encryption,
			Owner:        s.ownerInfo(ctx, file.OwnerID),
		},
		AccessCount: count,
	}, nil
}

// checkGates applies, in order, revocation, expiry, the access ceiling and
// the password. The order decides which failure a caller sees.
func (s *ShareLinkService) checkGates(link *models.ShareLink, password string) error {
	switch link.State(s.now()) {
	case models.LinkRevoked:
		return apperr.New(apperr.KindGone, "link revoked")
	case models.LinkExpired:
		return apperr.New(apperr.KindGone, "link expired")
	case models.LinkExhausted:
		return apperr.New(apperr.KindForbidden, "max access limit reached")
	}

	if link.HasPassword() {
		if password == "" {
			return apperr.New(apperr.KindUnauthorized, "password required")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
			return apperr.New(apperr.KindForbidden, "incorrect password")
		}
	}
	return nil
}

func (s *ShareLinkService) linkedFile(ctx context.Context, link *models.ShareLink) (*models.Entity, error) {
	file, err := s.store.GetEntityByID(ctx, link.FileID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "share link not found")
		}
		return nil, err
	}
	if file.IsFolder() {
		return nil, apperr.New(apperr.KindValidation, "folder links are not supported")
	}
	return file, nil
}

func (s *ShareLinkService) ownerInfo(ctx context.Context, userID string) *OwnerInfo {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil
	}
	return &OwnerInfo{Name: user.Name, Email: user.Email}
}

// Revoke tombstones a link. Only its creator may revoke it.
func (s *ShareLinkService) Revoke(ctx context.Context, caller *models.Caller, token string) error {
	if caller == nil {
		return apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	link, err := s.store.GetShareLinkByToken(ctx, token)
	if err != nil {
		return err
	}
	if link.CreatedBy != caller.ID {
		return apperr.New(apperr.KindForbidden, "only the link creator can revoke it")
	}
	return s.store.RevokeShareLink(ctx, token, s.now())
}

// AddToAccount copies the linked file into the caller's root folder. The copy
// shares the blob. Scope membership is not checked here, only the gates.
func (s *ShareLinkService) AddToAccount(ctx context.Context, caller *models.Caller, token, password string) (*models.Entity, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	link, err := s.store.GetShareLinkByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkGates(link, password); err != nil {
		return nil, err
	}
	file, err := s.linkedFile(ctx, link)
	if err != nil {
		return nil, err
	}

	now := s.now()
	copied := &models.Entity{
		Kind:         models.KindFile,
		Name:         file.Name,
		ParentPath:   "/",
		OwnerID:      caller.ID,
		BlobKey:      file.BlobKey,
		OriginalName: file.OriginalName,
		MimeType:     file.MimeType,
		SizeBytes:    file.SizeBytes,
		Encryption:   file.Encryption,
		SharedWith:   []string{},
		AccessLevel:  models.AccessPrivate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateEntity(ctx, copied); err != nil {
		if apperr.Is(err, apperr.KindDuplicate) {
			return nil, apperr.New(apperr.KindConflict, "file already exists in your account")
		}
		return nil, err
	}
	return copied, nil
}

// Unseen lists live restricted links naming the caller that they never opened
func (s *ShareLinkService) Unseen(ctx context.Context, caller *models.Caller) ([]*UnseenLink, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	links, err := s.store.ListUnseenShareLinks(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := []*UnseenLink{}
	for _, link := range links {
		if link.State(now) != models.LinkActive {
			continue
		}
		item := &UnseenLink{
			Token:     link.Token,
			CreatedBy: s.ownerInfo(ctx, link.CreatedBy),
			CreatedAt: link.CreatedAt,
			ExpiresAt: link.ExpiresAt,
		}
		if file, err := s.store.GetEntityByID(ctx, link.FileID); err == nil {
			item.File = file
		}
		out = append(out, item)
	}
	return out, nil
}

// ListMine returns the caller's links with their current state
func (s *ShareLinkService) ListMine(ctx context.Context, caller *models.Caller) ([]*LinkSummary, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	links, err := s.store.ListShareLinksByCreator(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]*LinkSummary, 0, len(links))
	for _, link := range links {
		out = append(out, &LinkSummary{Link: link, State: link.State(now), ShareURL: s.ShareURL(link.Token)})
	}
	return out, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", apperr.Wrap(apperr.KindStore, err, "failed to generate token")
	}
	return hex.EncodeToString(buf), nil
}

func uniqueStrings(values []string, clean func(string) string) []string {
	seen := make(map[string]bool, len(values))
	out := []string{}
	for _, v := range values {
		v = clean(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
