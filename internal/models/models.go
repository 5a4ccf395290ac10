package models

import (
	"strings"
	"time"
)

// User represents an account in the system
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	Name         string    `json:"name" bson:"name"`
	PasswordHash string    `json:"-" bson:"password_hash"` // Never exposed in JSON
	CreatedAt    time.Time `json:"createdAt" bson:"created_at"`
}

// Caller is the identity resolved by the auth layer for a request.
// A nil *Caller is an anonymous caller.
type Caller struct {
	ID    string
	Email string
}

// EntityKind tags an Entity as a file or a folder
type EntityKind string

const (
	KindFile   EntityKind = "file"
	KindFolder EntityKind = "folder"
)

// AccessLevel is a display hint only; access is always computed.
type AccessLevel string

const (
	AccessPrivate AccessLevel = "private"
	AccessShared  AccessLevel = "shared"
	AccessPublic  AccessLevel = "public"
)

// Encryption carries client-side encryption parameters the server never interprets
type Encryption struct {
	Type       string `json:"type" bson:"type"`
	IV         string `json:"iv" bson:"iv"`
	WrappedKey string `json:"wrappedKey" bson:"wrapped_key"`
}

// Entity is a file or folder in a user's virtual filesystem
type Entity struct {
	ID         string     `json:"id" bson:"_id"`
	Kind       EntityKind `json:"type" bson:"kind"`
	Name       string     `json:"name" bson:"name"`
	ParentPath string     `json:"path" bson:"parent_path"` // "/" or "/a/b/"
	OwnerID    string     `json:"owner" bson:"owner_id"`

	// File only
	BlobKey      string      `json:"filename,omitempty" bson:"blob_key,omitempty"`
	OriginalName string      `json:"originalName,omitempty" bson:"original_name,omitempty"`
	MimeType     string      `json:"mimetype,omitempty" bson:"mime_type,omitempty"`
	SizeBytes    int64       `json:"size" bson:"size_bytes"`
	Encryption   *Encryption `json:"encryption,omitempty" bson:"encryption,omitempty"`

	SharedWith  []string    `json:"sharedWith" bson:"shared_with"`
	AccessLevel AccessLevel `json:"accessLevel" bson:"access_level"`
	CreatedAt   time.Time   `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time   `json:"updatedAt" bson:"updated_at"`
}

// IsFolder reports whether the entity is a folder
func (e *Entity) IsFolder() bool {
	return e.Kind == KindFolder
}

// FullPath is the folder path this entity occupies, e.g. "/Docs/2024/".
func (e *Entity) FullPath() string {
	return e.ParentPath + e.Name + "/"
}

// IsSharedWith reports whether userID was granted direct read access
func (e *Entity) IsSharedWith(userID string) bool {
	for _, id := range e.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// LinkScope controls who may use a share link besides the token holder
type LinkScope string

const (
	ScopePublic     LinkScope = "public"
	ScopeRestricted LinkScope = "restricted"
)

// LinkState is computed from the stored fields of a ShareLink at a given instant
type LinkState string

const (
	LinkActive    LinkState = "active"
	LinkRevoked   LinkState = "revoked"
	LinkExpired   LinkState = "expired"
	LinkExhausted LinkState = "exhausted"
)

// ShareLink is a token-addressable grant to one file
type ShareLink struct {
	Token         string      `json:"token" bson:"token"`
	FileID        string      `json:"fileId" bson:"file_id"`
	CreatedBy     string      `json:"createdBy" bson:"created_by"`
	Scope         LinkScope   `json:"scope" bson:"scope"`
	AllowedUsers  []string    `json:"allowedUsers" bson:"allowed_users"`
	AllowedEmails []string    `json:"allowedEmails" bson:"allowed_emails"`
	PasswordHash  string      `json:"-" bson:"password_hash,omitempty"`
	ExpiresAt     *time.Time  `json:"expiresAt" bson:"expires_at"`
	MaxAccess     *int        `json:"maxAccess" bson:"max_access"`
	AccessCount   int         `json:"accessCount" bson:"access_count"`
	RevokedAt     *time.Time  `json:"revokedAt,omitempty" bson:"revoked_at"`
	SeenBy        []string    `json:"-" bson:"seen_by"`
	Encryption    *Encryption `json:"encryption,omitempty" bson:"encryption,omitempty"`
	CreatedAt     time.Time   `json:"createdAt" bson:"created_at"`
	UpdatedAt     time.Time   `json:"updatedAt" bson:"updated_at"`
}

// HasPassword reports whether the link is password protected
func (l *ShareLink) HasPassword() bool {
	return l.PasswordHash != ""
}

// State evaluates the link lifecycle at now. Revocation wins over expiry,
// expiry wins over exhaustion.
func (l *ShareLink) State(now time.Time) LinkState {
	switch {
	case l.RevokedAt != nil:
		return LinkRevoked
	case l.ExpiresAt != nil && now.After(*l.ExpiresAt):
		return LinkExpired
	case l.MaxAccess != nil && l.AccessCount >= *l.MaxAccess:
		return LinkExhausted
	default:
		return LinkActive
	}
}

// Allows reports whether a restricted link admits the caller
func (l *ShareLink) Allows(caller *Caller) bool {
	if caller == nil {
		return false
	}
	for _, id := range l.AllowedUsers {
		if id != "" && id == caller.ID {
			return true
		}
	}
	email := strings.ToLower(strings.TrimSpace(caller.Email))
	if email == "" {
		return false
	}
	for _, allowed := range l.AllowedEmails {
		if allowed == email {
			return true
		}
	}
	return false
}
