package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the PostgreSQL implementation of the Store interface
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore and its connection pool
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("could not ping database: %w", err)
	}

	log.Println("PostgreSQL connection pool established.")
	return &PostgresStore{db: pool}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.db.Close()
}

// RunMigrations executes the SQL migration script
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationSQL string) error {
	_, err := s.db.Exec(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// 23505 = unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func storeErr(err error, message string) error {
	return apperr.Wrap(apperr.KindStore, err, message)
}

// --- UserStore ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	sql := `
        INSERT INTO users (id, email, name, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5)`

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, sql, user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.KindDuplicate, "user '%s' already exists", user.Email)
		}
		return storeErr(err, "failed to create user")
	}
	return nil
}

const userColumns = `id, email, name, password_hash, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "user '%s' not found", email)
		}
		return nil, storeErr(err, "failed to fetch user by email")
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "user with ID '%s' not found", id)
		}
		return nil, storeErr(err, "failed to fetch user by ID")
	}
	return user, nil
}

func (s *PostgresStore) GetUsersByEmails(ctx context.Context, emails []string) ([]*models.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE email = ANY($1)`, emails)
	if err != nil {
		return nil, storeErr(err, "failed to fetch users by email")
	}
	defer rows.Close()

	// Empty slice instead of nil, for JSON consistency
	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storeErr(err, "failed to scan user row")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "failed to iterate users")
	}
	return users, nil
}

// --- EntityStore ---

const entityColumns = `id, kind, name, parent_path, owner_id, blob_key, original_name, mime_type,
        size_bytes, enc_type, enc_iv, enc_wrapped_key, shared_with, access_level, created_at, updated_at`

func scanEntity(row rowScanner) (*models.Entity, error) {
	e := &models.Entity{}
	var blobKey, originalName, mimeType, encType, encIV, encKey *string
	err := row.Scan(
		&e.ID,
		&e.Kind,
		&e.Name,
		&e.ParentPath,
		&e.OwnerID,
		&blobKey,
		&originalName,
		&mimeType,
		&e.SizeBytes,
		&encType,
		&encIV,
		&encKey,
		&e.SharedWith,
		&e.AccessLevel,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.BlobKey = deref(blobKey)
	e.OriginalName = deref(originalName)
	e.MimeType = deref(mimeType)
	e.Encryption = encryptionFrom(encType, encIV, encKey)
	if e.SharedWith == nil {
		e.SharedWith = []string{}
	}
	return e, nil
}

func (s *PostgresStore) queryEntities(ctx context.Context, sql string, args ...any) ([]*models.Entity, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr(err, "failed to query entities")
	}
	defer rows.Close()

	entities := []*models.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, storeErr(err, "failed to scan entity row")
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "failed to iterate entities")
	}
	return entities, nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	sql := `
        INSERT INTO entities (id, kind, name, parent_path, owner_id, blob_key, original_name, mime_type,
            size_bytes, enc_type, enc_iv, enc_wrapped_key, shared_with, access_level, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	id := uuid.NewString()
	sharedWith := entity.SharedWith
	if sharedWith == nil {
		sharedWith = []string{}
	}
	encType, encIV, encKey := encryptionColumns(entity.Encryption)

	_, err := s.db.Exec(ctx, sql,
		id,
		entity.Kind,
		entity.Name,
		entity.ParentPath,
		entity.OwnerID,
		nullable(entity.BlobKey),
		nullable(entity.OriginalName),
		nullable(entity.MimeType),
		entity.SizeBytes,
		encType,
		encIV,
		encKey,
		sharedWith,
		entity.AccessLevel,
		entity.CreatedAt,
		entity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.KindDuplicate, "'%s%s' already exists", entity.ParentPath, entity.Name)
		}
		return storeErr(err, "failed to create entity")
	}
	entity.ID = id
	entity.SharedWith = sharedWith
	return nil
}

func (s *PostgresStore) EnsureFolder(ctx context.Context, ownerID, parentPath, name string) error {
	sql := `
        INSERT INTO entities (id, kind, name, parent_path, owner_id, access_level, created_at, updated_at)
        VALUES ($1, 'folder', $2, $3, $4, 'private', $5, $5)
        ON CONFLICT (owner_id, parent_path, name) DO NOTHING`

	tag, err := s.db.Exec(ctx, sql, uuid.NewString(), name, parentPath, ownerID, time.Now())
	if err != nil {
		return storeErr(err, "failed to upsert folder")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var kind models.EntityKind
	err = s.db.QueryRow(ctx,
		`SELECT kind FROM entities WHERE owner_id = $1 AND parent_path = $2 AND name = $3`,
		ownerID, parentPath, name,
	).Scan(&kind)
	if err != nil {
		return storeErr(err, "failed to read existing folder")
	}
	if kind != models.KindFolder {
		return apperr.Newf(apperr.KindDuplicate, "a file named '%s%s' already exists", parentPath, name)
	}
	return nil
}

func (s *PostgresStore) GetEntityByID(ctx context.Context, id string) (*models.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
		}
		return nil, storeErr(err, "failed to fetch entity")
	}
	return e, nil
}

func (s *PostgresStore) GetEntityByPath(ctx context.Context, ownerID, parentPath, name string) (*models.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE owner_id = $1 AND parent_path = $2 AND name = $3`,
		ownerID, parentPath, name,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "'%s%s' not found", parentPath, name)
		}
		return nil, storeErr(err, "failed to fetch entity by path")
	}
	return e, nil
}

func (s *PostgresStore) ListChildren(ctx context.Context, ownerID, parentPath string) ([]*models.Entity, error) {
	return s.queryEntities(ctx, `
        SELECT `+entityColumns+`
        FROM entities
        WHERE owner_id = $1 AND parent_path = $2
        ORDER BY (kind = 'file'), name COLLATE "C"`,
		ownerID, parentPath,
	)
}

func (s *PostgresStore) ListEntitiesByOwner(ctx context.Context, ownerID string) ([]*models.Entity, error) {
	return s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
}

func (s *PostgresStore) ListSharedWith(ctx context.Context, userID string) ([]*models.Entity, error) {
	return s.queryEntities(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE $1 = ANY(shared_with) ORDER BY created_at DESC`,
		userID,
	)
}

func (s *PostgresStore) ListDescendants(ctx context.Context, ownerID, dir string) ([]*models.Entity, error) {
	return s.queryEntities(ctx, `
        SELECT `+entityColumns+`
        FROM entities
        WHERE owner_id = $1 AND left(parent_path, length($2)) = $2`,
		ownerID, dir,
	)
}

func (s *PostgresStore) CountBlobReferences(ctx context.Context, blobKey string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM entities WHERE kind = 'file' AND blob_key = $1`, blobKey,
	).Scan(&n)
	if err != nil {
		return 0, storeErr(err, "failed to count blob references")
	}
	return n, nil
}

func (s *PostgresStore) AddSharedWith(ctx context.Context, id string, userIDs ...string) error {
	sql := `
        UPDATE entities
        SET shared_with = ARRAY(SELECT DISTINCT unnest(shared_with || $2::text[])),
            updated_at = now()
        WHERE id = $1`

	return s.execOnEntity(ctx, id, "failed to share entity", sql, id, userIDs)
}

func (s *PostgresStore) RemoveSharedWith(ctx context.Context, id, userID string) error {
	sql := `
        UPDATE entities
        SET shared_with = array_remove(shared_with, $2), updated_at = now()
        WHERE id = $1`

	return s.execOnEntity(ctx, id, "failed to unshare entity", sql, id, userID)
}

func (s *PostgresStore) UpdateEntityLocation(ctx context.Context, id, parentPath, name string, at time.Time) error {
	sql := `
        UPDATE entities
        SET parent_path = $2, name = $3, updated_at = $4
        WHERE id = $1`

	tag, err := s.db.Exec(ctx, sql, id, parentPath, name, at)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.KindDuplicate, "'%s%s' already exists", parentPath, name)
		}
		return storeErr(err, "failed to move entity")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	return nil
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, id string) error {
	return s.execOnEntity(ctx, id, "failed to delete entity", `DELETE FROM entities WHERE id = $1`, id)
}

func (s *PostgresStore) SumFileSizes(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM entities WHERE owner_id = $1 AND kind = 'file'`, ownerID,
	).Scan(&total)
	if err != nil {
		return 0, storeErr(err, "failed to sum file sizes")
	}
	return total, nil
}

func (s *PostgresStore) execOnEntity(ctx context.Context, id, message, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return storeErr(err, message)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	return nil
}

// --- ShareLinkStore ---

const linkColumns = `token, file_id, created_by, scope, allowed_users, allowed_emails, password_hash,
        expires_at, max_access, access_count, revoked_at, seen_by, enc_type, enc_iv, enc_wrapped_key,
        created_at, updated_at`

func scanLink(row rowScanner) (*models.ShareLink, error) {
	l := &models.ShareLink{}
	var passwordHash, encType, encIV, encKey *string
	err := row.Scan(
		&l.Token,
		&l.FileID,
		&l.CreatedBy,
		&l.Scope,
		&l.AllowedUsers,
		&l.AllowedEmails,
		&passwordHash,
		&l.ExpiresAt,
		&l.MaxAccess,
		&l.AccessCount,
		&l.RevokedAt,
		&l.SeenBy,
		&encType,
		&encIV,
		&encKey,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.PasswordHash = deref(passwordHash)
	l.Encryption = encryptionFrom(encType, encIV, encKey)
	return l, nil
}

func (s *PostgresStore) queryLinks(ctx context.Context, sql string, args ...any) ([]*models.ShareLink, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr(err, "failed to query share links")
	}
	defer rows.Close()

	links := []*models.ShareLink{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, storeErr(err, "failed to scan share link row")
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "failed to iterate share links")
	}
	return links, nil
}

func (s *PostgresStore) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	sql := `
        INSERT INTO share_links (token, file_id, created_by, scope, allowed_users, allowed_emails, password_hash,
            expires_at, max_access, access_count, seen_by, enc_type, enc_iv, enc_wrapped_key, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, '{}', $10, $11, $12, $13, $14)`

	encType, encIV, encKey := encryptionColumns(link.Encryption)
	_, err := s.db.Exec(ctx, sql,
		link.Token,
		link.FileID,
		link.CreatedBy,
		link.Scope,
		nonNil(link.AllowedUsers),
		nonNil(link.AllowedEmails),
		nullable(link.PasswordHash),
		link.ExpiresAt,
		link.MaxAccess,
		encType,
		encIV,
		encKey,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindDuplicate, "share link token collision")
		}
		return storeErr(err, "failed to create share link")
	}
	return nil
}

func (s *PostgresStore) GetShareLinkByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	l, err := scanLink(s.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM share_links WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "share link not found")
		}
		return nil, storeErr(err, "failed to fetch share link")
	}
	return l, nil
}

func (s *PostgresStore) RecordShareLinkAccess(ctx context.Context, token, seenBy string, at time.Time) (int, bool, error) {
	sql := `
        UPDATE share_links
        SET access_count = access_count + 1,
            seen_by = CASE
                WHEN $2::text = '' OR $2::text = ANY(seen_by) THEN seen_by
                ELSE array_append(seen_by, $2::text)
            END,
            updated_at = $3
        WHERE token = $1 AND (max_access IS NULL OR access_count < max_access)
        RETURNING access_count`

	var count int
	err := s.db.QueryRow(ctx, sql, token, seenBy, at).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, storeErr(err, "failed to record share link access")
	}

	// Either the ceiling blocked the update or the token vanished
	link, err := s.GetShareLinkByToken(ctx, token)
	if err != nil {
		return 0, false, err
	}
	return link.AccessCount, false, nil
}

func (s *PostgresStore) RevokeShareLink(ctx context.Context, token string, at time.Time) error {
	sql := `
        UPDATE share_links
        SET revoked_at = COALESCE(revoked_at, $2), updated_at = $2
        WHERE token = $1`

	tag, err := s.db.Exec(ctx, sql, token, at)
	if err != nil {
		return storeErr(err, "failed to revoke share link")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "share link not found")
	}
	return nil
}

func (s *PostgresStore) ListShareLinksByCreator(ctx context.Context, userID string) ([]*models.ShareLink, error) {
	return s.queryLinks(ctx,
		`SELECT `+linkColumns+` FROM share_links WHERE created_by = $1 ORDER BY created_at DESC`,
		userID,
	)
}

func (s *PostgresStore) ListUnseenShareLinks(ctx context.Context, userID string) ([]*models.ShareLink, error) {
	return s.queryLinks(ctx, `
        SELECT `+linkColumns+`
        FROM share_links
        WHERE revoked_at IS NULL AND $1 = ANY(allowed_users) AND NOT ($1 = ANY(seen_by))
        ORDER BY created_at DESC`,
		userID,
	)
}

// --- helpers ---

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func encryptionColumns(enc *models.Encryption) (*string, *string, *string) {
	if enc == nil {
		return nil, nil, nil
	}
	return nullable(enc.Type), nullable(enc.IV), nullable(enc.WrappedKey)
}

func encryptionFrom(encType, iv, key *string) *models.Encryption {
	if encType == nil && iv == nil && key == nil {
		return nil
	}
	return &models.Encryption{Type: deref(encType), IV: deref(iv), WrappedKey: deref(key)}
}
