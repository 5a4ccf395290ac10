package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection      = "users"
	entitiesCollection   = "entities"
	shareLinksCollection = "share_links"
)

// MongoStore is the MongoDB implementation of the Store interface
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	entities *mongo.Collection
	links    *mongo.Collection
}

// NewMongoStore connects to MongoDB and makes sure the indexes exist
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:   client,
		users:    db.Collection(usersCollection),
		entities: db.Collection(entitiesCollection),
		links:    db.Collection(shareLinksCollection),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Printf("MongoDB connection established (database %s).", dbName)
	return s, nil
}

// Close disconnects the client
func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		log.Printf("Error disconnecting from MongoDB: %v", err)
	}
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	entityIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "parent_path", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "shared_with", Value: 1}}},
		{Keys: bson.D{{Key: "blob_key", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := s.entities.Indexes().CreateMany(ctx, entityIndexes); err != nil {
		return fmt.Errorf("failed to create entity indexes: %w", err)
	}

	linkIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "file_id", Value: 1}, {Key: "created_by", Value: 1}}},
		{Keys: bson.D{{Key: "allowed_users", Value: 1}}},
	}
	if _, err := s.links.Indexes().CreateMany(ctx, linkIndexes); err != nil {
		return fmt.Errorf("failed to create share link indexes: %w", err)
	}

	return nil
}

// --- UserStore ---

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Newf(apperr.KindDuplicate, "user '%s' already exists", user.Email)
		}
		return storeErr(err, "failed to create user")
	}
	return nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.Newf(apperr.KindNotFound, "user '%s' not found", email)
		}
		return nil, storeErr(err, "failed to fetch user by email")
	}
	return &user, nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.Newf(apperr.KindNotFound, "user with ID '%s' not found", id)
		}
		return nil, storeErr(err, "failed to fetch user by ID")
	}
	return &user, nil
}

func (s *MongoStore) GetUsersByEmails(ctx context.Context, emails []string) ([]*models.User, error) {
	cursor, err := s.users.Find(ctx, bson.M{"email": bson.M{"$in": emails}})
	if err != nil {
		return nil, storeErr(err, "failed to fetch users by email")
	}
	users := []*models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, storeErr(err, "failed to decode users")
	}
	return users, nil
}

// --- EntityStore ---

func (s *MongoStore) findEntities(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*models.Entity, error) {
	cursor, err := s.entities.Find(ctx, filter, opts...)
	if err != nil {
		return nil, storeErr(err, "failed to query entities")
	}
	entities := []*models.Entity{}
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, storeErr(err, "failed to decode entities")
	}
	for _, e := range entities {
		if e.SharedWith == nil {
			e.SharedWith = []string{}
		}
	}
	return entities, nil
}

func (s *MongoStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	doc := *entity
	doc.ID = uuid.NewString()
	doc.SharedWith = nonNil(doc.SharedWith)

	if _, err := s.entities.InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Newf(apperr.KindDuplicate, "'%s%s' already exists", entity.ParentPath, entity.Name)
		}
		return storeErr(err, "failed to create entity")
	}
	entity.ID = doc.ID
	entity.SharedWith = doc.SharedWith
	return nil
}

func (s *MongoStore) EnsureFolder(ctx context.Context, ownerID, parentPath, name string) error {
	filter := bson.M{"owner_id": ownerID, "parent_path": parentPath, "name": name}
	now := time.Now()
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          uuid.NewString(),
		"kind":         models.KindFolder,
		"size_bytes":   0,
		"shared_with":  []string{},
		"access_level": models.AccessPrivate,
		"created_at":   now,
		"updated_at":   now,
	}}

	res, err := s.entities.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return storeErr(err, "failed to upsert folder")
	}
	// A duplicate key here means a concurrent upsert won the race
	if err == nil && res.UpsertedCount == 1 {
		return nil
	}

	var existing models.Entity
	if err := s.entities.FindOne(ctx, filter).Decode(&existing); err != nil {
		return storeErr(err, "failed to read existing folder")
	}
	if !existing.IsFolder() {
		return apperr.Newf(apperr.KindDuplicate, "a file named '%s%s' already exists", parentPath, name)
	}
	return nil
}

func (s *MongoStore) GetEntityByID(ctx context.Context, id string) (*models.Entity, error) {
	return s.findOneEntity(ctx, bson.M{"_id": id}, fmt.Sprintf("entity '%s' not found", id))
}

func (s *MongoStore) GetEntityByPath(ctx context.Context, ownerID, parentPath, name string) (*models.Entity, error) {
	filter := bson.M{"owner_id": ownerID, "parent_path": parentPath, "name": name}
	return s.findOneEntity(ctx, filter, fmt.Sprintf("'%s%s' not found", parentPath, name))
}

func (s *MongoStore) findOneEntity(ctx context.Context, filter bson.M, notFound string) (*models.Entity, error) {
	var e models.Entity
	if err := s.entities.FindOne(ctx, filter).Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.New(apperr.KindNotFound, notFound)
		}
		return nil, storeErr(err, "failed to fetch entity")
	}
	if e.SharedWith == nil {
		e.SharedWith = []string{}
	}
	return &e, nil
}

func (s *MongoStore) ListChildren(ctx context.Context, ownerID, parentPath string) ([]*models.Entity, error) {
	children, err := s.findEntities(ctx, bson.M{"owner_id": ownerID, "parent_path": parentPath})
	if err != nil {
		return nil, err
	}
	// Sorted here: "file" < "folder" in BSON order, the opposite of the listing contract
	sortChildren(children)
	return children, nil
}

func (s *MongoStore) ListEntitiesByOwner(ctx context.Context, ownerID string) ([]*models.Entity, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.findEntities(ctx, bson.M{"owner_id": ownerID}, opts)
}

func (s *MongoStore) ListSharedWith(ctx context.Context, userID string) ([]*models.Entity, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.findEntities(ctx, bson.M{"shared_with": userID}, opts)
}

func (s *MongoStore) ListDescendants(ctx context.Context, ownerID, dir string) ([]*models.Entity, error) {
	filter := bson.M{
		"owner_id":    ownerID,
		"parent_path": bson.M{"$regex": "^" + regexp.QuoteMeta(dir)},
	}
	return s.findEntities(ctx, filter)
}

func (s *MongoStore) CountBlobReferences(ctx context.Context, blobKey string) (int64, error) {
	n, err := s.entities.CountDocuments(ctx, bson.M{"kind": models.KindFile, "blob_key": blobKey})
	if err != nil {
		return 0, storeErr(err, "failed to count blob references")
	}
	return n, nil
}

func (s *MongoStore) AddSharedWith(ctx context.Context, id string, userIDs ...string) error {
	update := bson.M{
		"$addToSet": bson.M{"shared_with": bson.M{"$each": userIDs}},
		"$set":      bson.M{"updated_at": time.Now()},
	}
	return s.updateEntity(ctx, id, update, "failed to share entity")
}

func (s *MongoStore) RemoveSharedWith(ctx context.Context, id, userID string) error {
	update := bson.M{
		"$pull": bson.M{"shared_with": userID},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	return s.updateEntity(ctx, id, update, "failed to unshare entity")
}

func (s *MongoStore) UpdateEntityLocation(ctx context.Context, id, parentPath, name string, at time.Time) error {
	update := bson.M{"$set": bson.M{"parent_path": parentPath, "name": name, "updated_at": at}}
	err := s.updateEntity(ctx, id, update, "failed to move entity")
	if err != nil && mongo.IsDuplicateKeyError(errors.Unwrap(err)) {
		return apperr.Newf(apperr.KindDuplicate, "'%s%s' already exists", parentPath, name)
	}
	return err
}

func (s *MongoStore) updateEntity(ctx context.Context, id string, update bson.M, message string) error {
	res, err := s.entities.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return storeErr(err, message)
	}
	if res.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	return nil
}

func (s *MongoStore) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.entities.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storeErr(err, "failed to delete entity")
	}
	if res.DeletedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "entity '%s' not found", id)
	}
	return nil
}

func (s *MongoStore) SumFileSizes(ctx context.Context, ownerID string) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner_id": ownerID, "kind": models.KindFile}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$size_bytes"}}}},
	}
	cursor, err := s.entities.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, storeErr(err, "failed to sum file sizes")
	}
	var result []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &result); err != nil {
		return 0, storeErr(err, "failed to decode file size sum")
	}
	if len(result) == 0 {
		return 0, nil
	}
	return result[0].Total, nil
}

// --- ShareLinkStore ---

func (s *MongoStore) findLinks(ctx context.Context, filter bson.M) ([]*models.ShareLink, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.links.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr(err, "failed to query share links")
	}
	links := []*models.ShareLink{}
	if err := cursor.All(ctx, &links); err != nil {
		return nil, storeErr(err, "failed to decode share links")
	}
	return links, nil
}

func (s *MongoStore) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	doc := *link
	doc.AllowedUsers = nonNil(doc.AllowedUsers)
	doc.AllowedEmails = nonNil(doc.AllowedEmails)
	doc.SeenBy = nonNil(doc.SeenBy)

	if _, err := s.links.InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.New(apperr.KindDuplicate, "share link token collision")
		}
		return storeErr(err, "failed to create share link")
	}
	return nil
}

func (s *MongoStore) GetShareLinkByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	var link models.ShareLink
	if err := s.links.FindOne(ctx, bson.M{"token": token}).Decode(&link); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.New(apperr.KindNotFound, "share link not found")
		}
		return nil, storeErr(err, "failed to fetch share link")
	}
	return &link, nil
}

func (s *MongoStore) RecordShareLinkAccess(ctx context.Context, token, seenBy string, at time.Time) (int, bool, error) {
	filter := bson.M{
		"token": token,
		"$or": bson.A{
			bson.M{"max_access": nil},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$access_count", "$max_access"}}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"access_count": 1},
		"$set": bson.M{"updated_at": at},
	}
	if seenBy != "" {
		update["$addToSet"] = bson.M{"seen_by": seenBy}
	}

	var updated models.ShareLink
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.links.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return updated.AccessCount, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, storeErr(err, "failed to record share link access")
	}

	link, err := s.GetShareLinkByToken(ctx, token)
	if err != nil {
		return 0, false, err
	}
	return link.AccessCount, false, nil
}

func (s *MongoStore) RevokeShareLink(ctx context.Context, token string, at time.Time) error {
	res, err := s.links.UpdateOne(ctx,
		bson.M{"token": token, "revoked_at": nil},
		bson.M{"$set": bson.M{"revoked_at": at, "updated_at": at}},
	)
	if err != nil {
		return storeErr(err, "failed to revoke share link")
	}
	if res.MatchedCount == 0 {
		// Already revoked links keep their first timestamp
		_, err := s.GetShareLinkByToken(ctx, token)
		return err
	}
	return nil
}

func (s *MongoStore) ListShareLinksByCreator(ctx context.Context, userID string) ([]*models.ShareLink, error) {
	return s.findLinks(ctx, bson.M{"created_by": userID})
}

func (s *MongoStore) ListUnseenShareLinks(ctx context.Context, userID string) ([]*models.ShareLink, error) {
	return s.findLinks(ctx, bson.M{
		"revoked_at":    nil,
		"allowed_users": userID,
		"seen_by":       bson.M{"$ne": userID},
	})
}
