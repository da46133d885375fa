package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/wuwenbin0122/credauth/internal/models"
	"github.com/wuwenbin0122/credauth/internal/utils"
)

type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
	Users    *mongo.Collection
}

func NewMongo(ctx context.Context, cfg utils.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "users"
	}

	db := client.Database(cfg.Database)
	return &Mongo{
		Client:   client,
		Database: db,
		Users:    db.Collection(collection),
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.Client.Disconnect(ctx)
}

func (m *Mongo) Ping(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return fmt.Errorf("mongo: client not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return m.Client.Ping(ctx, readpref.Primary())
}

// EnsureCollections creates the unique email index. With foldCase the index
// uses the same case-insensitive collation as lookups, so two addresses that
// differ only by case cannot both be stored.
func (m *Mongo) EnsureCollections(ctx context.Context, foldCase bool) error {
	if m == nil || m.Users == nil {
		return fmt.Errorf("mongo: database not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.Users.Indexes().CreateOne(ctx, emailIndex(foldCase))
	if err != nil {
		return fmt.Errorf("mongo: ensure user email index: %w", err)
	}

	return nil
}

func emailIndex(foldCase bool) mongo.IndexModel {
	opts := options.Index().SetUnique(true)
	if foldCase {
		opts.SetName("email_fold").SetCollation(foldCollation())
	}
	return mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: opts,
	}
}

func foldCollation() *options.Collation {
	return &options.Collation{Locale: "en", Strength: 2}
}

// MongoUsers reads user documents from the users collection.
type MongoUsers struct {
	users    *mongo.Collection
	foldCase bool
}

func NewMongoUsers(m *Mongo, foldCase bool) *MongoUsers {
	s := &MongoUsers{foldCase: foldCase}
	if m != nil {
		s.users = m.Users
	}
	return s
}

// UserByEmail fetches at most two documents so that more than one match is
// reported as an error instead of silently picking one.
func (s *MongoUsers) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.users == nil {
		return nil, fmt.Errorf("mongo: database not initialised")
	}

	opts := options.Find().SetLimit(2)
	if s.foldCase {
		opts.SetCollation(foldCollation())
	}

	cursor, err := s.users.Find(ctx, bson.M{"email": email}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query user by email: %w", err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: query user by email: %w", err)
	}

	switch len(docs) {
	case 0:
		return nil, nil
	case 1:
		user := models.UserFromFields(fieldsFromBSON(docs[0]))
		return &user, nil
	default:
		return nil, fmt.Errorf("mongo: query user by email: %w", ErrAmbiguousUser)
	}
}

func fieldsFromBSON(doc bson.M) map[string]any {
	fields := make(map[string]any, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case primitive.ObjectID:
			fields[key] = v.Hex()
		case primitive.DateTime:
			fields[key] = v.Time()
		default:
			fields[key] = v
		}
	}
	return fields
}
