// Package database is the MongoDB store behind posts, routes, users and
// push subscriptions.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"battletrails/config"
	"battletrails/logging"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
)

type Store struct {
	client *mongo.Client

	Users    *mongo.Collection
	Posts    *mongo.Collection
	Routes   *mongo.Collection
	PushSubs *mongo.Collection

	log zerolog.Logger
}

// NewStore binds a store to db. Connect is the usual entry point.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		client:   db.Client(),
		Users:    db.Collection("users"),
		Posts:    db.Collection("posts"),
		Routes:   db.Collection("routes"),
		PushSubs: db.Collection("push_subscriptions"),
		log:      logging.WithComponent("database"),
	}
}

// Connect dials MongoDB, retrying a few times while the server comes up.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	log := logging.WithComponent("database")

	attempts := max(cfg.ConnectAttempts, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		client, err := dial(ctx, cfg)
		if err == nil {
			log.Info().Str("database", cfg.Database).Msg("connected to MongoDB")
			return NewStore(client.Database(cfg.Database)), nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i).Msg("MongoDB connection failed")

		if i < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("connect mongo: %w", lastErr)
}

func dial(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the indexes queries rely on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "googleId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "resetTokenHash", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		s.Posts: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		s.PushSubs: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "sub.endpoint", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, idx := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return err
	}
	s.log.Info().Msg("disconnected from MongoDB")
	return nil
}

func now() int64 { return time.Now().Unix() }
