package database

import (
	"context"
	"fmt"

	"battletrails/models"

	"github.com/SherClockHolmes/webpush-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SaveSubscription upserts a browser subscription for userID.
func (s *Store) SaveSubscription(ctx context.Context, userID primitive.ObjectID, sub webpush.Subscription) error {
	_, err := s.PushSubs.UpdateOne(ctx,
		bson.M{"userId": userID, "sub.endpoint": sub.Endpoint},
		bson.M{"$set": bson.M{"userId": userID, "sub": sub}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (s *Store) Subscriptions(ctx context.Context, userID primitive.ObjectID) ([]models.PushSubscription, error) {
	cursor, err := s.PushSubs.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var subs []models.PushSubscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// DeleteSubscription drops an endpoint the push service reported as gone.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.PushSubs.DeleteMany(ctx, bson.M{"sub.endpoint": endpoint})
	return err
}
