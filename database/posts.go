package database

import (
	"context"
	"errors"
	"fmt"

	"battletrails/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var newestFirst = bson.D{{Key: "createdAt", Value: -1}}

// CreatePost stores post and its route under one new id. If the route
// insert fails the post is removed again.
func (s *Store) CreatePost(ctx context.Context, post *models.Post, route *models.Route) error {
	post.ID = primitive.NewObjectID()
	post.CreatedAt = now()
	post.Likes, post.Views = 0, 0
	post.LikedBy = []primitive.ObjectID{}
	if post.Images == nil {
		post.Images = []string{}
	}
	route.ID = post.ID

	if _, err := s.Posts.InsertOne(ctx, post); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	if _, err := s.Routes.InsertOne(ctx, route); err != nil {
		if _, derr := s.Posts.DeleteOne(ctx, bson.M{"_id": post.ID}); derr != nil {
			s.log.Error().Err(derr).Str("post_id", post.ID.Hex()).Msg("rollback of post without route failed")
		}
		return fmt.Errorf("insert route: %w", err)
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	var post models.Post
	if err := s.Posts.FindOne(ctx, bson.M{"_id": id}).Decode(&post); err != nil {
		return nil, notFound(err)
	}
	return &post, nil
}

func (s *Store) GetRoute(ctx context.Context, id primitive.ObjectID) (*models.Route, error) {
	var route models.Route
	if err := s.Routes.FindOne(ctx, bson.M{"_id": id}).Decode(&route); err != nil {
		return nil, notFound(err)
	}
	return &route, nil
}

// FirstWaypoint fetches only the first stop of a route.
func (s *Store) FirstWaypoint(ctx context.Context, postID primitive.ObjectID) (models.GeoPoint, error) {
	opts := options.FindOne().SetProjection(bson.M{"waypoints": bson.M{"$slice": 1}})

	var route models.Route
	if err := s.Routes.FindOne(ctx, bson.M{"_id": postID}, opts).Decode(&route); err != nil {
		return models.GeoPoint{}, notFound(err)
	}
	if len(route.Waypoints) == 0 {
		return models.GeoPoint{}, fmt.Errorf("route %s has no waypoints: %w", postID.Hex(), ErrNotFound)
	}
	return route.Waypoints[0].Location, nil
}

func (s *Store) ListPosts(ctx context.Context) ([]models.Post, error) {
	return s.findPosts(ctx, bson.M{})
}

func (s *Store) ListPostsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Post, error) {
	return s.findPosts(ctx, bson.M{"userId": userID})
}

func (s *Store) ListPostsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Post, error) {
	if len(ids) == 0 {
		return []models.Post{}, nil
	}
	return s.findPosts(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (s *Store) findPosts(ctx context.Context, filter bson.M) ([]models.Post, error) {
	cursor, err := s.Posts.Find(ctx, filter, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	defer cursor.Close(ctx)

	posts := []models.Post{}
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return posts, nil
}

// owned loads a post and checks that userID wrote it.
func (s *Store) owned(ctx context.Context, postID, userID primitive.ObjectID) (*models.Post, error) {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, ErrForbidden
	}
	return post, nil
}

// PostUpdate carries the editable fields of a post and its route.
type PostUpdate struct {
	Title       string
	Description string
	Location    string
	Images      []string
	Waypoints   []models.Waypoint
}

// UpdatePost replaces the editable fields and the full waypoint list.
func (s *Store) UpdatePost(ctx context.Context, postID, userID primitive.ObjectID, upd PostUpdate) (*models.Post, error) {
	if _, err := s.owned(ctx, postID, userID); err != nil {
		return nil, err
	}
	if upd.Images == nil {
		upd.Images = []string{}
	}

	var post models.Post
	err := s.Posts.FindOneAndUpdate(ctx,
		bson.M{"_id": postID, "userId": userID},
		bson.M{"$set": bson.M{
			"title":       upd.Title,
			"description": upd.Description,
			"location":    upd.Location,
			"images":      upd.Images,
			"updatedAt":   now(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&post)
	if err != nil {
		return nil, notFound(err)
	}

	_, err = s.Routes.UpdateOne(ctx,
		bson.M{"_id": postID},
		bson.M{"$set": bson.M{"waypoints": upd.Waypoints}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("update route: %w", err)
	}
	return &post, nil
}

// DeletePost removes a post, its route and every saved reference to it.
// The deleted documents are returned so callers can clean up images.
func (s *Store) DeletePost(ctx context.Context, postID, userID primitive.ObjectID) (*models.Post, *models.Route, error) {
	post, err := s.owned(ctx, postID, userID)
	if err != nil {
		return nil, nil, err
	}

	route, err := s.GetRoute(ctx, postID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}

	if _, err := s.Posts.DeleteOne(ctx, bson.M{"_id": postID}); err != nil {
		return nil, nil, fmt.Errorf("delete post: %w", err)
	}
	if _, err := s.Routes.DeleteOne(ctx, bson.M{"_id": postID}); err != nil {
		return nil, nil, fmt.Errorf("delete route: %w", err)
	}
	if _, err := s.Users.UpdateMany(ctx,
		bson.M{"saved": postID},
		bson.M{"$pull": bson.M{"saved": postID}},
	); err != nil {
		s.log.Warn().Err(err).Str("post_id", postID.Hex()).Msg("failed to unsave deleted post")
	}
	return post, route, nil
}

// LikePost counts userID as a liker at most once. changed is false when the
// user had already liked the post.
func (s *Store) LikePost(ctx context.Context, postID, userID primitive.ObjectID) (post *models.Post, changed bool, err error) {
	return s.react(ctx, postID,
		bson.M{"_id": postID, "likedBy": bson.M{"$ne": userID}},
		bson.M{"$inc": bson.M{"likes": 1}, "$addToSet": bson.M{"likedBy": userID}},
	)
}

func (s *Store) UnlikePost(ctx context.Context, postID, userID primitive.ObjectID) (post *models.Post, changed bool, err error) {
	return s.react(ctx, postID,
		bson.M{"_id": postID, "likedBy": userID},
		bson.M{"$inc": bson.M{"likes": -1}, "$pull": bson.M{"likedBy": userID}},
	)
}

func (s *Store) react(ctx context.Context, postID primitive.ObjectID, filter, update bson.M) (*models.Post, bool, error) {
	var post models.Post
	err := s.Posts.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&post)
	if err == nil {
		return &post, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("update post: %w", err)
	}

	// guard did not match: either no such post or nothing to change
	current, err := s.GetPost(ctx, postID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *Store) ViewPost(ctx context.Context, postID primitive.ObjectID) (*models.Post, error) {
	var post models.Post
	err := s.Posts.FindOneAndUpdate(ctx,
		bson.M{"_id": postID},
		bson.M{"$inc": bson.M{"views": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&post)
	if err != nil {
		return nil, notFound(err)
	}
	return &post, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
