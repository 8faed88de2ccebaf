package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"battletrails/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateUser inserts user. A taken email yields ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = primitive.NewObjectID()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now()
	user.LastSeen = user.CreatedAt
	if user.Saved == nil {
		user.Saved = []primitive.ObjectID{}
	}

	if _, err := s.Users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	if err := s.Users.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetUsersByIDs returns the users found, keyed by id. Missing ids are skipped.
func (s *Store) GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	out := make(map[primitive.ObjectID]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cursor, err := s.Users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// GoogleProfile is what federated sign-in learns about a user.
type GoogleProfile struct {
	GoogleID string
	Email    string
	Name     string
	Picture  string
	Username string // used only when a new user is created
}

// RecordGoogleLogin finds the user by Google id or email and links the
// Google account, creating a new user when neither matches. created reports
// which of the two happened.
func (s *Store) RecordGoogleLogin(ctx context.Context, p GoogleProfile) (user *models.User, created bool, err error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))

	var existing models.User
	err = s.Users.FindOneAndUpdate(ctx,
		bson.M{"$or": bson.A{bson.M{"googleId": p.GoogleID}, bson.M{"email": email}}},
		bson.M{"$set": bson.M{"googleId": p.GoogleID, "lastSeen": now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&existing)
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("link google account: %w", err)
	}

	googleID := p.GoogleID
	user = &models.User{
		Email:        email,
		AuthProvider: models.ProviderGoogle,
		GoogleID:     &googleID,
		Username:     p.Username,
		Name:         p.Name,
		Avatar:       p.Picture,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (s *Store) TouchUser(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.Users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastSeen": now()}})
	return err
}

// SavePost adds postID to the user's saved list once.
func (s *Store) SavePost(ctx context.Context, userID, postID primitive.ObjectID) error {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return err
	}
	return s.updateSaved(ctx, userID, bson.M{"$addToSet": bson.M{"saved": postID}})
}

func (s *Store) UnsavePost(ctx context.Context, userID, postID primitive.ObjectID) error {
	return s.updateSaved(ctx, userID, bson.M{"$pull": bson.M{"saved": postID}})
}

func (s *Store) updateSaved(ctx context.Context, userID primitive.ObjectID, update bson.M) error {
	res, err := s.Users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return fmt.Errorf("update saved: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetResetToken stores the hash of a password reset token until expires.
func (s *Store) SetResetToken(ctx context.Context, userID primitive.ObjectID, tokenHash string, expires int64) error {
	_, err := s.Users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"resetTokenHash": tokenHash, "resetExpires": expires}},
	)
	return err
}

// ResetPassword consumes an unexpired reset token and sets passwordHash.
// Unknown or expired tokens yield ErrNotFound.
func (s *Store) ResetPassword(ctx context.Context, tokenHash, passwordHash string) (*models.User, error) {
	var user models.User
	err := s.Users.FindOneAndUpdate(ctx,
		bson.M{"resetTokenHash": tokenHash, "resetExpires": bson.M{"$gt": now()}},
		bson.M{
			"$set":   bson.M{"passwordHash": passwordHash},
			"$unset": bson.M{"resetTokenHash": "", "resetExpires": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// ProfileUpdate holds the profile fields to change; nil fields are kept.
type ProfileUpdate struct {
	Name     *string
	Username *string
	Avatar   *string
}

func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, upd ProfileUpdate) (*models.User, error) {
	set := bson.M{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Username != nil {
		set["username"] = *upd.Username
	}
	if upd.Avatar != nil {
		set["avatar"] = *upd.Avatar
	}
	if len(set) == 0 {
		return s.GetUser(ctx, id)
	}

	var user models.User
	err := s.Users.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
