// Package handlers implements the HTTP API on top of gin.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"battletrails/database"
	"battletrails/feed"
	"battletrails/logging"
	"battletrails/maps"
	"battletrails/middleware"
	"battletrails/models"
	"battletrails/push"
	"battletrails/storage"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

const fallbackAvatar = "https://upload.wikimedia.org/wikipedia/commons/8/89/Portrait_Placeholder.png"

const requestTimeout = 10 * time.Second

type PostStore interface {
	CreatePost(ctx context.Context, post *models.Post, route *models.Route) error
	GetPost(ctx context.Context, id primitive.ObjectID) (*models.Post, error)
	GetRoute(ctx context.Context, id primitive.ObjectID) (*models.Route, error)
	ListPosts(ctx context.Context) ([]models.Post, error)
	ListPostsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Post, error)
	ListPostsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Post, error)
	UpdatePost(ctx context.Context, postID, userID primitive.ObjectID, upd database.PostUpdate) (*models.Post, error)
	DeletePost(ctx context.Context, postID, userID primitive.ObjectID) (*models.Post, *models.Route, error)
	LikePost(ctx context.Context, postID, userID primitive.ObjectID) (*models.Post, bool, error)
	UnlikePost(ctx context.Context, postID, userID primitive.ObjectID) (*models.Post, bool, error)
	ViewPost(ctx context.Context, postID primitive.ObjectID) (*models.Post, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error)
	UpdateProfile(ctx context.Context, id primitive.ObjectID, upd database.ProfileUpdate) (*models.User, error)
	RecordGoogleLogin(ctx context.Context, p database.GoogleProfile) (*models.User, bool, error)
	TouchUser(ctx context.Context, id primitive.ObjectID) error
	SavePost(ctx context.Context, userID, postID primitive.ObjectID) error
	UnsavePost(ctx context.Context, userID, postID primitive.ObjectID) error
	SetResetToken(ctx context.Context, userID primitive.ObjectID, tokenHash string, expires int64) error
	ResetPassword(ctx context.Context, tokenHash, passwordHash string) (*models.User, error)
}

type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, userID primitive.ObjectID, sub webpush.Subscription) error
}

type ImageStore interface {
	Upload(ctx context.Context, file io.Reader, owner string) (*storage.Image, error)
	Delete(ctx context.Context, imageURL string) error
}

type Places interface {
	Autocomplete(ctx context.Context, input string) ([]maps.Prediction, error)
	Details(ctx context.Context, placeID string) (*maps.Place, error)
	Directions(ctx context.Context, points []models.GeoPoint) (*maps.Directions, error)
}

type FeedFilter interface {
	Apply(ctx context.Context, posts []models.Post, sel feed.Selection, viewer *models.GeoPoint) []models.Post
}

type Publisher interface {
	Publish(subject string, v any)
}

type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

type Notifier interface {
	Notify(userID primitive.ObjectID, note push.Notification)
	PublicKey() string
}

// GoogleVerifier validates a Google Identity Services ID token.
type GoogleVerifier func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Handler holds the collaborators every endpoint needs. Build it with New.
type Handler struct {
	Posts  PostStore
	Users  UserStore
	Subs   SubscriptionStore
	Images ImageStore
	Places Places
	Feed   FeedFilter
	Events Publisher
	Hub    Broadcaster
	Push   Notifier

	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	ResetURL      string

	GoogleOAuth    *oauth2.Config // nil disables the code flow
	GoogleClientID string
	VerifyGoogle   GoogleVerifier

	Now func() time.Time
}

// New fills in defaults for optional fields. It panics if the custom binding
// validators cannot be registered.
func New(h Handler) *Handler {
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
	if h.VerifyGoogle == nil {
		h.VerifyGoogle = idtoken.Validate
	}
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.TokenTTL == 0 {
		h.TokenTTL = 24 * time.Hour
	}
	if h.ResetTokenTTL == 0 {
		h.ResetTokenTTL = time.Hour
	}
	return &h
}

// requestContext bounds store calls while keeping the request id for logs.
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func currentUserID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.GetString(middleware.UserIDKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func paramID(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return primitive.NilObjectID, false
	}
	return id, true
}

// storeError maps store sentinels to status codes and logs anything else.
func storeError(c *gin.Context, err error, notFound, failure string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	case errors.Is(err, database.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only change your own posts"})
	default:
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg(failure)
		c.JSON(http.StatusInternalServerError, gin.H{"error": failure})
	}
}

func (h *Handler) broadcast(eventType string, payload any) {
	if h.Hub != nil {
		h.Hub.Broadcast(eventType, payload)
	}
}

func (h *Handler) publish(subject string, v any) {
	if h.Events != nil {
		h.Events.Publish(subject, v)
	}
}

func (h *Handler) issueToken(c *gin.Context, user *models.User) (string, bool) {
	token, err := middleware.IssueToken(h.JWTSecret, user.ID.Hex(), h.TokenTTL)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return "", false
	}
	return token, true
}
