package models

import "go.mongodb.org/mongo-driver/bson/primitive"

const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash *string            `bson:"passwordHash,omitempty" json:"-"`
	AuthProvider string             `bson:"authProvider" json:"authProvider"`
	GoogleID     *string            `bson:"googleId,omitempty" json:"-"`

	CreatedAt int64 `bson:"createdAt" json:"createdAt"`
	LastSeen  int64 `bson:"lastSeen" json:"lastSeen"`

	// Profile fields
	Username string `bson:"username" json:"username"`
	Name     string `bson:"name" json:"name"`
	Avatar   string `bson:"avatar" json:"avatar"`

	// Saved routes, most recent last
	Saved []primitive.ObjectID `bson:"saved" json:"saved"`

	// Password reset; only the SHA-256 of the emailed token is stored
	ResetTokenHash string `bson:"resetTokenHash,omitempty" json:"-"`
	ResetExpires   int64  `bson:"resetExpires,omitempty" json:"-"`
}

// HasSaved reports whether postID is in the user's saved list.
func (u *User) HasSaved(postID primitive.ObjectID) bool {
	for _, id := range u.Saved {
		if id == postID {
			return true
		}
	}
	return false
}
