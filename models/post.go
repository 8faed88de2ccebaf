package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Post struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	UserID      primitive.ObjectID   `bson:"userId" json:"userId"`
	Title       string               `bson:"title" json:"title"`
	Description string               `bson:"description" json:"description"`
	Images      []string             `bson:"images" json:"images"`
	Location    string               `bson:"location" json:"location"` // human readable place name
	Likes       int64                `bson:"likes" json:"likes"`
	LikedBy     []primitive.ObjectID `bson:"likedBy" json:"-"`
	Views       int64                `bson:"views" json:"views"`
	CreatedAt   int64                `bson:"createdAt" json:"createdAt"`
	UpdatedAt   int64                `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// LikedByUser reports whether userID is one of the post's likers.
func (p *Post) LikedByUser(userID primitive.ObjectID) bool {
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ImageURLs returns every image referenced by the post and its route,
// post images first.
func (p *Post) ImageURLs(route *Route) []string {
	urls := append([]string{}, p.Images...)
	if route == nil {
		return urls
	}
	for _, wp := range route.Waypoints {
		urls = append(urls, wp.Images...)
	}
	return urls
}
