package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// GeoPoint is a WGS 84 coordinate.
type GeoPoint struct {
	Lat float64 `bson:"lat" json:"lat" binding:"gte=-90,lte=90"`
	Lng float64 `bson:"lng" json:"lng" binding:"gte=-180,lte=180"`
}

// Route shares its ID with the post it belongs to.
type Route struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	Waypoints []Waypoint         `bson:"waypoints" json:"waypoints"`
}

type Waypoint struct {
	Location    GeoPoint `bson:"location" json:"location"`
	Address     string   `bson:"address" json:"address" binding:"required,max=300"`
	Description string   `bson:"description,omitempty" json:"description,omitempty" binding:"max=2000"`
	Images      []string `bson:"images,omitempty" json:"images,omitempty" binding:"max=10,dive,url"`
}
