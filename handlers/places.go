package handlers

import (
	"errors"
	"net/http"
	"strings"

	"battletrails/logging"
	"battletrails/maps"
	"battletrails/models"

	"github.com/gin-gonic/gin"
)

type DirectionsRequest struct {
	Waypoints []models.GeoPoint `json:"waypoints" binding:"required,min=2,max=25,dive"`
}

func (h *Handler) Autocomplete(c *gin.Context) {
	input := strings.TrimSpace(c.Query("input"))
	if input == "" {
		c.JSON(http.StatusOK, gin.H{"predictions": []maps.Prediction{}})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	predictions, err := h.Places.Autocomplete(ctx, input)
	if err != nil {
		placesError(c, err, "Failed to search places")
		return
	}
	if predictions == nil {
		predictions = []maps.Prediction{}
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions})
}

func (h *Handler) PlaceDetails(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	place, err := h.Places.Details(ctx, c.Param("placeId"))
	if err != nil {
		placesError(c, err, "Failed to fetch place")
		return
	}
	c.JSON(http.StatusOK, place)
}

func (h *Handler) Directions(c *gin.Context) {
	var req DirectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	dir, err := h.Places.Directions(ctx, req.Waypoints)
	if err != nil {
		placesError(c, err, "Failed to compute directions")
		return
	}
	c.JSON(http.StatusOK, dir)
}

func placesError(c *gin.Context, err error, failure string) {
	switch {
	case errors.Is(err, maps.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Maps are not configured"})
	case errors.Is(err, maps.ErrNoRouteResults):
		c.JSON(http.StatusNotFound, gin.H{"error": "No route found between those points"})
	case errors.Is(err, maps.ErrTooFewPoints):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg(failure)
		c.JSON(http.StatusBadGateway, gin.H{"error": failure})
	}
}
