package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"battletrails/feed"
	"battletrails/logging"
	"battletrails/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators adds the custom binding tags used by request structs.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("binding validator is %T, not *validator.Validate", binding.Validator.Engine())
			return
		}
		if err := v.RegisterValidation("filtertag", func(fl validator.FieldLevel) bool {
			return feed.Tag(fl.Field().String()).Valid()
		}); err != nil {
			registerErr = fmt.Errorf("register filtertag: %w", err)
		}
	})
	return registerErr
}

type ToggleFilterRequest struct {
	Active []string `json:"active" binding:"max=4,dive,filtertag"`
	Tag    string   `json:"tag" binding:"required,filtertag"`
}

// viewerLocation reads optional lat/lng query parameters.
func viewerLocation(c *gin.Context) (*models.GeoPoint, bool) {
	latRaw, lngRaw := c.Query("lat"), c.Query("lng")
	if latRaw == "" && lngRaw == "" {
		return nil, true
	}

	lat, errLat := strconv.ParseFloat(latRaw, 64)
	lng, errLng := strconv.ParseFloat(lngRaw, 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must be valid coordinates"})
		return nil, false
	}
	return &models.GeoPoint{Lat: lat, Lng: lng}, true
}

// GetFeed returns every post matching q, narrowed by the active filters.
func (h *Handler) GetFeed(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	sel, err := feed.ParseSelection(c.Query("filters"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	viewer, ok := viewerLocation(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	posts, err := h.Posts.ListPosts(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to fetch posts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch posts"})
		return
	}

	posts = feed.Search(posts, c.Query("q"))
	posts = h.Feed.Apply(ctx, posts, sel, viewer)

	c.JSON(http.StatusOK, gin.H{
		"posts":   h.decorate(ctx, posts, userID),
		"filters": sel,
		"count":   len(posts),
	})
}

// ToggleFilter applies one click to a filter selection.
func (h *Handler) ToggleFilter(c *gin.Context) {
	var req ToggleFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sel := feed.Selection{}
	for _, t := range req.Active {
		sel = sel.Toggle(feed.Tag(t))
	}
	c.JSON(http.StatusOK, gin.H{"active": sel.Toggle(feed.Tag(req.Tag))})
}
