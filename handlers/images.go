package handlers

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"battletrails/logging"
	"battletrails/storage"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxImageSize = 10 << 20

type DeleteImageRequest struct {
	URL string `json:"url" binding:"required,url"`
}

func (h *Handler) UploadImage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageSize+1<<20)
	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if header.Size > maxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds 10MB"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read image"})
		return
	}
	defer file.Close()

	ctx, cancel := requestContext(c)
	defer cancel()

	img, err := h.Images.Upload(ctx, file, userID.Hex())
	if err != nil {
		imageError(c, err, "Failed to upload image")
		return
	}
	c.JSON(http.StatusCreated, img)
}

// DeleteImage removes an asset the caller uploaded. Uploads are named
// "<userId>_<nanos>", which is how ownership is checked.
func (h *Handler) DeleteImage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req DeleteImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := storage.PublicIDFromURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not an image URL"})
		return
	}
	if !ownsImage(req.URL, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only delete your own images"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Images.Delete(ctx, req.URL); err != nil {
		imageError(c, err, "Failed to delete image")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ownsImage reports whether url names an asset uploaded by userID.
func ownsImage(url string, userID primitive.ObjectID) bool {
	publicID, err := storage.PublicIDFromURL(url)
	if err != nil {
		return false
	}
	return strings.HasPrefix(path.Base(publicID), userID.Hex()+"_")
}

func imageError(c *gin.Context, err error, failure string) {
	if errors.Is(err, storage.ErrNotConfigured) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Image storage is not configured"})
		return
	}
	logging.Ctx(c.Request.Context()).Error().Err(err).Msg(failure)
	c.JSON(http.StatusBadGateway, gin.H{"error": failure})
}
