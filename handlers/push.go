package handlers

import (
	"net/http"

	"battletrails/logging"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
)

type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

func (h *Handler) VapidPublicKey(c *gin.Context) {
	if h.Push == nil || h.Push.PublicKey() == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "VAPID public key not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.Push.PublicKey()})
}

// SubscribePush stores a browser push subscription for the caller. The
// same endpoint subscribed twice is updated in place.
func (h *Handler) SubscribePush(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	sub := webpush.Subscription{
		Endpoint: req.Endpoint,
		Keys:     webpush.Keys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth},
	}
	if err := h.Subs.SaveSubscription(ctx, userID, sub); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to save subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save subscription"})
		return
	}

	logging.Ctx(ctx).Info().Str("user_id", userID.Hex()).Msg("push subscription saved")
	c.JSON(http.StatusOK, gin.H{"message": "Push subscription saved successfully"})
}
