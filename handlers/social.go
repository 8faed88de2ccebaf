package handlers

import (
	"fmt"
	"net/http"

	"battletrails/events"
	"battletrails/logging"
	"battletrails/models"
	"battletrails/push"
	"battletrails/websocket"

	"github.com/gin-gonic/gin"
)

func (h *Handler) LikePost(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	post, changed, err := h.Posts.LikePost(ctx, postID, userID)
	if err != nil {
		storeError(c, err, "Post not found", "Failed to like post")
		return
	}

	if changed {
		h.broadcast(websocket.EventPostLiked, gin.H{"postId": postID.Hex(), "likes": post.Likes})
		h.publish(events.SubjectPostLiked, events.PostEvent{PostID: postID.Hex(), UserID: userID.Hex(), Title: post.Title})

		if post.UserID != userID && h.Push != nil {
			name := "Alguien"
			if liker, err := h.Users.GetUser(ctx, userID); err == nil && liker.Name != "" {
				name = liker.Name
			}
			h.Push.Notify(post.UserID, push.Notification{
				Title: "Nuevo me gusta",
				Body:  fmt.Sprintf("A %s le gusta tu ruta «%s»", name, post.Title),
				URL:   "/posts/" + postID.Hex(),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"likes": post.Likes, "liked": true})
}

func (h *Handler) UnlikePost(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	post, changed, err := h.Posts.UnlikePost(ctx, postID, userID)
	if err != nil {
		storeError(c, err, "Post not found", "Failed to unlike post")
		return
	}
	if changed {
		h.broadcast(websocket.EventPostLiked, gin.H{"postId": postID.Hex(), "likes": post.Likes})
	}

	c.JSON(http.StatusOK, gin.H{"likes": post.Likes, "liked": false})
}

func (h *Handler) ViewPost(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	post, err := h.Posts.ViewPost(ctx, postID)
	if err != nil {
		storeError(c, err, "Post not found", "Failed to record view")
		return
	}
	h.broadcast(websocket.EventPostViewed, gin.H{"postId": postID.Hex(), "views": post.Views})

	c.JSON(http.StatusOK, gin.H{"views": post.Views})
}

func (h *Handler) SavePost(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Users.SavePost(ctx, userID, postID); err != nil {
		storeError(c, err, "Post not found", "Failed to save post")
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (h *Handler) UnsavePost(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Users.UnsavePost(ctx, userID, postID); err != nil {
		storeError(c, err, "User not found", "Failed to unsave post")
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": false})
}

// GetSaved lists the caller's saved posts, most recently created first.
func (h *Handler) GetSaved(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.Users.GetUser(ctx, userID)
	if err != nil {
		storeError(c, err, "User not found", "Failed to fetch saved posts")
		return
	}

	posts := []models.Post{}
	if len(user.Saved) > 0 {
		posts, err = h.Posts.ListPostsByIDs(ctx, user.Saved)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("failed to fetch saved posts")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch saved posts"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"posts": h.decorate(ctx, posts, userID)})
}
