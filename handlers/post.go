package handlers

import (
	"context"
	"net/http"

	"battletrails/database"
	"battletrails/events"
	"battletrails/logging"
	"battletrails/models"
	"battletrails/websocket"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PostRequest struct {
	Title       string            `json:"title" binding:"required,max=140"`
	Description string            `json:"description" binding:"max=5000"`
	Location    string            `json:"location" binding:"max=200"`
	Images      []string          `json:"images" binding:"max=10,dive,url"`
	Waypoints   []models.Waypoint `json:"waypoints" binding:"required,min=1,max=50,dive"`
}

type authorView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type postView struct {
	models.Post
	Author *authorView `json:"author,omitempty"`
	Liked  bool        `json:"liked"`
}

// decorate attaches author summaries and the viewer's like state. A failed
// author lookup only drops the summaries.
func (h *Handler) decorate(ctx context.Context, posts []models.Post, viewer primitive.ObjectID) []postView {
	seen := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, p := range posts {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}

	users, err := h.Users.GetUsersByIDs(ctx, ids)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to load post authors")
	}

	out := make([]postView, len(posts))
	for i, p := range posts {
		out[i] = postView{Post: p, Liked: p.LikedByUser(viewer)}
		if u, ok := users[p.UserID]; ok {
			out[i].Author = authorOf(u)
		}
	}
	return out
}

func authorOf(u models.User) *authorView {
	avatar := u.Avatar
	if avatar == "" {
		avatar = fallbackAvatar
	}
	return &authorView{ID: u.ID.Hex(), Name: u.Name, Username: u.Username, Avatar: avatar}
}

func (h *Handler) CreatePost(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	post := &models.Post{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Images:      req.Images,
	}
	route := &models.Route{Waypoints: req.Waypoints}
	if err := h.Posts.CreatePost(ctx, post, route); err != nil {
		storeError(c, err, "Post not found", "Failed to create post")
		return
	}

	h.broadcast(websocket.EventPostCreated, gin.H{"postId": post.ID.Hex(), "userId": userID.Hex(), "title": post.Title})
	h.publish(events.SubjectPostCreated, events.PostEvent{PostID: post.ID.Hex(), UserID: userID.Hex(), Title: post.Title})

	c.JSON(http.StatusCreated, gin.H{
		"message": "Post created successfully",
		"postId":  post.ID.Hex(),
		"post":    post,
		"route":   route,
	})
}

func (h *Handler) GetPost(c *gin.Context) {
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

	post, err := h.Posts.GetPost(ctx, postID)
	if err != nil {
		storeError(c, err, "Post not found", "Failed to fetch post")
		return
	}
	route, err := h.Posts.GetRoute(ctx, postID)
	if err != nil {
		storeError(c, err, "Route not found", "Failed to fetch route")
		return
	}

	saved := false
	if me, err := h.Users.GetUser(ctx, userID); err == nil {
		saved = me.HasSaved(postID)
	}

	view := h.decorate(ctx, []models.Post{*post}, userID)[0]
	c.JSON(http.StatusOK, gin.H{
		"post":  view,
		"route": route,
		"saved": saved,
	})
}

func (h *Handler) UpdatePost(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	post, err := h.Posts.UpdatePost(ctx, postID, userID, database.PostUpdate{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Images:      req.Images,
		Waypoints:   req.Waypoints,
	})
	if err != nil {
		storeError(c, err, "Post not found", "Failed to update post")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Post updated successfully",
		"post":    post,
		"route":   models.Route{ID: postID, Waypoints: req.Waypoints},
	})
}

// DeletePost removes the post and its route, then best-effort deletes every
// image they referenced that the author uploaded. Foreign URLs are left alone.
func (h *Handler) DeletePost(c *gin.Context) {
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

	post, route, err := h.Posts.DeletePost(ctx, postID, userID)
	if err != nil {
		storeError(c, err, "Post not found", "Failed to delete post")
		return
	}

	failed, skipped := 0, 0
	for _, url := range post.ImageURLs(route) {
		if !ownsImage(url, userID) {
			skipped++
			logging.Ctx(ctx).Warn().Str("url", url).Msg("skipping image not owned by post author")
			continue
		}
		if err := h.Images.Delete(ctx, url); err != nil {
			failed++
			logging.Ctx(ctx).Warn().Err(err).Str("url", url).Msg("failed to delete image")
		}
	}

	h.broadcast(websocket.EventPostDeleted, gin.H{"postId": postID.Hex()})
	h.publish(events.SubjectPostDeleted, events.PostEvent{PostID: postID.Hex(), UserID: userID.Hex()})

	c.JSON(http.StatusOK, gin.H{
		"message":          "Post deleted successfully",
		"imagesNotDeleted": failed,
		"imagesSkipped":    skipped,
	})
}

func (h *Handler) GetUserPosts(c *gin.Context) {
	viewer, ok := currentUserID(c)
	if !ok {
		return
	}
	authorID, ok := paramID(c, "id")
	if !ok {
		return
	}
	h.listByUser(c, authorID, viewer)
}

func (h *Handler) GetMyPosts(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	h.listByUser(c, userID, userID)
}

func (h *Handler) listByUser(c *gin.Context, authorID, viewer primitive.ObjectID) {
	ctx, cancel := requestContext(c)
	defer cancel()

	posts, err := h.Posts.ListPostsByUser(ctx, authorID)
	if err != nil {
		storeError(c, err, "User not found", "Failed to fetch posts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": h.decorate(ctx, posts, viewer)})
}
