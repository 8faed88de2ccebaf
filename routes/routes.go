package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"battletrails/handlers"
	"battletrails/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	JWTSecret   string
	CORSOrigins []string
	AuthLimiter *middleware.IPRateLimiter // nil disables rate limiting
	WebSocket   http.HandlerFunc          // nil leaves /ws unmounted
	Ping        func(ctx context.Context) error
}

// SetupRouter mounts every endpoint. opts.CORSOrigins must not be empty.
func SetupRouter(h *handlers.Handler, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Metrics())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     opts.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/api/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "time": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.WebSocket != nil {
		router.GET("/ws", gin.WrapF(opts.WebSocket))
	}

	// Public routes (no auth required)
	public := router.Group("/api")
	if opts.AuthLimiter != nil {
		public.Use(middleware.RateLimitMiddleware(opts.AuthLimiter, func() gin.H {
			return handlers.AuthErrorBody(handlers.CodeTooManyRequests)
		}))
	}
	public.POST("/signup", h.Signup)
	public.POST("/login", h.Login)
	public.POST("/password-reset", h.RequestPasswordReset)
	public.POST("/password-reset/confirm", h.ConfirmPasswordReset)
	public.POST("/google-auth", h.GoogleAuthWithCredential)
	public.GET("/google/auth-url", h.GoogleAuthURL)
	public.GET("/google/callback", h.GoogleOAuthCallback)

	router.GET("/api/vapid-public-key", h.VapidPublicKey)

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuthMiddleware(opts.JWTSecret))

	// Session
	protected.GET("/me", h.Me)
	protected.PUT("/me", h.UpdateMe)

	// Posts and routes
	protected.POST("/posts", h.CreatePost)
	protected.GET("/posts/:id", h.GetPost)
	protected.PUT("/posts/:id", h.UpdatePost)
	protected.DELETE("/posts/:id", h.DeletePost)
	protected.GET("/users/:id/posts", h.GetUserPosts)
	protected.GET("/my/posts", h.GetMyPosts)

	// Feed
	protected.GET("/feed", h.GetFeed)
	protected.POST("/feed/filters/toggle", h.ToggleFilter)

	// Social
	protected.POST("/posts/:id/like", h.LikePost)
	protected.DELETE("/posts/:id/like", h.UnlikePost)
	protected.POST("/posts/:id/view", h.ViewPost)
	protected.POST("/posts/:id/save", h.SavePost)
	protected.DELETE("/posts/:id/save", h.UnsavePost)
	protected.GET("/saved", h.GetSaved)

	// Images
	protected.POST("/images", h.UploadImage)
	protected.DELETE("/images", h.DeleteImage)

	// Maps
	protected.GET("/places/autocomplete", h.Autocomplete)
	protected.GET("/places/:placeId", h.PlaceDetails)
	protected.POST("/directions", h.Directions)

	// Push subscriptions
	protected.POST("/subscribe", h.SubscribePush)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Endpoint not found",
				"path":  c.Request.URL.Path,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return router
}
